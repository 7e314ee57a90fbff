package solana

// program.go: binding for the tpsl escrow program.
//
// The program exposes two instructions against a fixed interface:
//
//	init(id u64, amount u64, price i64, order_type {TP|SL})
//	settle(id u64)
//
// Escrows live at the PDA ["tpsl-escrow", user, id_le]. settle reads an
// oracle price-update account on chain and closes the escrow back to the
// user when the comparison passes. All argument encoding is anchor-style:
// an 8-byte method discriminator followed by little-endian fields.

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/thrisw/tpslkeeper/internal/domain"
	"github.com/thrisw/tpslkeeper/internal/ports"
)

var (
	systemProgram = MustPublicKey("11111111111111111111111111111111")
	tokenProgram  = MustPublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	ataProgram    = MustPublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

const (
	escrowSeed = "tpsl-escrow"

	// disc(8) + user(32) + input(32) + output(32) + id(8) + amount(8) + price(8) + kind(1)
	escrowAccountSize = 129
)

// discriminator returns the anchor method discriminator for a global
// instruction name.
func discriminator(method string) []byte {
	sum := sha256.Sum256([]byte("global:" + method))
	return sum[:8]
}

// orderKindByte maps the domain kind to the program's enum variant index.
func orderKindByte(kind domain.OrderKind) (byte, error) {
	switch kind {
	case domain.TakeProfit:
		return 0, nil
	case domain.StopLoss:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown order kind %q", kind)
	}
}

// Program builds tpsl instructions for one keeper wallet.
type Program struct {
	id          PublicKey
	wallet      *Keypair
	priceUpdate PublicKey // oracle price-update account consumed by settle
}

// NewProgram binds the program id and oracle account to a wallet.
func NewProgram(programID, priceUpdate PublicKey, wallet *Keypair) *Program {
	return &Program{id: programID, wallet: wallet, priceUpdate: priceUpdate}
}

// EscrowAddress derives the escrow PDA for an order id under this wallet.
func (p *Program) EscrowAddress(orderID uint64) (PublicKey, error) {
	user := p.wallet.PublicKey()
	addr, _, err := FindProgramAddress(
		[][]byte{[]byte(escrowSeed), user[:], uint64LE(orderID)},
		p.id,
	)
	if err != nil {
		return PublicKey{}, fmt.Errorf("derive escrow for order %d: %w", orderID, err)
	}
	return addr, nil
}

// InitInstruction builds init(id, amount, price, kind) for an order.
func (p *Program) InitInstruction(order domain.Order) (Instruction, error) {
	inputMint, outputMint, err := orderMints(order)
	if err != nil {
		return Instruction{}, err
	}

	kindByte, err := orderKindByte(order.Kind)
	if err != nil {
		return Instruction{}, err
	}

	escrow, err := p.EscrowAddress(order.ID)
	if err != nil {
		return Instruction{}, err
	}

	user := p.wallet.PublicKey()
	userInputATA, err := associatedTokenAddress(user, inputMint)
	if err != nil {
		return Instruction{}, err
	}
	escrowInputATA, err := associatedTokenAddress(escrow, inputMint)
	if err != nil {
		return Instruction{}, err
	}

	data := discriminator("init")
	data = append(data, uint64LE(order.ID)...)
	data = append(data, uint64LE(order.Amount)...)
	data = append(data, int64LE(thresholdUnits(order.Threshold))...)
	data = append(data, kindByte)

	return Instruction{
		ProgramID: p.id,
		Accounts: []AccountMeta{
			{PubKey: user, IsSigner: true, IsWritable: true},
			{PubKey: inputMint},
			{PubKey: outputMint},
			{PubKey: userInputATA, IsWritable: true},
			{PubKey: escrow, IsWritable: true},
			{PubKey: escrowInputATA, IsWritable: true},
			{PubKey: systemProgram},
			{PubKey: tokenProgram},
			{PubKey: ataProgram},
		},
		Data: data,
	}, nil
}

// SettleInstruction builds settle(id) for an order.
func (p *Program) SettleInstruction(order domain.Order) (Instruction, error) {
	inputMint, outputMint, err := orderMints(order)
	if err != nil {
		return Instruction{}, err
	}

	escrow, err := p.EscrowAddress(order.ID)
	if err != nil {
		return Instruction{}, err
	}

	user := p.wallet.PublicKey()
	escrowInputATA, err := associatedTokenAddress(escrow, inputMint)
	if err != nil {
		return Instruction{}, err
	}
	userOutputATA, err := associatedTokenAddress(user, outputMint)
	if err != nil {
		return Instruction{}, err
	}

	data := discriminator("settle")
	data = append(data, uint64LE(order.ID)...)

	return Instruction{
		ProgramID: p.id,
		Accounts: []AccountMeta{
			{PubKey: user, IsSigner: true, IsWritable: true},
			{PubKey: inputMint},
			{PubKey: outputMint},
			{PubKey: escrow, IsWritable: true},
			{PubKey: escrowInputATA, IsWritable: true},
			{PubKey: userOutputATA, IsWritable: true},
			{PubKey: ataProgram},
			{PubKey: tokenProgram},
			{PubKey: systemProgram},
			{PubKey: p.priceUpdate},
		},
		Data: data,
	}, nil
}

// DecodeEscrow parses a raw escrow account into the gateway's view.
func DecodeEscrow(data []byte) (*ports.OrderAccount, error) {
	if len(data) < escrowAccountSize {
		return nil, fmt.Errorf("escrow account too short: %d bytes", len(data))
	}

	var user, input, output PublicKey
	copy(user[:], data[8:40])
	copy(input[:], data[40:72])
	copy(output[:], data[72:104])

	kind := domain.TakeProfit
	if data[128] == 1 {
		kind = domain.StopLoss
	}

	return &ports.OrderAccount{
		User:       user.String(),
		InputMint:  input.String(),
		OutputMint: output.String(),
		ID:         binary.LittleEndian.Uint64(data[104:112]),
		Amount:     binary.LittleEndian.Uint64(data[112:120]),
		Price:      int64(binary.LittleEndian.Uint64(data[120:128])),
		Kind:       kind,
	}, nil
}

// associatedTokenAddress derives the canonical token account for an
// owner/mint pair.
func associatedTokenAddress(owner, mint PublicKey) (PublicKey, error) {
	addr, _, err := FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		ataProgram,
	)
	if err != nil {
		return PublicKey{}, fmt.Errorf("derive token account: %w", err)
	}
	return addr, nil
}

func orderMints(order domain.Order) (PublicKey, PublicKey, error) {
	input, err := PublicKeyFromBase58(order.InputMint)
	if err != nil {
		return PublicKey{}, PublicKey{}, fmt.Errorf("order %d input mint: %w", order.ID, err)
	}
	output, err := PublicKeyFromBase58(order.OutputMint)
	if err != nil {
		return PublicKey{}, PublicKey{}, fmt.Errorf("order %d output mint: %w", order.ID, err)
	}
	return input, output, nil
}

// thresholdUnits converts the configured threshold to the integer units
// the program compares oracle prices against. Config validation rejects
// fractional thresholds, so the conversion is exact for any order that
// reaches this point.
func thresholdUnits(threshold float64) int64 {
	return int64(threshold)
}

func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func int64LE(v int64) []byte {
	return uint64LE(uint64(v))
}
