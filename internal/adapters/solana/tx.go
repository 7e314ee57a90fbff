package solana

// tx.go: minimal legacy transaction encoding.
//
// Just enough of the wire format for single-signer transactions: one
// message header, the deduplicated account table, a recent blockhash and
// the compiled instructions, signed with the keeper's ed25519 key.

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	PubKey     PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program invocation.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// BuildTransaction compiles the instructions into a signed, serialized
// legacy transaction ready for sendTransaction.
func BuildTransaction(payer *Keypair, blockhash string, instructions ...Instruction) ([]byte, error) {
	recent, err := base58.Decode(blockhash)
	if err != nil || len(recent) != 32 {
		return nil, fmt.Errorf("solana.BuildTransaction: bad blockhash %q", blockhash)
	}

	keys := compileAccounts(payer.PublicKey(), instructions)

	var msg bytes.Buffer
	// Header: 1 required signature (the payer), no read-only signed
	// accounts, and the trailing read-only unsigned count.
	msg.WriteByte(1)
	msg.WriteByte(0)
	msg.WriteByte(uint8(countReadonlyUnsigned(keys)))

	writeShortVecLen(&msg, len(keys))
	for _, k := range keys {
		msg.Write(k.PubKey[:])
	}
	msg.Write(recent)

	writeShortVecLen(&msg, len(instructions))
	for _, ix := range instructions {
		msg.WriteByte(uint8(indexOf(keys, ix.ProgramID)))
		writeShortVecLen(&msg, len(ix.Accounts))
		for _, acc := range ix.Accounts {
			msg.WriteByte(uint8(indexOf(keys, acc.PubKey)))
		}
		writeShortVecLen(&msg, len(ix.Data))
		msg.Write(ix.Data)
	}

	signature := payer.Sign(msg.Bytes())

	var tx bytes.Buffer
	writeShortVecLen(&tx, 1)
	tx.Write(signature)
	tx.Write(msg.Bytes())
	return tx.Bytes(), nil
}

// compileAccounts builds the ordered account table: payer first, then
// writable accounts, then read-only, then program ids, deduplicated with
// the strongest privileges winning.
func compileAccounts(payer PublicKey, instructions []Instruction) []AccountMeta {
	merged := map[PublicKey]*AccountMeta{}
	var order []PublicKey

	upsert := func(meta AccountMeta) {
		if existing, ok := merged[meta.PubKey]; ok {
			existing.IsSigner = existing.IsSigner || meta.IsSigner
			existing.IsWritable = existing.IsWritable || meta.IsWritable
			return
		}
		m := meta
		merged[meta.PubKey] = &m
		order = append(order, meta.PubKey)
	}

	upsert(AccountMeta{PubKey: payer, IsSigner: true, IsWritable: true})
	for _, ix := range instructions {
		for _, acc := range ix.Accounts {
			upsert(acc)
		}
		upsert(AccountMeta{PubKey: ix.ProgramID})
	}

	var signers, writable, readonly []AccountMeta
	for _, pk := range order {
		m := *merged[pk]
		switch {
		case m.IsSigner:
			signers = append(signers, m)
		case m.IsWritable:
			writable = append(writable, m)
		default:
			readonly = append(readonly, m)
		}
	}

	keys := make([]AccountMeta, 0, len(order))
	keys = append(keys, signers...)
	keys = append(keys, writable...)
	keys = append(keys, readonly...)
	return keys
}

func countReadonlyUnsigned(keys []AccountMeta) int {
	n := 0
	for _, k := range keys {
		if !k.IsSigner && !k.IsWritable {
			n++
		}
	}
	return n
}

func indexOf(keys []AccountMeta, pk PublicKey) int {
	for i, k := range keys {
		if k.PubKey == pk {
			return i
		}
	}
	return -1
}

// writeShortVecLen writes a length in the compact-u16 encoding.
func writeShortVecLen(buf *bytes.Buffer, n int) {
	for {
		b := uint8(n & 0x7f)
		n >>= 7
		if n == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}
