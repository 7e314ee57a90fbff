package solana

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlockhash() string {
	return base58.Encode(bytes.Repeat([]byte{9}, 32))
}

func TestWriteShortVecLen(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		writeShortVecLen(&buf, tc.n)
		assert.Equal(t, tc.want, buf.Bytes(), "n=%d", tc.n)
	}
}

func TestBuildTransaction_Layout(t *testing.T) {
	payer := testKeypair(t)
	program := MustPublicKey("11111111111111111111111111111111")
	readonly := NewKeypairFromSeed(bytes.Repeat([]byte{2}, 32)).PublicKey()
	writable := NewKeypairFromSeed(bytes.Repeat([]byte{3}, 32)).PublicKey()

	ix := Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{PubKey: payer.PublicKey(), IsSigner: true, IsWritable: true},
			{PubKey: writable, IsWritable: true},
			{PubKey: readonly},
		},
		Data: []byte{0xde, 0xad},
	}

	tx, err := BuildTransaction(payer, testBlockhash(), ix)
	require.NoError(t, err)

	// Signature section: one signature.
	require.Greater(t, len(tx), 1+64)
	assert.Equal(t, byte(1), tx[0])
	signature := tx[1 : 1+64]
	message := tx[1+64:]

	// The signature covers exactly the serialized message.
	pk := payer.PublicKey()
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pk[:]), message, signature))

	// Header: 1 signer, 0 read-only signed, 2 read-only unsigned
	// (the plain read-only account plus the program id).
	assert.Equal(t, byte(1), message[0])
	assert.Equal(t, byte(0), message[1])
	assert.Equal(t, byte(2), message[2])

	// Account table: 4 keys, payer first, read-only accounts last.
	assert.Equal(t, byte(4), message[3])
	keys := message[4 : 4+4*32]
	assert.Equal(t, pk[:], keys[0:32])
	assert.Equal(t, writable[:], keys[32:64])

	// Blockhash follows the account table.
	blockhash := message[4+4*32 : 4+4*32+32]
	assert.Equal(t, bytes.Repeat([]byte{9}, 32), blockhash)

	// One instruction: program index, account indexes, data.
	rest := message[4+4*32+32:]
	assert.Equal(t, byte(1), rest[0], "instruction count")
	progIdx := int(rest[1])
	assert.Equal(t, program[:], keys[progIdx*32:progIdx*32+32], "program id index")
	assert.Equal(t, byte(3), rest[2], "account count")
	assert.Equal(t, byte(0), rest[3], "payer index")
	assert.Equal(t, byte(2), rest[6], "data length")
	assert.Equal(t, []byte{0xde, 0xad}, rest[7:9])
}

func TestBuildTransaction_DeduplicatesAccounts(t *testing.T) {
	payer := testKeypair(t)
	program := MustPublicKey("11111111111111111111111111111111")

	// The payer appears again inside the instruction; it must not be
	// listed twice.
	ix := Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			{PubKey: payer.PublicKey(), IsSigner: true, IsWritable: true},
		},
	}

	tx, err := BuildTransaction(payer, testBlockhash(), ix)
	require.NoError(t, err)

	message := tx[1+64:]
	assert.Equal(t, byte(2), message[3], "payer and program only")
}

func TestBuildTransaction_PrivilegeMerge(t *testing.T) {
	payer := testKeypair(t)
	program := MustPublicKey("11111111111111111111111111111111")
	acc := NewKeypairFromSeed(bytes.Repeat([]byte{4}, 32)).PublicKey()

	// Read-only in one instruction, writable in another: writable wins.
	ix1 := Instruction{ProgramID: program, Accounts: []AccountMeta{{PubKey: acc}}}
	ix2 := Instruction{ProgramID: program, Accounts: []AccountMeta{{PubKey: acc, IsWritable: true}}}

	tx, err := BuildTransaction(payer, testBlockhash(), ix1, ix2)
	require.NoError(t, err)

	// 3 keys total; only the program id stays read-only.
	message := tx[1+64:]
	assert.Equal(t, byte(1), message[2])
	assert.Equal(t, byte(3), message[3])
}

func TestBuildTransaction_BadBlockhash(t *testing.T) {
	payer := testKeypair(t)
	_, err := BuildTransaction(payer, "not-base58!", Instruction{})
	assert.Error(t, err)

	_, err = BuildTransaction(payer, base58.Encode([]byte{1, 2, 3}), Instruction{})
	assert.Error(t, err)
}
