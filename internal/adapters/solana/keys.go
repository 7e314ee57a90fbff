package solana

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKey is a 32-byte ed25519 public key / account address.
type PublicKey [32]byte

// PublicKeyFromBase58 parses a base58-encoded address.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode base58 %q: %w", s, err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("address %q: expected 32 bytes, got %d", s, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustPublicKey parses a base58 address and panics on failure. Only for
// the hardcoded program constants.
func MustPublicKey(s string) PublicKey {
	pk, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk PublicKey) String() string { return base58.Encode(pk[:]) }

// IsOnCurve reports whether the key is a valid ed25519 curve point.
// Program-derived addresses must be off-curve so no private key exists
// for them.
func (pk PublicKey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}

// Keypair is a signing wallet.
type Keypair struct {
	priv ed25519.PrivateKey
}

// LoadKeypair reads a keypair file in the standard CLI format: a JSON
// array of 64 bytes (seed ‖ public key).
func LoadKeypair(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("solana.LoadKeypair: read %q: %w", path, err)
	}

	var vals []uint16
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, fmt.Errorf("solana.LoadKeypair: parse %q: %w", path, err)
	}
	if len(vals) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("solana.LoadKeypair: %q: expected %d bytes, got %d",
			path, ed25519.PrivateKeySize, len(vals))
	}

	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range vals {
		if v > 255 {
			return nil, fmt.Errorf("solana.LoadKeypair: %q: byte %d out of range", path, i)
		}
		priv[i] = byte(v)
	}
	return &Keypair{priv: priv}, nil
}

// NewKeypairFromSeed derives a keypair from a 32-byte seed. Used by tests.
func NewKeypairFromSeed(seed []byte) *Keypair {
	return &Keypair{priv: ed25519.NewKeyFromSeed(seed)}
}

// PublicKey returns the wallet address.
func (k *Keypair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], k.priv.Public().(ed25519.PublicKey))
	return pk
}

// Sign signs a serialized transaction message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

const pdaMarker = "ProgramDerivedAddress"

// FindProgramAddress derives the program-derived address for the given
// seeds: the highest bump whose hash lands off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(program[:])
		h.Write([]byte(pdaMarker))

		var candidate PublicKey
		copy(candidate[:], h.Sum(nil))
		if !candidate.IsOnCurve() {
			return candidate, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, fmt.Errorf("no viable program address for seeds")
}
