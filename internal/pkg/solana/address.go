// Package solana holds ledger address primitives.
package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program ids.
const (
	TokenProgramID                  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID              = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenAccountProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// PublicKeyLength is the length of a decoded address.
const PublicKeyLength = 32

const pdaMarker = "ProgramDerivedAddress"

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

// DecodeAddress decodes a base58 address and checks its length.
func DecodeAddress(address string) ([]byte, error) {
	b, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 address %q: %w", address, err)
	}
	if len(b) != PublicKeyLength {
		return nil, fmt.Errorf("invalid address %q: expected %d bytes, got %d", address, PublicKeyLength, len(b))
	}
	return b, nil
}

// IsValidAddress reports whether address decodes to a 32 byte key.
func IsValidAddress(address string) bool {
	_, err := DecodeAddress(address)
	return err == nil
}

// FindAssociatedTokenAddress derives the canonical associated token account of owner for mint
// under tokenProgram. An empty tokenProgram means the classic token program.
func FindAssociatedTokenAddress(owner, mint, tokenProgram string) (string, error) {
	if tokenProgram == "" {
		tokenProgram = TokenProgramID
	}
	ownerKey, err := DecodeAddress(owner)
	if err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	mintKey, err := DecodeAddress(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	programKey, err := DecodeAddress(tokenProgram)
	if err != nil {
		return "", fmt.Errorf("token program: %w", err)
	}
	ataProgram, err := DecodeAddress(AssociatedTokenAccountProgramID)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress([][]byte{ownerKey, programKey, mintKey}, ataProgram)
	if err != nil {
		return "", err
	}
	return base58.Encode(addr), nil
}

// FindProgramAddress searches bump seeds from 255 downward and returns the first off-curve address.
func FindProgramAddress(seeds [][]byte, programID []byte) ([]byte, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		withBump := make([][]byte, 0, len(seeds)+1)
		withBump = append(withBump, seeds...)
		withBump = append(withBump, []byte{uint8(bump)})
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return nil, 0, ErrNoViableBump
}

// ErrOnCurve is returned when the seeds hash to a valid ed25519 point.
var ErrOnCurve = errors.New("derived address is on curve")

// CreateProgramAddress hashes seeds under programID. Addresses that land on the curve are rejected.
func CreateProgramAddress(seeds [][]byte, programID []byte) ([]byte, error) {
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID)
	h.Write([]byte(pdaMarker))
	sum := h.Sum(nil)

	if IsOnCurve(sum) {
		return nil, ErrOnCurve
	}
	return sum, nil
}

// IsOnCurve reports whether b is a valid compressed ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
