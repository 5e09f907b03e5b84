// Package did derives identity account addresses and renders them as
// Decentralized Identifiers.
//
// Identity addresses are program-derived: they are computed from seeds and
// the factory program id and are guaranteed not to be valid Ed25519 public
// keys, so no private key can sign for them.
package did

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

const (
	// Method is the DID method for identity addresses.
	Method = "sol"
	// Prefix starts every identifier produced by Identifier.
	Prefix = "did:" + Method + ":"

	// MaxSeeds bounds the number of seeds of a derived address.
	MaxSeeds = 16
	// MaxSeedLength bounds the length of each seed.
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

// IdentitySeed is the first seed of every identity address.
var IdentitySeed = []byte("identity")

var (
	// ErrInvalidSeeds is returned when seeds exceed MaxSeeds or MaxSeedLength.
	ErrInvalidSeeds = errors.New("did: invalid seeds")
	// ErrOnCurve is returned when a candidate address is a valid public key.
	ErrOnCurve = errors.New("did: address is on the ed25519 curve")
	// ErrNoViableBump is returned when no bump seed yields an off-curve address.
	ErrNoViableBump = errors.New("did: unable to find a viable bump seed")
	// ErrInvalidIdentifier is returned by Parse for malformed input.
	ErrInvalidIdentifier = errors.New("did: invalid identifier")
)

// CreateProgramAddress computes sha256(seeds... || programID || marker) and
// fails with ErrOnCurve when the digest decodes to a curve point.
func CreateProgramAddress(seeds [][]byte, programID model.Pubkey) (model.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return model.Pubkey{}, fmt.Errorf("%w: %d seeds", ErrInvalidSeeds, len(seeds))
	}
	h := sha256.New()
	for i, s := range seeds {
		if len(s) > MaxSeedLength {
			return model.Pubkey{}, fmt.Errorf("%w: seed %d is %d bytes", ErrInvalidSeeds, i, len(s))
		}
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr model.Pubkey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return model.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bump seeds from 255 down and returns the first
// off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, programID model.Pubkey) (model.Pubkey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		switch {
		case err == nil:
			return addr, uint8(bump), nil
		case errors.Is(err, ErrOnCurve):
			continue
		default:
			return model.Pubkey{}, 0, err
		}
	}
	return model.Pubkey{}, 0, ErrNoViableBump
}

// IdentityAddress derives the identity account created by the factory for
// wallet and salt.
func IdentityAddress(factoryProgram, wallet model.Pubkey, salt [32]byte) (model.Pubkey, uint8, error) {
	return FindProgramAddress([][]byte{IdentitySeed, wallet[:], salt[:]}, factoryProgram)
}

// IsOnCurve reports whether b is the encoding of an Ed25519 curve point.
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// NewSalt returns 32 random bytes for address derivation.
func NewSalt() ([32]byte, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("did: read random salt: %w", err)
	}
	return salt, nil
}

// Identifier renders addr as "did:sol:<base58>".
func Identifier(addr model.Pubkey) string {
	return Prefix + addr.String()
}

// Parse accepts either an identifier produced by Identifier or a bare base58
// address.
func Parse(s string) (model.Pubkey, error) {
	raw := s
	if strings.HasPrefix(s, "did:") {
		if !strings.HasPrefix(s, Prefix) {
			return model.Pubkey{}, fmt.Errorf("%w: unsupported method in %q", ErrInvalidIdentifier, s)
		}
		raw = strings.TrimPrefix(s, Prefix)
	}
	addr, err := model.ParsePubkey(raw)
	if err != nil {
		return model.Pubkey{}, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	return addr, nil
}
