package identity

import (
	"encoding/json"
	"fmt"
)

// Purpose is a capability tag on a key.
type Purpose uint32

const (
	PurposeManagement Purpose = 1
	PurposeAction     Purpose = 2
	PurposeClaim      Purpose = 3
	PurposeEncryption Purpose = 4
)

// ParsePurpose validates a raw purpose value by exact enum membership.
func ParsePurpose(v uint32) (Purpose, error) {
	switch p := Purpose(v); p {
	case PurposeManagement, PurposeAction, PurposeClaim, PurposeEncryption:
		return p, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidKeyPurpose, v)
	}
}

func (p Purpose) String() string {
	switch p {
	case PurposeManagement:
		return "management"
	case PurposeAction:
		return "action"
	case PurposeClaim:
		return "claim"
	case PurposeEncryption:
		return "encryption"
	default:
		return fmt.Sprintf("purpose(%d)", uint32(p))
	}
}

// KeyType is the cryptosystem a registered key belongs to.
type KeyType uint32

const (
	KeyTypeECDSA KeyType = 1
	KeyTypeRSA   KeyType = 2
)

// ParseKeyType validates a raw key type value by exact enum membership.
func ParseKeyType(v uint32) (KeyType, error) {
	switch k := KeyType(v); k {
	case KeyTypeECDSA, KeyTypeRSA:
		return k, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidKeyType, v)
	}
}

func (k KeyType) String() string {
	switch k {
	case KeyTypeECDSA:
		return "ecdsa"
	case KeyTypeRSA:
		return "rsa"
	default:
		return fmt.Sprintf("keytype(%d)", uint32(k))
	}
}

// PurposeSet is a set of purposes stored as a bitmask.
type PurposeSet uint8

var allPurposes = [...]Purpose{PurposeManagement, PurposeAction, PurposeClaim, PurposeEncryption}

func bit(p Purpose) PurposeSet { return 1 << uint(p) }

// NewPurposeSet returns the set holding ps.
func NewPurposeSet(ps ...Purpose) PurposeSet {
	var s PurposeSet
	for _, p := range ps {
		s = s.With(p)
	}
	return s
}

// Has reports whether p is in the set.
func (s PurposeSet) Has(p Purpose) bool { return s&bit(p) != 0 }

// With returns the set with p added.
func (s PurposeSet) With(p Purpose) PurposeSet { return s | bit(p) }

// Without returns the set with p removed.
func (s PurposeSet) Without(p Purpose) PurposeSet { return s &^ bit(p) }

// Empty reports whether the set holds no purpose.
func (s PurposeSet) Empty() bool { return s == 0 }

// Purposes lists the members in ascending order.
func (s PurposeSet) Purposes() []Purpose {
	out := make([]Purpose, 0, len(allPurposes))
	for _, p := range allPurposes {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// MarshalJSON encodes the set as an array of raw purpose values.
func (s PurposeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Purposes())
}

// UnmarshalJSON decodes an array of raw purpose values, rejecting unknown ones.
func (s *PurposeSet) UnmarshalJSON(b []byte) error {
	var raw []uint32
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out PurposeSet
	for _, v := range raw {
		p, err := ParsePurpose(v)
		if err != nil {
			return err
		}
		out = out.With(p)
	}
	*s = out
	return nil
}
