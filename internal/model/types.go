// Package model defines the fixed-size identifiers and account shapes shared by
// the identity ledger. Identifiers are raw byte arrays internally and base58
// text on the wire, in logs and in URLs.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

const (
	// PubkeySize is the length of an account address or public key.
	PubkeySize = 32
	// HashSize is the length of a SHA-256 digest.
	HashSize = 32
	// SignatureSize is the length of an Ed25519 signature.
	SignatureSize = 64
)

// Pubkey is a 32-byte account address or Ed25519 public key.
type Pubkey [PubkeySize]byte

// Hash is a 32-byte SHA-256 digest.
type Hash [HashSize]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

// String returns the base58 form of the key.
func (p Pubkey) String() string { return base58.Encode(p[:]) }

// IsZero reports whether every byte of the key is zero.
func (p Pubkey) IsZero() bool { return p == Pubkey{} }

// Bytes returns a copy of the key bytes.
func (p Pubkey) Bytes() []byte { return append([]byte(nil), p[:]...) }

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	return decodeFixed(p[:], string(text), "pubkey")
}

// ParsePubkey decodes a base58 public key.
func ParsePubkey(s string) (Pubkey, error) {
	var p Pubkey
	err := p.UnmarshalText([]byte(s))
	return p, err
}

// MustPubkey decodes a base58 public key and panics on failure. It is meant
// for well-known program ids declared at package level.
func MustPubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PubkeyFromBytes copies b into a Pubkey. It fails unless len(b) == PubkeySize.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeySize {
		return p, fmt.Errorf("pubkey: want %d bytes, got %d", PubkeySize, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// String returns the base58 form of the digest.
func (h Hash) String() string { return base58.Encode(h[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	return decodeFixed(h[:], string(text), "hash")
}

// ParseHash decodes a base58 digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// String returns the base58 form of the signature.
func (s Signature) String() string { return base58.Encode(s[:]) }

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	return decodeFixed(s[:], string(text), "signature")
}

// ParseSignature decodes a base58 signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	err := sig.UnmarshalText([]byte(s))
	return sig, err
}

// SignatureFromBytes copies b into a Signature. It fails unless len(b) == SignatureSize.
func SignatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != SignatureSize {
		return s, fmt.Errorf("signature: want %d bytes, got %d", SignatureSize, len(b))
	}
	copy(s[:], b)
	return s, nil
}

func decodeFixed(dst []byte, s, kind string) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%s: invalid base58: %w", kind, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("%s: want %d bytes, got %d", kind, len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}

// Instruction is one entry of a transaction's instruction list. Programs may
// introspect sibling instructions of the transaction they run in.
type Instruction struct {
	ProgramID Pubkey   `json:"programId"`
	Accounts  []Pubkey `json:"accounts,omitempty"`
	Data      []byte   `json:"data"`
}

// Clone returns a deep copy of the instruction.
func (ix Instruction) Clone() Instruction {
	out := Instruction{ProgramID: ix.ProgramID, Data: append([]byte(nil), ix.Data...)}
	if ix.Accounts != nil {
		out.Accounts = append([]Pubkey(nil), ix.Accounts...)
	}
	return out
}

// Account is a unit of program-owned state addressed by Address. Data is
// opaque to storage; the owning program defines its encoding.
type Account struct {
	Address   Pubkey    `json:"address"`
	Owner     Pubkey    `json:"owner"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	out := a
	out.Data = append([]byte(nil), a.Data...)
	return out
}

// Equal reports whether both accounts carry the same owner and data.
func (a Account) Equal(b Account) bool {
	return a.Address == b.Address && a.Owner == b.Owner && bytes.Equal(a.Data, b.Data)
}

// EventRecord is a persisted domain event. Seq orders events within a
// transaction; ID orders events across the whole log.
type EventRecord struct {
	ID        int64           `json:"id"`
	TxID      string          `json:"txId"`
	Seq       int             `json:"seq"`
	Program   Pubkey          `json:"program"`
	Address   Pubkey          `json:"address"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Clone returns a deep copy of the event record.
func (e EventRecord) Clone() EventRecord {
	out := e
	out.Payload = append(json.RawMessage(nil), e.Payload...)
	return out
}
