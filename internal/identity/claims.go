package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

const (
	// MaxClaimDataSize bounds the claim payload carried in account state.
	MaxClaimDataSize = 2048
	// MaxClaimURISize bounds the claim URI.
	MaxClaimURISize = 512
)

// Claim is an attestation about an identity, keyed by ClaimID(Issuer, Topic).
type Claim struct {
	Topic        uint64          `json:"topic"`
	Scheme       uint64          `json:"scheme"`
	IssuerWallet model.Pubkey    `json:"issuerWallet"`
	Issuer       model.Pubkey    `json:"issuer"`
	Signature    model.Signature `json:"signature"`
	Data         []byte          `json:"data"`
	URI          string          `json:"uri"`
}

func (c Claim) clone() Claim {
	c.Data = append([]byte(nil), c.Data...)
	return c
}

// ClaimID derives the claim identifier sha256(issuer || le64(topic)).
func ClaimID(issuer model.Pubkey, topic uint64) model.Hash {
	buf := make([]byte, 0, model.PubkeySize+8)
	buf = append(buf, issuer[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, topic)
	return sha256.Sum256(buf)
}

// ClaimMessage is the byte string an issuer signs for a claim on identity:
// identity || le64(topic) || data.
func ClaimMessage(identity model.Pubkey, topic uint64, data []byte) []byte {
	buf := make([]byte, 0, model.PubkeySize+8+len(data))
	buf = append(buf, identity[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, topic)
	return append(buf, data...)
}

// ClaimStore holds claims by identifier in insertion order.
type ClaimStore struct {
	claims map[model.Hash]*Claim
	order  []model.Hash
}

// NewClaimStore returns an empty store.
func NewClaimStore() *ClaimStore {
	return &ClaimStore{claims: make(map[model.Hash]*Claim)}
}

// Put stores c under id, replacing any claim already there. It reports
// whether a claim was replaced.
func (s *ClaimStore) Put(id model.Hash, c Claim) bool {
	c = c.clone()
	if _, ok := s.claims[id]; ok {
		s.claims[id] = &c
		return true
	}
	s.claims[id] = &c
	s.order = append(s.order, id)
	return false
}

// Remove deletes the claim stored under id.
func (s *ClaimStore) Remove(id model.Hash) error {
	if _, ok := s.claims[id]; !ok {
		return ErrClaimNotFound
	}
	delete(s.claims, id)
	s.order = slices.DeleteFunc(s.order, func(x model.Hash) bool { return x == id })
	return nil
}

// Get returns a copy of the claim stored under id.
func (s *ClaimStore) Get(id model.Hash) (Claim, bool) {
	c, ok := s.claims[id]
	if !ok {
		return Claim{}, false
	}
	return c.clone(), true
}

// IDs lists claim identifiers in insertion order.
func (s *ClaimStore) IDs() []model.Hash { return append([]model.Hash(nil), s.order...) }

// Len returns the number of stored claims.
func (s *ClaimStore) Len() int { return len(s.order) }

func (s *ClaimStore) clone() *ClaimStore {
	out := &ClaimStore{
		claims: make(map[model.Hash]*Claim, len(s.claims)),
		order:  append([]model.Hash(nil), s.order...),
	}
	for id, c := range s.claims {
		cc := c.clone()
		out.claims[id] = &cc
	}
	return out
}

type storedClaim struct {
	ID model.Hash `json:"id"`
	Claim
}

// MarshalJSON encodes the store as an ordered list of claims with their ids.
func (s *ClaimStore) MarshalJSON() ([]byte, error) {
	list := make([]storedClaim, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, storedClaim{ID: id, Claim: *s.claims[id]})
	}
	return json.Marshal(list)
}

// UnmarshalJSON decodes an ordered list of claims.
func (s *ClaimStore) UnmarshalJSON(b []byte) error {
	var list []storedClaim
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	out := NewClaimStore()
	for _, sc := range list {
		if _, dup := out.claims[sc.ID]; dup {
			return fmt.Errorf("claim store: duplicate claim %s", sc.ID)
		}
		out.Put(sc.ID, sc.Claim)
	}
	*s = *out
	return nil
}
