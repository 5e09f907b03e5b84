package identity

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// KeyEntry is one key registered to an identity. Only the digest of the key
// is kept.
type KeyEntry struct {
	Key      model.Hash `json:"key"`
	KeyType  KeyType    `json:"keyType"`
	Purposes PurposeSet `json:"purposes"`
}

// HashKey returns the registry digest of a raw key.
func HashKey(key model.Pubkey) model.Hash {
	return sha256.Sum256(key[:])
}

// KeyRegistry maps key digests to their purposes. An entry exists iff its
// purpose set is non-empty. Insertion order is kept for listing.
type KeyRegistry struct {
	entries map[model.Hash]*KeyEntry
	order   []model.Hash
}

// NewKeyRegistry returns an empty registry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{entries: make(map[model.Hash]*KeyEntry)}
}

// HasPurpose reports whether the key with digest h holds purpose p.
func (r *KeyRegistry) HasPurpose(h model.Hash, p Purpose) bool {
	e, ok := r.entries[h]
	return ok && e.Purposes.Has(p)
}

// RequireAuth fails with ErrInsufficientPermissions unless signer holds p.
func (r *KeyRegistry) RequireAuth(signer model.Pubkey, p Purpose) error {
	if !r.HasPurpose(HashKey(signer), p) {
		return fmt.Errorf("%w: %s lacks %s purpose", ErrInsufficientPermissions, signer, p)
	}
	return nil
}

// Add grants p to the key with digest h, creating the entry with keyType if
// it does not exist. An existing entry keeps its key type.
func (r *KeyRegistry) Add(h model.Hash, p Purpose, keyType KeyType) error {
	if e, ok := r.entries[h]; ok {
		if e.Purposes.Has(p) {
			return ErrKeyConflict
		}
		e.Purposes = e.Purposes.With(p)
		return nil
	}
	r.entries[h] = &KeyEntry{Key: h, KeyType: keyType, Purposes: NewPurposeSet(p)}
	r.order = append(r.order, h)
	return nil
}

// Remove revokes p from the key with digest h and deletes the entry once its
// last purpose is gone.
func (r *KeyRegistry) Remove(h model.Hash, p Purpose) error {
	e, ok := r.entries[h]
	if !ok {
		return ErrKeyNotFound
	}
	if !e.Purposes.Has(p) {
		return ErrKeyDoesNotHavePurpose
	}
	e.Purposes = e.Purposes.Without(p)
	if e.Purposes.Empty() {
		delete(r.entries, h)
		r.order = slices.DeleteFunc(r.order, func(x model.Hash) bool { return x == h })
	}
	return nil
}

// Get returns the entry for digest h.
func (r *KeyRegistry) Get(h model.Hash) (KeyEntry, bool) {
	e, ok := r.entries[h]
	if !ok {
		return KeyEntry{}, false
	}
	return *e, true
}

// Entries lists all entries in insertion order.
func (r *KeyRegistry) Entries() []KeyEntry {
	out := make([]KeyEntry, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, *r.entries[h])
	}
	return out
}

// Len returns the number of registered keys.
func (r *KeyRegistry) Len() int { return len(r.order) }

func (r *KeyRegistry) clone() *KeyRegistry {
	out := &KeyRegistry{
		entries: make(map[model.Hash]*KeyEntry, len(r.entries)),
		order:   append([]model.Hash(nil), r.order...),
	}
	for h, e := range r.entries {
		c := *e
		out.entries[h] = &c
	}
	return out
}

// MarshalJSON encodes the registry as an ordered list of entries.
func (r *KeyRegistry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Entries())
}

// UnmarshalJSON decodes an ordered list of entries.
func (r *KeyRegistry) UnmarshalJSON(b []byte) error {
	var list []KeyEntry
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	out := NewKeyRegistry()
	for _, e := range list {
		if e.Purposes.Empty() {
			return fmt.Errorf("key registry: entry %s has no purpose", e.Key)
		}
		if _, dup := out.entries[e.Key]; dup {
			return fmt.Errorf("key registry: duplicate entry %s", e.Key)
		}
		if _, err := ParseKeyType(uint32(e.KeyType)); err != nil {
			return err
		}
		c := e
		out.entries[e.Key] = &c
		out.order = append(out.order, e.Key)
	}
	*r = *out
	return nil
}
