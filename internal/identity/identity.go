// Package identity implements an ERC734/735-style identity: a registry of
// hashed keys with scoped purposes, a store of issuer-signed claims and a
// ledger of revoked claim signatures.
//
// An Identity operates on a State it does not persist. Every mutating
// operation validates fully before touching State, so a returned error
// always means nothing changed. Successful mutations return the events they
// produced, in order, for the caller to publish.
//
// Authorization:
//
//	AddKey, RemoveKey, RevokeClaim  Management
//	AddClaim, RemoveClaim           Claim
//	reads                           none
package identity

import (
	"encoding/json"
	"fmt"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// State is the persisted content of one identity account.
type State struct {
	Initialized bool              `json:"initialized"`
	Keys        *KeyRegistry      `json:"keys"`
	Claims      *ClaimStore       `json:"claims"`
	Revoked     *RevocationLedger `json:"revoked"`
}

// NewState returns the state of an uninitialized identity.
func NewState() *State {
	return &State{
		Keys:    NewKeyRegistry(),
		Claims:  NewClaimStore(),
		Revoked: NewRevocationLedger(),
	}
}

// DecodeState parses account data. Empty data decodes to NewState.
func DecodeState(data []byte) (*State, error) {
	s := NewState()
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode identity state: %w", err)
	}
	if s.Keys == nil {
		s.Keys = NewKeyRegistry()
	}
	if s.Claims == nil {
		s.Claims = NewClaimStore()
	}
	if s.Revoked == nil {
		s.Revoked = NewRevocationLedger()
	}
	return s, nil
}

// Encode serializes the state for account storage.
func (s *State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	return &State{
		Initialized: s.Initialized,
		Keys:        s.Keys.clone(),
		Claims:      s.Claims.clone(),
		Revoked:     s.Revoked.clone(),
	}
}

// ClaimInput carries the caller-supplied fields of a new claim.
type ClaimInput struct {
	Topic        uint64
	Scheme       uint64
	IssuerWallet model.Pubkey
	Issuer       model.Pubkey
	Signature    model.Signature
	Data         []byte
	URI          string
}

// Identity is the operation surface of one identity account.
type Identity struct {
	address  model.Pubkey
	state    *State
	ixs      InstructionLoader
	verifier SignatureVerifier
}

// Option customizes an Identity.
type Option func(*Identity)

// WithVerifier replaces the default signature verifier.
func WithVerifier(v SignatureVerifier) Option {
	return func(id *Identity) { id.verifier = v }
}

// New binds address to state. ixs gives access to the enclosing
// transaction's instructions and may be nil when no claim verification is
// needed.
func New(address model.Pubkey, state *State, ixs InstructionLoader, opts ...Option) *Identity {
	if state == nil {
		state = NewState()
	}
	id := &Identity{address: address, state: state, ixs: ixs, verifier: DefaultVerifier()}
	for _, o := range opts {
		o(id)
	}
	return id
}

// Address returns the identity account address.
func (id *Identity) Address() model.Pubkey { return id.address }

// State returns the live state the identity operates on.
func (id *Identity) State() *State { return id.state }

// Initialize registers managementKey with the Management purpose. It
// succeeds once per identity.
func (id *Identity) Initialize(managementKey model.Pubkey) error {
	if id.state.Initialized {
		return ErrAlreadyInitialized
	}
	if err := id.state.Keys.Add(HashKey(managementKey), PurposeManagement, KeyTypeECDSA); err != nil {
		return err
	}
	id.state.Initialized = true
	return nil
}

// Initialized reports whether Initialize has run.
func (id *Identity) Initialized() bool { return id.state.Initialized }

func (id *Identity) requireInitialized() error {
	if !id.state.Initialized {
		return ErrNotInitialized
	}
	return nil
}

// AddKey grants purpose to key on behalf of manager.
func (id *Identity) AddKey(manager, key model.Pubkey, purpose, keyType uint32) ([]Event, error) {
	if err := id.requireInitialized(); err != nil {
		return nil, err
	}
	if err := id.state.Keys.RequireAuth(manager, PurposeManagement); err != nil {
		return nil, err
	}
	p, err := ParsePurpose(purpose)
	if err != nil {
		return nil, err
	}
	kt, err := ParseKeyType(keyType)
	if err != nil {
		return nil, err
	}
	if err := id.state.Keys.Add(HashKey(key), p, kt); err != nil {
		return nil, err
	}
	return []Event{KeyAdded{Manager: manager, Key: key, Purpose: p, KeyType: kt}}, nil
}

// RemoveKey revokes purpose from key on behalf of manager.
func (id *Identity) RemoveKey(manager, key model.Pubkey, purpose uint32) ([]Event, error) {
	if err := id.requireInitialized(); err != nil {
		return nil, err
	}
	if err := id.state.Keys.RequireAuth(manager, PurposeManagement); err != nil {
		return nil, err
	}
	p, err := ParsePurpose(purpose)
	if err != nil {
		return nil, err
	}
	if err := id.state.Keys.Remove(HashKey(key), p); err != nil {
		return nil, err
	}
	return []Event{KeyRemoved{Manager: manager, Key: key, Purpose: p}}, nil
}

// AddClaim stores a claim and returns its id. A claim whose issuer is not
// this identity must be backed by a matching Ed25519 verification
// instruction from an issuer wallet holding the Claim purpose. A claim with
// the same issuer and topic as a stored one replaces it.
func (id *Identity) AddClaim(sender model.Pubkey, in ClaimInput) (model.Hash, []Event, error) {
	if err := id.requireInitialized(); err != nil {
		return model.Hash{}, nil, err
	}
	if err := id.state.Keys.RequireAuth(sender, PurposeClaim); err != nil {
		return model.Hash{}, nil, err
	}
	if err := id.validateClaim(in); err != nil {
		return model.Hash{}, nil, err
	}

	claimID := ClaimID(in.Issuer, in.Topic)
	c := Claim{
		Topic:        in.Topic,
		Scheme:       in.Scheme,
		IssuerWallet: in.IssuerWallet,
		Issuer:       in.Issuer,
		Signature:    in.Signature,
		Data:         append([]byte(nil), in.Data...),
		URI:          in.URI,
	}
	id.state.Claims.Put(claimID, c)

	ev := ClaimAdded{
		Sender:       sender,
		ClaimID:      claimID,
		Topic:        c.Topic,
		Scheme:       c.Scheme,
		Issuer:       c.Issuer,
		IssuerWallet: c.IssuerWallet,
		Signature:    c.Signature,
		Data:         append([]byte(nil), c.Data...),
		URI:          c.URI,
	}
	return claimID, []Event{ev}, nil
}

func (id *Identity) validateClaim(in ClaimInput) error {
	if in.Issuer.IsZero() {
		return fmt.Errorf("%w: zero issuer", ErrInvalidIssuer)
	}
	if len(in.Data) > MaxClaimDataSize {
		return fmt.Errorf("%w: data is %d bytes, limit %d", ErrInvalidClaim, len(in.Data), MaxClaimDataSize)
	}
	if len(in.URI) > MaxClaimURISize {
		return fmt.Errorf("%w: uri is %d bytes, limit %d", ErrInvalidClaim, len(in.URI), MaxClaimURISize)
	}
	if in.Issuer == id.address {
		return nil
	}
	if in.IssuerWallet.IsZero() {
		return fmt.Errorf("%w: zero issuer wallet", ErrInvalidIssuer)
	}
	msg := ClaimMessage(id.address, in.Topic, in.Data)
	if err := id.verifier.Verify(id.ixs, in.IssuerWallet, msg, in.Signature); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidClaim, err)
	}
	if !id.state.Keys.HasPurpose(HashKey(in.IssuerWallet), PurposeClaim) {
		return fmt.Errorf("%w: issuer wallet %s lacks claim purpose", ErrInvalidClaim, in.IssuerWallet)
	}
	return nil
}

// RemoveClaim deletes the claim stored under claimID.
func (id *Identity) RemoveClaim(sender model.Pubkey, claimID model.Hash) ([]Event, error) {
	if err := id.requireInitialized(); err != nil {
		return nil, err
	}
	if err := id.state.Keys.RequireAuth(sender, PurposeClaim); err != nil {
		return nil, err
	}
	if err := id.state.Claims.Remove(claimID); err != nil {
		return nil, err
	}
	return []Event{ClaimRemoved{Sender: sender, ClaimID: claimID}}, nil
}

// RevokeClaim records the signature of the claim stored under claimID. The
// claim itself stays in the store.
func (id *Identity) RevokeClaim(sender model.Pubkey, claimID model.Hash) ([]Event, error) {
	if err := id.requireInitialized(); err != nil {
		return nil, err
	}
	if err := id.state.Keys.RequireAuth(sender, PurposeManagement); err != nil {
		return nil, err
	}
	c, ok := id.state.Claims.Get(claimID)
	if !ok {
		return nil, ErrClaimNotFound
	}
	if err := id.state.Revoked.Revoke(c.Signature); err != nil {
		return nil, err
	}
	return []Event{ClaimRevoked{Sender: sender, ClaimID: claimID}}, nil
}

// IsClaimRevoked reports whether sig is in the revocation ledger.
func (id *Identity) IsClaimRevoked(sig model.Signature) (bool, error) {
	if err := id.requireInitialized(); err != nil {
		return false, err
	}
	return id.state.Revoked.IsRevoked(sig), nil
}

// Claim looks up a claim by id. The boolean is false when no claim is stored.
func (id *Identity) Claim(claimID model.Hash) (Claim, bool, error) {
	if err := id.requireInitialized(); err != nil {
		return Claim{}, false, err
	}
	c, ok := id.state.Claims.Get(claimID)
	return c, ok, nil
}

// Claims lists stored claim ids in insertion order.
func (id *Identity) Claims() ([]model.Hash, error) {
	if err := id.requireInitialized(); err != nil {
		return nil, err
	}
	return id.state.Claims.IDs(), nil
}

// Keys lists all registered keys in insertion order.
func (id *Identity) Keys() ([]KeyEntry, error) {
	if err := id.requireInitialized(); err != nil {
		return nil, err
	}
	return id.state.Keys.Entries(), nil
}

// Key returns the entry registered for the raw key.
func (id *Identity) Key(key model.Pubkey) (KeyEntry, error) {
	if err := id.requireInitialized(); err != nil {
		return KeyEntry{}, err
	}
	e, ok := id.state.Keys.Get(HashKey(key))
	if !ok {
		return KeyEntry{}, ErrKeyNotFound
	}
	return e, nil
}

// HasPurpose reports whether the raw key holds purpose.
func (id *Identity) HasPurpose(key model.Pubkey, purpose Purpose) bool {
	return id.state.Keys.HasPurpose(HashKey(key), purpose)
}
