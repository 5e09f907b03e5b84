// Package relay implements the identity factory: it derives and creates
// identity accounts, links wallets to them, and applies instructions relayed
// from registered remote chains.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

var (
	ErrAlreadyInitialized = errors.New("relay: factory already initialized")
	ErrNotInitialized     = errors.New("relay: factory not initialized")
	ErrUnauthorized       = errors.New("relay: unauthorized")
	ErrWalletNotLinked    = errors.New("relay: wallet not linked to any identity")
	ErrUnknownRemote      = errors.New("relay: unknown remote")
	ErrInvalidInstruction = errors.New("relay: invalid instruction")
)

// IdentityInvoker performs nested calls into the identity program. Calls run
// inside the caller's transaction; an error aborts it.
type IdentityInvoker interface {
	InitializeIdentity(address, managementKey model.Pubkey) error
	AddKey(address, manager, key model.Pubkey, purpose, keyType uint32) error
	AddClaim(address, sender model.Pubkey, in identity.ClaimInput) (model.Hash, error)
	RemoveKey(address, manager, key model.Pubkey, purpose uint32) error
	RemoveClaim(address, sender model.Pubkey, claimID model.Hash) error
}

// WalletLink binds a wallet to the identity acting for it.
type WalletLink struct {
	Wallet   model.Pubkey `json:"wallet"`
	Identity model.Pubkey `json:"identity"`
}

// State is the persisted content of the factory account.
type State struct {
	Initialized bool                    `json:"initialized"`
	Owner       model.Pubkey            `json:"owner"`
	ID          uint8                   `json:"id"`
	Endpoint    model.Pubkey            `json:"endpoint"`
	Identities  []model.Pubkey          `json:"identities"`
	Links       []WalletLink            `json:"links"`
	Remotes     map[uint32]model.Pubkey `json:"remotes"`
}

// DecodeState parses factory account data. Empty data yields a fresh state.
func DecodeState(data []byte) (*State, error) {
	s := &State{Remotes: map[uint32]model.Pubkey{}}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode factory state: %w", err)
	}
	if s.Remotes == nil {
		s.Remotes = map[uint32]model.Pubkey{}
	}
	return s, nil
}

// Encode serializes the state for account storage.
func (s *State) Encode() ([]byte, error) { return json.Marshal(s) }

// InitParams configures a new factory. A zero Admin makes the payer the
// owner.
type InitParams struct {
	ID       uint8        `json:"id"`
	Admin    model.Pubkey `json:"admin"`
	Endpoint model.Pubkey `json:"endpoint"`
}

// Factory operates on one factory State.
type Factory struct {
	programID model.Pubkey
	state     *State
	invoker   IdentityInvoker
}

// NewFactory binds state to the factory program programID. invoker may be
// nil for read-only use.
func NewFactory(programID model.Pubkey, state *State, invoker IdentityInvoker) *Factory {
	if state == nil {
		state, _ = DecodeState(nil)
	}
	return &Factory{programID: programID, state: state, invoker: invoker}
}

// State returns the live factory state.
func (f *Factory) State() *State { return f.state }

func (f *Factory) requireOwner(signer model.Pubkey) error {
	if !f.state.Initialized {
		return ErrNotInitialized
	}
	if signer != f.state.Owner {
		return fmt.Errorf("%w: %s is not the factory owner", ErrUnauthorized, signer)
	}
	return nil
}

// Initialize sets up the factory once.
func (f *Factory) Initialize(payer model.Pubkey, p InitParams) ([]Event, error) {
	if f.state.Initialized {
		return nil, ErrAlreadyInitialized
	}
	owner := p.Admin
	if owner.IsZero() {
		owner = payer
	}
	f.state.Initialized = true
	f.state.Owner = owner
	f.state.ID = p.ID
	f.state.Endpoint = p.Endpoint
	return []Event{FactoryInitialized{Owner: owner}}, nil
}

// Initialized reports whether Initialize has run.
func (f *Factory) Initialized() bool { return f.state.Initialized }

// IdentityAddress derives the identity account for wallet and salt.
func (f *Factory) IdentityAddress(wallet model.Pubkey, salt model.Hash) (model.Pubkey, error) {
	addr, _, err := did.IdentityAddress(f.programID, wallet, salt)
	return addr, err
}

// CreateIdentity derives the identity address for (wallet, salt),
// initializes it with managementKey and links wallet to it unless wallet is
// already linked. Only the owner may call it.
func (f *Factory) CreateIdentity(payer, wallet model.Pubkey, salt model.Hash, managementKey model.Pubkey) (model.Pubkey, []Event, error) {
	if err := f.requireOwner(payer); err != nil {
		return model.Pubkey{}, nil, err
	}
	addr, err := f.IdentityAddress(wallet, salt)
	if err != nil {
		return model.Pubkey{}, nil, err
	}
	if f.invoker == nil {
		return model.Pubkey{}, nil, errors.New("relay: no identity invoker configured")
	}
	if err := f.invoker.InitializeIdentity(addr, managementKey); err != nil {
		return model.Pubkey{}, nil, fmt.Errorf("initialize identity %s: %w", addr, err)
	}

	f.state.Identities = append(f.state.Identities, addr)
	if _, linked := f.lookup(wallet); !linked {
		f.state.Links = append(f.state.Links, WalletLink{Wallet: wallet, Identity: addr})
	}
	return addr, []Event{IdentityCreated{Wallet: wallet, IdentityAddress: addr}}, nil
}

// LinkWallet binds wallet to identity. Linking an already linked wallet is a
// no-op and returns no event.
func (f *Factory) LinkWallet(signer, wallet, ident model.Pubkey) ([]Event, error) {
	if err := f.requireOwner(signer); err != nil {
		return nil, err
	}
	if _, linked := f.lookup(wallet); linked {
		return nil, nil
	}
	f.state.Links = append(f.state.Links, WalletLink{Wallet: wallet, Identity: ident})
	return []Event{WalletLinked{Wallet: wallet, Identity: ident}}, nil
}

// UnlinkWallet removes the link between wallet and identity. Unlinking a
// wallet that is not linked to identity is a no-op and returns no event.
func (f *Factory) UnlinkWallet(signer, wallet, ident model.Pubkey) ([]Event, error) {
	if err := f.requireOwner(signer); err != nil {
		return nil, err
	}
	cur, linked := f.lookup(wallet)
	if !linked || cur != ident {
		return nil, nil
	}
	f.state.Links = slices.DeleteFunc(f.state.Links, func(l WalletLink) bool { return l.Wallet == wallet })
	return []Event{WalletUnlinked{Wallet: wallet, Identity: ident}}, nil
}

func (f *Factory) lookup(wallet model.Pubkey) (model.Pubkey, bool) {
	for _, l := range f.state.Links {
		if l.Wallet == wallet {
			return l.Identity, true
		}
	}
	return model.Pubkey{}, false
}

// Wallets lists wallets linked to identity in link order.
func (f *Factory) Wallets(ident model.Pubkey) []model.Pubkey {
	var out []model.Pubkey
	for _, l := range f.state.Links {
		if l.Identity == ident {
			out = append(out, l.Wallet)
		}
	}
	return out
}

// Identity resolves the identity wallet is linked to.
func (f *Factory) Identity(wallet model.Pubkey) (model.Pubkey, error) {
	if addr, ok := f.lookup(wallet); ok {
		return addr, nil
	}
	return model.Pubkey{}, fmt.Errorf("%w: %s", ErrWalletNotLinked, wallet)
}

// Identities lists every identity the factory created.
func (f *Factory) Identities() []model.Pubkey {
	return append([]model.Pubkey(nil), f.state.Identities...)
}

// Owner returns the factory owner.
func (f *Factory) Owner() model.Pubkey { return f.state.Owner }

// SetOwner transfers ownership to newOwner.
func (f *Factory) SetOwner(signer, newOwner model.Pubkey) ([]Event, error) {
	if err := f.requireOwner(signer); err != nil {
		return nil, err
	}
	f.state.Owner = newOwner
	return []Event{OwnerSet{NewOwner: newOwner}}, nil
}

// SetRemote registers the peer address trusted for endpoint id eid.
func (f *Factory) SetRemote(signer model.Pubkey, eid uint32, remote model.Pubkey) ([]Event, error) {
	if err := f.requireOwner(signer); err != nil {
		return nil, err
	}
	f.state.Remotes[eid] = remote
	return []Event{RemoteSet{Eid: eid, Remote: remote}}, nil
}

// Remote returns the peer registered for eid.
func (f *Factory) Remote(eid uint32) (model.Pubkey, bool) {
	r, ok := f.state.Remotes[eid]
	return r, ok
}
