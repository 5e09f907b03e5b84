package relay

import (
	"fmt"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// ReceiveParams is one message delivered by the cross-chain endpoint.
type ReceiveParams struct {
	SrcEid  uint32       `json:"srcEid"`
	Sender  model.Pubkey `json:"sender"`
	Nonce   uint64       `json:"nonce"`
	GUID    model.Hash   `json:"guid"`
	Message []byte       `json:"message"`
}

// Outcome describes what a received message did.
type Outcome struct {
	Method   string       `json:"method"`
	Identity model.Pubkey `json:"identity"`
	ClaimID  *model.Hash  `json:"claimId,omitempty"`
}

// Receive authenticates p against the registered remotes and applies the
// relayed call. Identity mutations act with the factory owner's key, so the
// owner must hold the purpose each call requires on the target identity.
func (f *Factory) Receive(p ReceiveParams) (Outcome, []Event, error) {
	if !f.state.Initialized {
		return Outcome{}, nil, ErrNotInitialized
	}
	remote, ok := f.state.Remotes[p.SrcEid]
	if !ok || remote != p.Sender {
		return Outcome{}, nil, fmt.Errorf("%w: eid %d sender %s", ErrUnknownRemote, p.SrcEid, p.Sender)
	}
	call, err := Decode(p.Message)
	if err != nil {
		return Outcome{}, nil, err
	}
	if f.invoker == nil {
		return Outcome{}, nil, fmt.Errorf("%w: no identity invoker configured", ErrInvalidInstruction)
	}

	owner := f.state.Owner
	out := Outcome{Method: call.Method()}

	if c, ok := call.(CreateIdentity); ok {
		addr, events, err := f.CreateIdentity(owner, c.Wallet, c.Salt, owner)
		if err != nil {
			return Outcome{}, nil, fmt.Errorf("relay %s: %w", out.Method, err)
		}
		out.Identity = addr
		return out, events, nil
	}

	wallet, err := walletOf(call)
	if err != nil {
		return Outcome{}, nil, err
	}
	addr, err := f.Identity(wallet)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("relay %s: %w", out.Method, err)
	}
	out.Identity = addr

	switch c := call.(type) {
	case AddKey:
		err = f.invoker.AddKey(addr, owner, c.Key, c.Purpose, c.KeyType)
	case AddClaim:
		var id model.Hash
		id, err = f.invoker.AddClaim(addr, owner, identity.ClaimInput{
			Topic:        c.Topic,
			Scheme:       c.Scheme,
			IssuerWallet: c.IssuerWallet,
			Issuer:       addr,
			Signature:    c.Signature,
			Data:         c.Data,
			URI:          c.URI,
		})
		if err == nil {
			out.ClaimID = &id
		}
	case RemoveKey:
		err = f.invoker.RemoveKey(addr, owner, c.Key, c.Purpose)
	case RemoveClaim:
		id := identity.ClaimID(addr, c.Topic)
		err = f.invoker.RemoveClaim(addr, owner, id)
		if err == nil {
			out.ClaimID = &id
		}
	}
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("relay %s: %w", out.Method, err)
	}
	return out, nil, nil
}

func walletOf(call Call) (model.Pubkey, error) {
	switch c := call.(type) {
	case AddKey:
		return c.Wallet, nil
	case AddClaim:
		return c.Wallet, nil
	case RemoveKey:
		return c.Wallet, nil
	case RemoveClaim:
		return c.Wallet, nil
	}
	return model.Pubkey{}, fmt.Errorf("%w: unsupported call %T", ErrInvalidInstruction, call)
}
