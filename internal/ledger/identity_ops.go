package ledger

import (
	"context"
	"fmt"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/runtime"
)

// IdentityView is the queryable summary of one identity account.
type IdentityView struct {
	Address     model.Pubkey        `json:"address"`
	DID         string              `json:"did"`
	Initialized bool                `json:"initialized"`
	Keys        []identity.KeyEntry `json:"keys,omitempty"`
	Claims      []model.Hash        `json:"claims,omitempty"`
	Revoked     []model.Signature   `json:"revoked,omitempty"`
}

// identityOp runs fn against the identity at addr inside one transaction.
// fn returns the events to publish; the identity is written back only when
// fn succeeds.
func (l *Ledger) identityOp(ctx context.Context, op string, auth Auth, addr model.Pubkey, fn func(u *runtime.Unit, id *identity.Identity) ([]identity.Event, error)) (runtime.Receipt, error) {
	rcpt, err := l.exec.Execute(ctx, auth.tx(addr), func(u *runtime.Unit) error {
		if err := u.RequireSigner(auth.Signer); err != nil {
			return err
		}
		ia, err := l.loadIdentity(u, addr)
		if err != nil {
			return err
		}
		events, err := fn(u, ia.id)
		if err != nil {
			return err
		}
		return l.saveIdentity(u, ia, events)
	})
	identityOperationCount.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		l.logger.Info("identity operation rejected", "op", op, "identity", addr, "signer", auth.Signer, "error", err)
		return runtime.Receipt{}, err
	}
	l.logger.Info("identity operation applied", "op", op, "identity", addr, "txId", rcpt.TxID, "events", len(rcpt.Events))
	return rcpt, nil
}

// InitializeIdentity creates the identity account at addr with managementKey
// as its first Management key. The account key itself must sign, so
// program-derived addresses can only be initialized through their program.
func (l *Ledger) InitializeIdentity(ctx context.Context, auth Auth, addr, managementKey model.Pubkey) (runtime.Receipt, error) {
	return l.identityOp(ctx, "initialize", auth, addr, func(u *runtime.Unit, id *identity.Identity) ([]identity.Event, error) {
		if !did.IsOnCurve(addr[:]) {
			return nil, fmt.Errorf("%w: %s is a program address", runtime.ErrMissingSigner, addr)
		}
		return nil, initializeIdentity(u, id, managementKey)
	})
}

// initializeIdentity installs the first Management key once the identity
// account has signed, directly or through InvokeSigned.
func initializeIdentity(u *runtime.Unit, id *identity.Identity, managementKey model.Pubkey) error {
	if err := u.RequireSigner(id.Address()); err != nil {
		return err
	}
	return id.Initialize(managementKey)
}

// AddKey adds purpose to key on behalf of the signing manager.
func (l *Ledger) AddKey(ctx context.Context, auth Auth, addr, key model.Pubkey, purpose, keyType uint32) (runtime.Receipt, error) {
	return l.identityOp(ctx, "add_key", auth, addr, func(_ *runtime.Unit, id *identity.Identity) ([]identity.Event, error) {
		return id.AddKey(auth.Signer, key, purpose, keyType)
	})
}

// RemoveKey removes purpose from key on behalf of the signing manager.
func (l *Ledger) RemoveKey(ctx context.Context, auth Auth, addr, key model.Pubkey, purpose uint32) (runtime.Receipt, error) {
	return l.identityOp(ctx, "remove_key", auth, addr, func(_ *runtime.Unit, id *identity.Identity) ([]identity.Event, error) {
		return id.RemoveKey(auth.Signer, key, purpose)
	})
}

// AddClaim stores a claim sent by the signer. Claims from other issuers are
// checked against the Ed25519 instruction at index 0 of auth.Instructions.
func (l *Ledger) AddClaim(ctx context.Context, auth Auth, addr model.Pubkey, in identity.ClaimInput) (model.Hash, runtime.Receipt, error) {
	var claimID model.Hash
	rcpt, err := l.identityOp(ctx, "add_claim", auth, addr, func(_ *runtime.Unit, id *identity.Identity) ([]identity.Event, error) {
		cid, events, err := id.AddClaim(auth.Signer, in)
		claimID = cid
		return events, err
	})
	if err != nil {
		return model.Hash{}, runtime.Receipt{}, err
	}
	return claimID, rcpt, nil
}

// RemoveClaim deletes a claim on behalf of the signer.
func (l *Ledger) RemoveClaim(ctx context.Context, auth Auth, addr model.Pubkey, claimID model.Hash) (runtime.Receipt, error) {
	return l.identityOp(ctx, "remove_claim", auth, addr, func(_ *runtime.Unit, id *identity.Identity) ([]identity.Event, error) {
		return id.RemoveClaim(auth.Signer, claimID)
	})
}

// RevokeClaim records the signature of a stored claim as revoked.
func (l *Ledger) RevokeClaim(ctx context.Context, auth Auth, addr model.Pubkey, claimID model.Hash) (runtime.Receipt, error) {
	return l.identityOp(ctx, "revoke_claim", auth, addr, func(_ *runtime.Unit, id *identity.Identity) ([]identity.Event, error) {
		return id.RevokeClaim(auth.Signer, claimID)
	})
}

// Identity summarizes the identity at addr. Uninitialized identities report
// Initialized false and nothing else.
func (l *Ledger) Identity(ctx context.Context, addr model.Pubkey) (IdentityView, error) {
	id, err := l.readIdentity(ctx, addr)
	if err != nil {
		return IdentityView{}, err
	}
	view := IdentityView{Address: addr, DID: did.Identifier(addr), Initialized: id.Initialized()}
	if !view.Initialized {
		return view, nil
	}
	// Reads cannot fail once initialized
	view.Keys, _ = id.Keys()
	view.Claims, _ = id.Claims()
	view.Revoked = id.State().Revoked.Signatures()
	return view, nil
}

// Keys lists the key entries of the identity at addr in insertion order.
func (l *Ledger) Keys(ctx context.Context, addr model.Pubkey) ([]identity.KeyEntry, error) {
	id, err := l.readIdentity(ctx, addr)
	if err != nil {
		return nil, err
	}
	return id.Keys()
}

// Key returns the entry of the raw public key.
func (l *Ledger) Key(ctx context.Context, addr, key model.Pubkey) (identity.KeyEntry, error) {
	id, err := l.readIdentity(ctx, addr)
	if err != nil {
		return identity.KeyEntry{}, err
	}
	return id.Key(key)
}

// Claim returns the stored claim, or identity.ErrClaimNotFound.
func (l *Ledger) Claim(ctx context.Context, addr model.Pubkey, claimID model.Hash) (identity.Claim, error) {
	id, err := l.readIdentity(ctx, addr)
	if err != nil {
		return identity.Claim{}, err
	}
	c, ok, err := id.Claim(claimID)
	if err != nil {
		return identity.Claim{}, err
	}
	if !ok {
		return identity.Claim{}, identity.ErrClaimNotFound
	}
	return c, nil
}

// IsClaimRevoked reports whether sig was revoked on the identity at addr.
func (l *Ledger) IsClaimRevoked(ctx context.Context, addr model.Pubkey, sig model.Signature) (bool, error) {
	id, err := l.readIdentity(ctx, addr)
	if err != nil {
		return false, err
	}
	return id.IsClaimRevoked(sig)
}

// VerifyEd25519 runs a transaction carrying ixs and checks that its first
// instruction verifies sig by pub over msg. Nothing is written.
func (l *Ledger) VerifyEd25519(ctx context.Context, ixs []model.Instruction, pub model.Pubkey, msg []byte, sig model.Signature) error {
	_, err := l.exec.Execute(ctx, runtime.Transaction{Instructions: ixs}, func(u *runtime.Unit) error {
		return identity.VerifyEd25519(u, pub, msg, sig)
	})
	identityOperationCount.WithLabelValues("verify_ed25519", resultLabel(err)).Inc()
	return err
}
