package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/relay"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/runtime"
)

// FactoryView is the queryable summary of the factory account.
type FactoryView struct {
	Address     model.Pubkey            `json:"address"`
	Initialized bool                    `json:"initialized"`
	Owner       model.Pubkey            `json:"owner"`
	ID          uint8                   `json:"id"`
	Endpoint    model.Pubkey            `json:"endpoint"`
	Identities  []model.Pubkey          `json:"identities"`
	Remotes     map[uint32]model.Pubkey `json:"remotes"`
}

// invoker runs nested identity calls inside the factory's transaction.
type invoker struct {
	l *Ledger
	u *runtime.Unit
}

var _ relay.IdentityInvoker = (*invoker)(nil)

func (v *invoker) call(addr model.Pubkey, fn func(id *identity.Identity) ([]identity.Event, error)) error {
	ia, err := v.l.loadIdentity(v.u, addr)
	if err != nil {
		return err
	}
	events, err := fn(ia.id)
	if err != nil {
		return err
	}
	return v.l.saveIdentity(v.u, ia, events)
}

// InitializeIdentity signs for the derived identity address, which only the
// factory program can do.
func (v *invoker) InitializeIdentity(addr, managementKey model.Pubkey) error {
	return v.u.InvokeSigned(addr, func() error {
		return v.call(addr, func(id *identity.Identity) ([]identity.Event, error) {
			return nil, initializeIdentity(v.u, id, managementKey)
		})
	})
}

func (v *invoker) AddKey(addr, manager, key model.Pubkey, purpose, keyType uint32) error {
	if err := v.u.RequireSigner(manager); err != nil {
		return err
	}
	return v.call(addr, func(id *identity.Identity) ([]identity.Event, error) {
		return id.AddKey(manager, key, purpose, keyType)
	})
}

func (v *invoker) AddClaim(addr, sender model.Pubkey, in identity.ClaimInput) (model.Hash, error) {
	if err := v.u.RequireSigner(sender); err != nil {
		return model.Hash{}, err
	}
	var claimID model.Hash
	err := v.call(addr, func(id *identity.Identity) ([]identity.Event, error) {
		cid, events, err := id.AddClaim(sender, in)
		claimID = cid
		return events, err
	})
	return claimID, err
}

func (v *invoker) RemoveKey(addr, manager, key model.Pubkey, purpose uint32) error {
	if err := v.u.RequireSigner(manager); err != nil {
		return err
	}
	return v.call(addr, func(id *identity.Identity) ([]identity.Event, error) {
		return id.RemoveKey(manager, key, purpose)
	})
}

func (v *invoker) RemoveClaim(addr, sender model.Pubkey, claimID model.Hash) error {
	if err := v.u.RequireSigner(sender); err != nil {
		return err
	}
	return v.call(addr, func(id *identity.Identity) ([]identity.Event, error) {
		return id.RemoveClaim(sender, claimID)
	})
}

// factoryOp runs fn against the factory inside one transaction that also
// declares extra accounts.
func (l *Ledger) factoryOp(ctx context.Context, op string, auth Auth, extra []model.Pubkey, fn func(u *runtime.Unit, f *relay.Factory) ([]relay.Event, error)) (runtime.Receipt, error) {
	accounts := append([]model.Pubkey{l.factory}, extra...)
	rcpt, err := l.exec.Execute(ctx, auth.tx(accounts...), func(u *runtime.Unit) error {
		if err := u.RequireSigner(auth.Signer); err != nil {
			return err
		}
		fa, err := l.loadFactory(u)
		if err != nil {
			return err
		}
		events, err := fn(u, fa.f)
		if err != nil {
			return err
		}
		return l.saveFactory(u, fa, events)
	})
	identityOperationCount.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		l.logger.Info("factory operation rejected", "op", op, "signer", auth.Signer, "error", err)
		return runtime.Receipt{}, err
	}
	l.logger.Info("factory operation applied", "op", op, "txId", rcpt.TxID, "events", len(rcpt.Events))
	return rcpt, nil
}

// InitializeFactory creates the factory account. A zero p.Admin makes the
// signer the owner.
func (l *Ledger) InitializeFactory(ctx context.Context, auth Auth, p relay.InitParams) (runtime.Receipt, error) {
	return l.factoryOp(ctx, "factory_initialize", auth, nil, func(_ *runtime.Unit, f *relay.Factory) ([]relay.Event, error) {
		return f.Initialize(auth.Signer, p)
	})
}

// IdentityAddress derives the identity account the factory creates for
// wallet and salt.
func (l *Ledger) IdentityAddress(wallet model.Pubkey, salt model.Hash) (model.Pubkey, error) {
	addr, _, err := did.IdentityAddress(l.cfg.FactoryProgram, wallet, salt)
	return addr, err
}

// CreateIdentity creates and initializes the identity for wallet and salt
// and links wallet to it. Only the factory owner may call it.
func (l *Ledger) CreateIdentity(ctx context.Context, auth Auth, wallet model.Pubkey, salt model.Hash, managementKey model.Pubkey) (model.Pubkey, runtime.Receipt, error) {
	addr, err := l.IdentityAddress(wallet, salt)
	if err != nil {
		return model.Pubkey{}, runtime.Receipt{}, err
	}
	rcpt, err := l.factoryOp(ctx, "create_identity", auth, []model.Pubkey{addr}, func(_ *runtime.Unit, f *relay.Factory) ([]relay.Event, error) {
		_, events, err := f.CreateIdentity(auth.Signer, wallet, salt, managementKey)
		return events, err
	})
	if err != nil {
		return model.Pubkey{}, runtime.Receipt{}, err
	}
	return addr, rcpt, nil
}

// LinkWallet binds wallet to ident.
func (l *Ledger) LinkWallet(ctx context.Context, auth Auth, wallet, ident model.Pubkey) (runtime.Receipt, error) {
	return l.factoryOp(ctx, "link_wallet", auth, nil, func(_ *runtime.Unit, f *relay.Factory) ([]relay.Event, error) {
		events, err := f.LinkWallet(auth.Signer, wallet, ident)
		if err == nil && len(events) == 0 {
			l.logger.Info("wallet already linked", "wallet", wallet)
		}
		return events, err
	})
}

// UnlinkWallet removes the link between wallet and ident.
func (l *Ledger) UnlinkWallet(ctx context.Context, auth Auth, wallet, ident model.Pubkey) (runtime.Receipt, error) {
	return l.factoryOp(ctx, "unlink_wallet", auth, nil, func(_ *runtime.Unit, f *relay.Factory) ([]relay.Event, error) {
		events, err := f.UnlinkWallet(auth.Signer, wallet, ident)
		if err == nil && len(events) == 0 {
			l.logger.Info("wallet not linked to identity", "wallet", wallet, "identity", ident)
		}
		return events, err
	})
}

// SetOwner transfers factory ownership.
func (l *Ledger) SetOwner(ctx context.Context, auth Auth, newOwner model.Pubkey) (runtime.Receipt, error) {
	return l.factoryOp(ctx, "set_owner", auth, nil, func(_ *runtime.Unit, f *relay.Factory) ([]relay.Event, error) {
		return f.SetOwner(auth.Signer, newOwner)
	})
}

// SetRemote registers the trusted peer for endpoint id eid.
func (l *Ledger) SetRemote(ctx context.Context, auth Auth, eid uint32, remote model.Pubkey) (runtime.Receipt, error) {
	return l.factoryOp(ctx, "set_remote", auth, nil, func(_ *runtime.Unit, f *relay.Factory) ([]relay.Event, error) {
		return f.SetRemote(auth.Signer, eid, remote)
	})
}

// Factory summarizes the committed factory state.
func (l *Ledger) Factory(ctx context.Context) (FactoryView, error) {
	f, err := l.readFactory(ctx)
	if err != nil {
		return FactoryView{}, err
	}
	st := f.State()
	remotes := make(map[uint32]model.Pubkey, len(st.Remotes))
	for k, v := range st.Remotes {
		remotes[k] = v
	}
	return FactoryView{
		Address:     l.factory,
		Initialized: st.Initialized,
		Owner:       st.Owner,
		ID:          st.ID,
		Endpoint:    st.Endpoint,
		Identities:  f.Identities(),
		Remotes:     remotes,
	}, nil
}

// Owner returns the factory owner.
func (l *Ledger) Owner(ctx context.Context) (model.Pubkey, error) {
	f, err := l.readFactory(ctx)
	if err != nil {
		return model.Pubkey{}, err
	}
	if !f.Initialized() {
		return model.Pubkey{}, relay.ErrNotInitialized
	}
	return f.Owner(), nil
}

// IdentityOf resolves the identity wallet is linked to.
func (l *Ledger) IdentityOf(ctx context.Context, wallet model.Pubkey) (model.Pubkey, error) {
	f, err := l.readFactory(ctx)
	if err != nil {
		return model.Pubkey{}, err
	}
	return f.Identity(wallet)
}

// Wallets lists the wallets linked to ident.
func (l *Ledger) Wallets(ctx context.Context, ident model.Pubkey) ([]model.Pubkey, error) {
	f, err := l.readFactory(ctx)
	if err != nil {
		return nil, err
	}
	return f.Wallets(ident), nil
}

// Receive applies a relayed message. The target identity is resolved from
// committed state to declare the transaction's accounts; the factory
// resolves it again under lock.
func (l *Ledger) Receive(ctx context.Context, p relay.ReceiveParams) (relay.Outcome, runtime.Receipt, error) {
	method := "unknown"
	if m, _, err := relay.SplitMessage(p.Message); err == nil {
		method = m
	}
	out, rcpt, err := l.receive(ctx, p)
	relayMessageCount.WithLabelValues(method, resultLabel(err)).Inc()
	if err != nil {
		l.logger.Warn("relayed message rejected", "method", method, "srcEid", p.SrcEid, "nonce", p.Nonce, "guid", p.GUID, "error", err)
		return relay.Outcome{}, runtime.Receipt{}, err
	}
	l.logger.Info("relayed message applied", "method", method, "srcEid", p.SrcEid, "nonce", p.Nonce, "identity", out.Identity, "txId", rcpt.TxID)
	return out, rcpt, nil
}

func (l *Ledger) receive(ctx context.Context, p relay.ReceiveParams) (relay.Outcome, runtime.Receipt, error) {
	target, err := l.relayTarget(ctx, p.Message)
	if err != nil {
		return relay.Outcome{}, runtime.Receipt{}, err
	}
	accounts := []model.Pubkey{l.factory}
	if !target.IsZero() {
		accounts = append(accounts, target)
	}

	var out relay.Outcome
	rcpt, err := l.exec.Execute(ctx, runtime.Transaction{Accounts: accounts}, func(u *runtime.Unit) error {
		fa, err := l.loadFactory(u)
		if err != nil {
			return err
		}
		var events []relay.Event
		// Relayed calls act with the owner key the factory controls
		err = u.InvokeSigned(fa.f.Owner(), func() error {
			var err error
			out, events, err = fa.f.Receive(p)
			return err
		})
		if err != nil {
			return err
		}
		return l.saveFactory(u, fa, events)
	})
	if err != nil {
		return relay.Outcome{}, runtime.Receipt{}, err
	}
	return out, rcpt, nil
}

// relayTarget predicts the identity account a message touches. A zero
// result means the message targets no known identity; the factory reports
// the precise error inside the transaction.
func (l *Ledger) relayTarget(ctx context.Context, msg []byte) (model.Pubkey, error) {
	call, err := relay.Decode(msg)
	if err != nil {
		return model.Pubkey{}, err
	}
	if c, ok := call.(relay.CreateIdentity); ok {
		return l.IdentityAddress(c.Wallet, c.Salt)
	}
	var wallet model.Pubkey
	switch c := call.(type) {
	case relay.AddKey:
		wallet = c.Wallet
	case relay.AddClaim:
		wallet = c.Wallet
	case relay.RemoveKey:
		wallet = c.Wallet
	case relay.RemoveClaim:
		wallet = c.Wallet
	default:
		return model.Pubkey{}, fmt.Errorf("%w: unsupported call %T", relay.ErrInvalidInstruction, call)
	}
	addr, err := l.IdentityOf(ctx, wallet)
	if errors.Is(err, relay.ErrWalletNotLinked) {
		return model.Pubkey{}, nil
	}
	return addr, err
}
