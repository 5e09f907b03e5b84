// Package ledger binds the identity and factory programs to the transaction
// runtime. Each operation runs as one runtime transaction: it loads the
// accounts it declared, applies the program logic, writes the encoded state
// back and publishes the program's events.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/relay"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/runtime"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

// FactorySeed prefixes the seeds of the factory account address.
var FactorySeed = []byte("factory")

// Config names the programs the ledger hosts.
type Config struct {
	IdentityProgram model.Pubkey
	FactoryProgram  model.Pubkey
	// FactoryInstance distinguishes factory accounts of the same program.
	FactoryInstance string
}

// Auth carries the caller's verified signer and any extra instructions that
// travel with the transaction, such as an Ed25519 verification instruction.
type Auth struct {
	Signer       model.Pubkey
	Instructions []model.Instruction
}

func (a Auth) tx(accounts ...model.Pubkey) runtime.Transaction {
	tx := runtime.Transaction{Instructions: a.Instructions, Accounts: accounts}
	if !a.Signer.IsZero() {
		tx.Signers = []model.Pubkey{a.Signer}
	}
	return tx
}

// Ledger executes identity and factory operations.
type Ledger struct {
	exec    *runtime.Executor
	events  storage.AccountStore
	cfg     Config
	factory model.Pubkey
	logger  *slog.Logger
}

// New creates a Ledger. store must be the store exec commits to; it serves
// event queries.
func New(exec *runtime.Executor, store storage.AccountStore, cfg Config, logger *slog.Logger) (*Ledger, error) {
	if cfg.IdentityProgram.IsZero() || cfg.FactoryProgram.IsZero() {
		return nil, errors.New("ledger: identity and factory program ids are required")
	}
	if cfg.IdentityProgram == cfg.FactoryProgram {
		return nil, errors.New("ledger: identity and factory programs must differ")
	}
	if logger == nil {
		logger = slog.Default()
	}
	addr, _, err := did.FindProgramAddress([][]byte{FactorySeed, []byte(cfg.FactoryInstance)}, cfg.FactoryProgram)
	if err != nil {
		return nil, fmt.Errorf("derive factory address: %w", err)
	}
	return &Ledger{exec: exec, events: store, cfg: cfg, factory: addr, logger: logger}, nil
}

// Config returns the ledger configuration.
func (l *Ledger) Config() Config { return l.cfg }

// FactoryAddress returns the address of the factory account.
func (l *Ledger) FactoryAddress() model.Pubkey { return l.factory }

// Events lists persisted events in commit order.
func (l *Ledger) Events(ctx context.Context, f storage.EventFilter) ([]model.EventRecord, error) {
	return l.events.ListEvents(ctx, f)
}

// identityAccount is an identity bound to a unit, plus what is needed to
// write it back.
type identityAccount struct {
	id     *identity.Identity
	exists bool
}

func (l *Ledger) loadIdentity(u *runtime.Unit, addr model.Pubkey) (*identityAccount, error) {
	acc, exists, err := u.Account(addr)
	if err != nil {
		return nil, err
	}
	if exists && acc.Owner != l.cfg.IdentityProgram {
		return nil, fmt.Errorf("%w: %s is not an identity account", runtime.ErrAccountOwner, addr)
	}
	st, err := identity.DecodeState(acc.Data)
	if err != nil {
		return nil, err
	}
	return &identityAccount{id: identity.New(addr, st, u), exists: exists}, nil
}

func (l *Ledger) saveIdentity(u *runtime.Unit, ia *identityAccount, events []identity.Event) error {
	data, err := ia.id.State().Encode()
	if err != nil {
		return err
	}
	addr := ia.id.Address()
	if ia.exists {
		err = u.Write(addr, l.cfg.IdentityProgram, data)
	} else {
		err = u.Create(addr, l.cfg.IdentityProgram, data)
		ia.exists = err == nil
	}
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := u.Emit(l.cfg.IdentityProgram, addr, ev.EventName(), ev); err != nil {
			return err
		}
	}
	return nil
}

// readIdentity loads committed identity state outside of a transaction.
func (l *Ledger) readIdentity(ctx context.Context, addr model.Pubkey) (*identity.Identity, error) {
	acc, err := l.exec.Read(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return identity.New(addr, nil, nil), nil
	}
	if err != nil {
		return nil, err
	}
	if acc.Owner != l.cfg.IdentityProgram {
		return nil, fmt.Errorf("%w: %s is not an identity account", runtime.ErrAccountOwner, addr)
	}
	st, err := identity.DecodeState(acc.Data)
	if err != nil {
		return nil, err
	}
	return identity.New(addr, st, nil), nil
}

// factoryAccount is the factory bound to a unit.
type factoryAccount struct {
	f      *relay.Factory
	exists bool
	orig   []byte
}

func (l *Ledger) loadFactory(u *runtime.Unit) (*factoryAccount, error) {
	acc, exists, err := u.Account(l.factory)
	if err != nil {
		return nil, err
	}
	if exists && acc.Owner != l.cfg.FactoryProgram {
		return nil, fmt.Errorf("%w: %s is not the factory account", runtime.ErrAccountOwner, l.factory)
	}
	st, err := relay.DecodeState(acc.Data)
	if err != nil {
		return nil, err
	}
	f := relay.NewFactory(l.cfg.FactoryProgram, st, &invoker{l: l, u: u})
	return &factoryAccount{f: f, exists: exists, orig: acc.Data}, nil
}

// saveFactory writes the factory state back when it changed and publishes
// events.
func (l *Ledger) saveFactory(u *runtime.Unit, fa *factoryAccount, events []relay.Event) error {
	data, err := fa.f.State().Encode()
	if err != nil {
		return err
	}
	switch {
	case !fa.exists:
		err = u.Create(l.factory, l.cfg.FactoryProgram, data)
	case !bytes.Equal(data, fa.orig):
		err = u.Write(l.factory, l.cfg.FactoryProgram, data)
	}
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := u.Emit(l.cfg.FactoryProgram, l.factory, ev.EventName(), ev); err != nil {
			return err
		}
	}
	return nil
}

// readFactory loads committed factory state outside of a transaction.
func (l *Ledger) readFactory(ctx context.Context) (*relay.Factory, error) {
	acc, err := l.exec.Read(ctx, l.factory)
	if errors.Is(err, storage.ErrNotFound) {
		return relay.NewFactory(l.cfg.FactoryProgram, nil, nil), nil
	}
	if err != nil {
		return nil, err
	}
	st, err := relay.DecodeState(acc.Data)
	if err != nil {
		return nil, err
	}
	return relay.NewFactory(l.cfg.FactoryProgram, st, nil), nil
}
