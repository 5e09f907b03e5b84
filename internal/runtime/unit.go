package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

// slot is the transaction-local copy of one declared account.
type slot struct {
	acc     model.Account
	exists  bool
	loaded  bool
	dirty   bool
	created bool
}

// Unit is the execution context of one transaction. Programs read and write
// accounts through it; nothing reaches storage until the transaction commits.
// A Unit is not safe for concurrent use.
type Unit struct {
	ctx     context.Context
	tx      Transaction
	store   storage.AccountStore
	now     time.Time
	signers []model.Pubkey
	slots   map[model.Pubkey]*slot
	events  []model.EventRecord
}

var _ identity.InstructionLoader = (*Unit)(nil)

func newUnit(ctx context.Context, tx Transaction, store storage.AccountStore, now time.Time) *Unit {
	u := &Unit{
		ctx:     ctx,
		tx:      tx,
		store:   store,
		now:     now,
		signers: slices.Clone(tx.Signers),
		slots:   make(map[model.Pubkey]*slot, len(tx.Accounts)),
	}
	for _, a := range tx.Accounts {
		u.slots[a] = &slot{}
	}
	return u
}

// ID returns the transaction id.
func (u *Unit) ID() string { return u.tx.ID }

// Context returns the context the transaction runs under.
func (u *Unit) Context() context.Context { return u.ctx }

// Now returns the transaction timestamp.
func (u *Unit) Now() time.Time { return u.now }

// IsSigner reports whether key signed the transaction or is acting as a
// program signer.
func (u *Unit) IsSigner(key model.Pubkey) bool {
	return slices.Contains(u.signers, key)
}

// RequireSigner fails with ErrMissingSigner unless key is a signer.
func (u *Unit) RequireSigner(key model.Pubkey) error {
	if !u.IsSigner(key) {
		return fmt.Errorf("%w: %s", ErrMissingSigner, key)
	}
	return nil
}

// InvokeSigned runs fn with signer temporarily added to the signer set.
// Programs use it to act with keys they control, the way a factory acts with
// its owner key for relayed calls.
func (u *Unit) InvokeSigned(signer model.Pubkey, fn func() error) error {
	n := len(u.signers)
	u.signers = append(u.signers, signer)
	defer func() { u.signers = u.signers[:n] }()
	return fn()
}

// LoadInstructionAt returns a copy of the transaction instruction at index.
func (u *Unit) LoadInstructionAt(index int) (model.Instruction, error) {
	if index < 0 || index >= len(u.tx.Instructions) {
		return model.Instruction{}, identity.ErrIndexOutOfBounds
	}
	return u.tx.Instructions[index].Clone(), nil
}

func (u *Unit) slot(addr model.Pubkey) (*slot, error) {
	s, ok := u.slots[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotDeclared, addr)
	}
	if s.loaded {
		return s, nil
	}
	acc, err := u.store.GetAccount(u.ctx, addr)
	switch {
	case err == nil:
		s.acc, s.exists = acc, true
	case errors.Is(err, storage.ErrNotFound):
		s.acc = model.Account{Address: addr}
	default:
		return nil, fmt.Errorf("load account %s: %w", addr, err)
	}
	s.loaded = true
	return s, nil
}

// Account returns a copy of the declared account at addr and whether it
// exists.
func (u *Unit) Account(addr model.Pubkey) (model.Account, bool, error) {
	s, err := u.slot(addr)
	if err != nil {
		return model.Account{}, false, err
	}
	return s.acc.Clone(), s.exists, nil
}

// Create allocates a new account. It fails with ErrAccountExists when the
// address is already in use.
func (u *Unit) Create(addr, owner model.Pubkey, data []byte) error {
	s, err := u.slot(addr)
	if err != nil {
		return err
	}
	if s.exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	s.acc = model.Account{Address: addr, Owner: owner, Data: slices.Clone(data)}
	s.exists, s.dirty, s.created = true, true, true
	return nil
}

// Write replaces the data of an existing declared account. Only the owning
// program may write it.
func (u *Unit) Write(addr, program model.Pubkey, data []byte) error {
	s, err := u.slot(addr)
	if err != nil {
		return err
	}
	if !s.exists {
		return fmt.Errorf("write %s: %w", addr, storage.ErrNotFound)
	}
	if s.acc.Owner != program {
		return fmt.Errorf("%w: %s is owned by %s", ErrAccountOwner, addr, s.acc.Owner)
	}
	s.acc.Data = slices.Clone(data)
	s.dirty = true
	return nil
}

// Emit appends an event. Payload is encoded as JSON.
func (u *Unit) Emit(program, address model.Pubkey, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", name, err)
	}
	u.events = append(u.events, model.EventRecord{
		TxID:      u.tx.ID,
		Seq:       len(u.events),
		Program:   program,
		Address:   address,
		Name:      name,
		Payload:   raw,
		CreatedAt: u.now,
	})
	return nil
}

// Events returns copies of the events emitted so far.
func (u *Unit) Events() []model.EventRecord {
	out := make([]model.EventRecord, len(u.events))
	for i, ev := range u.events {
		out[i] = ev.Clone()
	}
	return out
}

// changeset collects dirty accounts in address order.
func (u *Unit) changeset() storage.Changeset {
	cs := storage.Changeset{TxID: u.tx.ID, Events: u.events}
	for _, addr := range sortedUnique(u.tx.Accounts) {
		s := u.slots[addr]
		if !s.dirty {
			continue
		}
		acc := s.acc.Clone()
		acc.UpdatedAt = u.now
		cs.Accounts = append(cs.Accounts, storage.AccountWrite{Account: acc, Create: s.created})
	}
	return cs
}
