// Package runtime executes ledger transactions. It plays the role of the host
// chain for the identity and factory programs: it owns account state, runs
// the Ed25519 precompile, and commits each transaction atomically or not at
// all.
//
// A transaction declares every account it touches. The executor locks those
// accounts, hands the program a Unit holding private copies of them, and on
// success writes all dirty accounts and emitted events with a single storage
// Commit. Transactions with disjoint account sets run concurrently.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/precompile"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

var (
	ErrAccountNotDeclared = errors.New("runtime: account not declared by transaction")
	ErrAccountExists      = errors.New("runtime: account already exists")
	ErrAccountOwner       = errors.New("runtime: account owned by another program")
	ErrMissingSigner      = errors.New("runtime: missing required signer")
	ErrPrecompile         = errors.New("runtime: precompile verification failed")
)

// Transaction is the input of one execution.
type Transaction struct {
	// ID is assigned by the executor when empty.
	ID string
	// Signers are keys whose signatures the caller already verified.
	Signers []model.Pubkey
	// Instructions is the full instruction list, visible to programs through
	// instruction introspection.
	Instructions []model.Instruction
	// Accounts is the set of accounts the transaction may read or write.
	Accounts []model.Pubkey
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxID        string              `json:"txId"`
	Events      []model.EventRecord `json:"events"`
	CommittedAt time.Time           `json:"committedAt"`
}

// Executor runs transactions against an AccountStore.
type Executor struct {
	store  storage.AccountStore
	locks  *lockTable
	clock  func() time.Time
	logger *slog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClock overrides the transaction timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) { e.clock = clock }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an Executor over store.
func New(store storage.AccountStore, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		locks:  newLockTable(),
		clock:  func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Read returns the committed state of the account at addr, or
// storage.ErrNotFound.
func (e *Executor) Read(ctx context.Context, addr model.Pubkey) (model.Account, error) {
	return e.store.GetAccount(ctx, addr)
}

// Execute runs fn as one transaction. Precompile instructions are verified
// before fn runs. If fn or the commit fails, no account changes and no
// events are persisted.
func (e *Executor) Execute(ctx context.Context, tx Transaction, fn func(*Unit) error) (Receipt, error) {
	start := time.Now()
	defer func() { transactionDuration.Observe(time.Since(start).Seconds()) }()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if err := runPrecompiles(tx.Instructions); err != nil {
		transactionCount.WithLabelValues("aborted").Inc()
		return Receipt{}, err
	}

	release := e.locks.acquire(tx.Accounts)
	defer release()

	if err := ctx.Err(); err != nil {
		transactionCount.WithLabelValues("aborted").Inc()
		return Receipt{}, err
	}

	u := newUnit(ctx, tx, e.store, e.clock())
	if err := fn(u); err != nil {
		transactionCount.WithLabelValues("aborted").Inc()
		e.logger.Debug("transaction aborted", "txId", tx.ID, "error", err)
		return Receipt{}, err
	}

	cs := u.changeset()
	if len(cs.Accounts) == 0 && len(cs.Events) == 0 {
		transactionCount.WithLabelValues("readonly").Inc()
		return Receipt{TxID: tx.ID, CommittedAt: u.now}, nil
	}
	if err := e.store.Commit(ctx, cs); err != nil {
		transactionCount.WithLabelValues("aborted").Inc()
		if errors.Is(err, storage.ErrConflict) {
			return Receipt{}, fmt.Errorf("%w: %w", ErrAccountExists, err)
		}
		return Receipt{}, fmt.Errorf("commit transaction %s: %w", tx.ID, err)
	}
	transactionCount.WithLabelValues("committed").Inc()
	e.logger.Debug("transaction committed", "txId", tx.ID, "accounts", len(cs.Accounts), "events", len(cs.Events))
	return Receipt{TxID: tx.ID, Events: u.Events(), CommittedAt: u.now}, nil
}

// runPrecompiles verifies every Ed25519 instruction of the transaction.
func runPrecompiles(ixs []model.Instruction) error {
	load := func(index int) ([]byte, error) {
		if index < 0 || index >= len(ixs) {
			return nil, fmt.Errorf("instruction %d out of range", index)
		}
		return ixs[index].Data, nil
	}
	for i, ix := range ixs {
		if ix.ProgramID != precompile.Ed25519ProgramID {
			continue
		}
		if err := precompile.Execute(ix.Data, load); err != nil {
			return fmt.Errorf("%w: instruction %d: %w", ErrPrecompile, i, err)
		}
	}
	return nil
}
