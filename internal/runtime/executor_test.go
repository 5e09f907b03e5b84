package runtime

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/precompile"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

var program = addr("program")

func addr(label string) model.Pubkey {
	return model.Pubkey(sha256.Sum256([]byte(label)))
}

func TestExecuteCommitsAccountsAndEvents(t *testing.T) {
	store := storage.NewMemory()
	exec := New(store)
	ctx := context.Background()
	a := addr("a")

	rcpt, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{a}}, func(u *Unit) error {
		require.NoError(t, u.Create(a, program, []byte("hello")))
		return u.Emit(program, a, "Created", map[string]string{"v": "hello"})
	})
	require.NoError(t, err)
	require.NotEmpty(t, rcpt.TxID)
	require.Len(t, rcpt.Events, 1)
	require.Equal(t, rcpt.TxID, rcpt.Events[0].TxID)
	require.Equal(t, "Created", rcpt.Events[0].Name)

	acc, err := exec.Read(ctx, a)
	require.NoError(t, err)
	require.Equal(t, program, acc.Owner)
	require.Equal(t, []byte("hello"), acc.Data)

	evs, err := store.ListEvents(ctx, storage.EventFilter{Address: a})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.JSONEq(t, `{"v":"hello"}`, string(evs[0].Payload))
}

func TestExecuteAbortDiscardsEverything(t *testing.T) {
	store := storage.NewMemory()
	exec := New(store)
	ctx := context.Background()
	a := addr("a")
	boom := errors.New("boom")

	_, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{a}}, func(u *Unit) error {
		require.NoError(t, u.Create(a, program, []byte("x")))
		require.NoError(t, u.Emit(program, a, "Created", nil))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = exec.Read(ctx, a)
	require.ErrorIs(t, err, storage.ErrNotFound)
	evs, err := store.ListEvents(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestUnitAccountRules(t *testing.T) {
	store := storage.NewMemory()
	exec := New(store)
	ctx := context.Background()
	a, b := addr("a"), addr("b")

	_, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{a}}, func(u *Unit) error {
		return u.Create(a, program, []byte("v1"))
	})
	require.NoError(t, err)

	t.Run("undeclared", func(t *testing.T) {
		_, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{a}}, func(u *Unit) error {
			_, _, err := u.Account(b)
			return err
		})
		require.ErrorIs(t, err, ErrAccountNotDeclared)
	})

	t.Run("create existing", func(t *testing.T) {
		_, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{a}}, func(u *Unit) error {
			return u.Create(a, program, nil)
		})
		require.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("foreign owner", func(t *testing.T) {
		_, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{a}}, func(u *Unit) error {
			return u.Write(a, addr("other"), []byte("v2"))
		})
		require.ErrorIs(t, err, ErrAccountOwner)
	})

	t.Run("write missing", func(t *testing.T) {
		_, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{b}}, func(u *Unit) error {
			return u.Write(b, program, []byte("v2"))
		})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("copies are private", func(t *testing.T) {
		_, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{a}}, func(u *Unit) error {
			acc, ok, err := u.Account(a)
			require.NoError(t, err)
			require.True(t, ok)
			acc.Data[0] = 'X'
			again, _, err := u.Account(a)
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), again.Data)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestReadOnlyTransactionSkipsCommit(t *testing.T) {
	exec := New(storage.NewMemory())
	a := addr("a")
	rcpt, err := exec.Execute(context.Background(), Transaction{Accounts: []model.Pubkey{a}}, func(u *Unit) error {
		_, ok, err := u.Account(a)
		require.False(t, ok)
		return err
	})
	require.NoError(t, err)
	require.Empty(t, rcpt.Events)
}

func TestSigners(t *testing.T) {
	exec := New(storage.NewMemory())
	alice, owner := addr("alice"), addr("owner")
	_, err := exec.Execute(context.Background(), Transaction{Signers: []model.Pubkey{alice}}, func(u *Unit) error {
		require.NoError(t, u.RequireSigner(alice))
		require.ErrorIs(t, u.RequireSigner(owner), ErrMissingSigner)
		require.NoError(t, u.InvokeSigned(owner, func() error {
			return u.RequireSigner(owner)
		}))
		// The program signer does not outlive the nested call
		require.False(t, u.IsSigner(owner))
		return nil
	})
	require.NoError(t, err)
}

func TestPrecompileRunsBeforeProgram(t *testing.T) {
	exec := New(storage.NewMemory())
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	msg := []byte("claim message")

	t.Run("valid", func(t *testing.T) {
		ix := precompile.SignInstruction(priv, msg)
		ran := false
		_, err := exec.Execute(context.Background(), Transaction{Instructions: []model.Instruction{ix}}, func(u *Unit) error {
			ran = true
			got, err := u.LoadInstructionAt(0)
			require.NoError(t, err)
			require.Equal(t, ix.Data, got.Data)
			_, err = u.LoadInstructionAt(1)
			require.ErrorIs(t, err, identity.ErrIndexOutOfBounds)
			return nil
		})
		require.NoError(t, err)
		require.True(t, ran)
	})

	t.Run("invalid signature", func(t *testing.T) {
		var key model.Pubkey
		copy(key[:], pub)
		var sig model.Signature // all zero
		ix := precompile.NewEd25519Instruction(key, msg, sig)
		_, err := exec.Execute(context.Background(), Transaction{Instructions: []model.Instruction{ix}}, func(u *Unit) error {
			t.Fatal("program must not run")
			return nil
		})
		require.ErrorIs(t, err, ErrPrecompile)
	})
}

func TestConcurrentTransactionsSerializePerAccount(t *testing.T) {
	store := storage.NewMemory()
	exec := New(store)
	ctx := context.Background()
	counter := addr("counter")
	_, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{counter}}, func(u *Unit) error {
		return u.Create(counter, program, []byte("0"))
	})
	require.NoError(t, err)

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each transaction also touches a private account
			own := addr("worker-" + strconv.Itoa(i))
			_, err := exec.Execute(ctx, Transaction{Accounts: []model.Pubkey{own, counter}}, func(u *Unit) error {
				acc, _, err := u.Account(counter)
				if err != nil {
					return err
				}
				n, err := strconv.Atoi(string(acc.Data))
				if err != nil {
					return err
				}
				if err := u.Create(own, program, nil); err != nil {
					return err
				}
				return u.Write(counter, program, []byte(strconv.Itoa(n+1)))
			})
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	acc, err := exec.Read(ctx, counter)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(workers), string(acc.Data))
	require.Zero(t, exec.locks.size())
}

func TestLockTableOrdersAndDeduplicates(t *testing.T) {
	a, b := addr("a"), addr("b")
	got := sortedUnique([]model.Pubkey{b, a, b, a})
	require.Len(t, got, 2)
	require.Equal(t, sortedUnique([]model.Pubkey{a, b}), got)

	lt := newLockTable()
	release := lt.acquire([]model.Pubkey{a, b, a})
	require.Equal(t, 2, lt.size())
	release()
	require.Zero(t, lt.size())
}
