package runtime

import (
	"bytes"
	"slices"
	"sync"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// lockTable hands out one mutex per account address. Entries are reference
// counted and dropped once no transaction holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[model.Pubkey]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[model.Pubkey]*lockEntry)}
}

// acquire locks every address in ascending byte order and returns the
// function releasing them. Ordering keeps overlapping transactions from
// deadlocking each other.
func (t *lockTable) acquire(addrs []model.Pubkey) func() {
	sorted := sortedUnique(addrs)
	entries := make([]*lockEntry, len(sorted))

	t.mu.Lock()
	for i, a := range sorted {
		e, ok := t.locks[a]
		if !ok {
			e = &lockEntry{}
			t.locks[a] = e
		}
		e.refs++
		entries[i] = e
	}
	t.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
	}

	return func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		t.mu.Lock()
		for i, a := range sorted {
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(t.locks, a)
			}
		}
		t.mu.Unlock()
	}
}

// size reports how many addresses currently have a lock entry.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

func sortedUnique(addrs []model.Pubkey) []model.Pubkey {
	out := slices.Clone(addrs)
	slices.SortFunc(out, func(a, b model.Pubkey) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}
