// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sync"

	"pos-terminal/internal/storage"
)

// ErrStoreDown is returned by FlakyStore while failing.
var ErrStoreDown = errors.New("store unavailable")

// FlakyStore wraps a MemoryStore and can be told to fail reads or writes.
// It also counts writes so tests can assert a persist was attempted.
type FlakyStore struct {
	*storage.MemoryStore

	mu         sync.Mutex
	failReads  bool
	failWrites bool
	writes     int
}

func NewFlakyStore() *FlakyStore {
	return &FlakyStore{MemoryStore: storage.NewMemoryStore()}
}

func (f *FlakyStore) FailReads(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = fail
}

func (f *FlakyStore) FailWrites(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = fail
}

// Writes returns the number of Set and Delete calls, failed ones included.
func (f *FlakyStore) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *FlakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	fail := f.failReads
	f.mu.Unlock()
	if fail {
		return "", false, ErrStoreDown
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *FlakyStore) Set(ctx context.Context, key, value string) error {
	if f.countWrite() {
		return ErrStoreDown
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func (f *FlakyStore) Delete(ctx context.Context, key string) error {
	if f.countWrite() {
		return ErrStoreDown
	}
	return f.MemoryStore.Delete(ctx, key)
}

func (f *FlakyStore) countWrite() (fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return f.failWrites
}
