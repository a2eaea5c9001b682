// Package repository defines the persistence boundary the core relies on
// (spec.md §6: "save, find_by_id, find_by_external_id, and transactional
// boundaries") and ships the one implementation the core itself needs: an
// in-memory store. A relational implementation belongs to the HTTP/API
// layer this repo does not build.
package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("repository: not found")

// NotFoundError reports a missing key, distinguishing it from other
// failure modes (connection errors, for a real backing store) that a
// caller might want to retry differently.
type NotFoundError struct {
	ID uuid.UUID
}

func (e *NotFoundError) Error() string { return "repository: no record for id " + e.ID.String() }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Repository is the generic persistence contract every orchestrator
// depends on. find_by_id and find_by_external_id are both exposed because
// spec.md's abstract persistence layout names them separately; for the
// entity types in this core, the internal id and the external id are the
// same opaque value, so both methods resolve through the same key.
type Repository[T any] interface {
	Save(ctx context.Context, item T) error
	FindByID(ctx context.Context, id uuid.UUID) (T, error)
	FindByExternalID(ctx context.Context, externalID uuid.UUID) (T, error)
	Transact(ctx context.Context, fn func(tx Tx[T]) error) error
}

// Tx is the narrow view of a Repository exposed inside a Transact
// callback: plain, non-locking Save/FindByID against the same backing
// store, so a caller can read-then-write atomically.
type Tx[T any] interface {
	Save(item T)
	FindByID(id uuid.UUID) (T, bool)
}

// Memory is an in-memory Repository guarded by a single sync.RWMutex
// across its whole item map, mirroring the teacher's storage layer (one
// mutex guarding several related maps, so a group of mutations commits
// atomically from a reader's point of view).
type Memory[T any] struct {
	mu    sync.RWMutex
	items map[uuid.UUID]T
	keyOf func(T) uuid.UUID
}

// NewMemory returns an empty Memory repository. keyOf extracts the
// identifying UUID from an item of type T (e.g. a Contract's ID field, or
// an Execution's ExternalID field).
func NewMemory[T any](keyOf func(T) uuid.UUID) *Memory[T] {
	return &Memory[T]{items: make(map[uuid.UUID]T), keyOf: keyOf}
}

func (m *Memory[T]) Save(ctx context.Context, item T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[m.keyOf(item)] = item
	return nil
}

func (m *Memory[T]) FindByID(ctx context.Context, id uuid.UUID) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		var zero T
		return zero, &NotFoundError{ID: id}
	}
	return item, nil
}

// FindByExternalID resolves through the same key as FindByID: see the
// Repository doc comment for why.
func (m *Memory[T]) FindByExternalID(ctx context.Context, externalID uuid.UUID) (T, error) {
	return m.FindByID(ctx, externalID)
}

func (m *Memory[T]) Transact(ctx context.Context, fn func(tx Tx[T]) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memoryTx[T]{store: m})
}

// memoryTx is the lock-free view of Memory handed to a Transact callback;
// the outer Lock held by Transact makes its Save/FindByID calls atomic
// with respect to the rest of the store.
type memoryTx[T any] struct {
	store *Memory[T]
}

func (tx *memoryTx[T]) Save(item T) {
	tx.store.items[tx.store.keyOf(item)] = item
}

func (tx *memoryTx[T]) FindByID(id uuid.UUID) (T, bool) {
	item, ok := tx.store.items[id]
	return item, ok
}
