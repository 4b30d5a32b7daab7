package client

import (
	"context"
	"sync"
	"time"

	"orderlive/internal/core/domain"
)

// Store is the local state the tracker mutates optimistically. Implemented
// by MapStore for plain UI state and adaptable to any keyed container.
type Store[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
}

// MapStore is a mutex-guarded map Store.
type MapStore[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

func NewMapStore[K comparable, V any]() *MapStore[K, V] {
	return &MapStore[K, V]{items: make(map[K]V)}
}

func (s *MapStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *MapStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

func (s *MapStore[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

func (s *MapStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

type mutationKind int

const (
	mutationCreate mutationKind = iota
	mutationUpdate
	mutationDelete
)

type pendingMutation[V any] struct {
	kind      mutationKind
	prior     V
	hadPrior  bool
	startedAt time.Time
}

// Tracker applies mutations to local state before the server confirms them
// and reconciles afterward. A second mutation on a key whose first mutation
// is still in flight is rejected with ErrMutationInFlight; the alternative
// (overwriting the tracked rollback snapshot) silently loses the correct
// rollback target on rapid double-edits.
type Tracker[K comparable, V any] struct {
	mu      sync.Mutex
	store   Store[K, V]
	pending map[K]*pendingMutation[V]
}

func NewTracker[K comparable, V any](store Store[K, V]) *Tracker[K, V] {
	return &Tracker[K, V]{
		store:   store,
		pending: make(map[K]*pendingMutation[V]),
	}
}

// Create appends item to local state immediately. On server success the
// local item is replaced with the server-returned value; on failure the item
// is removed entirely and the error is returned after cleanup.
func (t *Tracker[K, V]) Create(ctx context.Context, key K, item V, serverCall func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if _, _, err := t.begin(key, mutationCreate); err != nil {
		return zero, err
	}
	t.store.Set(key, item)

	confirmed, err := serverCall(ctx)
	if err != nil {
		t.store.Delete(key)
		t.finish(key)
		return zero, err
	}
	t.store.Set(key, confirmed)
	t.finish(key)
	return confirmed, nil
}

// Update records the pre-mutation value as rollback target. On failure the
// prior value is restored (the item is not removed).
func (t *Tracker[K, V]) Update(ctx context.Context, key K, item V, serverCall func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	prior, had, err := t.begin(key, mutationUpdate)
	if err != nil {
		return zero, err
	}
	t.store.Set(key, item)

	confirmed, err := serverCall(ctx)
	if err != nil {
		if had {
			t.store.Set(key, prior)
		} else {
			t.store.Delete(key)
		}
		t.finish(key)
		return zero, err
	}
	t.store.Set(key, confirmed)
	t.finish(key)
	return confirmed, nil
}

// Delete removes the item immediately, retaining it as rollback target; on
// failure it is re-inserted with its original field values.
func (t *Tracker[K, V]) Delete(ctx context.Context, key K, serverCall func(ctx context.Context) error) error {
	prior, had, err := t.begin(key, mutationDelete)
	if err != nil {
		return err
	}
	t.store.Delete(key)

	if err := serverCall(ctx); err != nil {
		if had {
			t.store.Set(key, prior)
		}
		t.finish(key)
		return err
	}
	t.finish(key)
	return nil
}

// InFlight reports whether a mutation on key is outstanding.
func (t *Tracker[K, V]) InFlight(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[key]
	return ok
}

// begin registers key as in flight and captures the rollback snapshot under
// the same lock, so the snapshot cannot observe another mutation's
// uncommitted optimistic value.
func (t *Tracker[K, V]) begin(key K, kind mutationKind) (prior V, hadPrior bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[key]; ok {
		return prior, false, domain.ErrMutationInFlight
	}
	prior, hadPrior = t.store.Get(key)
	t.pending[key] = &pendingMutation[V]{
		kind:      kind,
		prior:     prior,
		hadPrior:  hadPrior,
		startedAt: time.Now(),
	}
	return prior, hadPrior, nil
}

func (t *Tracker[K, V]) finish(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, key)
}
