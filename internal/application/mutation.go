package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/possync/internal/domain"
)

const (
	mutationResultSuccess    = "success"
	mutationResultRolledBack = "rolled_back"
	mutationResultRejected   = "rejected"
)

// State is a slice of local view state that optimistic mutations act on.
type State[T any] struct {
	mu    sync.RWMutex
	value T
	clone func(T) T
}

// NewState wraps initial. clone must deep-copy T; nil means T is a plain value.
func NewState[T any](initial T, clone func(T) T) *State[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &State[T]{value: clone(initial), clone: clone}
}

func (s *State[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clone(s.value)
}

func (s *State[T]) Set(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = s.clone(value)
}

// update replaces the value with fn(current) atomically.
func (s *State[T]) update(fn func(T) T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = s.clone(fn(s.clone(s.value)))
}

// swap applies fn atomically and returns the value it replaced.
func (s *State[T]) swap(fn func(T) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.clone(s.value)
	next, err := fn(s.clone(s.value))
	if err != nil {
		return previous, err
	}
	s.value = next
	return previous, nil
}

type Mutation[T any] struct {
	// Entity names what is being mutated; one mutation per entity at a time.
	Entity string
	// Apply computes the optimistic local state. An error aborts before any
	// remote call.
	Apply  func(T) (T, error)
	Remote func(context.Context) error
	// Rollback undoes the mutation on the current state, given the snapshot
	// taken before Apply. It must touch only Entity so concurrent mutations
	// and refreshes of other entries survive. Nil restores the whole snapshot.
	Rollback func(current, previous T) T
	// Invalidate and Refetch run only after Remote succeeds.
	Invalidate []string
	Refetch    []func(context.Context) error
}

// Mutate applies m locally, issues the remote call, and undoes the local
// change if the remote call fails. The remote call is not cancelled
// with ctx once issued.
func Mutate[T any](ctx context.Context, o *Orchestrator, state *State[T], m Mutation[T]) error {
	if m.Entity == "" {
		return errors.New("mutation entity is required")
	}
	if m.Apply == nil || m.Remote == nil {
		return errors.New("mutation apply and remote are required")
	}
	if !o.acquire(m.Entity) {
		o.metrics.Mutation(mutationResultRejected)
		return fmt.Errorf("mutate %s: %w", m.Entity, domain.ErrMutationInFlight)
	}
	defer o.release(m.Entity)

	previous, err := state.swap(m.Apply)
	if err != nil {
		o.metrics.Mutation(mutationResultRejected)
		return fmt.Errorf("apply %s: %w", m.Entity, err)
	}

	if err := m.Remote(context.WithoutCancel(ctx)); err != nil {
		if m.Rollback != nil {
			state.update(func(current T) T { return m.Rollback(current, previous) })
		} else {
			state.Set(previous)
		}
		o.metrics.Mutation(mutationResultRolledBack)
		o.logger.Warn("mutation rolled back", "entity", m.Entity, "error", err)
		return fmt.Errorf("mutate %s: %w", m.Entity, err)
	}

	o.metrics.Mutation(mutationResultSuccess)
	o.Invalidate(m.Invalidate...)
	if len(m.Refetch) > 0 {
		if err := runConcurrently(ctx, m.Refetch); err != nil {
			o.logger.Warn("refetch after mutation", "entity", m.Entity, "error", err)
		}
	}
	return nil
}
