// Package lifecycle tracks the process-wide handles a worker caches while it acts as one world,
// and forces them back to an uninitialized state between activations.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSlotLive is returned when initializing a slot that still holds a value.
	ErrSlotLive = errors.New("slot already initialized")
	// ErrSlotEmpty is returned when reading a slot that was never initialized or was reset.
	ErrSlotEmpty = errors.New("slot not initialized")
)

// Resettable is anything the Manager can force back to empty.
type Resettable interface {
	Name() string
	Live() bool
	Reset() error
}

// Slot holds at most one value of T together with the function that releases it.
type Slot[T any] struct {
	name string

	mu      sync.Mutex
	value   T
	live    bool
	release func(T) error
}

// NewSlot creates an empty slot.
func NewSlot[T any](name string) *Slot[T] {
	return &Slot[T]{name: name}
}

// Name implements Resettable.
func (s *Slot[T]) Name() string { return s.name }

// Init stores value. release, when non-nil, runs on Reset.
func (s *Slot[T]) Init(value T, release func(T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live {
		return fmt.Errorf("%s: %w", s.name, ErrSlotLive)
	}
	s.value = value
	s.release = release
	s.live = true
	return nil
}

// Get returns the stored value.
func (s *Slot[T]) Get() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		var zero T
		return zero, fmt.Errorf("%s: %w", s.name, ErrSlotEmpty)
	}
	return s.value, nil
}

// Live implements Resettable.
func (s *Slot[T]) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Reset implements Resettable. The slot is empty afterwards even when release fails.
func (s *Slot[T]) Reset() error {
	s.mu.Lock()
	value, release, live := s.value, s.release, s.live
	var zero T
	s.value, s.release, s.live = zero, nil, false
	s.mu.Unlock()

	if !live || release == nil {
		return nil
	}
	if err := release(value); err != nil {
		return fmt.Errorf("release %s: %w", s.name, err)
	}
	return nil
}

// Manager resets a fixed set of slots together.
type Manager struct {
	mu    sync.Mutex
	slots []Resettable
}

// Register adds slots to the managed set.
func (m *Manager) Register(slots ...Resettable) {
	m.mu.Lock()
	m.slots = append(m.slots, slots...)
	m.mu.Unlock()
}

// Names lists registered slots in registration order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.slots))
	for _, s := range m.slots {
		names = append(names, s.Name())
	}
	return names
}

// ResetAll resets every slot, in reverse registration order, and joins release errors.
func (m *Manager) ResetAll() error {
	m.mu.Lock()
	slots := append([]Resettable(nil), m.slots...)
	m.mu.Unlock()

	var errs []error
	for i := len(slots) - 1; i >= 0; i-- {
		if err := slots[i].Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Live returns the names of slots currently holding a value.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var live []string
	for _, s := range m.slots {
		if s.Live() {
			live = append(live, s.Name())
		}
	}
	return live
}
