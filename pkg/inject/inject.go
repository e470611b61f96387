// Package inject wires core services into processors and request handlers
// before their first use.
//
// Instances declare the slots they need through Injectable.Slots; the
// Injector fills each slot from a fixed table of providers. No reflection
// over struct fields is involved.
package inject

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Slot identifies one well known service.
type Slot string

const (
	SlotLogger     Slot = "logger"
	SlotOptions    Slot = "options"
	SlotLocators   Slot = "locators"
	SlotProcessors Slot = "processors"
	SlotModel      Slot = "model"
	SlotEnginePool Slot = "enginePool"
	SlotCache      Slot = "cache"
	SlotManager    Slot = "manager"
)

var (
	ErrUnknownSlot = errors.New("no provider registered for slot")
	ErrSlotType    = errors.New("unexpected value for slot")
)

// Injectable is implemented by instances that need core services.
type Injectable interface {
	// Slots returns the slots to fill. It must return the same list on every call.
	Slots() []Slot

	// Inject receives the value provided for one of the declared slots.
	Inject(slot Slot, value any) error
}

// Provider returns the value of a slot. It is called once per injection.
type Provider func() any

type once struct {
	sync.Once
	err error
}

// Injector fills the declared slots of Injectable instances. Injecting the
// same pointer twice is a no-op that returns the result of the first call.
type Injector struct {
	mu        sync.RWMutex
	providers map[Slot]Provider

	injected sync.Map // any -> *once
}

type Option func(*Injector)

// WithProvider registers p for slot.
func WithProvider(slot Slot, p Provider) Option {
	return func(i *Injector) {
		i.providers[slot] = p
	}
}

// WithValue registers a constant value for slot.
func WithValue(slot Slot, v any) Option {
	return WithProvider(slot, func() any { return v })
}

func New(opts ...Option) *Injector {
	i := &Injector{providers: make(map[Slot]Provider)}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Register adds or replaces the provider of a slot. Instances already
// injected keep the value they received.
func (i *Injector) Register(slot Slot, p Provider) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.providers[slot] = p
}

// Inject fills the slots of target if it is Injectable and does nothing otherwise.
func (i *Injector) Inject(target any) error {
	in, ok := target.(Injectable)
	if !ok {
		return nil
	}

	// only pointers carry identity across calls
	if reflect.ValueOf(target).Kind() != reflect.Pointer {
		return i.inject(in)
	}

	v, _ := i.injected.LoadOrStore(target, &once{})
	o := v.(*once)
	o.Do(func() {
		o.err = i.inject(in)
	})
	return o.err
}

// InjectAll injects every target, stopping at the first failure.
func (i *Injector) InjectAll(targets ...any) error {
	for _, t := range targets {
		if err := i.Inject(t); err != nil {
			return err
		}
	}
	return nil
}

func (i *Injector) inject(target Injectable) error {
	for _, slot := range target.Slots() {
		i.mu.RLock()
		p, ok := i.providers[slot]
		i.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w '%s' required by %T", ErrUnknownSlot, slot, target)
		}
		if err := target.Inject(slot, p()); err != nil {
			return fmt.Errorf("injecting slot '%s' into %T: %w", slot, target, err)
		}
	}
	return nil
}

// Value asserts that v, provided for slot, has type T.
func Value[T any](slot Slot, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w '%s': got %T, want %T", ErrSlotType, slot, v, zero)
	}
	return t, nil
}
