package inject

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type service struct{ name string }

type consumer struct {
	calls   atomic.Int32
	service *service
	options string
}

func (c *consumer) Slots() []Slot {
	return []Slot{SlotLocators, SlotOptions}
}

func (c *consumer) Inject(slot Slot, value any) error {
	c.calls.Add(1)
	var err error
	switch slot {
	case SlotLocators:
		c.service, err = Value[*service](slot, value)
	case SlotOptions:
		c.options, err = Value[string](slot, value)
	}
	return err
}

func TestInjectFillsDeclaredSlots(t *testing.T) {
	svc := &service{name: "locators"}
	i := New(WithValue(SlotLocators, svc), WithValue(SlotOptions, "opts"))

	c := &consumer{}
	require.NoError(t, i.Inject(c))
	require.Same(t, svc, c.service)
	require.Equal(t, "opts", c.options)
	require.EqualValues(t, 2, c.calls.Load())
}

func TestInjectIsIdempotent(t *testing.T) {
	var provided atomic.Int32
	i := New(
		WithProvider(SlotLocators, func() any {
			provided.Add(1)
			return &service{}
		}),
		WithValue(SlotOptions, "opts"),
	)

	c := &consumer{}
	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, i.Inject(c))
		}()
	}
	wg.Wait()

	require.EqualValues(t, 2, c.calls.Load())
	require.EqualValues(t, 1, provided.Load())
}

func TestInjectUnknownSlot(t *testing.T) {
	i := New(WithValue(SlotLocators, &service{}))

	c := &consumer{}
	err := i.Inject(c)
	require.ErrorIs(t, err, ErrUnknownSlot)
	require.ErrorContains(t, err, "options")

	// the failure is remembered
	i.Register(SlotOptions, func() any { return "late" })
	require.ErrorIs(t, i.Inject(c), ErrUnknownSlot)

	// a new instance sees the new provider
	require.NoError(t, i.Inject(&consumer{}))
}

func TestInjectWrongType(t *testing.T) {
	i := New(WithValue(SlotLocators, "not a service"), WithValue(SlotOptions, "opts"))
	require.ErrorIs(t, i.Inject(&consumer{}), ErrSlotType)
}

func TestInjectIgnoresPlainValues(t *testing.T) {
	i := New()
	require.NoError(t, i.Inject(struct{}{}))
	require.NoError(t, i.Inject(nil))
	require.NoError(t, i.InjectAll("a", 1))
}

type valueConsumer struct{}

func (valueConsumer) Slots() []Slot          { return []Slot{SlotLogger} }
func (valueConsumer) Inject(Slot, any) error { return nil }

func TestInjectValueReceiver(t *testing.T) {
	var provided atomic.Int32
	i := New(WithProvider(SlotLogger, func() any {
		provided.Add(1)
		return nil
	}))

	require.NoError(t, i.Inject(valueConsumer{}))
	require.NoError(t, i.Inject(valueConsumer{}))
	require.EqualValues(t, 2, provided.Load())
}
