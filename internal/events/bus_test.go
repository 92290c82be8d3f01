package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitSyncReachesTypedAndWildcard(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var got []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, e Event) error {
			mu.Lock()
			got = append(got, name)
			mu.Unlock()
			return nil
		}
	}
	bus.Subscribe(EventSessionDropped, "typed", record("typed"))
	bus.Subscribe(EventSessionSpawned, "other", record("other"))
	bus.SubscribeAll("feed", record("feed"))

	assert.Equal(t, 2, bus.HandlerCount(EventSessionDropped))
	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventSessionDropped}))
	assert.ElementsMatch(t, []string{"typed", "feed"}, got)

	bus.UnsubscribeAll("feed")
	assert.Equal(t, 1, bus.HandlerCount(EventSessionDropped))
}

func TestEmitSyncReturnsHandlerError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	bus.Subscribe(EventShutdown, "failing", func(ctx context.Context, e Event) error { return boom })
	bus.Subscribe(EventShutdown, "panicking", func(ctx context.Context, e Event) error { panic("x") })

	assert.ErrorIs(t, bus.EmitSync(context.Background(), Event{Type: EventShutdown}), boom)
}

func TestEmitStampsTimeAndStops(t *testing.T) {
	bus := NewEventBus()
	done := make(chan Event, 1)
	bus.SubscribeAll("probe", func(ctx context.Context, e Event) error {
		done <- e
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventConfigChanged, Source: "test"})
	e := <-done
	assert.False(t, e.Time.IsZero())

	bus.Stop()
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventConfigChanged})
	assert.Empty(t, done)
}

func TestDropKindJSON(t *testing.T) {
	b, err := json.Marshal(SessionDroppedPayload{Kind: DropViolation, Reason: "unknown command byte"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"violation"`)
	assert.Equal(t, "unknown", DropKind(99).String())
}
