package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/companion/internal/turn"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(8)
	b, cancelB := bus.Subscribe(8)
	defer cancelA()
	defer cancelB()

	bus.Publish(Event{Type: TypeState, State: "listening"})
	bus.Publish(Event{Type: TypeState, State: "user_speaking"})

	for _, ch := range []<-chan Event{a, b} {
		first, second := <-ch, <-ch
		assert.Equal(t, "listening", first.State)
		assert.Equal(t, "user_speaking", second.State)
		assert.False(t, first.Time.IsZero())
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Type: TypeSpeaking, Speaking: true})
	bus.Publish(Event{Type: TypeSpeaking, Speaking: false})
	assert.Equal(t, 1, bus.Dropped())
	assert.True(t, (<-ch).Speaking)
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	other, _ := bus.Subscribe(1)
	bus.Close()
	_, ok = <-other
	assert.False(t, ok)

	late, _ := bus.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
	bus.Publish(Event{Type: TypeError})
}

func TestBusHooks(t *testing.T) {
	bus := NewBus()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.now = func() time.Time { return fixed }
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	hooks := bus.Hooks(func() string { return "s1" })
	hooks.OnStateChange(turn.Listening, turn.UserSpeaking)
	hooks.OnSpeakingChanged(true)
	hooks.OnTranscript(turn.Entry{SessionID: "s1", Role: turn.RoleCompanion, Text: "Hi", Fallback: true})
	hooks.OnError(errors.New("mic gone"))

	ev := <-ch
	assert.Equal(t, Event{Type: TypeState, SessionID: "s1", From: "listening", State: "user_speaking", Time: fixed}, ev)
	ev = <-ch
	assert.True(t, ev.Speaking)
	ev = <-ch
	require.Equal(t, TypeTranscript, ev.Type)
	assert.Equal(t, "companion", ev.Role)
	assert.True(t, ev.Fallback)
	ev = <-ch
	assert.Equal(t, "mic gone", ev.Error)
}
