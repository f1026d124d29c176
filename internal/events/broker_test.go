package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/InsulaLabs/strata/internal/names"
	"github.com/stretchr/testify/require"
)

// mockSubscriber records received events.
type mockSubscriber struct {
	mu     sync.Mutex
	events []Event
}

func (ms *mockSubscriber) OnEvent(_ context.Context, event Event) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.events = append(ms.events, event)
}

func (ms *mockSubscriber) got() []Event {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]Event(nil), ms.events...)
}

func newTestBroker(router EventRouter) *Broker {
	return NewBroker(Config{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		EventNames: []string{EventResourceState},
		Router:     router,
	})
}

func TestBroker_ScopedAndWildcard(t *testing.T) {
	b := newTestBroker(nil)
	ctx := context.Background()

	alpha := ResourceStateID(names.MustNodeName("alpha"), names.MustResourceName("rsc1"))
	bravo := ResourceStateID(names.MustNodeName("bravo"), names.MustResourceName("rsc1"))

	scoped := &mockSubscriber{}
	all := &mockSubscriber{}
	unsub, err := b.Subscribe(alpha, scoped)
	require.NoError(t, err)
	_, err = b.SubscribeAll(EventResourceState, all)
	require.NoError(t, err)

	b.ForwardEvent(ctx, alpha, ActionValue, "state")
	b.ForwardEvent(ctx, bravo, ActionValue, "other")
	b.ForwardEvent(ctx, alpha, ActionCloseNoConnection, nil)

	require.Len(t, scoped.got(), 2)
	require.Len(t, all.got(), 3)
	last := scoped.got()[1]
	require.Equal(t, ActionCloseNoConnection, last.Action)
	require.Nil(t, last.State)
	require.NotEmpty(t, last.EventID)

	t.Run("identifier matching ignores case", func(t *testing.T) {
		upper := ResourceStateID(names.MustNodeName("ALPHA"), names.MustResourceName("RSC1"))
		b.ForwardEvent(ctx, upper, ActionValue, "again")
		require.Len(t, scoped.got(), 3)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		unsub()
		unsub()
		b.ForwardEvent(ctx, alpha, ActionValue, "late")
		require.Len(t, scoped.got(), 3)
		require.Len(t, all.got(), 5)
	})
}

func TestBroker_NotPermitted(t *testing.T) {
	b := newTestBroker(nil)
	_, err := b.Subscribe(EventIdentifier{EventName: "volume-state"}, &mockSubscriber{})
	require.ErrorIs(t, err, ErrEventNotPermitted)
	_, err = b.SubscribeAll("volume-state", &mockSubscriber{})
	require.ErrorIs(t, err, ErrEventNotPermitted)
}

func TestBroker_RouterErrorIsSwallowed(t *testing.T) {
	var routed []Event
	b := newTestBroker(func(_ context.Context, e Event) error {
		routed = append(routed, e)
		return errors.New("transport down")
	})
	id := ResourceStateID(names.MustNodeName("alpha"), names.MustResourceName("rsc1"))
	b.ForwardEvent(context.Background(), id, ActionValue, 1)
	require.Len(t, routed, 1)
}

func TestChanSubscriber_DropsWhenFull(t *testing.T) {
	var dropped int
	c := NewChanSubscriber(1, func(Event) { dropped++ })
	c.OnEvent(context.Background(), Event{EventID: "a"})
	c.OnEvent(context.Background(), Event{EventID: "b"})
	require.Equal(t, 1, dropped)
	require.Equal(t, "a", (<-c.C).EventID)
}

func TestParseAction(t *testing.T) {
	for _, a := range []Action{ActionValue, ActionCloseRemoved, ActionCloseNoConnection} {
		got, err := ParseAction(a.String())
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
	_, err := ParseAction("SNAPSHOT")
	require.Error(t, err)
}
