package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Logger *slog.Logger
	// EventNames lists the events that may be subscribed to.
	EventNames []string
	// Router replaces local dispatch when set.
	Router EventRouter
}

type subscription struct {
	sub Subscriber
}

// Broker keeps subscriptions per identifier and per event name and fans
// forwarded events out to them.
type Broker struct {
	logger    *slog.Logger
	permitted []string
	router    EventRouter

	mu       sync.RWMutex
	exact    map[string][]*subscription
	wildcard map[string][]*subscription
}

var _ Forwarder = (*Broker)(nil)

func NewBroker(config Config) *Broker {
	b := &Broker{
		logger:    config.Logger.WithGroup("events"),
		permitted: config.EventNames,
		exact:     make(map[string][]*subscription),
		wildcard:  make(map[string][]*subscription),
	}
	b.router = config.Router
	if b.router == nil {
		b.router = b.dispatch
	}
	return b
}

func (b *Broker) PermittedEvents() []string { return slices.Clone(b.permitted) }

// Subscribe registers sub for events with exactly this identifier.
func (b *Broker) Subscribe(id EventIdentifier, sub Subscriber) (Unsubscriber, error) {
	if !slices.Contains(b.permitted, id.EventName) {
		return nil, ErrEventNotPermitted
	}
	return b.add(b.exact, id.Key(), sub), nil
}

// SubscribeAll registers sub for every event of the given name.
func (b *Broker) SubscribeAll(eventName string, sub Subscriber) (Unsubscriber, error) {
	if !slices.Contains(b.permitted, eventName) {
		return nil, ErrEventNotPermitted
	}
	return b.add(b.wildcard, eventName, sub), nil
}

func (b *Broker) add(m map[string][]*subscription, key string, sub Subscriber) Unsubscriber {
	s := &subscription{sub: sub}
	b.mu.Lock()
	defer b.mu.Unlock()
	m[key] = append(m[key], s)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		m[key] = slices.DeleteFunc(m[key], func(o *subscription) bool { return o == s })
		if len(m[key]) == 0 {
			delete(m, key)
		}
	}
}

func (b *Broker) ForwardEvent(ctx context.Context, id EventIdentifier, action Action, state any) {
	event := Event{
		EventID:    uuid.NewString(),
		Identifier: id,
		Action:     action,
		EmittedAt:  time.Now(),
		State:      state,
	}
	if err := b.router(ctx, event); err != nil {
		b.logger.Warn("event not forwarded", "event", id.String(), "action", action.String(), "error", err)
	}
}

func (b *Broker) dispatch(ctx context.Context, event Event) error {
	b.mu.RLock()
	targets := slices.Concat(b.exact[event.Identifier.Key()], b.wildcard[event.Identifier.EventName])
	b.mu.RUnlock()

	for _, s := range targets {
		s.sub.OnEvent(ctx, event)
	}
	b.logger.Debug("event forwarded", "event", event.Identifier.String(), "action", event.Action.String(), "subscribers", len(targets))
	return nil
}

// ChanSubscriber buffers events in a channel and drops them when the buffer
// is full.
type ChanSubscriber struct {
	C       chan Event
	dropped func(Event)
}

func NewChanSubscriber(size int, dropped func(Event)) *ChanSubscriber {
	return &ChanSubscriber{C: make(chan Event, size), dropped: dropped}
}

func (c *ChanSubscriber) OnEvent(_ context.Context, event Event) {
	select {
	case c.C <- event:
	default:
		if c.dropped != nil {
			c.dropped(event)
		}
	}
}
