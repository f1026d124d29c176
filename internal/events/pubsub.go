package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/InsulaLabs/strata/internal/names"
)

var (
	ErrEventNotPermitted = errors.New("event not permitted")
)

const (
	EventResourceState = "resource-state"
)

// Action tags an inbound or forwarded event.
type Action int

const (
	// ActionValue is a stream update carrying a state.
	ActionValue Action = iota + 1
	// ActionCloseRemoved ends a stream because the object is gone.
	ActionCloseRemoved
	// ActionCloseNoConnection ends a stream because the satellite is gone.
	ActionCloseNoConnection
)

func (a Action) String() string {
	switch a {
	case ActionValue:
		return "VALUE"
	case ActionCloseRemoved:
		return "CLOSE_REMOVED"
	case ActionCloseNoConnection:
		return "CLOSE_NO_CONNECTION"
	default:
		return "UNKNOWN"
	}
}

func ParseAction(s string) (Action, error) {
	for _, a := range []Action{ActionValue, ActionCloseRemoved, ActionCloseNoConnection} {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown event action %q", s)
}

// EventIdentifier binds an event to the object it is about.
type EventIdentifier struct {
	EventName    string
	NodeName     names.NodeName
	ResourceName names.ResourceName
	HasVolume    bool
	VolumeNumber names.VolumeNumber
}

func ResourceStateID(node names.NodeName, rsc names.ResourceName) EventIdentifier {
	return EventIdentifier{EventName: EventResourceState, NodeName: node, ResourceName: rsc}
}

// Key is the canonical form used to match subscriptions.
func (id EventIdentifier) Key() string {
	k := id.EventName + "/" + id.NodeName.Canonical() + "/" + id.ResourceName.Canonical()
	if id.HasVolume {
		k += "/" + id.VolumeNumber.Canonical()
	}
	return k
}

func (id EventIdentifier) String() string {
	s := id.EventName + " " + id.NodeName.Display() + "/" + id.ResourceName.Display()
	if id.HasVolume {
		s += fmt.Sprintf("/%d", int(id.VolumeNumber))
	}
	return s
}

type Event struct {
	EventID    string
	Identifier EventIdentifier
	Action     Action
	EmittedAt  time.Time
	// State is nil when a stream ends.
	State any
}

// Subscriber receives forwarded events. OnEvent is called on the forwarding
// goroutine and must not block.
type Subscriber interface {
	OnEvent(ctx context.Context, event Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, event Event)

func (f SubscriberFunc) OnEvent(ctx context.Context, event Event) { f(ctx, event) }

// Call to remove a subscription.
type Unsubscriber func()

// EventRouter delivers a built event. The default router dispatches to local
// subscribers; a different one can hand events to another transport.
type EventRouter func(ctx context.Context, event Event) error

// Forwarder is the egress used by the reconciler. Delivery is fire and
// forget.
type Forwarder interface {
	ForwardEvent(ctx context.Context, id EventIdentifier, action Action, state any)
}
