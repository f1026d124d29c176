/*
	Event pipeline from satellites into the object graph.

	The Processor takes NODES_MAP for writing around every event and hands it
	to the handler registered for the event name. Events of one satellite
	connection are processed one at a time in arrival order; the pipeline
	does not reorder or coalesce them.
*/

package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/events"
	"github.com/InsulaLabs/strata/internal/locks"
)

type Handler interface {
	Execute(ctx context.Context, scope *locks.Scope, action events.Action, id events.EventIdentifier, data []byte) error
}

type InboundEvent struct {
	Action events.Action
	ID     events.EventIdentifier
	Data   []byte
}

type ProcessorConfig struct {
	Logger *slog.Logger
	Locks  *locks.LockSet
	// LockTimeout bounds the wait for NODES_MAP. Zero waits as long as the
	// caller's context allows.
	LockTimeout time.Duration
}

type Processor struct {
	logger      *slog.Logger
	locks       *locks.LockSet
	lockTimeout time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewProcessor(config ProcessorConfig) *Processor {
	return &Processor{
		logger:      config.Logger.WithGroup("processor"),
		locks:       config.Locks,
		lockTimeout: config.LockTimeout,
		handlers:    make(map[string]Handler),
	}
}

func (p *Processor) Register(eventName string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventName] = h
}

func (p *Processor) Handle(ctx context.Context, ev InboundEvent) error {
	p.mu.RLock()
	h, ok := p.handlers[ev.ID.EventName]
	p.mu.RUnlock()
	if !ok {
		p.logger.Warn("no handler for event", "event", ev.ID.String())
		return fmt.Errorf("no handler for event %q", ev.ID.EventName)
	}

	lockCtx := ctx
	if p.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, p.lockTimeout)
		defer cancel()
	}

	scope := p.locks.NewScope()
	guard, err := p.locks.Build(lockCtx, scope, locks.Write, locks.NodesMap)
	if err != nil {
		return fmt.Errorf("acquiring %s: %w", locks.NodesMap, err)
	}
	defer guard.Release()

	err = h.Execute(ctx, scope, ev.Action, ev.ID, ev.Data)
	switch {
	case err == nil:
		p.logger.Debug("event processed", "event", ev.ID.String(), "action", ev.Action.String())
	case apierr.IsImplementation(err):
		p.logger.Error("implementation error while processing event",
			"event", ev.ID.String(), "action", ev.Action.String(), "error", fmt.Sprintf("%+v", err))
	case apierr.IsPersistence(err):
		p.logger.Error("event not persisted", "event", ev.ID.String(), "error", err)
	default:
		p.logger.Warn("event failed", "event", ev.ID.String(), "action", ev.Action.String(), "error", err)
	}
	return err
}
