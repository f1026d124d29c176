/*
	Auto-diskful turns a diskless replica into a diskful one after it has been
	in use for a while.

	Update is only a hint: it queues the resource and returns. The worker asks
	the Inspector whether the resource qualifies (diskless and in use) and
	arms a timer in a ttlcache for qualifying resources. A resource that stops
	qualifying before the timer fires is dropped from the cache. Expired
	entries are inspected once more and handed to the Converter.
*/

package autodiskful

import (
	"context"
	"log/slog"
	"time"

	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/jellydator/ttlcache/v3"
)

const (
	DefaultDelay         = 30 * time.Second
	DefaultCheckInterval = 5 * time.Second
	DefaultQueueSize     = 256
)

type Candidate struct {
	Node     names.NodeName
	Resource names.ResourceName
}

func (c Candidate) key() string { return c.Node.Canonical() + "/" + c.Resource.Canonical() }

// Inspector reports whether the candidate should become diskful. It takes
// whatever locks it needs.
type Inspector func(ctx context.Context, c Candidate) (bool, error)

// Converter performs the conversion.
type Converter func(ctx context.Context, c Candidate) error

type Config struct {
	Logger        *slog.Logger
	Delay         time.Duration
	CheckInterval time.Duration
	QueueSize     int
	Inspect       Inspector
	Convert       Converter
}

type Scheduler struct {
	logger   *slog.Logger
	delay    time.Duration
	interval time.Duration
	inspect  Inspector
	convert  Converter

	queue   chan Candidate
	expired chan Candidate
	timers  *ttlcache.Cache[string, Candidate]
}

func New(config Config) *Scheduler {
	if config.Delay <= 0 {
		config.Delay = DefaultDelay
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	s := &Scheduler{
		logger:   config.Logger.WithGroup("autodiskful"),
		delay:    config.Delay,
		interval: config.CheckInterval,
		inspect:  config.Inspect,
		convert:  config.Convert,
		queue:    make(chan Candidate, config.QueueSize),
		expired:  make(chan Candidate, config.QueueSize),
		timers: ttlcache.New[string, Candidate](
			ttlcache.WithTTL[string, Candidate](config.Delay),
			ttlcache.WithDisableTouchOnHit[string, Candidate](),
		),
	}
	s.timers.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, Candidate]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		// may run on the Run goroutine, so it must not block
		c := item.Value()
		select {
		case s.expired <- c:
		default:
			s.logger.Warn("expiry queue full, dropping timer", "node", c.Node.Display(), "resource", c.Resource.Display())
		}
	})
	return s
}

// Update queues rsc for evaluation. It never blocks; when the queue is full
// the hint is dropped and the next event for the resource brings it back.
func (s *Scheduler) Update(rsc *objects.Resource) {
	c := Candidate{Node: rsc.NodeName(), Resource: rsc.ResourceName()}
	select {
	case s.queue <- c:
	default:
		s.logger.Warn("queue full, dropping hint", "node", c.Node.Display(), "resource", c.Resource.Display())
	}
}

// Pending is the number of armed timers.
func (s *Scheduler) Pending() int { return s.timers.Len() }

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("auto-diskful scheduler started", "delay", s.delay, "check_interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.timers.DeleteAll()
			return nil
		case c := <-s.queue:
			s.evaluate(ctx, c)
		case c := <-s.expired:
			s.fire(ctx, c)
		case <-ticker.C:
			s.timers.DeleteExpired()
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context, c Candidate) {
	eligible, err := s.inspect(ctx, c)
	if err != nil {
		s.logger.Error("inspection failed", "node", c.Node.Display(), "resource", c.Resource.Display(), "error", err)
		return
	}
	if !eligible {
		if s.timers.Has(c.key()) {
			s.logger.Debug("timer cancelled", "node", c.Node.Display(), "resource", c.Resource.Display())
		}
		s.timers.Delete(c.key())
		return
	}
	if s.timers.Has(c.key()) {
		return
	}
	s.timers.Set(c.key(), c, ttlcache.DefaultTTL)
	s.logger.Debug("timer armed", "node", c.Node.Display(), "resource", c.Resource.Display())
}

func (s *Scheduler) fire(ctx context.Context, c Candidate) {
	eligible, err := s.inspect(ctx, c)
	if err != nil || !eligible {
		return
	}
	if err := s.convert(ctx, c); err != nil {
		s.logger.Error("conversion failed", "node", c.Node.Display(), "resource", c.Resource.Display(), "error", err)
		return
	}
	s.logger.Info("resource made diskful", "node", c.Node.Display(), "resource", c.Resource.Display())
}
