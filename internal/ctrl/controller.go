/*
	The controller owns the authoritative object graph of one cluster.

	Every administrative operation takes its locks from the controller's lock
	set, mutates objects inside one transaction and commits through the
	record store. Satellite events enter through the Processor returned by
	Processor() and share the same locks, repositories and transactions.
*/

package ctrl

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/InsulaLabs/strata/internal/autodiskful"
	"github.com/InsulaLabs/strata/internal/events"
	"github.com/InsulaLabs/strata/internal/locks"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/reconcile"
	"github.com/InsulaLabs/strata/internal/repository"
	"github.com/InsulaLabs/strata/internal/satstate"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/store"
	"github.com/InsulaLabs/strata/internal/txn"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMinTCPPort = 7000
	DefaultMaxTCPPort = 7999
)

// Records is the read side of the record store.
type Records interface {
	Iterate(prefix string) ([]store.KV, error)
}

type AutoDiskfulConfig struct {
	Delay         time.Duration
	CheckInterval time.Duration
}

type Config struct {
	Logger *slog.Logger
	SysCtx security.AccessContext

	// Driver persists commits. Records is read once by Load. Both are
	// usually the same *store.Store.
	Driver  txn.Driver
	Records Records

	LockTimeout time.Duration
	SatStateTTL time.Duration
	AutoDiskful AutoDiskfulConfig

	// Ports handed out to resource definitions created without one.
	MinTCPPort int
	MaxTCPPort int
}

type Controller struct {
	logger  *slog.Logger
	sysCtx  security.AccessContext
	records Records

	locks       *locks.LockSet
	repos       *repository.Set
	tx          *txn.Manager
	lockTimeout time.Duration

	satState    *satstate.Cache
	broker      *events.Broker
	autoDiskful *autodiskful.Scheduler
	processor   *reconcile.Processor

	layerIDs   atomic.Int64
	minTCPPort int
	maxTCPPort int
}

func New(config Config) *Controller {
	if config.MinTCPPort == 0 && config.MaxTCPPort == 0 {
		config.MinTCPPort, config.MaxTCPPort = DefaultMinTCPPort, DefaultMaxTCPPort
	}

	c := &Controller{
		logger:      config.Logger.WithGroup("ctrl"),
		sysCtx:      config.SysCtx,
		records:     config.Records,
		locks:       locks.New(config.Logger),
		repos:       repository.NewSet(config.SysCtx),
		tx:          txn.NewManager(config.Driver, config.Logger.WithGroup("txn")),
		lockTimeout: config.LockTimeout,
		satState:    satstate.New(config.SatStateTTL),
		minTCPPort:  config.MinTCPPort,
		maxTCPPort:  config.MaxTCPPort,
	}

	c.broker = events.NewBroker(events.Config{
		Logger:     config.Logger,
		EventNames: []string{events.EventResourceState},
	})
	c.autoDiskful = autodiskful.New(autodiskful.Config{
		Logger:        config.Logger,
		Delay:         config.AutoDiskful.Delay,
		CheckInterval: config.AutoDiskful.CheckInterval,
		Inspect:       c.inspectDiskless,
		Convert:       c.convertToDiskful,
	})
	c.processor = reconcile.NewProcessor(reconcile.ProcessorConfig{
		Logger:      config.Logger,
		Locks:       c.locks,
		LockTimeout: config.LockTimeout,
	})
	c.processor.Register(events.EventResourceState, reconcile.NewResourceStateHandler(reconcile.ResourceStateConfig{
		Logger:      config.Logger,
		SysCtx:      config.SysCtx,
		Locks:       c.locks,
		RscDfns:     c.repos.RscDfns,
		Tx:          c.tx,
		SatState:    c.satState,
		AutoDiskful: c.autoDiskful,
		Forwarder:   c.broker,
	}))
	return c
}

func (c *Controller) Processor() *reconcile.Processor { return c.processor }
func (c *Controller) Broker() *events.Broker          { return c.broker }
func (c *Controller) Repositories() *repository.Set   { return c.repos }
func (c *Controller) SatelliteState() *satstate.Cache { return c.satState }

// Run drives the background tasks until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.satState.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return c.autoDiskful.Run(gctx)
	})
	return g.Wait()
}

// Load rebuilds the object graph from the record store. It must run before
// any other operation.
func (c *Controller) Load(ctx context.Context) error {
	_, guard, err := c.lock(ctx, locks.Write,
		locks.Reconfiguration, locks.NodesMap, locks.RscGrpMap, locks.RscDfnMap, locks.StorPoolDfnMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	loader := objects.NewLoader(c.sysCtx)
	records := 0
	for _, prefix := range objects.RecordPrefixes {
		kvs, err := c.records.Iterate(prefix)
		if err != nil {
			return fmt.Errorf("reading %s records: %w", prefix, err)
		}
		for _, kv := range kvs {
			if err := loader.Load(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		records += len(kvs)
	}

	graph := loader.Graph()
	for _, n := range graph.Nodes {
		c.repos.Nodes.Load(n)
	}
	for _, spd := range graph.StorPoolDfns {
		c.repos.StorPoolDfns.Load(spd)
	}
	for _, rg := range graph.RscGrps {
		c.repos.RscGrps.Load(rg)
	}
	for _, rd := range graph.RscDfns {
		c.repos.RscDfns.Load(rd)
	}
	c.layerIDs.Store(int64(loader.MaxLayerID()))

	c.logger.Info("object graph loaded",
		"records", records,
		"nodes", len(graph.Nodes),
		"resource_definitions", len(graph.RscDfns),
		"resource_groups", len(graph.RscGrps))
	return nil
}

func (c *Controller) nextLayerID() int { return int(c.layerIDs.Add(1)) }

// lock opens a scope for one operation and takes objs in global order.
func (c *Controller) lock(ctx context.Context, typ locks.LockType, objs ...locks.LockObj) (*locks.Scope, *locks.Guard, error) {
	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}
	scope := c.locks.NewScope()
	guard, err := c.locks.Build(ctx, scope, typ, objs...)
	if err != nil {
		return nil, nil, err
	}
	return scope, guard, nil
}

// inTx runs fn in a fresh transaction and commits it. Any error from fn
// rolls the transaction back.
func (c *Controller) inTx(ctx context.Context, fn func(tx *txn.Tx) error) error {
	tx := c.tx.Begin()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		c.logger.Error("commit failed", "tx", tx.ID().String(), "error", err)
		return err
	}
	return nil
}
