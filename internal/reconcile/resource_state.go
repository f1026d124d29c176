package reconcile

import (
	"context"
	"log/slog"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/events"
	"github.com/InsulaLabs/strata/internal/layer"
	"github.com/InsulaLabs/strata/internal/locks"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/repository"
	"github.com/InsulaLabs/strata/internal/satstate"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/tristate"
	"github.com/InsulaLabs/strata/internal/txn"
)

// AutoDiskful receives hints about diskless resources. Update must not block.
type AutoDiskful interface {
	Update(rsc *objects.Resource)
}

type ResourceStateConfig struct {
	Logger      *slog.Logger
	SysCtx      security.AccessContext
	Locks       *locks.LockSet
	RscDfns     *repository.ResourceDefinitionRepository
	Tx          *txn.Manager
	SatState    *satstate.Cache
	AutoDiskful AutoDiskful
	Forwarder   events.Forwarder
}

// ResourceStateHandler applies resource state events from satellites.
type ResourceStateHandler struct {
	logger      *slog.Logger
	sysCtx      security.AccessContext
	locks       *locks.LockSet
	rscDfns     *repository.ResourceDefinitionRepository
	tx          *txn.Manager
	satState    *satstate.Cache
	autoDiskful AutoDiskful
	forwarder   events.Forwarder
}

func NewResourceStateHandler(config ResourceStateConfig) *ResourceStateHandler {
	return &ResourceStateHandler{
		logger:      config.Logger.WithGroup("resource_state"),
		sysCtx:      config.SysCtx,
		locks:       config.Locks,
		rscDfns:     config.RscDfns,
		tx:          config.Tx,
		satState:    config.SatState,
		autoDiskful: config.AutoDiskful,
		forwarder:   config.Forwarder,
	}
}

// Execute handles one event. The caller must hold NODES_MAP for writing in
// scope; RSC_DFN_MAP is taken here.
func (h *ResourceStateHandler) Execute(
	ctx context.Context,
	scope *locks.Scope,
	action events.Action,
	id events.EventIdentifier,
	data []byte,
) error {
	if err := scope.RequireHeld(locks.NodesMap, locks.Write); err != nil {
		return err
	}

	if action != events.ActionValue {
		h.satState.UnsetInUse(id.NodeName, id.ResourceName)
		if err := h.updateVolatile(ctx, scope, id, tristate.Int{}, tristate.Unknown, false); err != nil {
			return err
		}
		h.forwarder.ForwardEvent(ctx, id, action, nil)
		return nil
	}

	state, err := DecodeResourceState(data)
	if err != nil {
		return err
	}

	// advisory, stays even if the update below fails
	h.satState.Set(id.NodeName, id.ResourceName, satstate.ResourceState{
		InUse:    state.InUse,
		Ready:    state.Ready,
		UpToDate: state.UpToDate,
	})

	rsc, diskless, err := h.updateFlags(ctx, scope, id, state.InUse)
	if err != nil {
		return err
	}
	if diskless {
		h.autoDiskful.Update(rsc)
	}

	if err := h.updateVolatile(ctx, scope, id, state.PromotionScore, state.MayPromote, true); err != nil {
		return err
	}
	h.forwarder.ForwardEvent(ctx, id, action, &state)
	return nil
}

func (h *ResourceStateHandler) loadResource(id events.EventIdentifier) (*objects.Resource, error) {
	rd, err := h.rscDfns.Get(h.sysCtx, id.ResourceName)
	if err != nil {
		return nil, h.privilegeError(err)
	}
	if rd == nil {
		return nil, nil
	}
	rsc, err := rd.Resource(h.sysCtx, id.NodeName)
	if err != nil {
		return nil, h.privilegeError(err)
	}
	return rsc, nil
}

func (h *ResourceStateHandler) privilegeError(err error) error {
	if apierr.IsAccessDenied(err) {
		return apierr.Implementation("system context does not have enough privileges", err)
	}
	return err
}

func notFound(node names.NodeName, rsc names.ResourceName) error {
	return &apierr.NotFoundError{Object: "resource " + rsc.Display() + " on node " + node.Display()}
}

// updateFlags promotes a tie-breaker that went into use to a diskless
// replica and commits. It reports whether the resource is diskless.
func (h *ResourceStateHandler) updateFlags(
	ctx context.Context,
	scope *locks.Scope,
	id events.EventIdentifier,
	inUse tristate.Bool,
) (*objects.Resource, bool, error) {
	guard, err := h.locks.Build(ctx, scope, locks.Write, locks.RscDfnMap)
	if err != nil {
		return nil, false, err
	}
	defer guard.Release()

	rsc, err := h.loadResource(id)
	if err != nil {
		return nil, false, err
	}
	if rsc == nil {
		return nil, false, notFound(id.NodeName, id.ResourceName)
	}

	tx := h.tx.Begin()
	flags := rsc.Flags()
	if inUse.IsTrue() {
		tieBreaker, err := flags.IsSet(h.sysCtx, objects.RscFlagTieBreaker)
		if err != nil {
			return nil, false, h.privilegeError(err)
		}
		if tieBreaker {
			if err := flags.Disable(h.sysCtx, tx, objects.RscFlagTieBreaker); err != nil {
				tx.Rollback()
				return nil, false, h.privilegeError(err)
			}
			if err := flags.Enable(h.sysCtx, tx, objects.RscFlagDiskless); err != nil {
				tx.Rollback()
				return nil, false, h.privilegeError(err)
			}
			h.logger.Info("tie-breaker in use, now diskless",
				"node", id.NodeName.Display(), "resource", id.ResourceName.Display())
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	diskless, err := flags.IsSet(h.sysCtx, objects.RscFlagDiskless)
	if err != nil {
		return nil, false, h.privilegeError(err)
	}
	return rsc, diskless, nil
}

// updateVolatile sets promotion score and may-promote on every DRBD layer of
// the resource. Closing streams of resources that are already gone are fine.
func (h *ResourceStateHandler) updateVolatile(
	ctx context.Context,
	scope *locks.Scope,
	id events.EventIdentifier,
	score tristate.Int,
	mayPromote tristate.Bool,
	mustExist bool,
) error {
	guard, err := h.locks.Build(ctx, scope, locks.Write, locks.RscDfnMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	rsc, err := h.loadResource(id)
	if err != nil {
		return err
	}
	if rsc == nil {
		if mustExist {
			return notFound(id.NodeName, id.ResourceName)
		}
		return nil
	}
	root, err := rsc.LayerData(h.sysCtx)
	if err != nil {
		return h.privilegeError(err)
	}
	for _, drbd := range layer.Extract[*layer.DrbdRscData](root) {
		drbd.SetPromotionScore(score)
		drbd.SetMayPromote(mayPromote)
	}
	return nil
}
