package ctrl

import (
	"context"

	"github.com/InsulaLabs/strata/internal/autodiskful"
	"github.com/InsulaLabs/strata/internal/layer"
	"github.com/InsulaLabs/strata/internal/locks"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/tristate"
	"github.com/InsulaLabs/strata/internal/txn"
)

// ResourceStatus joins a resource with the last state its satellite
// reported.
type ResourceStatus struct {
	Node     names.NodeName
	Resource names.ResourceName
	Flags    []string

	InUse    tristate.Bool
	Ready    tristate.Bool
	UpToDate tristate.Bool
	// Reported is false when no state is cached for the resource.
	Reported bool

	PromotionScore tristate.Int
	MayPromote     tristate.Bool
}

// ResourceStates lists every resource visible to accCtx ordered by resource
// and node name.
func (c *Controller) ResourceStates(ctx context.Context, accCtx security.AccessContext) ([]ResourceStatus, error) {
	_, guard, err := c.lock(ctx, locks.Read, locks.NodesMap, locks.RscDfnMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	view, err := c.repos.RscDfns.MapForView(accCtx)
	if err != nil {
		return nil, err
	}
	var out []ResourceStatus
	for _, rd := range view.Values() {
		rscs, err := rd.Resources(accCtx)
		if err != nil {
			return nil, err
		}
		for _, rsc := range rscs {
			st, err := c.status(accCtx, rsc)
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func (c *Controller) status(accCtx security.AccessContext, rsc *objects.Resource) (ResourceStatus, error) {
	st := ResourceStatus{
		Node:     rsc.NodeName(),
		Resource: rsc.ResourceName(),
	}
	for _, f := range []objects.RscFlag{
		objects.RscFlagDelete, objects.RscFlagDiskless, objects.RscFlagTieBreaker, objects.RscFlagInactive,
	} {
		set, err := rsc.Flags().IsSet(accCtx, f)
		if err != nil {
			return ResourceStatus{}, err
		}
		if set {
			st.Flags = append(st.Flags, f.String())
		}
	}

	if cached, ok := c.satState.Get(rsc.NodeName(), rsc.ResourceName()); ok {
		st.Reported = true
		st.InUse, st.Ready, st.UpToDate = cached.InUse, cached.Ready, cached.UpToDate
	}

	root, err := rsc.LayerData(accCtx)
	if err != nil {
		return ResourceStatus{}, err
	}
	if drbds := layer.Extract[*layer.DrbdRscData](root); len(drbds) > 0 {
		st.PromotionScore = drbds[0].PromotionScore()
		st.MayPromote = drbds[0].MayPromote()
	}
	return st, nil
}

// inspectDiskless reports whether a candidate is still a diskless replica
// in use.
func (c *Controller) inspectDiskless(ctx context.Context, cand autodiskful.Candidate) (bool, error) {
	_, guard, err := c.lock(ctx, locks.Read, locks.NodesMap, locks.RscDfnMap)
	if err != nil {
		return false, err
	}
	defer guard.Release()

	rsc, err := c.lookupResource(cand)
	if err != nil || rsc == nil {
		return false, err
	}
	diskless, err := rsc.Flags().IsSet(c.sysCtx, objects.RscFlagDiskless)
	if err != nil {
		return false, err
	}
	return diskless && c.satState.InUse(cand.Node, cand.Resource).IsTrue(), nil
}

// convertToDiskful turns a diskless replica that stayed in use into a
// diskful one.
func (c *Controller) convertToDiskful(ctx context.Context, cand autodiskful.Candidate) error {
	_, guard, err := c.lock(ctx, locks.Write, locks.NodesMap, locks.RscDfnMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	rsc, err := c.lookupResource(cand)
	if err != nil || rsc == nil {
		return err
	}
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		return rsc.Flags().Disable(c.sysCtx, tx, objects.RscFlagDiskless)
	})
	if err != nil {
		return err
	}
	c.logger.Info("diskless resource converted to diskful",
		"node", cand.Node.Display(), "resource", cand.Resource.Display())
	return nil
}

func (c *Controller) lookupResource(cand autodiskful.Candidate) (*objects.Resource, error) {
	rd, err := c.repos.RscDfns.Get(c.sysCtx, cand.Resource)
	if err != nil || rd == nil {
		return nil, err
	}
	return rd.Resource(c.sysCtx, cand.Node)
}
