package ctrl

import (
	"context"
	"slices"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/layer"
	"github.com/InsulaLabs/strata/internal/locks"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
)

const DefaultStorPool = "DfltStorPool"

type ResourceDefinitionSpec struct {
	Name string
	// ResourceGroup is optional.
	ResourceGroup string
	// TCPPort 0 picks the lowest free port of the configured range.
	TCPPort    int
	LayerStack []string
}

func (c *Controller) getRscDfn(accCtx security.AccessContext, display string) (*objects.ResourceDefinition, error) {
	name, err := names.NewResourceName(display)
	if err != nil {
		return nil, err
	}
	rd, err := c.repos.RscDfns.Get(accCtx, name)
	if err != nil {
		return nil, err
	}
	if rd == nil {
		return nil, &apierr.NotFoundError{Object: "resource definition " + display}
	}
	return rd, nil
}

// freeTCPPort must be called with RSC_DFN_MAP held.
func (c *Controller) freeTCPPort() (names.TCPPort, error) {
	view, err := c.repos.RscDfns.MapForView(c.sysCtx)
	if err != nil {
		return 0, err
	}
	used := make(map[names.TCPPort]bool, view.Len())
	for _, rd := range view.Values() {
		used[rd.TCPPort()] = true
	}
	for p := c.minTCPPort; p <= c.maxTCPPort; p++ {
		port := names.TCPPort(p)
		if !used[port] {
			return port, nil
		}
	}
	return 0, apierr.NewValidation("tcp port", "", "no free port left in the configured range")
}

func (c *Controller) CreateResourceDefinition(
	ctx context.Context,
	accCtx security.AccessContext,
	spec ResourceDefinitionSpec,
) (*objects.ResourceDefinition, error) {
	name, err := names.NewResourceName(spec.Name)
	if err != nil {
		return nil, err
	}
	kinds, err := layer.ParseKinds(spec.LayerStack)
	if err != nil {
		return nil, err
	}

	_, guard, err := c.lock(ctx, locks.Write, locks.RscGrpMap, locks.RscDfnMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	existing, err := c.repos.RscDfns.Get(accCtx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &apierr.AlreadyExistsError{Object: "resource definition " + name.Display()}
	}

	var rg *objects.ResourceGroup
	if spec.ResourceGroup != "" {
		if rg, err = c.getRscGrp(accCtx, spec.ResourceGroup); err != nil {
			return nil, err
		}
	}

	var port names.TCPPort
	if spec.TCPPort == 0 {
		port, err = c.freeTCPPort()
	} else {
		port, err = names.NewTCPPort(spec.TCPPort)
	}
	if err != nil {
		return nil, err
	}

	var rd *objects.ResourceDefinition
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		var err error
		rd, err = objects.NewResourceDefinition(accCtx, tx, uuid.New(), name, rg, port, kinds)
		if err != nil {
			return err
		}
		return c.repos.RscDfns.Put(accCtx, tx, rd)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("resource definition created",
		"name", name.Display(), "port", int(port), "layers", layer.KindStrings(rd.LayerStack()))
	return rd, nil
}

func (c *Controller) DeleteResourceDefinition(ctx context.Context, accCtx security.AccessContext, rscName string) error {
	_, guard, err := c.lock(ctx, locks.Write, locks.RscGrpMap, locks.RscDfnMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	rd, err := c.getRscDfn(accCtx, rscName)
	if err != nil {
		return err
	}
	return c.inTx(ctx, func(tx *txn.Tx) error {
		if err := rd.Delete(accCtx, tx); err != nil {
			return err
		}
		return c.repos.RscDfns.Remove(accCtx, tx, rd.Name())
	})
}

type ResourceSpec struct {
	Node     string
	Resource string
	Flags    []string
	// StorPool defaults to DefaultStorPool.
	StorPool string
}

func (c *Controller) CreateResource(ctx context.Context, accCtx security.AccessContext, spec ResourceSpec) (*objects.Resource, error) {
	flags := make([]objects.RscFlag, 0, len(spec.Flags))
	for _, s := range spec.Flags {
		f, err := objects.ParseRscFlag(s)
		if err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	poolName := spec.StorPool
	if poolName == "" {
		poolName = DefaultStorPool
	}
	pool, err := names.NewStorPoolName(poolName)
	if err != nil {
		return nil, err
	}

	scope, guard, err := c.lock(ctx, locks.Write, locks.NodesMap, locks.RscDfnMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()
	spGuard, err := scope.Lock(ctx, locks.StorPoolDfnMap, locks.Read)
	if err != nil {
		return nil, err
	}
	defer spGuard.Release()

	node, err := c.getNode(accCtx, spec.Node)
	if err != nil {
		return nil, err
	}
	if deleting, err := node.Flags().IsSet(accCtx, objects.NodeFlagDelete); err != nil {
		return nil, err
	} else if deleting {
		return nil, apierr.NewValidation("node", node.Name().Display(), "node is being deleted")
	}
	rd, err := c.getRscDfn(accCtx, spec.Resource)
	if err != nil {
		return nil, err
	}
	if spec.StorPool != "" {
		spd, err := c.repos.StorPoolDfns.Get(accCtx, pool)
		if err != nil {
			return nil, err
		}
		if spd == nil {
			return nil, &apierr.NotFoundError{Object: "storage pool definition " + spec.StorPool}
		}
	}

	stack := rd.LayerStack()
	cfg := layer.StackConfig{
		Kinds:    stack,
		StorPool: pool,
		NextID:   c.nextLayerID,
	}
	if slices.Contains(stack, layer.KindDrbd) {
		if cfg.NodeID, err = rd.NextNodeID(); err != nil {
			return nil, err
		}
	}
	root, err := layer.Build(cfg)
	if err != nil {
		return nil, err
	}

	var rsc *objects.Resource
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		var err error
		rsc, err = objects.NewResource(accCtx, tx, uuid.New(), node, rd, flags, root)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("resource created", "node", node.Name().Display(), "resource", rd.Name().Display(), "flags", spec.Flags)
	return rsc, nil
}

func (c *Controller) getResource(accCtx security.AccessContext, nodeName, rscName string) (*objects.Resource, error) {
	rd, err := c.getRscDfn(accCtx, rscName)
	if err != nil {
		return nil, err
	}
	node, err := names.NewNodeName(nodeName)
	if err != nil {
		return nil, err
	}
	rsc, err := rd.Resource(accCtx, node)
	if err != nil {
		return nil, err
	}
	if rsc == nil {
		return nil, &apierr.NotFoundError{Object: "resource " + rscName + " on node " + nodeName}
	}
	return rsc, nil
}

// DeleteResource removes the resource. A node flagged for deletion goes with
// its last resource.
func (c *Controller) DeleteResource(ctx context.Context, accCtx security.AccessContext, nodeName, rscName string) error {
	_, guard, err := c.lock(ctx, locks.Write, locks.NodesMap, locks.RscDfnMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	rsc, err := c.getResource(accCtx, nodeName, rscName)
	if err != nil {
		return err
	}
	node := rsc.Node()
	nodeGone := false
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		if err := rsc.Delete(accCtx, tx); err != nil {
			return err
		}
		deleting, err := node.Flags().IsSet(c.sysCtx, objects.NodeFlagDelete)
		if err != nil {
			return err
		}
		if deleting && node.ResourceCount() == 0 {
			nodeGone = true
			return c.removeNode(c.sysCtx, tx, node)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.satState.Remove(node.Name(), rsc.ResourceName())
	if nodeGone {
		c.logger.Info("node deleted with its last resource", "node", node.Name().Display())
	}
	return nil
}

func (c *Controller) CreateResourceConnection(
	ctx context.Context,
	accCtx security.AccessContext,
	rscName, nodeA, nodeB string,
) (*objects.ResourceConnection, error) {
	_, guard, err := c.lock(ctx, locks.Write, locks.RscDfnMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	a, err := c.getResource(accCtx, nodeA, rscName)
	if err != nil {
		return nil, err
	}
	b, err := c.getResource(accCtx, nodeB, rscName)
	if err != nil {
		return nil, err
	}
	var conn *objects.ResourceConnection
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		var err error
		conn, err = objects.NewResourceConnection(accCtx, tx, uuid.New(), a, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Controller) DeleteResourceConnection(ctx context.Context, accCtx security.AccessContext, rscName, nodeA, nodeB string) error {
	_, guard, err := c.lock(ctx, locks.Write, locks.RscDfnMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	a, err := c.getResource(accCtx, nodeA, rscName)
	if err != nil {
		return err
	}
	peer, err := names.NewNodeName(nodeB)
	if err != nil {
		return err
	}
	conn, err := a.Connection(accCtx, peer)
	if err != nil {
		return err
	}
	if conn == nil {
		return &apierr.NotFoundError{Object: "resource connection " + nodeA + " <-> " + nodeB + " of " + rscName}
	}
	return c.inTx(ctx, func(tx *txn.Tx) error {
		return conn.Delete(accCtx, tx)
	})
}
