package ctrl

import (
	"context"
	"net/netip"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/locks"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
)

type NetInterfaceSpec struct {
	Name    string
	Address string
}

func parseNetInterface(spec NetInterfaceSpec) (names.NetInterfaceName, netip.Addr, error) {
	name, err := names.NewNetInterfaceName(spec.Name)
	if err != nil {
		return names.NetInterfaceName{}, netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(spec.Address)
	if err != nil {
		return names.NetInterfaceName{}, netip.Addr{}, apierr.NewValidation("address", spec.Address, "not an IP address")
	}
	return name, addr, nil
}

func (c *Controller) getNode(accCtx security.AccessContext, display string) (*objects.Node, error) {
	name, err := names.NewNodeName(display)
	if err != nil {
		return nil, err
	}
	node, err := c.repos.Nodes.Get(accCtx, name)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &apierr.NotFoundError{Object: "node " + display}
	}
	return node, nil
}

// CreateNode creates a node with its initial network interfaces.
func (c *Controller) CreateNode(
	ctx context.Context,
	accCtx security.AccessContext,
	nodeName string,
	nodeType string,
	netIfs []NetInterfaceSpec,
) (*objects.Node, error) {
	name, err := names.NewNodeName(nodeName)
	if err != nil {
		return nil, err
	}
	typ, ok := objects.ParseNodeType(nodeType)
	if !ok {
		return nil, apierr.NewValidation("node type", nodeType, "unknown node type")
	}

	_, guard, err := c.lock(ctx, locks.Write, locks.NodesMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	existing, err := c.repos.Nodes.Get(accCtx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &apierr.AlreadyExistsError{Object: "node " + name.Display()}
	}

	var node *objects.Node
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		node = objects.NewNode(accCtx, tx, uuid.New(), name, typ)
		for _, spec := range netIfs {
			if err := c.addNetInterface(accCtx, tx, node, spec); err != nil {
				return err
			}
		}
		return c.repos.Nodes.Put(accCtx, tx, node)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("node created", "node", name.Display(), "type", string(typ))
	return node, nil
}

func (c *Controller) addNetInterface(accCtx security.AccessContext, tx *txn.Tx, node *objects.Node, spec NetInterfaceSpec) error {
	name, addr, err := parseNetInterface(spec)
	if err != nil {
		return err
	}
	existing, err := node.NetInterface(accCtx, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return &apierr.AlreadyExistsError{Object: "network interface " + name.Display() + " on node " + node.Name().Display()}
	}
	_, err = objects.NewNetInterface(accCtx, tx, uuid.New(), node, name, addr)
	return err
}

func (c *Controller) CreateNetInterface(ctx context.Context, accCtx security.AccessContext, nodeName string, spec NetInterfaceSpec) error {
	_, guard, err := c.lock(ctx, locks.Write, locks.NodesMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	node, err := c.getNode(accCtx, nodeName)
	if err != nil {
		return err
	}
	return c.inTx(ctx, func(tx *txn.Tx) error {
		return c.addNetInterface(accCtx, tx, node, spec)
	})
}

// ModifyNetInterface changes the address of an existing interface.
func (c *Controller) ModifyNetInterface(ctx context.Context, accCtx security.AccessContext, nodeName string, spec NetInterfaceSpec) error {
	name, addr, err := parseNetInterface(spec)
	if err != nil {
		return err
	}
	_, guard, err := c.lock(ctx, locks.Write, locks.NodesMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	node, err := c.getNode(accCtx, nodeName)
	if err != nil {
		return err
	}
	netIf, err := node.NetInterface(accCtx, name)
	if err != nil {
		return err
	}
	if netIf == nil {
		return &apierr.NotFoundError{Object: "network interface " + spec.Name + " on node " + nodeName}
	}
	return c.inTx(ctx, func(tx *txn.Tx) error {
		return netIf.SetAddress(accCtx, tx, addr)
	})
}

func (c *Controller) DeleteNetInterface(ctx context.Context, accCtx security.AccessContext, nodeName, netIfName string) error {
	name, err := names.NewNetInterfaceName(netIfName)
	if err != nil {
		return err
	}
	_, guard, err := c.lock(ctx, locks.Write, locks.NodesMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	node, err := c.getNode(accCtx, nodeName)
	if err != nil {
		return err
	}
	netIf, err := node.NetInterface(accCtx, name)
	if err != nil {
		return err
	}
	if netIf == nil {
		return &apierr.NotFoundError{Object: "network interface " + netIfName + " on node " + nodeName}
	}
	return c.inTx(ctx, func(tx *txn.Tx) error {
		return netIf.Delete(accCtx, tx)
	})
}

// DeleteNode removes a node without resources right away. A node that still
// has resources is flagged DELETE and goes away with its last resource.
// The returned bool reports whether the node is gone.
func (c *Controller) DeleteNode(ctx context.Context, accCtx security.AccessContext, nodeName string) (bool, error) {
	_, guard, err := c.lock(ctx, locks.Write, locks.NodesMap)
	if err != nil {
		return false, err
	}
	defer guard.Release()

	node, err := c.getNode(accCtx, nodeName)
	if err != nil {
		return false, err
	}
	removed := node.ResourceCount() == 0
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		if !removed {
			return node.MarkDeleted(accCtx, tx)
		}
		return c.removeNode(accCtx, tx, node)
	})
	if err != nil {
		return false, err
	}
	if removed {
		c.logger.Info("node deleted", "node", node.Name().Display())
	} else {
		c.logger.Info("node marked for deletion", "node", node.Name().Display(), "resources", node.ResourceCount())
	}
	return removed, nil
}

func (c *Controller) removeNode(accCtx security.AccessContext, tx *txn.Tx, node *objects.Node) error {
	if err := node.Delete(accCtx, tx); err != nil {
		return err
	}
	return c.repos.Nodes.Remove(accCtx, tx, node.Name())
}
