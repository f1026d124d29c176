package objects

import (
	"encoding/json"
	"net/netip"
	"slices"

	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/stateflags"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
)

type NodeFlag uint64

const (
	NodeFlagDelete NodeFlag = 1 << iota
	NodeFlagEvicted
)

var allNodeFlags = []NodeFlag{NodeFlagDelete, NodeFlagEvicted}

func (f NodeFlag) String() string {
	switch f {
	case NodeFlagDelete:
		return "DELETE"
	case NodeFlagEvicted:
		return "EVICTED"
	default:
		return "UNKNOWN"
	}
}

type NodeType string

const (
	NodeTypeSatellite  NodeType = "SATELLITE"
	NodeTypeController NodeType = "CONTROLLER"
	NodeTypeCombined   NodeType = "COMBINED"
)

func ParseNodeType(s string) (NodeType, bool) {
	switch t := NodeType(s); t {
	case NodeTypeSatellite, NodeTypeController, NodeTypeCombined:
		return t, true
	}
	return "", false
}

type Node struct {
	uuid     uuid.UUID
	name     names.NodeName
	nodeType NodeType
	prot     *security.ObjectProtection
	props    *txn.Map[string, string]
	flags    *stateflags.StateFlags[NodeFlag]

	netIfs    *txn.Map[string, *NetInterface]
	resources *txn.Map[string, *Resource]
}

// NewNode creates a node and schedules its record for the next commit.
func NewNode(accCtx security.AccessContext, tx *txn.Tx, id uuid.UUID, name names.NodeName, nodeType NodeType) *Node {
	n := newNode(accCtx, id, name, nodeType, 0)
	tx.Persist(n)
	return n
}

func newNode(accCtx security.AccessContext, id uuid.UUID, name names.NodeName, nodeType NodeType, flags uint64) *Node {
	n := &Node{
		uuid:     id,
		name:     name,
		nodeType: nodeType,
		prot:     security.NewObjectProtection(security.PathNode(name.Canonical()), accCtx),
	}
	n.props = txn.NewMap[string, string](n)
	n.flags = stateflags.New(n.prot, n, flags, allNodeFlags...)
	n.netIfs = txn.NewMap[string, *NetInterface](nil)
	n.resources = txn.NewMap[string, *Resource](nil)
	return n
}

func (n *Node) UUID() uuid.UUID                         { return n.uuid }
func (n *Node) Name() names.NodeName                    { return n.name }
func (n *Node) Type() NodeType                          { return n.nodeType }
func (n *Node) ObjProt() *security.ObjectProtection     { return n.prot }
func (n *Node) Flags() *stateflags.StateFlags[NodeFlag] { return n.flags }

func (n *Node) Props(accCtx security.AccessContext) (*txn.Map[string, string], error) {
	return requireProps(n.prot, accCtx, n.props)
}

func (n *Node) NetInterface(accCtx security.AccessContext, name names.NetInterfaceName) (*NetInterface, error) {
	if err := n.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	netIf, _ := n.netIfs.Get(name.Canonical())
	return netIf, nil
}

func (n *Node) NetInterfaces(accCtx security.AccessContext) ([]*NetInterface, error) {
	if err := n.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	list := n.netIfs.Values()
	slices.SortFunc(list, func(a, b *NetInterface) int { return compareNames(a.name.Name, b.name.Name) })
	return list, nil
}

func (n *Node) Resource(accCtx security.AccessContext, rscName names.ResourceName) (*Resource, error) {
	if err := n.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	rsc, _ := n.resources.Get(rscName.Canonical())
	return rsc, nil
}

func (n *Node) ResourceCount() int { return n.resources.Len() }

func (n *Node) addResource(tx *txn.Tx, rsc *Resource) {
	n.resources.Put(tx, rsc.rscDfn.name.Canonical(), rsc)
}

func (n *Node) removeResource(tx *txn.Tx, rsc *Resource) {
	n.resources.Remove(tx, rsc.rscDfn.name.Canonical())
}

// MarkDeleted flags the node; Delete removes it once no resources remain.
func (n *Node) MarkDeleted(accCtx security.AccessContext, tx *txn.Tx) error {
	return n.flags.Enable(accCtx, tx, NodeFlagDelete)
}

// Delete drops the node record and every network interface record.
func (n *Node) Delete(accCtx security.AccessContext, tx *txn.Tx) error {
	if err := n.prot.RequireAccess(accCtx, security.AccessControl); err != nil {
		return err
	}
	for _, netIf := range n.netIfs.Values() {
		n.netIfs.Remove(tx, netIf.name.Canonical())
		tx.Delete(netIf.RecordKey())
	}
	tx.Delete(n.RecordKey())
	return nil
}

func (n *Node) RecordKey() string { return "nodes/" + n.name.Canonical() }

type nodeRecord struct {
	UUID  uuid.UUID         `json:"uuid"`
	Name  string            `json:"name"`
	Type  NodeType          `json:"type"`
	Flags uint64            `json:"flags"`
	Props map[string]string `json:"props,omitempty"`
}

func (n *Node) MarshalRecord() ([]byte, error) {
	return json.Marshal(nodeRecord{
		UUID:  n.uuid,
		Name:  n.name.Display(),
		Type:  n.nodeType,
		Flags: n.flags.Bits(),
		Props: n.props.Copy(),
	})
}

type NetInterface struct {
	uuid    uuid.UUID
	name    names.NetInterfaceName
	node    *Node
	address *txn.Value[netip.Addr]
}

// NewNetInterface creates the interface and registers it on its node.
func NewNetInterface(
	accCtx security.AccessContext,
	tx *txn.Tx,
	id uuid.UUID,
	node *Node,
	name names.NetInterfaceName,
	addr netip.Addr,
) (*NetInterface, error) {
	if err := node.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return nil, err
	}
	netIf := newNetInterface(id, node, name, addr)
	node.netIfs.Put(tx, name.Canonical(), netIf)
	tx.Persist(netIf)
	return netIf, nil
}

func newNetInterface(id uuid.UUID, node *Node, name names.NetInterfaceName, addr netip.Addr) *NetInterface {
	netIf := &NetInterface{uuid: id, name: name, node: node}
	netIf.address = txn.NewValue(addr, txn.Record(netIf))
	return netIf
}

func (ni *NetInterface) UUID() uuid.UUID              { return ni.uuid }
func (ni *NetInterface) Name() names.NetInterfaceName { return ni.name }
func (ni *NetInterface) Node() *Node                  { return ni.node }
func (ni *NetInterface) Address() netip.Addr          { return ni.address.Get() }

func (ni *NetInterface) SetAddress(accCtx security.AccessContext, tx *txn.Tx, addr netip.Addr) error {
	if err := ni.node.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	ni.address.Set(tx, addr)
	return nil
}

func (ni *NetInterface) Delete(accCtx security.AccessContext, tx *txn.Tx) error {
	if err := ni.node.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	ni.node.netIfs.Remove(tx, ni.name.Canonical())
	tx.Delete(ni.RecordKey())
	return nil
}

func (ni *NetInterface) RecordKey() string {
	return "netifs/" + ni.node.name.Canonical() + "/" + ni.name.Canonical()
}

type netIfRecord struct {
	UUID    uuid.UUID `json:"uuid"`
	Node    string    `json:"node"`
	Name    string    `json:"name"`
	Address string    `json:"address"`
}

func (ni *NetInterface) MarshalRecord() ([]byte, error) {
	return json.Marshal(netIfRecord{
		UUID:    ni.uuid,
		Node:    ni.node.name.Display(),
		Name:    ni.name.Display(),
		Address: ni.address.Get().String(),
	})
}
