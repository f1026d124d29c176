package objects

import (
	"encoding/json"
	"slices"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/layer"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/stateflags"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
)

type RscFlag uint64

const (
	RscFlagDelete RscFlag = 1 << iota
	// RscFlagDiskless is a DRBD replica without local data.
	RscFlagDiskless
	// RscFlagTieBreaker is a diskless placeholder that only provides quorum.
	RscFlagTieBreaker
	RscFlagInactive
)

var allRscFlags = []RscFlag{RscFlagDelete, RscFlagDiskless, RscFlagTieBreaker, RscFlagInactive}

func (f RscFlag) String() string {
	switch f {
	case RscFlagDelete:
		return "DELETE"
	case RscFlagDiskless:
		return "DRBD_DISKLESS"
	case RscFlagTieBreaker:
		return "TIE_BREAKER"
	case RscFlagInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// ParseRscFlag accepts the names produced by String.
func ParseRscFlag(s string) (RscFlag, error) {
	for _, f := range allRscFlags {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, apierr.NewValidation("resource flag", s, "unknown flag")
}

// Resource is one replica of a resource definition on a node. It is guarded
// by the definition's protection and by RSC_DFN_MAP.
type Resource struct {
	uuid      uuid.UUID
	node      *Node
	rscDfn    *ResourceDefinition
	props     *txn.Map[string, string]
	flags     *stateflags.StateFlags[RscFlag]
	layerData *txn.Value[layer.RscLayerObject]

	conns *txn.Map[string, *ResourceConnection]
}

// NewResource creates the resource and registers it on both the node and the
// definition.
func NewResource(
	accCtx security.AccessContext,
	tx *txn.Tx,
	id uuid.UUID,
	node *Node,
	rscDfn *ResourceDefinition,
	flags []RscFlag,
	layerRoot layer.RscLayerObject,
) (*Resource, error) {
	if err := node.prot.RequireAccess(accCtx, security.AccessUse); err != nil {
		return nil, err
	}
	if err := rscDfn.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return nil, err
	}
	if _, exists := rscDfn.resources.Get(node.name.Canonical()); exists {
		return nil, &apierr.AlreadyExistsError{Object: "resource " + rscDfn.name.Display() + " on node " + node.name.Display()}
	}
	if layerRoot == nil {
		return nil, apierr.Implementation("resource created without layer data", nil)
	}

	var bits uint64
	for _, f := range flags {
		bits |= uint64(f)
	}
	rsc := newResource(id, node, rscDfn, bits, layerRoot)
	rscDfn.resources.Put(tx, node.name.Canonical(), rsc)
	node.addResource(tx, rsc)
	tx.Persist(rsc)
	return rsc, nil
}

func newResource(id uuid.UUID, node *Node, rscDfn *ResourceDefinition, flags uint64, layerRoot layer.RscLayerObject) *Resource {
	rsc := &Resource{uuid: id, node: node, rscDfn: rscDfn}
	rsc.props = txn.NewMap[string, string](rsc)
	rsc.flags = stateflags.New(rscDfn.prot, rsc, flags, allRscFlags...)
	rsc.layerData = txn.NewValue(layerRoot, txn.Record(rsc))
	rsc.conns = txn.NewMap[string, *ResourceConnection](nil)
	return rsc
}

func (r *Resource) UUID() uuid.UUID                        { return r.uuid }
func (r *Resource) Node() *Node                            { return r.node }
func (r *Resource) Definition() *ResourceDefinition        { return r.rscDfn }
func (r *Resource) Flags() *stateflags.StateFlags[RscFlag] { return r.flags }

func (r *Resource) NodeName() names.NodeName         { return r.node.name }
func (r *Resource) ResourceName() names.ResourceName { return r.rscDfn.name }

func (r *Resource) Props(accCtx security.AccessContext) (*txn.Map[string, string], error) {
	return requireProps(r.rscDfn.prot, accCtx, r.props)
}

// LayerData returns the root of the resource's layer tree.
func (r *Resource) LayerData(accCtx security.AccessContext) (layer.RscLayerObject, error) {
	if err := r.rscDfn.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	return r.layerData.Get(), nil
}

func (r *Resource) Connection(accCtx security.AccessContext, peer names.NodeName) (*ResourceConnection, error) {
	if err := r.rscDfn.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	c, _ := r.conns.Get(peer.Canonical())
	return c, nil
}

func (r *Resource) Connections(accCtx security.AccessContext) ([]*ResourceConnection, error) {
	if err := r.rscDfn.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	list := r.conns.Values()
	slices.SortFunc(list, func(a, b *ResourceConnection) int {
		return compareNames(a.peerOf(r).node.name.Name, b.peerOf(r).node.name.Name)
	})
	return list, nil
}

// Delete unregisters the resource and drops its connections. The layer data
// goes with it.
func (r *Resource) Delete(accCtx security.AccessContext, tx *txn.Tx) error {
	if err := r.rscDfn.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	for _, c := range r.conns.Values() {
		if err := c.Delete(accCtx, tx); err != nil {
			return err
		}
	}
	r.rscDfn.resources.Remove(tx, r.node.name.Canonical())
	r.node.removeResource(tx, r)
	tx.Delete(r.RecordKey())
	return nil
}

func (r *Resource) RecordKey() string {
	return "rsc/" + r.rscDfn.name.Canonical() + "/" + r.node.name.Canonical()
}

type rscRecord struct {
	UUID   uuid.UUID         `json:"uuid"`
	Node   string            `json:"node"`
	Rsc    string            `json:"rsc"`
	Flags  uint64            `json:"flags"`
	Props  map[string]string `json:"props,omitempty"`
	Layers layer.Pojo        `json:"layers"`
}

func (r *Resource) MarshalRecord() ([]byte, error) {
	return json.Marshal(rscRecord{
		UUID:   r.uuid,
		Node:   r.node.name.Display(),
		Rsc:    r.rscDfn.name.Display(),
		Flags:  r.flags.Bits(),
		Props:  r.props.Copy(),
		Layers: layer.ToPojo(r.layerData.Get()),
	})
}

// ResourceConnection links two resources of the same definition. Source and
// target are ordered by node name.
type ResourceConnection struct {
	uuid  uuid.UUID
	src   *Resource
	dst   *Resource
	props *txn.Map[string, string]
}

func NewResourceConnection(accCtx security.AccessContext, tx *txn.Tx, id uuid.UUID, a, b *Resource) (*ResourceConnection, error) {
	if a.rscDfn != b.rscDfn {
		return nil, apierr.NewValidation("resource connection", a.rscDfn.name.Display()+"/"+b.rscDfn.name.Display(),
			"resources belong to different definitions")
	}
	if a.node == b.node {
		return nil, apierr.NewValidation("resource connection", a.node.name.Display(), "source and target are the same node")
	}
	if err := a.rscDfn.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return nil, err
	}
	if _, exists := a.conns.Get(b.node.name.Canonical()); exists {
		return nil, &apierr.AlreadyExistsError{
			Object: "resource connection " + a.node.name.Display() + " <-> " + b.node.name.Display() + " of " + a.rscDfn.name.Display(),
		}
	}
	c := newResourceConnection(id, a, b)
	a.conns.Put(tx, b.node.name.Canonical(), c)
	b.conns.Put(tx, a.node.name.Canonical(), c)
	tx.Persist(c)
	return c, nil
}

func newResourceConnection(id uuid.UUID, a, b *Resource) *ResourceConnection {
	if b.node.name.Less(a.node.name.Name) {
		a, b = b, a
	}
	c := &ResourceConnection{uuid: id, src: a, dst: b}
	c.props = txn.NewMap[string, string](c)
	return c
}

func (c *ResourceConnection) UUID() uuid.UUID   { return c.uuid }
func (c *ResourceConnection) Source() *Resource { return c.src }
func (c *ResourceConnection) Target() *Resource { return c.dst }

func (c *ResourceConnection) peerOf(r *Resource) *Resource {
	if c.src == r {
		return c.dst
	}
	return c.src
}

func (c *ResourceConnection) Props(accCtx security.AccessContext) (*txn.Map[string, string], error) {
	return requireProps(c.src.rscDfn.prot, accCtx, c.props)
}

func (c *ResourceConnection) Delete(accCtx security.AccessContext, tx *txn.Tx) error {
	if err := c.src.rscDfn.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	c.src.conns.Remove(tx, c.dst.node.name.Canonical())
	c.dst.conns.Remove(tx, c.src.node.name.Canonical())
	tx.Delete(c.RecordKey())
	return nil
}

func (c *ResourceConnection) RecordKey() string {
	return "rscconns/" + c.src.rscDfn.name.Canonical() + "/" + c.src.node.name.Canonical() + "/" + c.dst.node.name.Canonical()
}

type rscConnRecord struct {
	UUID  uuid.UUID         `json:"uuid"`
	Rsc   string            `json:"rsc"`
	Src   string            `json:"src"`
	Dst   string            `json:"dst"`
	Props map[string]string `json:"props,omitempty"`
}

func (c *ResourceConnection) MarshalRecord() ([]byte, error) {
	return json.Marshal(rscConnRecord{
		UUID:  c.uuid,
		Rsc:   c.src.rscDfn.name.Display(),
		Src:   c.src.node.name.Display(),
		Dst:   c.dst.node.name.Display(),
		Props: c.props.Copy(),
	})
}
