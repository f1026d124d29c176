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

type RscDfnFlag uint64

const (
	RscDfnFlagDelete RscDfnFlag = 1 << iota
)

func (f RscDfnFlag) String() string {
	if f == RscDfnFlagDelete {
		return "DELETE"
	}
	return "UNKNOWN"
}

// DefaultLayerStack is used when neither the definition nor its group name one.
var DefaultLayerStack = []layer.Kind{layer.KindDrbd, layer.KindStorage}

type ResourceDefinition struct {
	uuid       uuid.UUID
	name       names.ResourceName
	prot       *security.ObjectProtection
	props      *txn.Map[string, string]
	flags      *stateflags.StateFlags[RscDfnFlag]
	tcpPort    *txn.Value[names.TCPPort]
	layerStack *txn.Value[[]layer.Kind]
	rscGrp     *ResourceGroup

	resources *txn.Map[string, *Resource]
}

// NewResourceDefinition creates a definition, optionally inside rscGrp. An
// empty layer list falls back to the group's layer stack and then to
// DefaultLayerStack.
func NewResourceDefinition(
	accCtx security.AccessContext,
	tx *txn.Tx,
	id uuid.UUID,
	name names.ResourceName,
	rscGrp *ResourceGroup,
	port names.TCPPort,
	kinds []layer.Kind,
) (*ResourceDefinition, error) {
	if rscGrp != nil {
		if err := rscGrp.prot.RequireAccess(accCtx, security.AccessUse); err != nil {
			return nil, err
		}
		if len(kinds) == 0 {
			kinds = rscGrp.autoSelect.LayerStack()
		}
	}
	if len(kinds) == 0 {
		kinds = DefaultLayerStack
	}
	stack, err := layer.NormalizeKinds(kinds)
	if err != nil {
		return nil, err
	}

	rd := newResourceDefinition(accCtx, id, name, rscGrp, port, stack, 0)
	if rscGrp != nil {
		rscGrp.rscDfns.Put(tx, name.Canonical(), rd)
	}
	tx.Persist(rd)
	return rd, nil
}

func newResourceDefinition(
	accCtx security.AccessContext,
	id uuid.UUID,
	name names.ResourceName,
	rscGrp *ResourceGroup,
	port names.TCPPort,
	stack []layer.Kind,
	flags uint64,
) *ResourceDefinition {
	rd := &ResourceDefinition{
		uuid:   id,
		name:   name,
		prot:   security.NewObjectProtection(security.PathResourceDefinition(name.Canonical()), accCtx),
		rscGrp: rscGrp,
	}
	rd.props = txn.NewMap[string, string](rd)
	rd.flags = stateflags.New(rd.prot, rd, flags, RscDfnFlagDelete)
	rd.tcpPort = txn.NewValue(port, txn.Record(rd))
	rd.layerStack = txn.NewValue(stack, txn.Record(rd))
	rd.resources = txn.NewMap[string, *Resource](nil)
	return rd
}

func (rd *ResourceDefinition) UUID() uuid.UUID                           { return rd.uuid }
func (rd *ResourceDefinition) Name() names.ResourceName                  { return rd.name }
func (rd *ResourceDefinition) ObjProt() *security.ObjectProtection       { return rd.prot }
func (rd *ResourceDefinition) Flags() *stateflags.StateFlags[RscDfnFlag] { return rd.flags }
func (rd *ResourceDefinition) ResourceGroup() *ResourceGroup             { return rd.rscGrp }
func (rd *ResourceDefinition) TCPPort() names.TCPPort                    { return rd.tcpPort.Get() }
func (rd *ResourceDefinition) LayerStack() []layer.Kind                  { return slices.Clone(rd.layerStack.Get()) }
func (rd *ResourceDefinition) ResourceCount() int                        { return rd.resources.Len() }

func (rd *ResourceDefinition) Props(accCtx security.AccessContext) (*txn.Map[string, string], error) {
	return requireProps(rd.prot, accCtx, rd.props)
}

func (rd *ResourceDefinition) SetTCPPort(accCtx security.AccessContext, tx *txn.Tx, port names.TCPPort) error {
	if err := rd.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	rd.tcpPort.Set(tx, port)
	return nil
}

func (rd *ResourceDefinition) Resource(accCtx security.AccessContext, node names.NodeName) (*Resource, error) {
	if err := rd.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	rsc, _ := rd.resources.Get(node.Canonical())
	return rsc, nil
}

// Resources returns the resources ordered by node name.
func (rd *ResourceDefinition) Resources(accCtx security.AccessContext) ([]*Resource, error) {
	if err := rd.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	list := rd.resources.Values()
	slices.SortFunc(list, func(a, b *Resource) int { return compareNames(a.node.name.Name, b.node.name.Name) })
	return list, nil
}

// NextNodeID returns the lowest DRBD node id not used by any resource of the
// definition.
func (rd *ResourceDefinition) NextNodeID() (names.NodeID, error) {
	used := make(map[names.NodeID]bool)
	for _, rsc := range rd.resources.Values() {
		for _, d := range layer.Extract[*layer.DrbdRscData](rsc.layerData.Get()) {
			used[d.NodeID()] = true
		}
	}
	for id := names.NodeID(names.MinNodeID); id <= names.MaxNodeID; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, apierr.NewValidation("resource definition", rd.name.Display(), "no free node id left")
}

// Delete removes the definition. Definitions with resources are refused.
func (rd *ResourceDefinition) Delete(accCtx security.AccessContext, tx *txn.Tx) error {
	if err := rd.prot.RequireAccess(accCtx, security.AccessControl); err != nil {
		return err
	}
	if rd.resources.Len() > 0 {
		return apierr.NewValidation("resource definition", rd.name.Display(), "still has resources")
	}
	if rd.rscGrp != nil {
		rd.rscGrp.rscDfns.Remove(tx, rd.name.Canonical())
	}
	tx.Delete(rd.RecordKey())
	return nil
}

func (rd *ResourceDefinition) RecordKey() string { return "rscdfns/" + rd.name.Canonical() }

type rscDfnRecord struct {
	UUID       uuid.UUID         `json:"uuid"`
	Name       string            `json:"name"`
	RscGrp     string            `json:"rscGrp,omitempty"`
	TCPPort    int               `json:"tcpPort,omitempty"`
	LayerStack []string          `json:"layerStack"`
	Flags      uint64            `json:"flags"`
	Props      map[string]string `json:"props,omitempty"`
}

func (rd *ResourceDefinition) MarshalRecord() ([]byte, error) {
	rec := rscDfnRecord{
		UUID:       rd.uuid,
		Name:       rd.name.Display(),
		TCPPort:    int(rd.tcpPort.Get()),
		LayerStack: layer.KindStrings(rd.layerStack.Get()),
		Flags:      rd.flags.Bits(),
		Props:      rd.props.Copy(),
	}
	if rd.rscGrp != nil {
		rec.RscGrp = rd.rscGrp.name.Display()
	}
	return json.Marshal(rec)
}
