package objects

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/layer"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
)

// RecordPrefixes lists the record key prefixes in the order they must be
// loaded: parents before children.
var RecordPrefixes = []string{
	"nodes/",
	"netifs/",
	"storpooldfns/",
	"rscgrps/",
	"vlmgrps/",
	"rscdfns/",
	"rsc/",
	"rscconns/",
}

// Graph is the object graph rebuilt by a Loader, keyed by canonical name.
type Graph struct {
	Nodes        map[string]*Node
	StorPoolDfns map[string]*StorPoolDefinition
	RscGrps      map[string]*ResourceGroup
	RscDfns      map[string]*ResourceDefinition
}

// Loader rebuilds entities from their records without a transaction.
type Loader struct {
	accCtx     security.AccessContext
	graph      Graph
	maxLayerID int
}

func NewLoader(accCtx security.AccessContext) *Loader {
	return &Loader{
		accCtx: accCtx,
		graph: Graph{
			Nodes:        make(map[string]*Node),
			StorPoolDfns: make(map[string]*StorPoolDefinition),
			RscGrps:      make(map[string]*ResourceGroup),
			RscDfns:      make(map[string]*ResourceDefinition),
		},
	}
}

func (l *Loader) Graph() Graph { return l.graph }

// MaxLayerID is the highest layer resource id seen in any loaded resource.
func (l *Loader) MaxLayerID() int { return l.maxLayerID }

func (l *Loader) Load(key string, data []byte) error {
	var err error
	switch {
	case strings.HasPrefix(key, "nodes/"):
		err = l.loadNode(data)
	case strings.HasPrefix(key, "netifs/"):
		err = l.loadNetIf(data)
	case strings.HasPrefix(key, "storpooldfns/"):
		err = l.loadStorPoolDfn(data)
	case strings.HasPrefix(key, "rscgrps/"):
		err = l.loadRscGrp(data)
	case strings.HasPrefix(key, "vlmgrps/"):
		err = l.loadVlmGrp(data)
	case strings.HasPrefix(key, "rscdfns/"):
		err = l.loadRscDfn(data)
	case strings.HasPrefix(key, "rsc/"):
		err = l.loadRsc(data)
	case strings.HasPrefix(key, "rscconns/"):
		err = l.loadRscConn(data)
	default:
		return fmt.Errorf("unknown record key %q", key)
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", key, err)
	}
	return nil
}

func (l *Loader) node(display string) (*Node, error) {
	name, err := names.NewNodeName(display)
	if err != nil {
		return nil, err
	}
	n, ok := l.graph.Nodes[name.Canonical()]
	if !ok {
		return nil, &apierr.NotFoundError{Object: "node " + display}
	}
	return n, nil
}

func (l *Loader) rscDfn(display string) (*ResourceDefinition, error) {
	name, err := names.NewResourceName(display)
	if err != nil {
		return nil, err
	}
	rd, ok := l.graph.RscDfns[name.Canonical()]
	if !ok {
		return nil, &apierr.NotFoundError{Object: "resource definition " + display}
	}
	return rd, nil
}

func (l *Loader) rscGrp(display string) (*ResourceGroup, error) {
	name, err := names.NewResourceGroupName(display)
	if err != nil {
		return nil, err
	}
	rg, ok := l.graph.RscGrps[name.Canonical()]
	if !ok {
		return nil, &apierr.NotFoundError{Object: "resource group " + display}
	}
	return rg, nil
}

func (l *Loader) loadNode(data []byte) error {
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	name, err := names.NewNodeName(rec.Name)
	if err != nil {
		return err
	}
	nodeType, ok := ParseNodeType(string(rec.Type))
	if !ok {
		return apierr.NewValidation("node type", string(rec.Type), "unknown node type")
	}
	n := newNode(l.accCtx, rec.UUID, name, nodeType, rec.Flags)
	n.props.Load(rec.Props)
	l.graph.Nodes[name.Canonical()] = n
	return nil
}

func (l *Loader) loadNetIf(data []byte) error {
	var rec netIfRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	n, err := l.node(rec.Node)
	if err != nil {
		return err
	}
	name, err := names.NewNetInterfaceName(rec.Name)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(rec.Address)
	if err != nil {
		return apierr.NewValidation("address", rec.Address, err.Error())
	}
	n.netIfs.Load(map[string]*NetInterface{name.Canonical(): newNetInterface(rec.UUID, n, name, addr)})
	return nil
}

func (l *Loader) loadStorPoolDfn(data []byte) error {
	var rec storPoolDfnRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	name, err := names.NewStorPoolName(rec.Name)
	if err != nil {
		return err
	}
	spd := newStorPoolDefinition(l.accCtx, rec.UUID, name)
	spd.props.Load(rec.Props)
	l.graph.StorPoolDfns[name.Canonical()] = spd
	return nil
}

func (l *Loader) loadRscGrp(data []byte) error {
	var rec rscGrpRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	name, err := names.NewResourceGroupName(rec.Name)
	if err != nil {
		return err
	}
	rg := newResourceGroup(l.accCtx, rec.UUID, name)
	rg.description = txn.NewValue(rec.Description, txn.Record(rg))
	rg.props.Load(rec.Props)
	if err := rg.autoSelect.load(rec.AutoSelect); err != nil {
		return err
	}
	l.graph.RscGrps[name.Canonical()] = rg
	return nil
}

func (l *Loader) loadVlmGrp(data []byte) error {
	var rec vlmGrpRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	rg, err := l.rscGrp(rec.RscGrp)
	if err != nil {
		return err
	}
	nr, err := names.NewVolumeNumber(rec.VolumeNr)
	if err != nil {
		return err
	}
	vg := newVolumeGroup(rec.UUID, rg, nr)
	vg.props.Load(rec.Props)
	rg.volumeGroups.Load(map[names.VolumeNumber]*VolumeGroup{nr: vg})
	return nil
}

func (l *Loader) loadRscDfn(data []byte) error {
	var rec rscDfnRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	name, err := names.NewResourceName(rec.Name)
	if err != nil {
		return err
	}
	var rg *ResourceGroup
	if rec.RscGrp != "" {
		if rg, err = l.rscGrp(rec.RscGrp); err != nil {
			return err
		}
	}
	var port names.TCPPort
	if rec.TCPPort != 0 {
		if port, err = names.NewTCPPort(rec.TCPPort); err != nil {
			return err
		}
	}
	stack, err := layer.ParseKinds(rec.LayerStack)
	if err != nil {
		return err
	}
	rd := newResourceDefinition(l.accCtx, rec.UUID, name, rg, port, stack, rec.Flags)
	rd.props.Load(rec.Props)
	if rg != nil {
		rg.rscDfns.Load(map[string]*ResourceDefinition{name.Canonical(): rd})
	}
	l.graph.RscDfns[name.Canonical()] = rd
	return nil
}

func (l *Loader) loadRsc(data []byte) error {
	var rec rscRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	n, err := l.node(rec.Node)
	if err != nil {
		return err
	}
	rd, err := l.rscDfn(rec.Rsc)
	if err != nil {
		return err
	}
	root, err := layer.FromPojo(rec.Layers)
	if err != nil {
		return err
	}
	l.maxLayerID = max(l.maxLayerID, layer.MaxID(root))

	rsc := newResource(rec.UUID, n, rd, rec.Flags, root)
	rsc.props.Load(rec.Props)
	rd.resources.Load(map[string]*Resource{n.name.Canonical(): rsc})
	n.resources.Load(map[string]*Resource{rd.name.Canonical(): rsc})
	return nil
}

func (l *Loader) loadRscConn(data []byte) error {
	var rec rscConnRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	rd, err := l.rscDfn(rec.Rsc)
	if err != nil {
		return err
	}
	rsc := func(display string) (*Resource, error) {
		n, err := l.node(display)
		if err != nil {
			return nil, err
		}
		r, ok := rd.resources.Get(n.name.Canonical())
		if !ok {
			return nil, &apierr.NotFoundError{Object: "resource " + rec.Rsc + " on node " + display}
		}
		return r, nil
	}
	src, err := rsc(rec.Src)
	if err != nil {
		return err
	}
	dst, err := rsc(rec.Dst)
	if err != nil {
		return err
	}
	c := newResourceConnection(rec.UUID, src, dst)
	c.props.Load(rec.Props)
	src.conns.Load(map[string]*ResourceConnection{dst.node.name.Canonical(): c})
	dst.conns.Load(map[string]*ResourceConnection{src.node.name.Canonical(): c})
	return nil
}
