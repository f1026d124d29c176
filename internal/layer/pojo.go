package layer

import (
	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/names"
)

// Pojo is the persisted and transferred form of a layer tree. Volatile DRBD
// fields are not part of it.
type Pojo struct {
	ID        int    `json:"id"`
	Kind      string `json:"kind"`
	Suffix    string `json:"suffix,omitempty"`
	NodeID    *int   `json:"nodeId,omitempty"`
	StorPool  string `json:"storPool,omitempty"`
	CachePool string `json:"cachePool,omitempty"`
	MetaPool  string `json:"metaPool,omitempty"`
	Children  []Pojo `json:"children,omitempty"`
}

type pojoVisitor struct {
	out *Pojo
}

func (v pojoVisitor) VisitDrbd(d *DrbdRscData) error {
	id := int(d.nodeID)
	v.out.NodeID = &id
	return nil
}

func (v pojoVisitor) VisitLuks(*LuksRscData) error { return nil }

func (v pojoVisitor) VisitCache(c *CacheRscData) error {
	v.out.CachePool = c.cachePool.Display()
	v.out.MetaPool = c.metaPool.Display()
	return nil
}

func (v pojoVisitor) VisitStorage(s *StorageRscData) error {
	v.out.StorPool = s.storPool.Display()
	return nil
}

func ToPojo(obj RscLayerObject) Pojo {
	p := Pojo{ID: obj.ID(), Kind: obj.Kind().String(), Suffix: obj.Suffix()}
	_ = obj.Accept(pojoVisitor{out: &p})
	for _, c := range obj.Children() {
		p.Children = append(p.Children, ToPojo(c))
	}
	return p
}

func optPool(s string) (names.StorPoolName, error) {
	if s == "" {
		return names.StorPoolName{}, nil
	}
	return names.NewStorPoolName(s)
}

// FromPojo rebuilds a tree. Volatile DRBD fields start out unknown.
func FromPojo(p Pojo) (RscLayerObject, error) {
	kind, err := ParseKind(p.Kind)
	if err != nil {
		return nil, err
	}

	var obj RscLayerObject
	switch kind {
	case KindDrbd:
		if p.NodeID == nil {
			return nil, apierr.NewValidation("layer data", p.Kind, "DRBD layer without node id")
		}
		nodeID, err := names.NewNodeID(*p.NodeID)
		if err != nil {
			return nil, err
		}
		obj = NewDrbd(p.ID, p.Suffix, nodeID)
	case KindLuks:
		obj = NewLuks(p.ID, p.Suffix)
	case KindCache:
		cachePool, err := optPool(p.CachePool)
		if err != nil {
			return nil, err
		}
		metaPool, err := optPool(p.MetaPool)
		if err != nil {
			return nil, err
		}
		obj = NewCache(p.ID, p.Suffix, cachePool, metaPool)
	case KindStorage:
		pool, err := optPool(p.StorPool)
		if err != nil {
			return nil, err
		}
		obj = NewStorage(p.ID, p.Suffix, pool)
	default:
		return nil, apierr.Implementation("unhandled layer kind "+kind.String(), nil)
	}

	for _, cp := range p.Children {
		child, err := FromPojo(cp)
		if err != nil {
			return nil, err
		}
		AddChild(obj, child)
	}
	return obj, nil
}

// MaxID is the highest layer resource id in the tree.
func MaxID(root RscLayerObject) int {
	highest := 0
	_ = Walk(root, func(o RscLayerObject) error {
		if o.ID() > highest {
			highest = o.ID()
		}
		return nil
	})
	return highest
}
