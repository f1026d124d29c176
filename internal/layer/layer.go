/*
	Per-resource device layer stacks.

	A resource on a node is realized as a tree of layer data objects: the top
	of the stack is the root, every layer owns the layers beneath it. A layer
	may own more than one child (DRBD with external metadata, a cache layer
	with its cache and meta devices), so a kind can show up several times and
	at different depths.

	The set of kinds is closed. RscLayerObject has an unexported method so only
	this package can implement it, and Visitor has one method per kind: adding
	a kind breaks every visitor until it handles the new one.
*/

package layer

import (
	"fmt"
	"strings"

	"github.com/InsulaLabs/strata/internal/apierr"
)

type Kind int

const (
	KindDrbd Kind = iota + 1
	KindLuks
	KindCache
	KindStorage
)

var AllKinds = []Kind{KindDrbd, KindLuks, KindCache, KindStorage}

func (k Kind) String() string {
	switch k {
	case KindDrbd:
		return "DRBD"
	case KindLuks:
		return "LUKS"
	case KindCache:
		return "CACHE"
	case KindStorage:
		return "STORAGE"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, apierr.NewValidation("layer kind", s, "unknown device layer kind")
}

func ParseKinds(list []string) ([]Kind, error) {
	kinds := make([]Kind, 0, len(list))
	for _, s := range list {
		k, err := ParseKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func KindStrings(kinds []Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}

type RscLayerObject interface {
	Kind() Kind
	ID() int
	Suffix() string
	Parent() RscLayerObject
	Children() []RscLayerObject
	Accept(v Visitor) error

	base() *common
}

type Visitor interface {
	VisitDrbd(d *DrbdRscData) error
	VisitLuks(l *LuksRscData) error
	VisitCache(c *CacheRscData) error
	VisitStorage(s *StorageRscData) error
}

type common struct {
	id       int
	suffix   string
	parent   RscLayerObject
	children []RscLayerObject
}

func (c *common) ID() int { return c.id }
func (c *common) Suffix() string { return c.suffix }
func (c *common) Parent() RscLayerObject { return c.parent }
func (c *common) Children() []RscLayerObject { return c.children }
func (c *common) base() *common { return c }

// AddChild links child beneath parent.
func AddChild(parent, child RscLayerObject) {
	child.base().parent = parent
	pb := parent.base()
	pb.children = append(pb.children, child)
}

// Walk visits root and everything beneath it, depth first. Returning an
// error from fn stops the walk.
func Walk(root RscLayerObject, fn func(RscLayerObject) error) error {
	if root == nil {
		return nil
	}
	stack := []RscLayerObject{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if err := fn(cur); err != nil {
			return err
		}
		children := cur.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// ExtractByKind returns every layer object of the given kind anywhere in the
// stack below and including root.
func ExtractByKind(root RscLayerObject, kind Kind) []RscLayerObject {
	var found []RscLayerObject
	_ = Walk(root, func(o RscLayerObject) error {
		if o.Kind() == kind {
			found = append(found, o)
		}
		return nil
	})
	return found
}

// Extract is ExtractByKind with the result already narrowed to the
// concrete layer type.
func Extract[T RscLayerObject](root RscLayerObject) []T {
	var found []T
	_ = Walk(root, func(o RscLayerObject) error {
		if t, ok := o.(T); ok {
			found = append(found, t)
		}
		return nil
	})
	return found
}

// Kinds lists the kinds along the primary path (first child at each level),
// which is the layer list the stack was built from.
func Kinds(root RscLayerObject) []Kind {
	var kinds []Kind
	for cur := root; cur != nil; {
		kinds = append(kinds, cur.Kind())
		children := cur.Children()
		if len(children) == 0 {
			break
		}
		cur = children[0]
	}
	return kinds
}
