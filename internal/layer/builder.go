package layer

import (
	"fmt"
	"slices"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/names"
)

const (
	SuffixData      = ""
	SuffixDrbdMeta  = ".meta"
	SuffixCacheData = ".dcache"
	SuffixCacheMeta = ".dmeta"
)

type StackConfig struct {
	Kinds []Kind

	NodeID       names.NodeID
	ExternalMeta bool
	MetaPool     names.StorPoolName

	StorPool  names.StorPoolName
	CachePool names.StorPoolName

	// NextID hands out layer resource ids.
	NextID func() int
}

// NormalizeKinds validates a layer list and appends STORAGE when the list
// does not already end with it.
func NormalizeKinds(kinds []Kind) ([]Kind, error) {
	out := slices.Clone(kinds)
	if len(out) == 0 || out[len(out)-1] != KindStorage {
		out = append(out, KindStorage)
	}
	seen := make(map[Kind]bool, len(out))
	for i, k := range out {
		if !slices.Contains(AllKinds, k) {
			return nil, apierr.NewValidation("layer stack", fmt.Sprint(KindStrings(kinds)), "unknown kind "+k.String())
		}
		if seen[k] {
			return nil, apierr.NewValidation("layer stack", fmt.Sprint(KindStrings(kinds)), "duplicate kind "+k.String())
		}
		if k == KindStorage && i != len(out)-1 {
			return nil, apierr.NewValidation("layer stack", fmt.Sprint(KindStrings(kinds)), "STORAGE must be the lowest layer")
		}
		seen[k] = true
	}
	return out, nil
}

// Build creates the layer tree for one resource. Kinds are listed top down.
func Build(cfg StackConfig) (RscLayerObject, error) {
	kinds, err := NormalizeKinds(cfg.Kinds)
	if err != nil {
		return nil, err
	}
	if cfg.NextID == nil {
		return nil, apierr.Implementation("layer stack built without id source", nil)
	}

	type deferredChildren struct {
		parent   RscLayerObject
		children []RscLayerObject
	}
	var (
		root, parent RscLayerObject
		deferred     []deferredChildren
	)
	for _, k := range kinds {
		var cur RscLayerObject
		var extra []RscLayerObject

		switch k {
		case KindDrbd:
			cur = NewDrbd(cfg.NextID(), SuffixData, cfg.NodeID)
			if cfg.ExternalMeta {
				extra = append(extra, NewStorage(cfg.NextID(), SuffixDrbdMeta, cfg.MetaPool))
			}
		case KindLuks:
			cur = NewLuks(cfg.NextID(), SuffixData)
		case KindCache:
			cur = NewCache(cfg.NextID(), SuffixData, cfg.CachePool, cfg.MetaPool)
			extra = append(extra,
				NewStorage(cfg.NextID(), SuffixCacheData, cfg.CachePool),
				NewStorage(cfg.NextID(), SuffixCacheMeta, cfg.MetaPool),
			)
		case KindStorage:
			cur = NewStorage(cfg.NextID(), SuffixData, cfg.StorPool)
		default:
			return nil, apierr.Implementation("unhandled layer kind "+k.String(), nil)
		}

		if parent == nil {
			root = cur
		} else {
			AddChild(parent, cur)
		}
		deferred = append(deferred, deferredChildren{parent: cur, children: extra})
		parent = cur
	}

	// the data path stays the first child so Kinds can follow it
	for _, d := range deferred {
		for _, c := range d.children {
			AddChild(d.parent, c)
		}
	}
	return root, nil
}
