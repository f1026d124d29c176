/*
	Named coarse grained locks over the object graph.

	Every lock has a fixed position in a global order and a Scope refuses to
	take a lock that sits before one it already holds. Two operations can
	therefore never wait on each other in a cycle.

	A named lock is a fair reader/writer lock built on a weighted semaphore:
	readers take one unit, writers take all of them. Waiting goes through
	semaphore.Acquire so a caller can give up through its context, and a
	waiting writer keeps later readers out.
*/

package locks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/InsulaLabs/strata/internal/apierr"
	"golang.org/x/sync/semaphore"
)

type LockObj int

// Declaration order is acquisition order.
const (
	Reconfiguration LockObj = iota
	NodesMap
	RscGrpMap
	RscDfnMap
	StorPoolDfnMap

	lockObjCount
)

func (o LockObj) String() string {
	switch o {
	case Reconfiguration:
		return "RECONFIGURATION"
	case NodesMap:
		return "NODES_MAP"
	case RscGrpMap:
		return "RSC_GRP_MAP"
	case RscDfnMap:
		return "RSC_DFN_MAP"
	case StorPoolDfnMap:
		return "STOR_POOL_DFN_MAP"
	default:
		return fmt.Sprintf("LOCK_OBJ(%d)", int(o))
	}
}

type LockType int

const (
	Read LockType = iota + 1
	Write
)

func (t LockType) String() string {
	switch t {
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	default:
		return "NONE"
	}
}

const maxReaders = 1 << 30

func (t LockType) weight() int64 {
	if t == Write {
		return maxReaders
	}
	return 1
}

type LockSet struct {
	logger *slog.Logger
	sems   [lockObjCount]*semaphore.Weighted
}

func New(logger *slog.Logger) *LockSet {
	ls := &LockSet{logger: logger.WithGroup("locks")}
	for i := range ls.sems {
		ls.sems[i] = semaphore.NewWeighted(maxReaders)
	}
	return ls
}

// NewScope starts a logical operation. A scope is owned by one goroutine.
func (ls *LockSet) NewScope() *Scope {
	return &Scope{set: ls, held: make(map[LockObj]LockType)}
}

type Scope struct {
	set  *LockSet
	held map[LockObj]LockType
}

// Holds reports whether the scope holds obj with at least the given type.
func (s *Scope) Holds(obj LockObj, typ LockType) bool {
	cur, ok := s.held[obj]
	return ok && cur >= typ
}

// RequireHeld turns a documented locking pre-condition into a checked one.
func (s *Scope) RequireHeld(obj LockObj, typ LockType) error {
	if s.Holds(obj, typ) {
		return nil
	}
	return apierr.Implementation(
		fmt.Sprintf("caller must hold %s lock on %s", typ, obj), nil,
	)
}

func (s *Scope) highestHeld() (LockObj, bool) {
	var (
		top   LockObj
		found bool
	)
	for obj := range s.held {
		if !found || obj > top {
			top, found = obj, true
		}
	}
	return top, found
}

// Lock acquires obj for this scope. A lock the scope already holds strongly
// enough is not taken again and the returned guard releases nothing.
func (s *Scope) Lock(ctx context.Context, obj LockObj, typ LockType) (*Guard, error) {
	if obj < 0 || obj >= lockObjCount {
		return nil, apierr.Implementation(fmt.Sprintf("unknown lock object %d", int(obj)), nil)
	}
	if typ != Read && typ != Write {
		return nil, apierr.Implementation(fmt.Sprintf("unknown lock type %d", int(typ)), nil)
	}

	if cur, ok := s.held[obj]; ok {
		if cur >= typ {
			return &Guard{}, nil
		}
		return nil, apierr.Implementation(
			fmt.Sprintf("lock upgrade %s -> %s on %s is not supported", cur, typ, obj), nil,
		)
	}

	if top, ok := s.highestHeld(); ok && top > obj {
		s.set.logger.Error("lock order violation", "requested", obj.String(), "held", top.String())
		return nil, apierr.Implementation(
			fmt.Sprintf("lock order violation: %s requested while holding %s", obj, top), nil,
		)
	}

	if err := s.set.sems[obj].Acquire(ctx, typ.weight()); err != nil {
		return nil, err
	}
	s.held[obj] = typ
	return &Guard{entries: []guardEntry{{obj: obj, typ: typ}}, scope: s}, nil
}

// Build takes several locks of one type in global order. On failure every
// lock taken by this call is released again.
func (ls *LockSet) Build(ctx context.Context, s *Scope, typ LockType, objs ...LockObj) (*Guard, error) {
	if s.set != ls {
		return nil, apierr.Implementation("scope belongs to another lock set", nil)
	}
	ordered := slices.Clone(objs)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	multi := &Guard{scope: s}
	for _, obj := range ordered {
		g, err := s.Lock(ctx, obj, typ)
		if err != nil {
			multi.Release()
			return nil, err
		}
		multi.entries = append(multi.entries, g.entries...)
	}
	return multi, nil
}

type guardEntry struct {
	obj LockObj
	typ LockType
}

// Guard releases what its acquisition took. Release is idempotent.
type Guard struct {
	scope   *Scope
	entries []guardEntry
}

func (g *Guard) Release() {
	if g == nil || g.scope == nil {
		return
	}
	for i := len(g.entries) - 1; i >= 0; i-- {
		e := g.entries[i]
		delete(g.scope.held, e.obj)
		g.scope.set.sems[e.obj].Release(e.typ.weight())
	}
	g.entries = nil
}
