/*
	Repositories are the name indexed maps of top level entities.

	Each repository has its own ObjectProtection: VIEW is needed to read it,
	CHANGE to put or remove. Callers hold the matching named lock from
	internal/locks; the repository only serializes access to the tree itself.

	Entries live in a btree ordered by canonical name. A mutation inside a
	transaction takes a copy-on-write snapshot of the tree on first use and
	restores it on rollback, and MapForView hands out such a snapshot as a
	read-only view.
*/

package repository

import (
	"sync"

	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/btree"
)

const btreeDegree = 16

type entry[K names.Identifier, V any] struct {
	key  string
	name K
	val  V
}

func lessEntry[K names.Identifier, V any](a, b entry[K, V]) bool { return a.key < b.key }

type Repository[K names.Identifier, V any] struct {
	mu      sync.Mutex
	prot    *security.ObjectProtection
	nameOf  func(V) K
	tree    *btree.BTreeG[entry[K, V]]
	backup  *btree.BTreeG[entry[K, V]]
	touched bool
}

// New creates an empty repository. nameOf extracts the key of an entity.
func New[K names.Identifier, V any](prot *security.ObjectProtection, nameOf func(V) K) *Repository[K, V] {
	return &Repository[K, V]{
		prot:   prot,
		nameOf: nameOf,
		tree:   btree.NewG(btreeDegree, lessEntry[K, V]),
	}
}

func (r *Repository[K, V]) ObjProt() *security.ObjectProtection { return r.prot }

// Get returns the zero V if no entity is stored under name.
func (r *Repository[K, V]) Get(accCtx security.AccessContext, name K) (V, error) {
	var zero V
	if err := r.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return zero, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tree.Get(entry[K, V]{key: name.Canonical()})
	if !ok {
		return zero, nil
	}
	return e.val, nil
}

// Put stores v under its name, replacing any previous entry.
func (r *Repository[K, V]) Put(accCtx security.AccessContext, tx *txn.Tx, v V) error {
	if err := r.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	name := r.nameOf(v)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(tx)
	r.tree.ReplaceOrInsert(entry[K, V]{key: name.Canonical(), name: name, val: v})
	return nil
}

// Remove is a no-op for an absent name.
func (r *Repository[K, V]) Remove(accCtx security.AccessContext, tx *txn.Tx, name K) error {
	if err := r.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	lookup := entry[K, V]{key: name.Canonical()}
	if !r.tree.Has(lookup) {
		return nil
	}
	r.touch(tx)
	r.tree.Delete(lookup)
	return nil
}

// Load inserts entities outside of any transaction while the graph is
// rebuilt at startup.
func (r *Repository[K, V]) Load(vals ...V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range vals {
		name := r.nameOf(v)
		r.tree.ReplaceOrInsert(entry[K, V]{key: name.Canonical(), name: name, val: v})
	}
}

func (r *Repository[K, V]) MapForView(accCtx security.AccessContext) (*View[K, V], error) {
	if err := r.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return &View[K, V]{tree: r.tree.Clone()}, nil
}

// touch must be called with mu held.
func (r *Repository[K, V]) touch(tx *txn.Tx) {
	if r.touched {
		return
	}
	r.backup = r.tree.Clone()
	r.touched = true
	tx.Register(r)
}

func (r *Repository[K, V]) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backup = nil
	r.touched = false
}

func (r *Repository[K, V]) Rollback() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touched {
		r.tree = r.backup
	}
	r.backup = nil
	r.touched = false
}

// View is a read-only snapshot of a repository.
type View[K names.Identifier, V any] struct {
	tree *btree.BTreeG[entry[K, V]]
}

func (v *View[K, V]) Len() int { return v.tree.Len() }

func (v *View[K, V]) Get(name K) (V, bool) {
	e, ok := v.tree.Get(entry[K, V]{key: name.Canonical()})
	return e.val, ok
}

// Ascend calls fn in canonical name order until it returns false.
func (v *View[K, V]) Ascend(fn func(name K, val V) bool) {
	v.tree.Ascend(func(e entry[K, V]) bool { return fn(e.name, e.val) })
}

func (v *View[K, V]) Values() []V {
	out := make([]V, 0, v.tree.Len())
	v.tree.Ascend(func(e entry[K, V]) bool {
		out = append(out, e.val)
		return true
	})
	return out
}
