package txn

import (
	"maps"
	"slices"
)

// Value is a transactional cell holding one value.
type Value[T any] struct {
	cur   T
	old   T
	dirty bool
	owner Record
}

func NewValue[T any](v T, owner Record) *Value[T] {
	return &Value[T]{cur: v, owner: owner}
}

func (v *Value[T]) Get() T { return v.cur }

func (v *Value[T]) Set(tx *Tx, nv T) {
	if !v.dirty {
		v.old = v.cur
		v.dirty = true
		tx.Register(v)
	}
	v.cur = nv
	tx.Persist(v.owner)
}

func (v *Value[T]) Commit() {
	var zero T
	v.old = zero
	v.dirty = false
}

func (v *Value[T]) Rollback() {
	if v.dirty {
		v.cur = v.old
	}
	v.Commit()
}

// Map is a transactional map. The first write in a transaction takes a
// snapshot which Rollback restores.
type Map[K comparable, V any] struct {
	cur      map[K]V
	snapshot map[K]V
	dirty    bool
	owner    Record
}

func NewMap[K comparable, V any](owner Record) *Map[K, V] {
	return &Map[K, V]{cur: make(map[K]V), owner: owner}
}

func (m *Map[K, V]) touch(tx *Tx) {
	if !m.dirty {
		m.snapshot = maps.Clone(m.cur)
		m.dirty = true
		tx.Register(m)
	}
	tx.Persist(m.owner)
}

func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.cur[k]
	return v, ok
}

func (m *Map[K, V]) Len() int { return len(m.cur) }

func (m *Map[K, V]) Put(tx *Tx, k K, v V) {
	m.touch(tx)
	m.cur[k] = v
}

func (m *Map[K, V]) Remove(tx *Tx, k K) {
	if _, ok := m.cur[k]; !ok {
		return
	}
	m.touch(tx)
	delete(m.cur, k)
}

func (m *Map[K, V]) Clear(tx *Tx) {
	if len(m.cur) == 0 {
		return
	}
	m.touch(tx)
	clear(m.cur)
}

// PutAll copies src into the map.
func (m *Map[K, V]) PutAll(tx *Tx, src map[K]V) {
	if len(src) == 0 {
		return
	}
	m.touch(tx)
	maps.Copy(m.cur, src)
}

// Load fills the map outside of any transaction, used while rebuilding
// state from the database.
func (m *Map[K, V]) Load(src map[K]V) {
	maps.Copy(m.cur, src)
}

// Copy returns a detached copy of the current content.
func (m *Map[K, V]) Copy() map[K]V { return maps.Clone(m.cur) }

func (m *Map[K, V]) Values() []V {
	return slices.Collect(maps.Values(m.cur))
}

func (m *Map[K, V]) Commit() {
	m.snapshot = nil
	m.dirty = false
}

func (m *Map[K, V]) Rollback() {
	if m.dirty {
		m.cur = m.snapshot
		if m.cur == nil {
			m.cur = make(map[K]V)
		}
	}
	m.Commit()
}
