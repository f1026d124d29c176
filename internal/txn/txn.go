/*
	Transaction boundary for the in-memory object graph.

	Mutable state on entities lives in transactional cells (Value, Map). The
	first write to a cell inside a transaction registers the cell with the Tx
	and remembers the committed value. Writes also mark the owning record
	dirty so Commit knows what to hand to the persistence driver.

	Commit writes every dirty record in one driver call. If the driver fails
	every registered cell is rolled back and the failure is returned as a
	*apierr.PersistenceError. A Tx can be reused after Commit or Rollback.
*/

package txn

import (
	"context"
	"log/slog"
	"slices"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/google/uuid"
)

type Status int

const (
	StatusActive Status = iota
	StatusCommitting
	StatusRollingBack
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusCommitting:
		return "COMMITTING"
	case StatusRollingBack:
		return "ROLLING_BACK"
	default:
		return "UNKNOWN"
	}
}

// Object is in-memory state that can keep or drop its pending changes.
type Object interface {
	Commit()
	Rollback()
}

// Record is a persisted unit, usually one top level entity.
type Record interface {
	RecordKey() string
	MarshalRecord() ([]byte, error)
}

type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

type Driver interface {
	Apply(ctx context.Context, ops []Op) error
}

// NoopDriver is used where nothing is persisted, e.g. on satellites.
type NoopDriver struct{}

func (NoopDriver) Apply(context.Context, []Op) error { return nil }

type Manager struct {
	driver Driver
	logger *slog.Logger
}

func NewManager(driver Driver, logger *slog.Logger) *Manager {
	return &Manager{driver: driver, logger: logger.WithGroup("txn")}
}

func (m *Manager) Begin() *Tx {
	return &Tx{
		id:      uuid.New(),
		mgr:     m,
		seen:    make(map[Object]struct{}),
		pending: make(map[string]*pendingRecord),
	}
}

type pendingRecord struct {
	rec    Record
	delete bool
}

type Tx struct {
	id      uuid.UUID
	mgr     *Manager
	status  Status
	objects []Object
	seen    map[Object]struct{}
	pending map[string]*pendingRecord
}

func (tx *Tx) ID() uuid.UUID { return tx.id }
func (tx *Tx) Status() Status { return tx.status }

func (tx *Tx) IsDirty() bool {
	return len(tx.objects) > 0 || len(tx.pending) > 0
}

// Register is idempotent per object.
func (tx *Tx) Register(o Object) {
	if _, ok := tx.seen[o]; ok {
		return
	}
	tx.seen[o] = struct{}{}
	tx.objects = append(tx.objects, o)
}

// Persist schedules r to be written on commit. A later Delete of the same
// key wins, and so does a later Persist after a Delete.
func (tx *Tx) Persist(r Record) {
	if r == nil {
		return
	}
	tx.pending[r.RecordKey()] = &pendingRecord{rec: r}
}

func (tx *Tx) Delete(key string) {
	tx.pending[key] = &pendingRecord{delete: true}
}

func (tx *Tx) ops() ([]Op, error) {
	keys := make([]string, 0, len(tx.pending))
	for k := range tx.pending {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	ops := make([]Op, 0, len(keys))
	for _, k := range keys {
		p := tx.pending[k]
		if p.delete {
			ops = append(ops, Op{Key: k, Delete: true})
			continue
		}
		data, err := p.rec.MarshalRecord()
		if err != nil {
			return nil, err
		}
		ops = append(ops, Op{Key: k, Value: data})
	}
	return ops, nil
}

func (tx *Tx) Commit(ctx context.Context) error {
	if !tx.IsDirty() {
		return nil
	}
	tx.status = StatusCommitting

	ops, err := tx.ops()
	if err == nil && len(ops) > 0 {
		err = tx.mgr.driver.Apply(ctx, ops)
	}
	if err != nil {
		tx.mgr.logger.Warn("commit failed, rolling back", "tx", tx.id.String(), "error", err)
		tx.Rollback()
		return &apierr.PersistenceError{Op: "commit", Err: err}
	}

	for _, o := range tx.objects {
		o.Commit()
	}
	tx.mgr.logger.Debug("committed", "tx", tx.id.String(), "records", len(ops), "objects", len(tx.objects))
	tx.reset()
	return nil
}

// Rollback restores every registered object, newest first.
func (tx *Tx) Rollback() {
	tx.status = StatusRollingBack
	for i := len(tx.objects) - 1; i >= 0; i-- {
		tx.objects[i].Rollback()
	}
	tx.reset()
}

func (tx *Tx) reset() {
	tx.objects = nil
	tx.seen = make(map[Object]struct{})
	tx.pending = make(map[string]*pendingRecord)
	tx.status = StatusActive
}
