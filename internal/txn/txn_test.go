package txn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/stretchr/testify/require"
)

type recordingDriver struct {
	applied [][]Op
	fail    error
}

func (d *recordingDriver) Apply(_ context.Context, ops []Op) error {
	if d.fail != nil {
		return d.fail
	}
	d.applied = append(d.applied, ops)
	return nil
}

type testRecord struct {
	key  string
	name *Value[string]
}

func (r *testRecord) RecordKey() string { return r.key }
func (r *testRecord) MarshalRecord() ([]byte, error) {
	return json.Marshal(map[string]string{"name": r.name.Get()})
}

func newRecord(key, name string) *testRecord {
	r := &testRecord{key: key}
	r.name = NewValue(name, Record(r))
	return r
}

func newManager(d Driver) *Manager {
	return NewManager(d, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTx_CommitWritesDirtyRecords(t *testing.T) {
	d := &recordingDriver{}
	tx := newManager(d).Begin()

	a := newRecord("a", "one")
	b := newRecord("b", "two")
	a.name.Set(tx, "uno")
	b.name.Set(tx, "dos")
	a.name.Set(tx, "eins")
	tx.Delete("c")

	require.NoError(t, tx.Commit(context.Background()))
	require.Len(t, d.applied, 1)
	ops := d.applied[0]
	require.Len(t, ops, 3)
	require.Equal(t, "a", ops[0].Key)
	require.JSONEq(t, `{"name":"eins"}`, string(ops[0].Value))
	require.Equal(t, "b", ops[1].Key)
	require.Equal(t, Op{Key: "c", Delete: true}, ops[2])

	require.Equal(t, "eins", a.name.Get())
	require.False(t, tx.IsDirty())
	require.Equal(t, StatusActive, tx.Status())
}

func TestTx_CommitFailureRollsBack(t *testing.T) {
	d := &recordingDriver{fail: errors.New("disk on fire")}
	tx := newManager(d).Begin()

	r := newRecord("r", "before")
	m := NewMap[string, string](r)
	m.Put(tx, "k", "v")
	r.name.Set(tx, "after")

	err := tx.Commit(context.Background())
	require.Error(t, err)
	require.True(t, apierr.IsPersistence(err))
	require.Equal(t, "before", r.name.Get())
	_, ok := m.Get("k")
	require.False(t, ok)

	// the transaction is usable again afterwards
	d.fail = nil
	r.name.Set(tx, "third")
	require.NoError(t, tx.Commit(context.Background()))
	require.Equal(t, "third", r.name.Get())
}

func TestTx_CleanCommitIsNoop(t *testing.T) {
	d := &recordingDriver{fail: errors.New("must not be called")}
	tx := newManager(d).Begin()
	require.NoError(t, tx.Commit(context.Background()))
}

func TestMap_RollbackRestoresSnapshot(t *testing.T) {
	tx := newManager(NoopDriver{}).Begin()
	m := NewMap[string, int](nil)
	m.Load(map[string]int{"a": 1, "b": 2})

	m.Remove(tx, "a")
	m.Put(tx, "c", 3)
	m.Clear(tx)
	require.Equal(t, 0, m.Len())

	tx.Rollback()
	require.Equal(t, map[string]int{"a": 1, "b": 2}, m.Copy())

	m.PutAll(tx, map[string]int{"z": 26})
	require.NoError(t, tx.Commit(context.Background()))
	require.Equal(t, 3, m.Len())
	require.ElementsMatch(t, []int{1, 2, 26}, m.Values())
}
