package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/dgraph-io/badger/v3"
)

type testStore struct {
	store *Store
	dir   string
}

func (t *testStore) Cleanup() error {
	t.store.Close()
	return os.RemoveAll(t.dir)
}

func createTestStore() (*testStore, error) {
	dir, err := os.MkdirTemp(os.TempDir(), "store_test_*")
	if err != nil {
		return nil, err
	}
	s, err := New(Config{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})),
		BadgerLogLevel: slog.LevelWarn,
		Directory:      dir,
	})
	if err != nil {
		return nil, err
	}
	return &testStore{store: s, dir: dir}, nil
}

func TestStore_ApplyGetIterate(t *testing.T) {
	ts, err := createTestStore()
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	defer ts.Cleanup()
	ctx := context.Background()

	t.Run("Apply writes every op", func(t *testing.T) {
		err := ts.store.Apply(ctx, []txn.Op{
			{Key: "nodes/ALPHA", Value: []byte(`{"name":"alpha"}`)},
			{Key: "nodes/BRAVO", Value: []byte(`{"name":"bravo"}`)},
			{Key: "rscdfns/RSC1", Value: []byte(`{"name":"rsc1"}`)},
		})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}

		got, err := ts.store.Get("nodes/BRAVO")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != `{"name":"bravo"}` {
			t.Errorf("Get() got = %s", got)
		}
	})

	t.Run("Iterate by prefix", func(t *testing.T) {
		kvs, err := ts.store.Iterate("nodes/")
		if err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		if len(kvs) != 2 {
			t.Fatalf("Iterate() got %d records, want 2", len(kvs))
		}
		if kvs[0].Key != "nodes/ALPHA" || kvs[1].Key != "nodes/BRAVO" {
			t.Errorf("Iterate() keys = %s, %s", kvs[0].Key, kvs[1].Key)
		}
	})

	t.Run("Delete ops", func(t *testing.T) {
		err := ts.store.Apply(ctx, []txn.Op{
			{Key: "nodes/ALPHA", Delete: true},
			{Key: "nodes/NEVER", Delete: true},
		})
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		_, err = ts.store.Get("nodes/ALPHA")
		var notFound *RecordNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("Get() after delete error = %v, want RecordNotFoundError", err)
		}
		if notFound.Key != "nodes/ALPHA" {
			t.Errorf("RecordNotFoundError.Key = %q, want nodes/ALPHA", notFound.Key)
		}
	})

	t.Run("Cancelled context writes nothing", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := ts.store.Apply(cctx, []txn.Op{{Key: "nodes/CHARLIE", Value: []byte("{}")}})
		if err == nil {
			t.Fatalf("Apply() expected error on cancelled context")
		}
		if _, err := ts.store.Get("nodes/CHARLIE"); err == nil {
			t.Errorf("Get() found a record written under a cancelled context")
		}
	})
}

func TestStore_InMemory(t *testing.T) {
	s, err := New(Config{
		Logger:         slog.New(slog.NewTextHandler(os.Stdout, nil)),
		BadgerLogLevel: slog.LevelError,
		InMemory:       true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if err := s.Apply(context.Background(), []txn.Op{{Key: "k", Value: []byte("v")}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	got, err := s.Get("k")
	if err != nil || string(got) != "v" {
		t.Errorf("Get() = %q, %v", got, err)
	}
}

func TestStore_ApplyErrorNamesOpAndKey(t *testing.T) {
	ts, err := createTestStore()
	if err != nil {
		t.Fatalf("createTestStore() error = %v", err)
	}
	defer ts.Cleanup()
	ctx := context.Background()

	err = ts.store.Apply(ctx, []txn.Op{
		{Key: "nodes/DELTA", Value: []byte("{}")},
		{Key: "!badger!nodes/DELTA", Value: []byte("{}")},
	})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("Apply() error = %v, want StoreError", err)
	}
	if storeErr.Op != "set" || storeErr.Key != "!badger!nodes/DELTA" {
		t.Errorf("StoreError = {Op: %q, Key: %q}, want {set, !badger!nodes/DELTA}", storeErr.Op, storeErr.Key)
	}
	if !errors.Is(err, badger.ErrInvalidKey) {
		t.Errorf("Apply() error = %v, want it to wrap badger.ErrInvalidKey", err)
	}

	var notFound *RecordNotFoundError
	if _, err := ts.store.Get("nodes/DELTA"); !errors.As(err, &notFound) {
		t.Errorf("Get() error = %v, a failed Apply must write nothing", err)
	}
}
