package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/dgraph-io/badger/v3"
)

type Config struct {
	Logger         *slog.Logger
	BadgerLogLevel slog.Level
	Directory      string
	// InMemory runs badger without touching Directory.
	InMemory bool
}

type KV struct {
	Key   string
	Value []byte
}

// Store persists object records in badger. It is the txn.Driver of the
// controller: one Apply is one badger transaction.
type Store struct {
	logger *slog.Logger
	db     *badger.DB
}

var _ txn.Driver = (*Store)(nil)

func New(config Config) (*Store, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		recordsDir := filepath.Join(config.Directory, "records")
		if err := os.MkdirAll(recordsDir, 0755); err != nil {
			return nil, &StoreError{Op: "open", Key: recordsDir, Err: err}
		}
		opts = badger.DefaultOptions(recordsDir)
	}

	db, err := badger.Open(opts.WithLogger(newLogger(config.Logger.WithGroup("badger"), config.BadgerLogLevel)))
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	return &Store{
		logger: config.Logger.WithGroup("store"),
		db:     db,
	}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing store db", "error", err)
		return &StoreError{Op: "close", Err: err}
	}
	s.logger.Info("store closed")
	return nil
}

// Apply writes all ops atomically. Deleting an absent key is not an error.
func (s *Store) Apply(ctx context.Context, ops []txn.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(btx *badger.Txn) error {
		for _, op := range ops {
			var err error
			opName := "set"
			if op.Delete {
				opName = "delete"
				err = btx.Delete([]byte(op.Key))
			} else {
				err = btx.Set([]byte(op.Key), op.Value)
			}
			if err != nil {
				return &StoreError{Op: opName, Key: op.Key, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		var storeErr *StoreError
		if !errors.As(err, &storeErr) {
			err = &StoreError{Op: "apply", Err: err}
		}
		s.logger.Error("apply failed", "ops", len(ops), "error", err)
		return err
	}
	s.logger.Debug("applied", "ops", len(ops))
	return nil
}

func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(btx *badger.Txn) error {
		item, err := btx.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &RecordNotFoundError{Key: key}
			}
			return &StoreError{Op: "get", Key: key, Err: err}
		}
		value, err = item.ValueCopy(nil)
		if err != nil {
			return &StoreError{Op: "get", Key: key, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Iterate returns every record under prefix in key order.
func (s *Store) Iterate(prefix string) ([]KV, error) {
	var out []KV
	err := s.db.View(func(btx *badger.Txn) error {
		it := btx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return &StoreError{Op: "iterate", Key: string(item.KeyCopy(nil)), Err: err}
			}
			out = append(out, KV{Key: string(item.KeyCopy(nil)), Value: val})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
