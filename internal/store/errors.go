package store

import "fmt"

// RecordNotFoundError is returned by Get for a record key that is not stored.
type RecordNotFoundError struct {
	Key string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record %s not found", e.Key)
}

// StoreError wraps a badger failure with the store operation and, for
// single-record operations, the record key.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
