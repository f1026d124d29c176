package stateflags

import (
	"strings"

	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
)

// Flag is a single bit of one entity type's flag set.
type Flag interface {
	~uint64
	String() string
}

// StateFlags is a bitset guarded by the owning entity's protection. Every
// change is an explicit Enable or Disable inside a transaction.
type StateFlags[F Flag] struct {
	prot *security.ObjectProtection
	bits *txn.Value[uint64]
	all  []F
}

// New builds a flag set. all lists every defined flag and is only used for
// String.
func New[F Flag](prot *security.ObjectProtection, owner txn.Record, initial uint64, all ...F) *StateFlags[F] {
	return &StateFlags[F]{
		prot: prot,
		bits: txn.NewValue(initial, owner),
		all:  all,
	}
}

func mask[F Flag](flags []F) uint64 {
	var m uint64
	for _, f := range flags {
		m |= uint64(f)
	}
	return m
}

func (s *StateFlags[F]) IsSet(accCtx security.AccessContext, flags ...F) (bool, error) {
	if err := s.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return false, err
	}
	m := mask(flags)
	return s.bits.Get()&m == m, nil
}

func (s *StateFlags[F]) IsSomeSet(accCtx security.AccessContext, flags ...F) (bool, error) {
	if err := s.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return false, err
	}
	return s.bits.Get()&mask(flags) != 0, nil
}

func (s *StateFlags[F]) Enable(accCtx security.AccessContext, tx *txn.Tx, flags ...F) error {
	if err := s.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	cur := s.bits.Get()
	if next := cur | mask(flags); next != cur {
		s.bits.Set(tx, next)
	}
	return nil
}

func (s *StateFlags[F]) Disable(accCtx security.AccessContext, tx *txn.Tx, flags ...F) error {
	if err := s.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	cur := s.bits.Get()
	if next := cur &^ mask(flags); next != cur {
		s.bits.Set(tx, next)
	}
	return nil
}

// Bits is the raw value, used for persistence.
func (s *StateFlags[F]) Bits() uint64 { return s.bits.Get() }

func (s *StateFlags[F]) String() string {
	var set []string
	for _, f := range s.all {
		if s.bits.Get()&uint64(f) != 0 {
			set = append(set, f.String())
		}
	}
	return "[" + strings.Join(set, ",") + "]"
}
