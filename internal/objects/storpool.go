package objects

import (
	"encoding/json"

	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
)

type StorPoolDefinition struct {
	uuid  uuid.UUID
	name  names.StorPoolName
	prot  *security.ObjectProtection
	props *txn.Map[string, string]
}

func NewStorPoolDefinition(accCtx security.AccessContext, tx *txn.Tx, id uuid.UUID, name names.StorPoolName) *StorPoolDefinition {
	spd := newStorPoolDefinition(accCtx, id, name)
	tx.Persist(spd)
	return spd
}

func newStorPoolDefinition(accCtx security.AccessContext, id uuid.UUID, name names.StorPoolName) *StorPoolDefinition {
	spd := &StorPoolDefinition{
		uuid: id,
		name: name,
		prot: security.NewObjectProtection(security.PathStorPoolDefinition(name.Canonical()), accCtx),
	}
	spd.props = txn.NewMap[string, string](spd)
	return spd
}

func (s *StorPoolDefinition) UUID() uuid.UUID                     { return s.uuid }
func (s *StorPoolDefinition) Name() names.StorPoolName            { return s.name }
func (s *StorPoolDefinition) ObjProt() *security.ObjectProtection { return s.prot }

func (s *StorPoolDefinition) Props(accCtx security.AccessContext) (*txn.Map[string, string], error) {
	return requireProps(s.prot, accCtx, s.props)
}

func (s *StorPoolDefinition) Delete(accCtx security.AccessContext, tx *txn.Tx) error {
	if err := s.prot.RequireAccess(accCtx, security.AccessControl); err != nil {
		return err
	}
	tx.Delete(s.RecordKey())
	return nil
}

func (s *StorPoolDefinition) RecordKey() string { return "storpooldfns/" + s.name.Canonical() }

type storPoolDfnRecord struct {
	UUID  uuid.UUID         `json:"uuid"`
	Name  string            `json:"name"`
	Props map[string]string `json:"props,omitempty"`
}

func (s *StorPoolDefinition) MarshalRecord() ([]byte, error) {
	return json.Marshal(storPoolDfnRecord{UUID: s.uuid, Name: s.name.Display(), Props: s.props.Copy()})
}
