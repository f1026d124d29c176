/*
	Satellite side copy of the controller's object graph.

	The controller pushes definitions; the merger reconciles them against the
	local objects so that repeated pushes keep the identity of everything that
	did not change. Satellites keep no database: transactions commit through a
	no-op driver and only provide rollback.
*/

package satellite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/locks"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/repository"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
)

type Config struct {
	Logger *slog.Logger
	SysCtx security.AccessContext
	Locks  *locks.LockSet
	Repos  *repository.Set
}

type DefinitionMerger struct {
	logger *slog.Logger
	sysCtx security.AccessContext
	locks  *locks.LockSet
	repos  *repository.Set
	tx     *txn.Manager
}

func NewDefinitionMerger(config Config) *DefinitionMerger {
	logger := config.Logger.WithGroup("satellite")
	return &DefinitionMerger{
		logger: logger,
		sysCtx: config.SysCtx,
		locks:  config.Locks,
		repos:  config.Repos,
		tx:     txn.NewManager(txn.NoopDriver{}, logger),
	}
}

// MergeResourceGroup applies a pushed resource group to the local graph and
// returns the local object.
func (m *DefinitionMerger) MergeResourceGroup(ctx context.Context, push objects.ResourceGroupPojo) (*objects.ResourceGroup, error) {
	name, err := names.NewResourceGroupName(push.Name)
	if err != nil {
		return nil, apierr.Implementation("controller pushed an invalid resource group name", err)
	}

	scope := m.locks.NewScope()
	guard, err := m.locks.Build(ctx, scope, locks.Write, locks.Reconfiguration, locks.RscGrpMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	tx := m.tx.Begin()
	rg, err := m.mergeResourceGroup(tx, name, push)
	if err != nil {
		tx.Rollback()
		return nil, m.privilegeError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rg, nil
}

func (m *DefinitionMerger) mergeResourceGroup(
	tx *txn.Tx,
	name names.ResourceGroupName,
	push objects.ResourceGroupPojo,
) (*objects.ResourceGroup, error) {
	rg, err := m.repos.RscGrps.Get(m.sysCtx, name)
	if err != nil {
		return nil, err
	}

	if rg == nil {
		id := push.UUID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rg, err = objects.NewResourceGroup(m.sysCtx, tx, id, name, push.Description, push.Props, push.AutoSelect)
		if err != nil {
			return nil, err
		}
		if err := m.repos.RscGrps.Put(m.sysCtx, tx, rg); err != nil {
			return nil, err
		}
		m.logger.Debug("resource group created", "name", name.Display())
	} else {
		if err := rg.ReplaceProps(m.sysCtx, tx, push.Props); err != nil {
			return nil, err
		}
		if err := rg.SetDescription(m.sysCtx, tx, push.Description); err != nil {
			return nil, err
		}
		autoSelect, err := rg.AutoSelectConfig(m.sysCtx)
		if err != nil {
			return nil, err
		}
		if err := autoSelect.ApplyChanges(m.sysCtx, tx, push.AutoSelect); err != nil {
			return nil, err
		}
	}

	if err := m.mergeVolumeGroups(tx, rg, push.VolumeGroups); err != nil {
		return nil, err
	}
	return rg, nil
}

func (m *DefinitionMerger) mergeVolumeGroups(tx *txn.Tx, rg *objects.ResourceGroup, pushed []objects.VolumeGroupPojo) error {
	current, err := rg.VolumeGroups(m.sysCtx)
	if err != nil {
		return err
	}
	pendingDeletion := make(map[names.VolumeNumber]*objects.VolumeGroup, len(current))
	for _, vg := range current {
		pendingDeletion[vg.VolumeNumber()] = vg
	}

	for _, p := range pushed {
		nr, err := names.NewVolumeNumber(p.VolumeNr)
		if err != nil {
			return apierr.Implementation(
				fmt.Sprintf("controller pushed invalid volume number %d for resource group %s", p.VolumeNr, rg.Name().Display()),
				err,
			)
		}
		if vg, ok := pendingDeletion[nr]; ok {
			delete(pendingDeletion, nr)
			if err := vg.ReplaceProps(m.sysCtx, tx, p.Props); err != nil {
				return err
			}
			continue
		}
		id := p.UUID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := objects.NewVolumeGroup(m.sysCtx, tx, id, rg, nr, p.Props); err != nil {
			return err
		}
	}

	for nr := range pendingDeletion {
		if err := rg.DeleteVolumeGroup(m.sysCtx, tx, nr); err != nil {
			return err
		}
		m.logger.Debug("volume group removed", "resource_group", rg.Name().Display(), "volume", int(nr))
	}
	return nil
}

// StorPoolDefinition returns the local storage pool definition, creating it
// on first use.
func (m *DefinitionMerger) StorPoolDefinition(
	ctx context.Context,
	id uuid.UUID,
	name names.StorPoolName,
) (*objects.StorPoolDefinition, error) {
	scope := m.locks.NewScope()
	guard, err := m.locks.Build(ctx, scope, locks.Write, locks.Reconfiguration, locks.StorPoolDfnMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	spd, err := m.repos.StorPoolDfns.Get(m.sysCtx, name)
	if err != nil {
		return nil, m.privilegeError(err)
	}
	if spd != nil {
		return spd, nil
	}

	tx := m.tx.Begin()
	spd = objects.NewStorPoolDefinition(m.sysCtx, tx, id, name)
	if err := m.repos.StorPoolDfns.Put(m.sysCtx, tx, spd); err != nil {
		tx.Rollback()
		return nil, m.privilegeError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return spd, nil
}

func (m *DefinitionMerger) privilegeError(err error) error {
	if apierr.IsAccessDenied(err) {
		return apierr.Implementation("satellite system context does not have enough privileges", err)
	}
	return err
}
