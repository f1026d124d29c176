package ctrl

import (
	"context"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/locks"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
)

func (c *Controller) CreateStorPoolDefinition(ctx context.Context, accCtx security.AccessContext, poolName string) (*objects.StorPoolDefinition, error) {
	name, err := names.NewStorPoolName(poolName)
	if err != nil {
		return nil, err
	}
	_, guard, err := c.lock(ctx, locks.Write, locks.StorPoolDfnMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	existing, err := c.repos.StorPoolDfns.Get(accCtx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &apierr.AlreadyExistsError{Object: "storage pool definition " + name.Display()}
	}

	var spd *objects.StorPoolDefinition
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		spd = objects.NewStorPoolDefinition(accCtx, tx, uuid.New(), name)
		return c.repos.StorPoolDfns.Put(accCtx, tx, spd)
	})
	if err != nil {
		return nil, err
	}
	return spd, nil
}

func (c *Controller) DeleteStorPoolDefinition(ctx context.Context, accCtx security.AccessContext, poolName string) error {
	name, err := names.NewStorPoolName(poolName)
	if err != nil {
		return err
	}
	_, guard, err := c.lock(ctx, locks.Write, locks.StorPoolDfnMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	spd, err := c.repos.StorPoolDfns.Get(accCtx, name)
	if err != nil {
		return err
	}
	if spd == nil {
		return &apierr.NotFoundError{Object: "storage pool definition " + poolName}
	}
	return c.inTx(ctx, func(tx *txn.Tx) error {
		if err := spd.Delete(accCtx, tx); err != nil {
			return err
		}
		return c.repos.StorPoolDfns.Remove(accCtx, tx, name)
	})
}

type ResourceGroupSpec struct {
	Name        string
	Description string
	Props       map[string]string
	AutoSelect  objects.AutoSelectFilter
}

func (c *Controller) getRscGrp(accCtx security.AccessContext, display string) (*objects.ResourceGroup, error) {
	name, err := names.NewResourceGroupName(display)
	if err != nil {
		return nil, err
	}
	rg, err := c.repos.RscGrps.Get(accCtx, name)
	if err != nil {
		return nil, err
	}
	if rg == nil {
		return nil, &apierr.NotFoundError{Object: "resource group " + display}
	}
	return rg, nil
}

func (c *Controller) CreateResourceGroup(ctx context.Context, accCtx security.AccessContext, spec ResourceGroupSpec) (*objects.ResourceGroup, error) {
	name, err := names.NewResourceGroupName(spec.Name)
	if err != nil {
		return nil, err
	}
	_, guard, err := c.lock(ctx, locks.Write, locks.RscGrpMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	existing, err := c.repos.RscGrps.Get(accCtx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &apierr.AlreadyExistsError{Object: "resource group " + name.Display()}
	}

	var rg *objects.ResourceGroup
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		var err error
		rg, err = objects.NewResourceGroup(accCtx, tx, uuid.New(), name, spec.Description, spec.Props, spec.AutoSelect)
		if err != nil {
			return err
		}
		return c.repos.RscGrps.Put(accCtx, tx, rg)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("resource group created", "name", name.Display())
	return rg, nil
}

// ModifyResourceGroup changes the placement configuration of a group. Fields
// absent from filter keep their value.
func (c *Controller) ModifyResourceGroup(
	ctx context.Context,
	accCtx security.AccessContext,
	rgName string,
	description *string,
	filter objects.AutoSelectFilter,
) error {
	_, guard, err := c.lock(ctx, locks.Write, locks.RscGrpMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	rg, err := c.getRscGrp(accCtx, rgName)
	if err != nil {
		return err
	}
	autoSelect, err := rg.AutoSelectConfig(accCtx)
	if err != nil {
		return err
	}
	return c.inTx(ctx, func(tx *txn.Tx) error {
		if description != nil {
			if err := rg.SetDescription(accCtx, tx, *description); err != nil {
				return err
			}
		}
		return autoSelect.ApplyChanges(accCtx, tx, filter)
	})
}

func (c *Controller) DeleteResourceGroup(ctx context.Context, accCtx security.AccessContext, rgName string) error {
	_, guard, err := c.lock(ctx, locks.Write, locks.RscGrpMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	rg, err := c.getRscGrp(accCtx, rgName)
	if err != nil {
		return err
	}
	return c.inTx(ctx, func(tx *txn.Tx) error {
		if err := rg.Delete(accCtx, tx); err != nil {
			return err
		}
		return c.repos.RscGrps.Remove(accCtx, tx, rg.Name())
	})
}

func (c *Controller) CreateVolumeGroup(
	ctx context.Context,
	accCtx security.AccessContext,
	rgName string,
	volumeNr int,
	props map[string]string,
) (*objects.VolumeGroup, error) {
	nr, err := names.NewVolumeNumber(volumeNr)
	if err != nil {
		return nil, err
	}
	_, guard, err := c.lock(ctx, locks.Write, locks.RscGrpMap)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rg, err := c.getRscGrp(accCtx, rgName)
	if err != nil {
		return nil, err
	}
	var vg *objects.VolumeGroup
	err = c.inTx(ctx, func(tx *txn.Tx) error {
		var err error
		vg, err = objects.NewVolumeGroup(accCtx, tx, uuid.New(), rg, nr, props)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vg, nil
}

// DeleteVolumeGroup is a no-op for an unknown volume number.
func (c *Controller) DeleteVolumeGroup(ctx context.Context, accCtx security.AccessContext, rgName string, volumeNr int) error {
	nr, err := names.NewVolumeNumber(volumeNr)
	if err != nil {
		return err
	}
	_, guard, err := c.lock(ctx, locks.Write, locks.RscGrpMap)
	if err != nil {
		return err
	}
	defer guard.Release()

	rg, err := c.getRscGrp(accCtx, rgName)
	if err != nil {
		return err
	}
	return c.inTx(ctx, func(tx *txn.Tx) error {
		return rg.DeleteVolumeGroup(accCtx, tx, nr)
	})
}

// ResourceGroupPush returns the definition pushed to satellites for rgName.
func (c *Controller) ResourceGroupPush(ctx context.Context, accCtx security.AccessContext, rgName string) (objects.ResourceGroupPojo, error) {
	_, guard, err := c.lock(ctx, locks.Read, locks.RscGrpMap)
	if err != nil {
		return objects.ResourceGroupPojo{}, err
	}
	defer guard.Release()

	rg, err := c.getRscGrp(accCtx, rgName)
	if err != nil {
		return objects.ResourceGroupPojo{}, err
	}
	return rg.ToPojo(accCtx)
}
