package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTx() *txn.Tx {
	return txn.NewManager(txn.NoopDriver{}, slog.New(slog.NewTextHandler(io.Discard, nil))).Begin()
}

var (
	sys      = security.SystemContext()
	outsider = security.AccessContext{Identity: "mallory", Role: "GUEST"}
)

func TestRepository_PutGet(t *testing.T) {
	repo := NewStorPoolDefinitionRepository(sys)
	tx := newTx()

	spd := objects.NewStorPoolDefinition(sys, tx, uuid.New(), names.MustStorPoolName("pool1"))
	require.NoError(t, repo.Put(sys, tx, spd))
	require.NoError(t, tx.Commit(context.Background()))

	t.Run("lookup ignores case", func(t *testing.T) {
		got, err := repo.Get(sys, names.MustStorPoolName("POOL1"))
		require.NoError(t, err)
		require.Same(t, spd, got)
	})

	t.Run("absent name", func(t *testing.T) {
		got, err := repo.Get(sys, names.MustStorPoolName("other"))
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("insufficient access", func(t *testing.T) {
		got, err := repo.Get(outsider, names.MustStorPoolName("pool1"))
		require.True(t, apierr.IsAccessDenied(err))
		require.Nil(t, got)

		_, err = repo.MapForView(outsider)
		require.True(t, apierr.IsAccessDenied(err))
	})

	t.Run("denied writes do not mutate", func(t *testing.T) {
		public := security.PublicContext()
		other := objects.NewStorPoolDefinition(sys, tx, uuid.New(), names.MustStorPoolName("pool2"))
		require.True(t, apierr.IsAccessDenied(repo.Put(public, tx, other)))
		require.True(t, apierr.IsAccessDenied(repo.Remove(public, tx, spd.Name())))
		tx.Rollback()

		view, err := repo.MapForView(public)
		require.NoError(t, err)
		require.Equal(t, 1, view.Len())
	})
}

func TestRepository_PutRemoveSequences(t *testing.T) {
	repo := NewStorPoolDefinitionRepository(sys)
	tx := newTx()
	name := names.MustStorPoolName("pool1")

	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var last *objects.StorPoolDefinition
		for step := 0; step < 10; step++ {
			if rnd.Intn(2) == 0 {
				last = objects.NewStorPoolDefinition(sys, tx, uuid.New(), name)
				require.NoError(t, repo.Put(sys, tx, last))
			} else {
				last = nil
				require.NoError(t, repo.Remove(sys, tx, name), "remove of an absent name is a no-op")
			}
		}
		require.NoError(t, tx.Commit(context.Background()))

		got, err := repo.Get(sys, name)
		require.NoError(t, err)
		if last == nil {
			require.Nil(t, got, "round %d", round)
		} else {
			require.Same(t, last, got, "round %d", round)
		}
	}
}

func TestRepository_RollbackRestoresEntries(t *testing.T) {
	repo := NewNodeRepository(sys)
	tx := newTx()

	keep := objects.NewNode(sys, tx, uuid.New(), names.MustNodeName("keep"), objects.NodeTypeSatellite)
	require.NoError(t, repo.Put(sys, tx, keep))
	require.NoError(t, tx.Commit(context.Background()))

	require.NoError(t, repo.Remove(sys, tx, keep.Name()))
	added := objects.NewNode(sys, tx, uuid.New(), names.MustNodeName("added"), objects.NodeTypeSatellite)
	require.NoError(t, repo.Put(sys, tx, added))
	tx.Rollback()

	got, err := repo.Get(sys, keep.Name())
	require.NoError(t, err)
	require.Same(t, keep, got)
	got, err = repo.Get(sys, added.Name())
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRepository_ViewIsSnapshot(t *testing.T) {
	repo := NewResourceGroupRepository(sys)
	tx := newTx()

	for i := 3; i > 0; i-- {
		rg, err := objects.NewResourceGroup(sys, tx, uuid.New(), names.MustResourceGroupName(fmt.Sprintf("rg%d", i)), "", nil, objects.AutoSelectFilter{})
		require.NoError(t, err)
		require.NoError(t, repo.Put(sys, tx, rg))
	}
	require.NoError(t, tx.Commit(context.Background()))

	view, err := repo.MapForView(sys)
	require.NoError(t, err)
	require.NoError(t, repo.Remove(sys, tx, names.MustResourceGroupName("rg2")))
	require.NoError(t, tx.Commit(context.Background()))

	require.Equal(t, 3, view.Len())
	var order []string
	view.Ascend(func(name names.ResourceGroupName, _ *objects.ResourceGroup) bool {
		order = append(order, name.Display())
		return true
	})
	require.Equal(t, []string{"rg1", "rg2", "rg3"}, order)

	_, ok := view.Get(names.MustResourceGroupName("RG2"))
	require.True(t, ok)

	now, err := repo.MapForView(sys)
	require.NoError(t, err)
	require.Len(t, now.Values(), 2)
}
