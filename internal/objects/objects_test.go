package objects

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"sort"
	"strings"
	"testing"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/layer"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDriver struct {
	records map[string][]byte
}

func (d *memDriver) Apply(_ context.Context, ops []txn.Op) error {
	for _, op := range ops {
		if op.Delete {
			delete(d.records, op.Key)
			continue
		}
		d.records[op.Key] = op.Value
	}
	return nil
}

func newTestTx(t *testing.T) (*txn.Tx, *memDriver) {
	t.Helper()
	d := &memDriver{records: make(map[string][]byte)}
	return txn.NewManager(d, slog.New(slog.NewTextHandler(io.Discard, nil))).Begin(), d
}

func idSource() func() int {
	next := 0
	return func() int {
		next++
		return next
	}
}

func intPtr(v int) *int { return &v }

func TestAutoSelectorConfig_ApplyChangesKeepsAbsentFields(t *testing.T) {
	sys := security.SystemContext()
	tx, _ := newTestTx(t)

	rg, err := NewResourceGroup(sys, tx, uuid.New(), names.MustResourceGroupName("rg1"), "first", nil, AutoSelectFilter{
		ReplicaCount: intPtr(3),
		StorPools:    []string{"pool1"},
		LayerStack:   []string{"drbd", "storage"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	cfg, err := rg.AutoSelectConfig(sys)
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyChanges(sys, tx, AutoSelectFilter{Providers: []string{"LVM"}}))
	require.NoError(t, tx.Commit(context.Background()))

	f := cfg.Filter()
	assert.Equal(t, 3, *f.ReplicaCount)
	assert.Equal(t, []string{"pool1"}, f.StorPools)
	assert.Equal(t, []string{"LVM"}, f.Providers)
	assert.Equal(t, []layer.Kind{layer.KindDrbd, layer.KindStorage}, cfg.LayerStack())
	assert.Nil(t, f.DisklessOnRemaining)

	err = cfg.ApplyChanges(sys, tx, AutoSelectFilter{ReplicaCount: intPtr(0)})
	require.True(t, apierr.IsValidation(err))
	count, ok := cfg.ReplicaCount()
	require.True(t, ok)
	require.Equal(t, 3, count)
}

func TestResourceGroup_VolumeGroups(t *testing.T) {
	sys := security.SystemContext()
	tx, d := newTestTx(t)
	rg, err := NewResourceGroup(sys, tx, uuid.New(), names.MustResourceGroupName("rg1"), "", nil, AutoSelectFilter{})
	require.NoError(t, err)

	for _, nr := range []names.VolumeNumber{2, 0, 1} {
		_, err := NewVolumeGroup(sys, tx, uuid.New(), rg, nr, map[string]string{"k": "v"})
		require.NoError(t, err)
	}
	_, err = NewVolumeGroup(sys, tx, uuid.New(), rg, 1, nil)
	require.True(t, apierr.IsAlreadyExists(err))
	require.NoError(t, tx.Commit(context.Background()))

	vgs, err := rg.VolumeGroups(sys)
	require.NoError(t, err)
	require.Len(t, vgs, 3)
	for i, vg := range vgs {
		require.Equal(t, names.VolumeNumber(i), vg.VolumeNumber())
	}
	require.Contains(t, d.records, "vlmgrps/RG1/00001")

	require.NoError(t, rg.DeleteVolumeGroup(sys, tx, 1))
	require.NoError(t, rg.DeleteVolumeGroup(sys, tx, 9))
	require.NoError(t, tx.Commit(context.Background()))
	require.NotContains(t, d.records, "vlmgrps/RG1/00001")

	denied := security.AccessContext{Identity: "bob", Role: security.RolePublic}
	err = rg.DeleteVolumeGroup(denied, tx, 0)
	require.True(t, apierr.IsAccessDenied(err))
	vg, err := rg.VolumeGroup(sys, 0)
	require.NoError(t, err)
	require.NotNil(t, vg)
}

func TestResourceGroup_DeleteRefusedWhileInUse(t *testing.T) {
	sys := security.SystemContext()
	tx, _ := newTestTx(t)
	rg, err := NewResourceGroup(sys, tx, uuid.New(), names.MustResourceGroupName("rg1"), "", nil,
		AutoSelectFilter{LayerStack: []string{"LUKS"}})
	require.NoError(t, err)
	rd, err := NewResourceDefinition(sys, tx, uuid.New(), names.MustResourceName("rsc1"), rg, 7000, nil)
	require.NoError(t, err)
	require.Equal(t, []layer.Kind{layer.KindLuks, layer.KindStorage}, rd.LayerStack())

	require.True(t, apierr.IsValidation(rg.Delete(sys, tx)))
	require.NoError(t, rd.Delete(sys, tx))
	require.NoError(t, rg.Delete(sys, tx))
}

func newTestResource(t *testing.T, tx *txn.Tx, node *Node, rd *ResourceDefinition, ids func() int, flags ...RscFlag) *Resource {
	t.Helper()
	sys := security.SystemContext()
	nodeID, err := rd.NextNodeID()
	require.NoError(t, err)
	root, err := layer.Build(layer.StackConfig{
		Kinds:    rd.LayerStack(),
		NodeID:   nodeID,
		StorPool: names.MustStorPoolName("pool1"),
		NextID:   ids,
	})
	require.NoError(t, err)
	rsc, err := NewResource(sys, tx, uuid.New(), node, rd, flags, root)
	require.NoError(t, err)
	return rsc
}

func TestResources_NodeIDsAndConnections(t *testing.T) {
	sys := security.SystemContext()
	tx, _ := newTestTx(t)
	ids := idSource()

	rd, err := NewResourceDefinition(sys, tx, uuid.New(), names.MustResourceName("rsc1"), nil, 7000, nil)
	require.NoError(t, err)
	nodeA := NewNode(sys, tx, uuid.New(), names.MustNodeName("alpha"), NodeTypeSatellite)
	nodeB := NewNode(sys, tx, uuid.New(), names.MustNodeName("bravo"), NodeTypeSatellite)

	rscB := newTestResource(t, tx, nodeB, rd, ids)
	rscA := newTestResource(t, tx, nodeA, rd, ids, RscFlagTieBreaker)

	_, err = NewResource(sys, tx, uuid.New(), nodeA, rd, nil, layer.NewStorage(99, "", names.MustStorPoolName("x1")))
	require.True(t, apierr.IsAlreadyExists(err))

	drbdA := layer.Extract[*layer.DrbdRscData](rscA.layerData.Get())
	drbdB := layer.Extract[*layer.DrbdRscData](rscB.layerData.Get())
	require.Equal(t, names.NodeID(0), drbdB[0].NodeID())
	require.Equal(t, names.NodeID(1), drbdA[0].NodeID())

	set, err := rscA.Flags().IsSet(sys, RscFlagTieBreaker)
	require.NoError(t, err)
	require.True(t, set)

	conn, err := NewResourceConnection(sys, tx, uuid.New(), rscB, rscA)
	require.NoError(t, err)
	require.Same(t, rscA, conn.Source(), "source is the lower node name")
	_, err = NewResourceConnection(sys, tx, uuid.New(), rscA, rscB)
	require.True(t, apierr.IsAlreadyExists(err))
	_, err = NewResourceConnection(sys, tx, uuid.New(), rscA, rscA)
	require.True(t, apierr.IsValidation(err))

	require.NoError(t, rscA.Delete(sys, tx))
	c, err := rscB.Connection(sys, nodeA.Name())
	require.NoError(t, err)
	require.Nil(t, c)
	require.Equal(t, 1, rd.ResourceCount())
	require.Equal(t, 0, nodeA.ResourceCount())
}

func TestResources_RollbackUnregisters(t *testing.T) {
	sys := security.SystemContext()
	tx, _ := newTestTx(t)
	rd, err := NewResourceDefinition(sys, tx, uuid.New(), names.MustResourceName("rsc1"), nil, 0, nil)
	require.NoError(t, err)
	node := NewNode(sys, tx, uuid.New(), names.MustNodeName("alpha"), NodeTypeSatellite)
	require.NoError(t, tx.Commit(context.Background()))

	newTestResource(t, tx, node, rd, idSource())
	require.Equal(t, 1, rd.ResourceCount())
	tx.Rollback()
	require.Equal(t, 0, rd.ResourceCount())
	require.Equal(t, 0, node.ResourceCount())
}

func TestLoader_RebuildsCommittedGraph(t *testing.T) {
	sys := security.SystemContext()
	tx, d := newTestTx(t)
	ids := idSource()

	node := NewNode(sys, tx, uuid.New(), names.MustNodeName("alpha.example.com"), NodeTypeCombined)
	other := NewNode(sys, tx, uuid.New(), names.MustNodeName("bravo"), NodeTypeSatellite)
	netIfName, err := names.NewNetInterfaceName("default")
	require.NoError(t, err)
	_, err = NewNetInterface(sys, tx, uuid.New(), node, netIfName, netip.MustParseAddr("10.0.0.1"))
	require.NoError(t, err)
	NewStorPoolDefinition(sys, tx, uuid.New(), names.MustStorPoolName("pool1"))

	rg, err := NewResourceGroup(sys, tx, uuid.New(), names.MustResourceGroupName("rg1"), "desc",
		map[string]string{"a": "b"}, AutoSelectFilter{ReplicaCount: intPtr(2)})
	require.NoError(t, err)
	_, err = NewVolumeGroup(sys, tx, uuid.New(), rg, 0, map[string]string{"size": "1G"})
	require.NoError(t, err)
	rd, err := NewResourceDefinition(sys, tx, uuid.New(), names.MustResourceName("rsc1"), rg, 7001, nil)
	require.NoError(t, err)
	rscA := newTestResource(t, tx, node, rd, ids, RscFlagDiskless)
	rscB := newTestResource(t, tx, other, rd, ids)
	_, err = NewResourceConnection(sys, tx, uuid.New(), rscA, rscB)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	keys := make([]string, 0, len(d.records))
	for k := range d.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	loader := NewLoader(sys)
	for _, prefix := range RecordPrefixes {
		for _, k := range keys {
			if strings.HasPrefix(k, prefix) {
				require.NoError(t, loader.Load(k, d.records[k]))
			}
		}
	}
	g := loader.Graph()
	require.Len(t, g.Nodes, 2)
	require.Len(t, g.StorPoolDfns, 1)

	loadedNode := g.Nodes["ALPHA.EXAMPLE.COM"]
	require.NotNil(t, loadedNode)
	require.Equal(t, node.UUID(), loadedNode.UUID())
	netIf, err := loadedNode.NetInterface(sys, netIfName)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", netIf.Address().String())

	loadedRg := g.RscGrps["RG1"]
	require.Equal(t, "desc", loadedRg.Description())
	count, ok := loadedRg.autoSelect.ReplicaCount()
	require.True(t, ok)
	require.Equal(t, 2, count)
	require.True(t, loadedRg.HasResourceDefinitions())

	loadedRd := g.RscDfns["RSC1"]
	require.Same(t, loadedRg, loadedRd.ResourceGroup())
	require.Equal(t, names.TCPPort(7001), loadedRd.TCPPort())
	loadedRsc, err := loadedRd.Resource(sys, node.Name())
	require.NoError(t, err)
	set, err := loadedRsc.Flags().IsSet(sys, RscFlagDiskless)
	require.NoError(t, err)
	require.True(t, set)
	require.Equal(t, layer.ToPojo(rscA.layerData.Get()), layer.ToPojo(loadedRsc.layerData.Get()))
	require.Equal(t, layer.MaxID(rscB.layerData.Get()), loader.MaxLayerID())

	conns, err := loadedRsc.Connections(sys)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	require.Equal(t, "bravo", conns[0].Target().NodeName().Display())
}
