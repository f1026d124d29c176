package objects

import (
	"cmp"
	"encoding/json"
	"slices"
	"strconv"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/layer"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
	"github.com/google/uuid"
)

// AutoSelectFilter is the wire and record form of a placement configuration.
// A nil field means "not given".
type AutoSelectFilter struct {
	ReplicaCount        *int     `json:"replicaCount,omitempty"`
	NodeNames           []string `json:"nodeNames,omitempty"`
	StorPools           []string `json:"storPools,omitempty"`
	DoNotPlaceWithRsc   []string `json:"doNotPlaceWithRsc,omitempty"`
	DoNotPlaceWithRegex *string  `json:"doNotPlaceWithRegex,omitempty"`
	ReplicasOnSame      []string `json:"replicasOnSame,omitempty"`
	ReplicasOnDifferent []string `json:"replicasOnDifferent,omitempty"`
	LayerStack          []string `json:"layerStack,omitempty"`
	Providers           []string `json:"providers,omitempty"`
	DisklessOnRemaining *bool    `json:"disklessOnRemaining,omitempty"`
}

type VolumeGroupPojo struct {
	UUID     uuid.UUID         `json:"uuid"`
	VolumeNr int               `json:"volumeNr"`
	Props    map[string]string `json:"props,omitempty"`
}

// ResourceGroupPojo is what the controller pushes to satellites.
type ResourceGroupPojo struct {
	UUID         uuid.UUID         `json:"uuid"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Props        map[string]string `json:"props,omitempty"`
	AutoSelect   AutoSelectFilter  `json:"autoSelect"`
	VolumeGroups []VolumeGroupPojo `json:"volumeGroups,omitempty"`
}

type AutoSelectorConfig struct {
	rscGrp *ResourceGroup

	replicaCount        *txn.Value[*int]
	nodeNames           *txn.Value[[]string]
	storPools           *txn.Value[[]string]
	doNotPlaceWithRsc   *txn.Value[[]string]
	doNotPlaceWithRegex *txn.Value[*string]
	replicasOnSame      *txn.Value[[]string]
	replicasOnDifferent *txn.Value[[]string]
	layerStack          *txn.Value[[]layer.Kind]
	providers           *txn.Value[[]string]
	disklessOnRemaining *txn.Value[*bool]
}

func newAutoSelectorConfig(rscGrp *ResourceGroup) *AutoSelectorConfig {
	return &AutoSelectorConfig{
		rscGrp:              rscGrp,
		replicaCount:        txn.NewValue[*int](nil, rscGrp),
		nodeNames:           txn.NewValue[[]string](nil, rscGrp),
		storPools:           txn.NewValue[[]string](nil, rscGrp),
		doNotPlaceWithRsc:   txn.NewValue[[]string](nil, rscGrp),
		doNotPlaceWithRegex: txn.NewValue[*string](nil, rscGrp),
		replicasOnSame:      txn.NewValue[[]string](nil, rscGrp),
		replicasOnDifferent: txn.NewValue[[]string](nil, rscGrp),
		layerStack:          txn.NewValue[[]layer.Kind](nil, rscGrp),
		providers:           txn.NewValue[[]string](nil, rscGrp),
		disklessOnRemaining: txn.NewValue[*bool](nil, rscGrp),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ApplyChanges copies every field present in f onto the config and leaves
// absent fields alone.
func (a *AutoSelectorConfig) ApplyChanges(accCtx security.AccessContext, tx *txn.Tx, f AutoSelectFilter) error {
	if err := a.rscGrp.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	var kinds []layer.Kind
	if f.LayerStack != nil {
		var err error
		if kinds, err = layer.ParseKinds(f.LayerStack); err != nil {
			return err
		}
	}
	if f.ReplicaCount != nil {
		if *f.ReplicaCount < 1 {
			return apierr.NewValidation("replica count", strconv.Itoa(*f.ReplicaCount), "must be at least 1")
		}
		a.replicaCount.Set(tx, clonePtr(f.ReplicaCount))
	}
	setList := func(v *txn.Value[[]string], list []string) {
		if list != nil {
			v.Set(tx, slices.Clone(list))
		}
	}
	setList(a.nodeNames, f.NodeNames)
	setList(a.storPools, f.StorPools)
	setList(a.doNotPlaceWithRsc, f.DoNotPlaceWithRsc)
	setList(a.replicasOnSame, f.ReplicasOnSame)
	setList(a.replicasOnDifferent, f.ReplicasOnDifferent)
	setList(a.providers, f.Providers)
	if f.DoNotPlaceWithRegex != nil {
		a.doNotPlaceWithRegex.Set(tx, clonePtr(f.DoNotPlaceWithRegex))
	}
	if kinds != nil {
		a.layerStack.Set(tx, kinds)
	}
	if f.DisklessOnRemaining != nil {
		a.disklessOnRemaining.Set(tx, clonePtr(f.DisklessOnRemaining))
	}
	return nil
}

// load restores a persisted filter outside of any transaction.
func (a *AutoSelectorConfig) load(f AutoSelectFilter) error {
	var kinds []layer.Kind
	if f.LayerStack != nil {
		var err error
		if kinds, err = layer.ParseKinds(f.LayerStack); err != nil {
			return err
		}
	}
	rg := a.rscGrp
	a.replicaCount = txn.NewValue(f.ReplicaCount, txn.Record(rg))
	a.nodeNames = txn.NewValue(f.NodeNames, txn.Record(rg))
	a.storPools = txn.NewValue(f.StorPools, txn.Record(rg))
	a.doNotPlaceWithRsc = txn.NewValue(f.DoNotPlaceWithRsc, txn.Record(rg))
	a.doNotPlaceWithRegex = txn.NewValue(f.DoNotPlaceWithRegex, txn.Record(rg))
	a.replicasOnSame = txn.NewValue(f.ReplicasOnSame, txn.Record(rg))
	a.replicasOnDifferent = txn.NewValue(f.ReplicasOnDifferent, txn.Record(rg))
	a.layerStack = txn.NewValue(kinds, txn.Record(rg))
	a.providers = txn.NewValue(f.Providers, txn.Record(rg))
	a.disklessOnRemaining = txn.NewValue(f.DisklessOnRemaining, txn.Record(rg))
	return nil
}

func (a *AutoSelectorConfig) ReplicaCount() (int, bool) {
	if p := a.replicaCount.Get(); p != nil {
		return *p, true
	}
	return 0, false
}

func (a *AutoSelectorConfig) LayerStack() []layer.Kind { return slices.Clone(a.layerStack.Get()) }

// Filter returns the config in its wire form.
func (a *AutoSelectorConfig) Filter() AutoSelectFilter {
	var stack []string
	if kinds := a.layerStack.Get(); kinds != nil {
		stack = layer.KindStrings(kinds)
	}
	return AutoSelectFilter{
		ReplicaCount:        clonePtr(a.replicaCount.Get()),
		NodeNames:           slices.Clone(a.nodeNames.Get()),
		StorPools:           slices.Clone(a.storPools.Get()),
		DoNotPlaceWithRsc:   slices.Clone(a.doNotPlaceWithRsc.Get()),
		DoNotPlaceWithRegex: clonePtr(a.doNotPlaceWithRegex.Get()),
		ReplicasOnSame:      slices.Clone(a.replicasOnSame.Get()),
		ReplicasOnDifferent: slices.Clone(a.replicasOnDifferent.Get()),
		LayerStack:          stack,
		Providers:           slices.Clone(a.providers.Get()),
		DisklessOnRemaining: clonePtr(a.disklessOnRemaining.Get()),
	}
}

type ResourceGroup struct {
	uuid        uuid.UUID
	name        names.ResourceGroupName
	prot        *security.ObjectProtection
	description *txn.Value[string]
	props       *txn.Map[string, string]
	autoSelect  *AutoSelectorConfig

	volumeGroups *txn.Map[names.VolumeNumber, *VolumeGroup]
	rscDfns      *txn.Map[string, *ResourceDefinition]
}

// NewResourceGroup creates a group with the given placement configuration.
// The caller registers it in the repository.
func NewResourceGroup(
	accCtx security.AccessContext,
	tx *txn.Tx,
	id uuid.UUID,
	name names.ResourceGroupName,
	description string,
	props map[string]string,
	filter AutoSelectFilter,
) (*ResourceGroup, error) {
	rg := newResourceGroup(accCtx, id, name)
	rg.description.Set(tx, description)
	rg.props.PutAll(tx, props)
	if err := rg.autoSelect.ApplyChanges(accCtx, tx, filter); err != nil {
		return nil, err
	}
	tx.Persist(rg)
	return rg, nil
}

func newResourceGroup(accCtx security.AccessContext, id uuid.UUID, name names.ResourceGroupName) *ResourceGroup {
	rg := &ResourceGroup{
		uuid: id,
		name: name,
		prot: security.NewObjectProtection(security.PathResourceGroup(name.Canonical()), accCtx),
	}
	rg.description = txn.NewValue("", txn.Record(rg))
	rg.props = txn.NewMap[string, string](rg)
	rg.autoSelect = newAutoSelectorConfig(rg)
	rg.volumeGroups = txn.NewMap[names.VolumeNumber, *VolumeGroup](nil)
	rg.rscDfns = txn.NewMap[string, *ResourceDefinition](nil)
	return rg
}

func (rg *ResourceGroup) UUID() uuid.UUID                     { return rg.uuid }
func (rg *ResourceGroup) Name() names.ResourceGroupName       { return rg.name }
func (rg *ResourceGroup) ObjProt() *security.ObjectProtection { return rg.prot }
func (rg *ResourceGroup) Description() string                 { return rg.description.Get() }

func (rg *ResourceGroup) SetDescription(accCtx security.AccessContext, tx *txn.Tx, d string) error {
	if err := rg.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	rg.description.Set(tx, d)
	return nil
}

func (rg *ResourceGroup) Props(accCtx security.AccessContext) (*txn.Map[string, string], error) {
	return requireProps(rg.prot, accCtx, rg.props)
}

// ReplaceProps clears the property map and copies props into it.
func (rg *ResourceGroup) ReplaceProps(accCtx security.AccessContext, tx *txn.Tx, props map[string]string) error {
	if err := rg.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	replaceProps(tx, rg.props, props)
	return nil
}

func (rg *ResourceGroup) AutoSelectConfig(accCtx security.AccessContext) (*AutoSelectorConfig, error) {
	if err := rg.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	return rg.autoSelect, nil
}

func (rg *ResourceGroup) VolumeGroup(accCtx security.AccessContext, nr names.VolumeNumber) (*VolumeGroup, error) {
	if err := rg.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	vg, _ := rg.volumeGroups.Get(nr)
	return vg, nil
}

// VolumeGroups returns the groups ordered by volume number.
func (rg *ResourceGroup) VolumeGroups(accCtx security.AccessContext) ([]*VolumeGroup, error) {
	if err := rg.prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	list := rg.volumeGroups.Values()
	slices.SortFunc(list, func(a, b *VolumeGroup) int { return cmp.Compare(a.volumeNr, b.volumeNr) })
	return list, nil
}

// DeleteVolumeGroup is a no-op for an unknown volume number.
func (rg *ResourceGroup) DeleteVolumeGroup(accCtx security.AccessContext, tx *txn.Tx, nr names.VolumeNumber) error {
	if err := rg.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	vg, ok := rg.volumeGroups.Get(nr)
	if !ok {
		return nil
	}
	rg.volumeGroups.Remove(tx, nr)
	tx.Delete(vg.RecordKey())
	return nil
}

func (rg *ResourceGroup) HasResourceDefinitions() bool { return rg.rscDfns.Len() > 0 }

// Delete removes the group and its volume groups. Groups still referenced by
// resource definitions are refused.
func (rg *ResourceGroup) Delete(accCtx security.AccessContext, tx *txn.Tx) error {
	if err := rg.prot.RequireAccess(accCtx, security.AccessControl); err != nil {
		return err
	}
	if rg.HasResourceDefinitions() {
		return apierr.NewValidation("resource group", rg.name.Display(), "still in use by resource definitions")
	}
	for _, vg := range rg.volumeGroups.Values() {
		rg.volumeGroups.Remove(tx, vg.volumeNr)
		tx.Delete(vg.RecordKey())
	}
	tx.Delete(rg.RecordKey())
	return nil
}

func (rg *ResourceGroup) ToPojo(accCtx security.AccessContext) (ResourceGroupPojo, error) {
	vgs, err := rg.VolumeGroups(accCtx)
	if err != nil {
		return ResourceGroupPojo{}, err
	}
	p := ResourceGroupPojo{
		UUID:        rg.uuid,
		Name:        rg.name.Display(),
		Description: rg.description.Get(),
		Props:       rg.props.Copy(),
		AutoSelect:  rg.autoSelect.Filter(),
	}
	for _, vg := range vgs {
		p.VolumeGroups = append(p.VolumeGroups, vg.toPojo())
	}
	return p, nil
}

func (rg *ResourceGroup) RecordKey() string { return "rscgrps/" + rg.name.Canonical() }

type rscGrpRecord struct {
	UUID        uuid.UUID         `json:"uuid"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Props       map[string]string `json:"props,omitempty"`
	AutoSelect  AutoSelectFilter  `json:"autoSelect"`
}

func (rg *ResourceGroup) MarshalRecord() ([]byte, error) {
	return json.Marshal(rscGrpRecord{
		UUID:        rg.uuid,
		Name:        rg.name.Display(),
		Description: rg.description.Get(),
		Props:       rg.props.Copy(),
		AutoSelect:  rg.autoSelect.Filter(),
	})
}

type VolumeGroup struct {
	uuid     uuid.UUID
	rscGrp   *ResourceGroup
	volumeNr names.VolumeNumber
	props    *txn.Map[string, string]
}

// NewVolumeGroup creates the volume group and registers it on rscGrp.
func NewVolumeGroup(
	accCtx security.AccessContext,
	tx *txn.Tx,
	id uuid.UUID,
	rscGrp *ResourceGroup,
	nr names.VolumeNumber,
	props map[string]string,
) (*VolumeGroup, error) {
	if err := rscGrp.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return nil, err
	}
	if _, exists := rscGrp.volumeGroups.Get(nr); exists {
		return nil, &apierr.AlreadyExistsError{Object: "volume group " + strconv.Itoa(int(nr)) + " of resource group " + rscGrp.name.Display()}
	}
	vg := newVolumeGroup(id, rscGrp, nr)
	vg.props.PutAll(tx, props)
	rscGrp.volumeGroups.Put(tx, nr, vg)
	tx.Persist(vg)
	return vg, nil
}

func newVolumeGroup(id uuid.UUID, rscGrp *ResourceGroup, nr names.VolumeNumber) *VolumeGroup {
	vg := &VolumeGroup{uuid: id, rscGrp: rscGrp, volumeNr: nr}
	vg.props = txn.NewMap[string, string](vg)
	return vg
}

func (vg *VolumeGroup) UUID() uuid.UUID                  { return vg.uuid }
func (vg *VolumeGroup) ResourceGroup() *ResourceGroup    { return vg.rscGrp }
func (vg *VolumeGroup) VolumeNumber() names.VolumeNumber { return vg.volumeNr }

func (vg *VolumeGroup) Props(accCtx security.AccessContext) (*txn.Map[string, string], error) {
	return requireProps(vg.rscGrp.prot, accCtx, vg.props)
}

func (vg *VolumeGroup) ReplaceProps(accCtx security.AccessContext, tx *txn.Tx, props map[string]string) error {
	if err := vg.rscGrp.prot.RequireAccess(accCtx, security.AccessChange); err != nil {
		return err
	}
	replaceProps(tx, vg.props, props)
	return nil
}

func (vg *VolumeGroup) toPojo() VolumeGroupPojo {
	return VolumeGroupPojo{UUID: vg.uuid, VolumeNr: int(vg.volumeNr), Props: vg.props.Copy()}
}

func (vg *VolumeGroup) RecordKey() string {
	return "vlmgrps/" + vg.rscGrp.name.Canonical() + "/" + vg.volumeNr.Canonical()
}

type vlmGrpRecord struct {
	UUID     uuid.UUID         `json:"uuid"`
	RscGrp   string            `json:"rscGrp"`
	VolumeNr int               `json:"volumeNr"`
	Props    map[string]string `json:"props,omitempty"`
}

func (vg *VolumeGroup) MarshalRecord() ([]byte, error) {
	return json.Marshal(vlmGrpRecord{
		UUID:     vg.uuid,
		RscGrp:   vg.rscGrp.name.Display(),
		VolumeNr: int(vg.volumeNr),
		Props:    vg.props.Copy(),
	})
}
