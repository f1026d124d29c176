package repository

import (
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/objects"
	"github.com/InsulaLabs/strata/internal/security"
)

type (
	NodeRepository               = Repository[names.NodeName, *objects.Node]
	ResourceDefinitionRepository = Repository[names.ResourceName, *objects.ResourceDefinition]
	ResourceGroupRepository      = Repository[names.ResourceGroupName, *objects.ResourceGroup]
	StorPoolDefinitionRepository = Repository[names.StorPoolName, *objects.StorPoolDefinition]
)

func NewNodeRepository(creator security.AccessContext) *NodeRepository {
	return New(security.NewObjectProtection(security.PathNodes(), creator), (*objects.Node).Name)
}

func NewResourceDefinitionRepository(creator security.AccessContext) *ResourceDefinitionRepository {
	return New(security.NewObjectProtection(security.PathResourceDefinitions(), creator), (*objects.ResourceDefinition).Name)
}

func NewResourceGroupRepository(creator security.AccessContext) *ResourceGroupRepository {
	return New(security.NewObjectProtection(security.PathResourceGroups(), creator), (*objects.ResourceGroup).Name)
}

func NewStorPoolDefinitionRepository(creator security.AccessContext) *StorPoolDefinitionRepository {
	return New(security.NewObjectProtection(security.PathStorPoolDefinitions(), creator), (*objects.StorPoolDefinition).Name)
}

// Set bundles the repositories of one process.
type Set struct {
	Nodes        *NodeRepository
	RscDfns      *ResourceDefinitionRepository
	RscGrps      *ResourceGroupRepository
	StorPoolDfns *StorPoolDefinitionRepository
}

func NewSet(creator security.AccessContext) *Set {
	return &Set{
		Nodes:        NewNodeRepository(creator),
		RscDfns:      NewResourceDefinitionRepository(creator),
		RscGrps:      NewResourceGroupRepository(creator),
		StorPoolDfns: NewStorPoolDefinitionRepository(creator),
	}
}
