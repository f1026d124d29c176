/*
	Capability checks for the object graph.

	An identity has a role, and every protected object has an ACL mapping
	roles to the highest access type they hold. The system role passes every
	check, so a denial under the system context is an implementation error.
*/

package security

import (
	"sync"

	"github.com/InsulaLabs/strata/internal/apierr"
)

type AccessType int

const (
	AccessView AccessType = iota + 1
	AccessUse
	AccessChange
	AccessControl
)

func (a AccessType) String() string {
	switch a {
	case AccessView:
		return "VIEW"
	case AccessUse:
		return "USE"
	case AccessChange:
		return "CHANGE"
	case AccessControl:
		return "CONTROL"
	default:
		return "NONE"
	}
}

type Role string

const (
	RoleSystem Role = "SYSTEM"
	RolePublic Role = "PUBLIC"
	RoleAdmin  Role = "ADMIN"
)

// AccessContext is the identity an operation runs as. It is passed
// explicitly through every call that touches protected objects.
type AccessContext struct {
	Identity string
	Role     Role
}

func (a AccessContext) IsSystem() bool { return a.Role == RoleSystem }

// SystemContext is the privileged identity of internal workers.
func SystemContext() AccessContext {
	return AccessContext{Identity: "SYSTEM", Role: RoleSystem}
}

func PublicContext() AccessContext {
	return AccessContext{Identity: "PUBLIC", Role: RolePublic}
}

type ObjectProtection struct {
	mu    sync.RWMutex
	path  string
	owner string
	acl   map[Role]AccessType
}

// NewObjectProtection grants the creator CONTROL. Admins get CONTROL and the
// public role VIEW unless the ACL is changed afterwards.
func NewObjectProtection(path string, creator AccessContext) *ObjectProtection {
	op := &ObjectProtection{
		path:  path,
		owner: creator.Identity,
		acl: map[Role]AccessType{
			RoleAdmin:  AccessControl,
			RolePublic: AccessView,
		},
	}
	op.acl[creator.Role] = AccessControl
	return op
}

func (op *ObjectProtection) Path() string { return op.path }
func (op *ObjectProtection) Owner() string { return op.owner }

func (op *ObjectProtection) SetAccess(accCtx AccessContext, role Role, access AccessType) error {
	if err := op.RequireAccess(accCtx, AccessControl); err != nil {
		return err
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if access == 0 {
		delete(op.acl, role)
		return nil
	}
	op.acl[role] = access
	return nil
}

func (op *ObjectProtection) HasAccess(accCtx AccessContext, requested AccessType) bool {
	if accCtx.IsSystem() {
		return true
	}
	op.mu.RLock()
	defer op.mu.RUnlock()
	if accCtx.Identity != "" && accCtx.Identity == op.owner {
		return true
	}
	granted, ok := op.acl[accCtx.Role]
	return ok && granted >= requested
}

// RequireAccess is the AccessGate: nil on permit, *apierr.AccessDeniedError
// otherwise.
func (op *ObjectProtection) RequireAccess(accCtx AccessContext, requested AccessType) error {
	if op.HasAccess(accCtx, requested) {
		return nil
	}
	return &apierr.AccessDeniedError{
		Identity:  accCtx.Identity,
		Requested: requested.String(),
		Object:    op.path,
	}
}

// Paths used for object protections.

func PathNodes() string { return "/sys/controller/nodes" }
func PathResourceDefinitions() string { return "/sys/controller/rscdfns" }
func PathResourceGroups() string { return "/sys/controller/rscgrps" }
func PathStorPoolDefinitions() string { return "/sys/controller/storpooldfns" }

func PathNode(name string) string { return "/nodes/" + name }
func PathResourceDefinition(name string) string { return "/rscdfns/" + name }
func PathResourceGroup(name string) string { return "/rscgrps/" + name }
func PathStorPoolDefinition(name string) string { return "/storpooldfns/" + name }
