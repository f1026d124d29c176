/*
	The object graph shared by the controller and the satellites.

	Every top level entity owns an ObjectProtection, a transactional property
	map and its entity specific fields in transactional cells. Mutators take
	the caller's AccessContext and the *txn.Tx the change belongs to, and mark
	the entity's record dirty so that Commit persists it.

	Cross references between entities (a resource on a node, a definition in a
	group) are plain pointers. Callers hold the matching locks from
	internal/locks while they follow or change them.
*/

package objects

import (
	"strings"

	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/txn"
)

func compareNames(a, b names.Name) int {
	return strings.Compare(a.Canonical(), b.Canonical())
}

// replaceProps clears dst and copies src into it.
func replaceProps(tx *txn.Tx, dst *txn.Map[string, string], src map[string]string) {
	dst.Clear(tx)
	dst.PutAll(tx, src)
}

func requireProps(prot *security.ObjectProtection, accCtx security.AccessContext, props *txn.Map[string, string]) (*txn.Map[string, string], error) {
	if err := prot.RequireAccess(accCtx, security.AccessView); err != nil {
		return nil, err
	}
	return props, nil
}
