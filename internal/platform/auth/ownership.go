package auth

import (
	"context"

	"github.com/carebook/carebook/internal/platform/apperr"
)

// OwnershipAuthorizer allows a caller to act on a resource when they own it.
// Admins and staff act on anyone's behalf.
type OwnershipAuthorizer struct{}

// Authorize returns an Unauthorized error unless the caller is one of
// ownerUserIDs or holds an elevated role.
func (OwnershipAuthorizer) Authorize(ctx context.Context, ownerUserIDs ...string) error {
	roles := RolesFromContext(ctx)
	if HasRole(roles, RoleStaff) {
		return nil
	}
	uid := UserIDFromContext(ctx)
	if uid != "" {
		for _, owner := range ownerUserIDs {
			if owner != "" && owner == uid {
				return nil
			}
		}
	}
	return apperr.New(apperr.KindUnauthorized, "caller does not own this resource")
}
