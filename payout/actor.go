package payout

import "fmt"

// =============================================================================
// ACTOR - Who is performing a mutation
// =============================================================================

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleViewer  Role = "viewer"
)

// Actor is the opaque identity handed to the engine by the auth layer.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// SystemActor is used for repair operations that no person triggered.
var SystemActor = Actor{ID: "system", Name: "system", Role: RoleAdmin}

// Authorize decides whether actor may mutate data of a period in the given
// status. Admins are unrestricted, managers may only touch draft periods and
// viewers are read-only.
func Authorize(actor Actor, periodID PeriodID, status PeriodStatus) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleManager:
		if status == StatusDraft {
			return nil
		}
		return &PeriodLockedError{PeriodID: periodID, Status: status}
	case RoleViewer:
		return fmt.Errorf("%w: %s is read-only", ErrForbidden, actor.Name)
	}
	return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
}

// AuthorizeAdmin allows admins only.
func AuthorizeAdmin(actor Actor) error {
	if actor.Role != RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}
