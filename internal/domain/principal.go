package domain

import (
	"context"
	"fmt"
	"time"
)

// PrincipalID identifies an authenticated account.
type PrincipalID int64

// Role is the account role stored with the principal.
type Role string

const (
	RoleCustomer        Role = "customer"
	RolePharmacyAdmin   Role = "pharmacy_admin"
	RoleSystemAdmin     Role = "system_admin"
	RoleDeliveryPartner Role = "delivery_partner"
)

// RoleClass is the coarse grouping used to target broadcasts.
type RoleClass string

const (
	ClassCustomer RoleClass = "customer"
	ClassAdmin    RoleClass = "admin"
	ClassDelivery RoleClass = "delivery"
)

// RoleClasses lists every role class in a stable order.
var RoleClasses = []RoleClass{ClassCustomer, ClassAdmin, ClassDelivery}

// ClassForRole maps an account role onto its role class. Every role must be listed
// here explicitly; an unlisted role is an error rather than a silent customer.
func ClassForRole(role Role) (RoleClass, error) {
	switch role {
	case RoleCustomer:
		return ClassCustomer, nil
	case RolePharmacyAdmin, RoleSystemAdmin:
		return ClassAdmin, nil
	case RoleDeliveryPartner:
		return ClassDelivery, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// ParseRoleClass converts a wire or config value into a RoleClass.
// "user" is accepted as the wire name of the customer class.
func ParseRoleClass(s string) (RoleClass, bool) {
	switch s {
	case "customer", "user":
		return ClassCustomer, true
	case "admin":
		return ClassAdmin, true
	case "delivery":
		return ClassDelivery, true
	default:
		return "", false
	}
}

// WireName is the name clients see in connection_confirmed.user_type.
func (c RoleClass) WireName() string {
	if c == ClassCustomer {
		return "user"
	}
	return string(c)
}

type Principal struct {
	ID        PrincipalID
	Email     string
	FullName  string
	Role      Role
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PrincipalRepository abstracts principal persistence.
type PrincipalRepository interface {
	GetByID(ctx context.Context, id PrincipalID) (*Principal, error)
	GetByEmail(ctx context.Context, email string) (*Principal, error)
}

// TokenVerifier validates a credential token and returns its subject.
type TokenVerifier interface {
	Verify(token string) (subject string, err error)
}
