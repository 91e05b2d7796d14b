package enums

import "fmt"

// OperatorRole scopes what an authenticated back-office user may do.
type OperatorRole string

const (
	OperatorRoleViewer   OperatorRole = "viewer"
	OperatorRoleOperator OperatorRole = "operator"
	OperatorRoleAdmin    OperatorRole = "admin"
)

var validOperatorRoles = []OperatorRole{
	OperatorRoleViewer,
	OperatorRoleOperator,
	OperatorRoleAdmin,
}

// String implements fmt.Stringer.
func (r OperatorRole) String() string {
	return string(r)
}

// IsValid reports whether the role is recognized.
func (r OperatorRole) IsValid() bool {
	for _, candidate := range validOperatorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanMutate reports whether the role may change invoices, vendors or payments.
func (r OperatorRole) CanMutate() bool {
	return r == OperatorRoleOperator || r == OperatorRoleAdmin
}

// ParseOperatorRole converts raw input into an OperatorRole.
func ParseOperatorRole(value string) (OperatorRole, error) {
	for _, candidate := range validOperatorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operator role %q", value)
}
