// Package identity models the resolved caller of an operation.
package identity

import (
	"fmt"
	"strings"

	"kilnguard/api/internal/rbac"
)

// Jurisdiction is the administrative area an approver is responsible for.
type Jurisdiction struct {
	District string
	Sector   string
}

func (j Jurisdiction) Empty() bool {
	return strings.TrimSpace(j.District) == "" || strings.TrimSpace(j.Sector) == ""
}

// Matches compares both parts ignoring case and surrounding whitespace.
func (j Jurisdiction) Matches(district, sector string) bool {
	if j.Empty() {
		return false
	}
	return normalize(j.District) == normalize(district) && normalize(j.Sector) == normalize(sector)
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Account is one of Operator, Approver or Admin.
type Account interface {
	ID() string
	Name() string
	Role() rbac.Role
}

type Operator struct {
	UserID      string
	DisplayName string
	Email       string
}

func (o Operator) ID() string      { return o.UserID }
func (o Operator) Name() string    { return o.DisplayName }
func (o Operator) Role() rbac.Role { return rbac.RoleOperator }

type Approver struct {
	UserID       string
	DisplayName  string
	Email        string
	Jurisdiction Jurisdiction
}

func (a Approver) ID() string      { return a.UserID }
func (a Approver) Name() string    { return a.DisplayName }
func (a Approver) Role() rbac.Role { return rbac.RoleApprover }

type Admin struct {
	UserID      string
	DisplayName string
	Email       string
}

func (a Admin) ID() string      { return a.UserID }
func (a Admin) Name() string    { return a.DisplayName }
func (a Admin) Role() rbac.Role { return rbac.RoleAdmin }

// FromRecord builds the variant for a stored role.
func FromRecord(id, name, email, role, district, sector string) (Account, error) {
	switch rbac.Normalize(role) {
	case rbac.RoleOperator:
		return Operator{UserID: id, DisplayName: name, Email: email}, nil
	case rbac.RoleApprover:
		return Approver{
			UserID:       id,
			DisplayName:  name,
			Email:        email,
			Jurisdiction: Jurisdiction{District: strings.TrimSpace(district), Sector: strings.TrimSpace(sector)},
		}, nil
	case rbac.RoleAdmin:
		return Admin{UserID: id, DisplayName: name, Email: email}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

// JurisdictionOf returns the jurisdiction for approvers.
func JurisdictionOf(account Account) (Jurisdiction, bool) {
	approver, ok := account.(Approver)
	if !ok {
		return Jurisdiction{}, false
	}
	return approver.Jurisdiction, true
}
