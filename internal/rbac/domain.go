package rbac

import (
	"sort"
	"strings"
)

// BaseRole is the coarse role name predating fine-grained RBAC. It is kept
// for backward-compatible grants; fine-grained role assignments union on top.
type BaseRole string

const (
	BaseRoleUnknown    BaseRole = ""
	BaseRoleOwner      BaseRole = "OWNER"
	BaseRoleManager    BaseRole = "MANAGER"
	BaseRoleStaff      BaseRole = "STAFF"
	BaseRoleAccountant BaseRole = "ACCOUNTANT"
	BaseRoleProvider   BaseRole = "PROVIDER"
)

// ParseBaseRole maps a stored role name onto the enum, case-insensitively.
// Unrecognised names map to BaseRoleUnknown and contribute no extra grants.
func ParseBaseRole(name string) BaseRole {
	switch BaseRole(strings.ToUpper(strings.TrimSpace(name))) {
	case BaseRoleOwner:
		return BaseRoleOwner
	case BaseRoleManager:
		return BaseRoleManager
	case BaseRoleStaff:
		return BaseRoleStaff
	case BaseRoleAccountant:
		return BaseRoleAccountant
	case BaseRoleProvider:
		return BaseRoleProvider
	default:
		return BaseRoleUnknown
	}
}

// Principal describes the authenticated interactive actor.
type Principal struct {
	UserID   int64
	OrgID    int64
	Email    string
	BaseRole BaseRole
}

// PermissionSet is the effective permission collection for a principal.
// Set semantics keep resolution deterministic and duplicate-free.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the given codes.
func NewPermissionSet(codes ...string) PermissionSet {
	s := make(PermissionSet, len(codes))
	s.Add(codes...)
	return s
}

// Has reports membership of a permission code.
func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Add inserts codes, ignoring empties and duplicates.
func (s PermissionSet) Add(codes ...string) {
	for _, c := range codes {
		if c == "" {
			continue
		}
		s[c] = struct{}{}
	}
}

// List returns the codes in sorted order, for stable logging and tests.
func (s PermissionSet) List() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
