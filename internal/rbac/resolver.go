package rbac

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Store supplies role-assignment permission codes for a user. Backed by
// Postgres in production; tests provide stubs.
type Store interface {
	// AssignedPermissionCodes returns the permission codes granted through
	// the user's fine-grained role assignments.
	AssignedPermissionCodes(ctx context.Context, userID int64) ([]string, error)
}

// legacyGrants is the base-role fallback table. Membership mirrors the
// pre-RBAC role hierarchy and must not be derived from string matching at
// resolution time; unknown roles contribute nothing.
var legacyGrants = map[BaseRole][]string{
	BaseRoleManager: {
		PermDashboardView, PermAnalyticsRead, PermReportsRead, PermReportsCreate, PermReportsExport,
		PermLeadRead, PermLeadCreate, PermLeadUpdate, PermLeadDelete, PermLeadExport, PermLeadAssign, PermLeadConvert,
		PermJobRead, PermJobCreate, PermJobUpdate, PermJobDelete, PermJobAssign, PermJobSchedule, PermJobComplete,
		PermEmployeeRead, PermEmployeeUpdate, PermEmployeeSchedule, PermPayrollRead, PermTimeclockRead, PermTimeclockManage,
		PermTrainingRead, PermTrainingAssign, PermClientRead, PermClientCreate, PermClientUpdate, PermClientCommunicate,
		PermBillingRead, PermInvoiceRead, PermInvoiceCreate, PermInvoiceUpdate, PermPaymentRead, PermRevenueRead,
		PermScheduleRead, PermScheduleManage, PermInventoryRead, PermInventoryManage,
		PermDocumentRead, PermDocumentCreate, PermMediaRead, PermMediaUpload,
	},
	BaseRoleStaff: {
		PermDashboardView, PermLeadRead, PermLeadCreate, PermLeadUpdate,
		PermJobRead, PermJobUpdate, PermTimeclockRead, PermTrainingRead,
		PermClientRead, PermScheduleRead, PermInventoryRead,
		PermDocumentRead, PermMediaRead,
	},
	BaseRoleAccountant: {
		PermDashboardView, PermAnalyticsRead, PermReportsRead, PermReportsCreate, PermReportsExport,
		PermEmployeeRead, PermPayrollRead, PermPayrollManage, PermTimeclockRead, PermHRRead,
		PermBillingRead, PermBillingManage, PermInvoiceRead, PermInvoiceCreate, PermInvoiceUpdate, PermInvoiceDelete,
		PermPaymentRead, PermPaymentProc, PermRevenueRead, PermRevenueManage,
		PermDocumentRead, PermDocumentCreate, PermAuditRead,
	},
	BaseRoleProvider: {
		PermProviderDashboard, PermProviderBilling, PermProviderAnalytics, PermProviderSettings, PermProviderClients,
		PermAnalyticsRead, PermReportsRead, PermBillingRead, PermRevenueRead,
	},
}

// Resolver computes effective permission sets. The dev bypass identity is an
// explicit construction-time value, never read from the environment here,
// so production wiring simply passes an empty string.
type Resolver struct {
	store       Store
	bypassEmail string
	group       singleflight.Group
}

// NewResolver constructs a Resolver. bypassEmail may be empty to disable the
// development bypass entirely.
func NewResolver(store Store, bypassEmail string) *Resolver {
	return &Resolver{store: store, bypassEmail: strings.ToLower(strings.TrimSpace(bypassEmail))}
}

// IsDevBypass reports whether the email matches the configured bypass identity.
func (r *Resolver) IsDevBypass(email string) bool {
	return r.bypassEmail != "" && strings.EqualFold(strings.TrimSpace(email), r.bypassEmail)
}

// Resolve returns the effective permission set for a principal: the union of
// fine-grained role assignment codes and the legacy base-role fallback.
// Resolving the same principal twice without role changes yields equal sets.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (PermissionSet, error) {
	if r.IsDevBypass(p.Email) {
		return NewPermissionSet(AllPermissions()...), nil
	}

	key := fmt.Sprintf("perms:%d", p.UserID)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.store.AssignedPermissionCodes(ctx, p.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("rbac: resolve user %d: %w", p.UserID, err)
	}
	codes, _ := v.([]string)

	set := NewPermissionSet(codes...)
	if p.BaseRole == BaseRoleOwner {
		set.Add(AllPermissions()...)
		return set, nil
	}
	set.Add(legacyGrants[p.BaseRole]...)
	return set, nil
}
