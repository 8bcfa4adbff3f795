package rbac

// Permission catalog. Codes are opaque strings shared with the role seed;
// keep them in sync with the rbac_permissions table.
const (
	PermDashboardView = "dashboard:view"
	PermAnalyticsRead = "analytics:read"
	PermReportsRead   = "reports:read"
	PermReportsCreate = "reports:create"
	PermReportsExport = "reports:export"

	PermLeadRead    = "lead:read"
	PermLeadCreate  = "lead:create"
	PermLeadUpdate  = "lead:update"
	PermLeadDelete  = "lead:delete"
	PermLeadExport  = "lead:export"
	PermLeadAssign  = "lead:assign"
	PermLeadConvert = "lead:convert"

	PermJobRead     = "job:read"
	PermJobCreate   = "job:create"
	PermJobUpdate   = "job:update"
	PermJobDelete   = "job:delete"
	PermJobAssign   = "job:assign"
	PermJobSchedule = "job:schedule"
	PermJobComplete = "job:complete"

	PermClientRead        = "client:read"
	PermClientCreate      = "client:create"
	PermClientUpdate      = "client:update"
	PermClientDelete      = "client:delete"
	PermClientCommunicate = "client:communicate"

	PermBillingRead   = "billing:read"
	PermBillingManage = "billing:manage"
	PermInvoiceRead   = "invoice:read"
	PermInvoiceCreate = "invoice:create"
	PermInvoiceUpdate = "invoice:update"
	PermInvoiceDelete = "invoice:delete"
	PermPaymentRead   = "payment:read"
	PermPaymentProc   = "payment:process"
	PermRevenueRead   = "revenue:read"
	PermRevenueManage = "revenue:manage"

	PermScheduleRead    = "schedule:read"
	PermScheduleManage  = "schedule:manage"
	PermInventoryRead   = "inventory:read"
	PermInventoryManage = "inventory:manage"

	PermEmployeeRead     = "employee:read"
	PermEmployeeUpdate   = "employee:update"
	PermEmployeeSchedule = "employee:schedule"
	PermPayrollRead      = "payroll:read"
	PermPayrollManage    = "payroll:manage"
	PermTimeclockRead    = "timeclock:read"
	PermTimeclockManage  = "timeclock:manage"
	PermHRRead           = "hr:read"
	PermTrainingRead     = "training:read"
	PermTrainingAssign   = "training:assign"

	PermUserRead    = "user:read"
	PermUserCreate  = "user:create"
	PermUserUpdate  = "user:update"
	PermUserDelete  = "user:delete"
	PermRolesRead   = "roles:read"
	PermRolesManage = "roles:manage"
	PermAuditRead   = "audit:read"

	PermProviderDashboard = "provider:dashboard"
	PermProviderBilling   = "provider:billing"
	PermProviderAnalytics = "provider:analytics"
	PermProviderSettings  = "provider:settings"
	PermProviderClients   = "provider:clients"

	PermDocumentRead   = "document:read"
	PermDocumentCreate = "document:create"
	PermMediaRead      = "media:read"
	PermMediaUpload    = "media:upload"
)

// AllPermissions lists every known permission code.
func AllPermissions() []string {
	return []string{
		PermDashboardView, PermAnalyticsRead, PermReportsRead, PermReportsCreate, PermReportsExport,
		PermLeadRead, PermLeadCreate, PermLeadUpdate, PermLeadDelete, PermLeadExport, PermLeadAssign, PermLeadConvert,
		PermJobRead, PermJobCreate, PermJobUpdate, PermJobDelete, PermJobAssign, PermJobSchedule, PermJobComplete,
		PermClientRead, PermClientCreate, PermClientUpdate, PermClientDelete, PermClientCommunicate,
		PermBillingRead, PermBillingManage, PermInvoiceRead, PermInvoiceCreate, PermInvoiceUpdate, PermInvoiceDelete,
		PermPaymentRead, PermPaymentProc, PermRevenueRead, PermRevenueManage,
		PermScheduleRead, PermScheduleManage, PermInventoryRead, PermInventoryManage,
		PermEmployeeRead, PermEmployeeUpdate, PermEmployeeSchedule, PermPayrollRead, PermPayrollManage,
		PermTimeclockRead, PermTimeclockManage, PermHRRead, PermTrainingRead, PermTrainingAssign,
		PermUserRead, PermUserCreate, PermUserUpdate, PermUserDelete, PermRolesRead, PermRolesManage, PermAuditRead,
		PermProviderDashboard, PermProviderBilling, PermProviderAnalytics, PermProviderSettings, PermProviderClients,
		PermDocumentRead, PermDocumentCreate, PermMediaRead, PermMediaUpload,
	}
}
