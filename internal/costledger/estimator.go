package costledger

// Estimate describes the conservative pre-execution cost of a route.
// PerKB scales with request size for token-consuming AI routes; rounding is
// always upward so concurrent admission cannot overrun the budget.
type Estimate struct {
	Feature string
	Base    int64
	PerKB   int64
}

// For computes the credits to reserve for a request body of the given size.
func (e Estimate) For(contentLength int64) int64 {
	cost := e.Base
	if e.PerKB > 0 && contentLength > 0 {
		kb := (contentLength + 1023) / 1024
		cost += kb * e.PerKB
	}
	return cost
}

// Per-feature estimates. Values mirror the platform credit table; AI routes
// carry a size component on top of the base.
var (
	EstimateLeadScoring       = Estimate{Feature: "lead_scoring", Base: 10, PerKB: 2}
	EstimateLeadEnrichment    = Estimate{Feature: "contact_enrichment", Base: 15, PerKB: 2}
	EstimateEstimateDraft     = Estimate{Feature: "estimate_draft", Base: 20, PerKB: 3}
	EstimateFollowUpDraft     = Estimate{Feature: "follow_up_draft", Base: 15, PerKB: 3}
	EstimateRouteOptimizer    = Estimate{Feature: "route_optimizer", Base: 25, PerKB: 2}
	EstimateInboxAgent        = Estimate{Feature: "inbox_agent", Base: 20, PerKB: 3}
	EstimateCollectionsAgent  = Estimate{Feature: "collections_agent", Base: 20, PerKB: 3}
	EstimateMarketingAgent    = Estimate{Feature: "marketing_agent", Base: 25, PerKB: 3}
	EstimateSchedulingAgent   = Estimate{Feature: "scheduling_agent", Base: 20, PerKB: 2}
	EstimateDispatchAgent     = Estimate{Feature: "dispatch_agent", Base: 20, PerKB: 2}
	EstimateEmailSend         = Estimate{Feature: "email_send", Base: 1}
	EstimateSMSSend           = Estimate{Feature: "sms_send", Base: 2}
	EstimateFileUpload        = Estimate{Feature: "file_upload", Base: 5, PerKB: 1}
	EstimateBulkImport        = Estimate{Feature: "bulk_import", Base: 5, PerKB: 1}
	EstimateExternalAPICall   = Estimate{Feature: "external_api", Base: 10}
	EstimateFreeMutation      = Estimate{Feature: "mutation", Base: 0}
)
