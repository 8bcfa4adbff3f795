package leads

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/workstream-hq/workstream/internal/costledger"
	"github.com/workstream-hq/workstream/internal/gateway"
	"github.com/workstream-hq/workstream/internal/platform/httpx"
	"github.com/workstream-hq/workstream/internal/ratelimit"
	"github.com/workstream-hq/workstream/internal/rbac"
	"github.com/workstream-hq/workstream/internal/shared"
)

// Handler wires HTTP endpoints for the leads module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gateway   *gateway.Gateway
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gw *gateway.Gateway) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		gateway:   gw,
		validator: validator.New(),
	}
}

// MountRoutes registers lead routes, each behind its admission profile.
func (h *Handler) MountRoutes(r chi.Router) {
	wrap := func(route gateway.Route, fn http.HandlerFunc) http.Handler {
		return h.gateway.Wrap(route, fn)
	}

	r.Method(http.MethodGet, "/", wrap(gateway.Route{
		Name:       "leads.list",
		Permission: rbac.PermLeadRead,
		Preset:     ratelimit.PresetDefault,
	}, h.handleList))

	r.Method(http.MethodGet, "/{id}", wrap(gateway.Route{
		Name:       "leads.get",
		Permission: rbac.PermLeadRead,
		Preset:     ratelimit.PresetDefault,
	}, h.handleGet))

	r.Method(http.MethodPost, "/", wrap(gateway.Route{
		Name:       "leads.create",
		Permission: rbac.PermLeadCreate,
		Preset:     ratelimit.PresetDefault,
		Estimate:   costledger.EstimateFreeMutation,
	}, h.handleCreate))

	r.Method(http.MethodPut, "/{id}", wrap(gateway.Route{
		Name:       "leads.update",
		Permission: rbac.PermLeadUpdate,
		Preset:     ratelimit.PresetDefault,
		Estimate:   costledger.EstimateFreeMutation,
	}, h.handleUpdate))

	r.Method(http.MethodPost, "/{id}/score", wrap(gateway.Route{
		Name:       "leads.score",
		Permission: rbac.PermLeadUpdate,
		Preset:     ratelimit.PresetAIHeavy,
		Estimate:   costledger.EstimateLeadScoring,
	}, h.handleScore))

	r.Method(http.MethodPost, "/import", wrap(gateway.Route{
		Name:       "leads.import",
		Permission: rbac.PermLeadCreate,
		Preset:     ratelimit.PresetBulkImport,
		Estimate:   costledger.EstimateBulkImport,
	}, h.handleImport))
}

func (h *Handler) orgID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	p, ok := gateway.PrincipalFromContext(r.Context())
	if !ok || p.OrgID <= 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing admitted principal")
		return 0, false
	}
	return p.OrgID, true
}

func leadID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	filter := ListFilter{Status: r.URL.Query().Get("status")}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		filter.Limit = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		filter.Offset = n
	}
	items, err := h.service.List(r.Context(), orgID, filter)
	if err != nil {
		h.logger.Error("list leads", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Lead{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	id, err := leadID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "lead id must be numeric")
		return
	}
	lead, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lead)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	lead, err := h.service.Create(r.Context(), orgID, in)
	if err != nil {
		h.logger.Error("create lead", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lead)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	id, err := leadID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "lead id must be numeric")
		return
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	lead, err := h.service.Update(r.Context(), orgID, id, in)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("update lead", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lead)
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	id, err := leadID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "lead id must be numeric")
		return
	}
	lead, err := h.service.Score(r.Context(), orgID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lead)
}

type importRequest struct {
	Rows []CreateInput `json:"rows" validate:"required,min=1,max=5000,dive"`
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	var in importRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	inserted, err := h.service.Import(r.Context(), orgID, in.Rows)
	if err != nil {
		h.logger.Error("import leads", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"inserted": inserted})
}
