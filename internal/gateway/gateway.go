// Package gateway composes the admission pipeline every protected route goes
// through: authenticate, authorize, idempotency, budget, rate limit, execute,
// settle. Ordering matters: budget is checked before the rate limiter so a
// denied request never consumes a rate token, and the limiter never mutates
// idempotency or ledger state.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/workstream-hq/workstream/internal/audit"
	"github.com/workstream-hq/workstream/internal/costledger"
	"github.com/workstream-hq/workstream/internal/federation"
	"github.com/workstream-hq/workstream/internal/idempotency"
	"github.com/workstream-hq/workstream/internal/observability"
	"github.com/workstream-hq/workstream/internal/platform/httpx"
	"github.com/workstream-hq/workstream/internal/ratelimit"
	"github.com/workstream-hq/workstream/internal/rbac"
)

// Response headers emitted by the pipeline.
const (
	HeaderIdempotencyKey    = "X-Idempotency-Key"
	HeaderIdempotencyReplay = "X-Idempotency-Replay"
	HeaderCreditsRemaining  = "X-Credits-Remaining"
	HeaderCreditsUsed       = "X-Credits-Used"
	HeaderRateLimitLimit    = "X-RateLimit-Limit"
	HeaderRateLimitRemain   = "X-RateLimit-Remaining"
)

// maxBodyBytes caps how much request body the pipeline buffers for
// fingerprinting and replay.
const maxBodyBytes = 10 << 20

// DefaultHandlerTimeout bounds downstream execution per request.
const DefaultHandlerTimeout = 30 * time.Second

// Route declares the admission requirements of one endpoint.
type Route struct {
	// Name identifies the route in rate-limit counters, metrics and audit.
	Name string
	// Permission is the RBAC code required; empty means authenticated-only.
	Permission string
	// Preset selects the rate-limit window class.
	Preset ratelimit.Preset
	// Estimate is the pre-execution cost model. A zero estimate skips the
	// ledger entirely.
	Estimate costledger.Estimate
}

// PrincipalSource resolves the interactive principal for a request, typically
// from the session cookie. It is only consulted when no federation headers
// are present.
type PrincipalSource func(ctx context.Context, r *http.Request) (rbac.Principal, error)

// Gateway wires the admission pipeline around downstream handlers.
type Gateway struct {
	logger     *slog.Logger
	verifier   *federation.Verifier
	resolver   *rbac.Resolver
	principals PrincipalSource
	idem       idempotency.Store
	ledger     costledger.Ledger
	limiter    *ratelimit.Limiter
	auditor    audit.Recorder
	metrics    *observability.Metrics
	timeout    time.Duration
}

// Option customises Gateway construction.
type Option func(*Gateway)

// WithHandlerTimeout overrides the downstream execution deadline.
func WithHandlerTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithAudit attaches an audit recorder.
func WithAudit(rec audit.Recorder) Option {
	return func(g *Gateway) { g.auditor = rec }
}

// WithMetrics attaches admission metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New constructs a Gateway.
func New(
	logger *slog.Logger,
	verifier *federation.Verifier,
	resolver *rbac.Resolver,
	principals PrincipalSource,
	idem idempotency.Store,
	ledger costledger.Ledger,
	limiter *ratelimit.Limiter,
	opts ...Option,
) *Gateway {
	g := &Gateway{
		logger:     logger,
		verifier:   verifier,
		resolver:   resolver,
		principals: principals,
		idem:       idem,
		ledger:     ledger,
		limiter:    limiter,
		timeout:    DefaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// admission carries per-request pipeline state.
type admission struct {
	route     Route
	principal rbac.Principal
	verif     federation.Verification
	identity  string
	idemKey   string
	grant     costledger.Grant
	estimate  int64
	reserved  bool
}

// Wrap returns next guarded by the full admission pipeline.
func (g *Gateway) Wrap(route Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adm := &admission{route: route}

		if !g.authenticate(w, r, adm) {
			return
		}
		if !g.authorize(w, r, adm) {
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			g.deny(w, r, adm, http.StatusBadRequest, "Invalid Payload", "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if !g.checkIdempotency(w, r, adm, body) {
			return
		}
		if !g.reserveBudget(w, r, adm) {
			return
		}
		if !g.checkRateLimit(w, r, adm) {
			return
		}

		g.execute(w, r, adm, next)
	})
}

// authenticate establishes the acting principal, preferring federation
// signatures over the interactive session. Malformed federation headers fail
// closed instead of falling back to the session.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request, adm *admission) bool {
	adm.verif = g.verifier.Verify(r)

	switch {
	case adm.verif.OK:
		orgID, err := strconv.ParseInt(adm.verif.OrgHint, 10, 64)
		if err != nil || orgID <= 0 {
			g.deny(w, r, adm, http.StatusUnauthorized, "Unauthorized", "federation request lacks a valid org")
			return false
		}
		adm.principal = rbac.Principal{OrgID: orgID, BaseRole: rbac.BaseRoleProvider}
		adm.identity = "key:" + adm.verif.KeyID
		return true

	case adm.verif.Reason == "disabled" || adm.verif.Reason == "no federation headers":
		p, err := g.principals(r.Context(), r)
		if err != nil {
			g.deny(w, r, adm, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return false
		}
		adm.principal = p
		adm.identity = "user:" + strconv.FormatInt(p.UserID, 10)
		return true

	default:
		// Headers were present but did not verify.
		g.deny(w, r, adm, http.StatusUnauthorized, "Unauthorized", "invalid federation signature")
		return false
	}
}

func (g *Gateway) authorize(w http.ResponseWriter, r *http.Request, adm *admission) bool {
	if adm.route.Permission == "" || federation.OverridesRBAC(adm.verif) {
		return true
	}
	perms, err := g.resolver.Resolve(r.Context(), adm.principal)
	if err != nil {
		g.logger.Error("resolve permissions", slog.Any("error", err), slog.Int64("user_id", adm.principal.UserID))
		g.deny(w, r, adm, http.StatusInternalServerError, "Internal Server Error", "permission resolution failed")
		return false
	}
	if !perms.Has(adm.route.Permission) {
		g.deny(w, r, adm, http.StatusForbidden, "Forbidden", "missing permission "+adm.route.Permission)
		return false
	}
	return true
}

func (g *Gateway) checkIdempotency(w http.ResponseWriter, r *http.Request, adm *admission, body []byte) bool {
	adm.idemKey = r.Header.Get(HeaderIdempotencyKey)
	if adm.idemKey == "" {
		return true
	}

	fingerprint := idempotency.Fingerprint(r.Method, r.URL.Path, body)
	outcome, err := g.idem.Begin(r.Context(), adm.principal.OrgID, adm.idemKey, fingerprint)
	if err != nil {
		g.logger.Error("idempotency begin", slog.Any("error", err))
		g.deny(w, r, adm, http.StatusInternalServerError, "Internal Server Error", "idempotency check failed")
		return false
	}

	switch outcome.Decision {
	case idempotency.Proceed:
		return true
	case idempotency.Replay:
		g.observe(r, adm, audit.DecisionAllow, "replay")
		w.Header().Set(HeaderIdempotencyReplay, "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(outcome.StatusCode)
		_, _ = w.Write(outcome.Body)
		return false
	case idempotency.InFlight:
		w.Header().Set("Retry-After", "1")
		g.deny(w, r, adm, http.StatusAccepted, "Accepted", "an identical request is already in flight")
		return false
	default: // Conflict
		g.deny(w, r, adm, http.StatusConflict, "Conflict", "idempotency key reused with a different request")
		return false
	}
}

func (g *Gateway) reserveBudget(w http.ResponseWriter, r *http.Request, adm *admission) bool {
	adm.estimate = adm.route.Estimate.For(r.ContentLength)
	if adm.estimate <= 0 {
		return true
	}

	grant, err := g.ledger.Reserve(r.Context(), adm.principal.OrgID, adm.estimate)
	if err != nil {
		var budgetErr *costledger.BudgetError
		if errors.As(err, &budgetErr) {
			g.releaseClaim(r.Context(), adm)
			w.Header().Set(HeaderCreditsRemaining, strconv.FormatInt(budgetErr.Remaining, 10))
			g.deny(w, r, adm, http.StatusTooManyRequests, "Budget Exceeded",
				"insufficient credits, "+strconv.FormatInt(budgetErr.Remaining, 10)+" remaining")
			return false
		}
		g.logger.Error("budget reserve", slog.Any("error", err), slog.Int64("org_id", adm.principal.OrgID))
		g.releaseClaim(r.Context(), adm)
		g.deny(w, r, adm, http.StatusInternalServerError, "Internal Server Error", "budget check failed")
		return false
	}
	adm.grant = grant
	adm.reserved = true
	return true
}

func (g *Gateway) checkRateLimit(w http.ResponseWriter, r *http.Request, adm *admission) bool {
	res, err := g.limiter.Allow(r.Context(), adm.identity, adm.route.Name, adm.route.Preset)
	if err != nil {
		g.logger.Error("rate limit", slog.Any("error", err))
		g.settle(r.Context(), adm, 0)
		g.releaseClaim(r.Context(), adm)
		g.deny(w, r, adm, http.StatusInternalServerError, "Internal Server Error", "rate limit check failed")
		return false
	}
	w.Header().Set(HeaderRateLimitLimit, strconv.FormatInt(res.Limit, 10))
	w.Header().Set(HeaderRateLimitRemain, strconv.FormatInt(res.Remaining, 10))
	if !res.Allowed {
		// A rate-limited request must leave no trace: release the credit
		// reservation and re-open the idempotency key for the retry.
		g.settle(r.Context(), adm, 0)
		g.releaseClaim(r.Context(), adm)
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds()+0.5)))
		g.deny(w, r, adm, http.StatusTooManyRequests, "Rate Limited", "rate limit exceeded, retry later")
		return false
	}
	return true
}

// execute runs the downstream handler against a buffered writer under the
// configured deadline, then settles ledger and idempotency state.
func (g *Gateway) execute(w http.ResponseWriter, r *http.Request, adm *admission, next http.Handler) {
	ctx := r.Context()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ctx = ContextWithPrincipal(ctx, adm.principal)

	rec := newRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				g.logger.Error("handler panic", slog.Any("panic", p), slog.String("route", adm.route.Name))
				rec.reset()
				rec.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(rec, r.WithContext(ctx))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// The handler is abandoned; its buffered output is discarded.
		g.settle(context.WithoutCancel(r.Context()), adm, 0)
		g.failClaim(context.WithoutCancel(r.Context()), adm)
		g.deny(w, r, adm, http.StatusGatewayTimeout, "Gateway Timeout", "handler exceeded its deadline")
		return
	}

	status := rec.status()
	actual := g.actualCost(rec, adm)
	g.settle(r.Context(), adm, actual)

	if adm.idemKey != "" {
		if status < http.StatusInternalServerError {
			if err := g.idem.Commit(r.Context(), adm.principal.OrgID, adm.idemKey, status, rec.bodyBytes()); err != nil {
				g.logger.Error("idempotency commit", slog.Any("error", err))
			}
		} else {
			g.failClaim(r.Context(), adm)
		}
	}

	if status < http.StatusInternalServerError {
		g.observe(r, adm, audit.DecisionAllow, "executed")
	} else {
		g.observe(r, adm, audit.DecisionDeny, "handler error")
	}
	rec.flushTo(w)
}

// actualCost settles on what to charge: handlers may report true usage via
// X-Credits-Used; otherwise a successful run spends the estimate and a failed
// run spends nothing.
func (g *Gateway) actualCost(rec *responseRecorder, adm *admission) int64 {
	if !adm.reserved {
		return 0
	}
	if reported := rec.Header().Get(HeaderCreditsUsed); reported != "" {
		if n, err := strconv.ParseInt(reported, 10, 64); err == nil && n >= 0 {
			rec.Header().Del(HeaderCreditsUsed)
			return n
		}
	}
	if rec.status() < http.StatusInternalServerError {
		return adm.estimate
	}
	return 0
}

func (g *Gateway) settle(ctx context.Context, adm *admission, actual int64) {
	if !adm.reserved {
		return
	}
	adm.reserved = false
	if err := g.ledger.Reconcile(ctx, adm.grant.ReservationID, actual); err != nil {
		g.logger.Error("budget reconcile", slog.Any("error", err), slog.String("reservation", adm.grant.ReservationID))
	}
}

// releaseClaim re-opens a claimed idempotency key after a pre-execution
// denial so the client retry is not treated as in flight.
func (g *Gateway) releaseClaim(ctx context.Context, adm *admission) {
	g.failClaim(ctx, adm)
}

func (g *Gateway) failClaim(ctx context.Context, adm *admission) {
	if adm.idemKey == "" {
		return
	}
	if err := g.idem.Fail(ctx, adm.principal.OrgID, adm.idemKey); err != nil {
		g.logger.Error("idempotency fail", slog.Any("error", err))
	}
}

// deny writes an error response and records the decision. StatusAccepted is
// a special case: the request is neither allowed nor refused, just parked.
func (g *Gateway) deny(w http.ResponseWriter, r *http.Request, adm *admission, status int, title, detail string) {
	reason := title
	if status == http.StatusAccepted {
		g.observe(r, adm, audit.DecisionDeny, "in flight")
		httpx.JSON(w, status, map[string]string{"status": "in_flight", "detail": detail})
		return
	}
	g.observe(r, adm, audit.DecisionDeny, reason)
	httpx.Problem(w, status, title, detail)
}

func (g *Gateway) observe(r *http.Request, adm *admission, decision, reason string) {
	if g.metrics != nil {
		g.metrics.ObserveAdmission(adm.route.Name, decision)
	}
	if g.auditor == nil {
		return
	}
	event := audit.Event{
		OrgID:    adm.principal.OrgID,
		ActorID:  adm.identity,
		Action:   adm.route.Name,
		Route:    r.URL.Path,
		Decision: decision,
		Reason:   reason,
	}
	if adm.verif.OK {
		event.Meta = map[string]any{"key_id": adm.verif.KeyID, "scope": adm.verif.Scope}
	}
	if err := g.auditor.Record(context.WithoutCancel(r.Context()), event); err != nil {
		g.logger.Warn("audit record", slog.Any("error", err))
	}
}
