package gateway_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workstream-hq/workstream/internal/costledger"
	"github.com/workstream-hq/workstream/internal/federation"
	"github.com/workstream-hq/workstream/internal/gateway"
	"github.com/workstream-hq/workstream/internal/idempotency"
	"github.com/workstream-hq/workstream/internal/ratelimit"
	"github.com/workstream-hq/workstream/internal/rbac"
	_ "github.com/workstream-hq/workstream/testing"
)

type stubPermStore struct {
	codes []string
	err   error
}

func (s *stubPermStore) AssignedPermissionCodes(ctx context.Context, userID int64) ([]string, error) {
	return s.codes, s.err
}

type gwEnv struct {
	gw     *gateway.Gateway
	ledger *costledger.MemLedger
	idem   *idempotency.MemStore
}

const (
	testOrgID     = int64(3)
	testSecret    = "portal-secret"
	testKeyID     = "portal-1"
	testReadKeyID = "portal-ro"
)

func sessionPrincipal(ctx context.Context, r *http.Request) (rbac.Principal, error) {
	return rbac.Principal{UserID: 7, OrgID: testOrgID, Email: "user@test.local"}, nil
}

func noPrincipal(ctx context.Context, r *http.Request) (rbac.Principal, error) {
	return rbac.Principal{}, io.EOF
}

func newEnv(t *testing.T, principals gateway.PrincipalSource, perms []string, opts ...gateway.Option) *gwEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	limiter := ratelimit.NewLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	verifier := federation.NewVerifier(federation.Config{
		Enabled:        true,
		Keys:           map[string]string{testKeyID: testSecret, testReadKeyID: testSecret},
		ProviderKeyIDs: []string{testKeyID},
	})
	resolver := rbac.NewResolver(&stubPermStore{codes: perms}, "")
	ledger := costledger.NewMemLedger(100_000, 100_000)
	idem := idempotency.NewMemStore(0, 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &gwEnv{
		gw:     gateway.New(logger, verifier, resolver, principals, idem, ledger, limiter, opts...),
		ledger: ledger,
		idem:   idem,
	}
}

func scoreRoute() gateway.Route {
	return gateway.Route{
		Name:       "leads.score",
		Permission: rbac.PermLeadUpdate,
		Preset:     ratelimit.Preset{Name: "test", Limit: 100, Window: time.Minute},
		Estimate:   costledger.Estimate{Feature: "lead_scoring", Base: 10, PerKB: 2},
	}
}

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func signRequest(req *http.Request, keyID, scope, org string) {
	ts := time.Now().UTC().Format(time.RFC3339)
	payload := strings.ToUpper(req.Method) + " " + req.URL.RequestURI() + " " + ts
	req.Header.Set(federation.HeaderKeyID, keyID)
	req.Header.Set(federation.HeaderTimestamp, ts)
	req.Header.Set(federation.HeaderSignature, federation.SignSHA256(testSecret, payload))
	req.Header.Set(federation.HeaderScope, scope)
	req.Header.Set(federation.HeaderOrg, org)
}

func TestSessionRequestExecutes(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, postJSON("/api/leads/1/score", `{"note":"x"}`))

	assert.Equal(t, http.StatusCreated, res.Code)
	assert.Equal(t, `{"id":1}`, res.Body.String())
	assert.Equal(t, int64(1), calls.Load())
}

func TestUnauthenticatedRejected(t *testing.T) {
	env := newEnv(t, noPrincipal, []string{rbac.PermLeadUpdate})
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, postJSON("/api/leads/1/score", `{}`))

	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Zero(t, calls.Load())
}

func TestMissingPermissionRejected(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadRead})
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, postJSON("/api/leads/1/score", `{}`))

	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Zero(t, calls.Load())

	_, _, spent := env.ledger.Snapshot(testOrgID)
	assert.Zero(t, spent, "denied request must not consume credits")
}

func TestProviderSignatureBypassesRBAC(t *testing.T) {
	env := newEnv(t, noPrincipal, nil)
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	req := postJSON("/api/leads/1/score", `{}`)
	signRequest(req, testKeyID, federation.ScopeProvider, "3")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, int64(1), calls.Load())
}

func TestReadScopeStillNeedsPermission(t *testing.T) {
	env := newEnv(t, noPrincipal, nil)
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	// Key outside the provider allowlist is downgraded to read scope and the
	// provider base role does not grant lead updates.
	req := postJSON("/api/leads/1/score", `{}`)
	signRequest(req, testReadKeyID, federation.ScopeProvider, "3")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Zero(t, calls.Load())
}

func TestBadSignatureDoesNotFallBackToSession(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	req := postJSON("/api/leads/1/score", `{}`)
	signRequest(req, testKeyID, federation.ScopeProvider, "3")
	req.Header.Set(federation.HeaderSignature, "sha256:deadbeef")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Zero(t, calls.Load())
}

func TestReplayExecutesOnce(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"score":82}`))
	}))

	first := httptest.NewRecorder()
	req1 := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req1.Header.Set(gateway.HeaderIdempotencyKey, "op-1")
	h.ServeHTTP(first, req1)
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	req2 := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req2.Header.Set(gateway.HeaderIdempotencyKey, "op-1")
	h.ServeHTTP(second, req2)

	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, `{"score":82}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(gateway.HeaderIdempotencyReplay))
	assert.Equal(t, int64(1), calls.Load(), "replay must not re-execute the handler")

	_, _, spent := env.ledger.Snapshot(testOrgID)
	assert.Equal(t, int64(12), spent, "replay must not re-charge credits")
}

func TestConflictNeverExecutes(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	req1 := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req1.Header.Set(gateway.HeaderIdempotencyKey, "op-2")
	h.ServeHTTP(first, req1)
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	req2 := postJSON("/api/leads/1/score", `{"note":"different"}`)
	req2.Header.Set(gateway.HeaderIdempotencyKey, "op-2")
	h.ServeHTTP(second, req2)

	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, int64(1), calls.Load())
}

func TestBudgetDenialSkipsHandler(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	env.ledger.SetBalance(testOrgID, 5)
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	res := httptest.NewRecorder()
	req := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req.Header.Set(gateway.HeaderIdempotencyKey, "op-3")
	h.ServeHTTP(res, req)

	assert.Equal(t, http.StatusTooManyRequests, res.Code)
	assert.Equal(t, "5", res.Header().Get(gateway.HeaderCreditsRemaining))
	assert.Zero(t, calls.Load())

	// The denied attempt must release its idempotency claim so a retry
	// after a top-up can execute.
	env.ledger.SetBalance(testOrgID, 1000)
	retry := httptest.NewRecorder()
	req2 := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req2.Header.Set(gateway.HeaderIdempotencyKey, "op-3")
	h.ServeHTTP(retry, req2)
	assert.Equal(t, http.StatusOK, retry.Code)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRateLimitLeavesNoTrace(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	route := scoreRoute()
	route.Preset = ratelimit.Preset{Name: "tight", Limit: 1, Window: time.Minute}
	var calls atomic.Int64
	h := env.gw.Wrap(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, postJSON("/api/leads/1/score", `{"note":"x"}`))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	req := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req.Header.Set(gateway.HeaderIdempotencyKey, "op-4")
	h.ServeHTTP(second, req)

	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, int64(1), calls.Load())

	_, reserved, spent := env.ledger.Snapshot(testOrgID)
	assert.Zero(t, reserved, "rate-limited request must release its reservation")
	assert.Equal(t, int64(12), spent, "only the executed request spends credits")
}

func TestHandlerErrorReleasesEverything(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	req := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req.Header.Set(gateway.HeaderIdempotencyKey, "op-5")
	h.ServeHTTP(first, req)
	require.Equal(t, http.StatusInternalServerError, first.Code)

	_, reserved, spent := env.ledger.Snapshot(testOrgID)
	assert.Zero(t, reserved)
	assert.Zero(t, spent, "failed execution spends nothing")

	fail.Store(false)
	retry := httptest.NewRecorder()
	req2 := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req2.Header.Set(gateway.HeaderIdempotencyKey, "op-5")
	h.ServeHTTP(retry, req2)
	assert.Equal(t, http.StatusOK, retry.Code)
	assert.Equal(t, int64(2), calls.Load(), "failed attempt may be retried")
}

func TestReportedCostOverridesEstimate(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(gateway.HeaderCreditsUsed, "3")
		w.WriteHeader(http.StatusOK)
	}))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, postJSON("/api/leads/1/score", `{"note":"x"}`))

	require.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, res.Header().Get(gateway.HeaderCreditsUsed), "internal header must be stripped")
	_, reserved, spent := env.ledger.Snapshot(testOrgID)
	assert.Zero(t, reserved)
	assert.Equal(t, int64(3), spent)
}

func TestConcurrentDuplicatesExecuteOnce(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"score":82}`))
	}))

	const workers = 8
	codes := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := httptest.NewRecorder()
			req := postJSON("/api/leads/1/score", `{"note":"x"}`)
			req.Header.Set(gateway.HeaderIdempotencyKey, "op-6")
			h.ServeHTTP(res, req)
			codes[i] = res.Code
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "duplicates must collapse to one execution")
	for _, code := range codes {
		assert.Contains(t, []int{http.StatusCreated, http.StatusAccepted}, code)
	}
}

func TestHandlerTimeoutFailsClaim(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate},
		gateway.WithHandlerTimeout(30*time.Millisecond))
	var calls atomic.Int64
	h := env.gw.Wrap(scoreRoute(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if calls.Load() == 1 {
			<-r.Context().Done()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	req := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req.Header.Set(gateway.HeaderIdempotencyKey, "op-7")
	h.ServeHTTP(first, req)
	assert.Equal(t, http.StatusGatewayTimeout, first.Code)

	_, reserved, _ := env.ledger.Snapshot(testOrgID)
	assert.Zero(t, reserved, "timeout must release the reservation")

	retry := httptest.NewRecorder()
	req2 := postJSON("/api/leads/1/score", `{"note":"x"}`)
	req2.Header.Set(gateway.HeaderIdempotencyKey, "op-7")
	h.ServeHTTP(retry, req2)
	assert.Equal(t, http.StatusOK, retry.Code)
}

func TestZeroEstimateSkipsLedger(t *testing.T) {
	env := newEnv(t, sessionPrincipal, []string{rbac.PermLeadUpdate})
	env.ledger.SetBalance(testOrgID, 0)
	route := scoreRoute()
	route.Estimate = costledger.Estimate{Feature: "mutation", Base: 0}
	h := env.gw.Wrap(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, postJSON("/api/leads/1/score", `{}`))
	assert.Equal(t, http.StatusOK, res.Code, "free mutations are admitted on an empty budget")
}
