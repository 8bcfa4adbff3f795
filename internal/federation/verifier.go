// Package federation verifies signed machine-to-machine requests from the
// provider portal. A valid provider-scoped signature bypasses interactive
// RBAC entirely, so verification is deliberately strict: unknown keys,
// stale timestamps and signature mismatches all fail closed.
package federation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Request headers sent by the provider portal.
const (
	HeaderKeyID     = "X-Provider-KeyId"
	HeaderTimestamp = "X-Provider-Timestamp"
	HeaderSignature = "X-Provider-Signature"
	HeaderScope     = "X-Provider-Scope"
	HeaderOrg       = "X-Provider-Org"
)

// Scope labels granted to verified callers.
const (
	// ScopeProvider carries machine-level authority and overrides RBAC.
	ScopeProvider = "provider"
	// ScopeRead authenticates the caller but still goes through the resolver.
	ScopeRead = "read"
)

// DefaultClockSkew bounds the signature replay window.
const DefaultClockSkew = 5 * time.Minute

// Verification is the non-throwing result of a federation check. OK=false
// means "not authenticated via federation"; the session path takes over.
type Verification struct {
	OK      bool
	Scope   string
	KeyID   string
	OrgHint string
	Reason  string
}

// Config controls the verifier.
type Config struct {
	Enabled bool
	// Keys maps keyId to its shared secret. Secrets are never logged.
	Keys map[string]string
	// ProviderKeyIDs lists the key ids allowed to claim provider scope.
	// Keys outside the list are downgraded to read scope.
	ProviderKeyIDs []string
	ClockSkew      time.Duration
	// AllowH31 accepts the legacy h31 rolling checksum. The checksum is not
	// cryptographically secure and must stay off outside development.
	AllowH31 bool
}

// Verifier validates federation signatures on incoming requests.
type Verifier struct {
	cfg         Config
	providerIDs map[string]struct{}
	now         func() time.Time
}

// NewVerifier constructs a Verifier from configuration.
func NewVerifier(cfg Config) *Verifier {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	ids := make(map[string]struct{}, len(cfg.ProviderKeyIDs))
	for _, id := range cfg.ProviderKeyIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	return &Verifier{cfg: cfg, providerIDs: ids, now: time.Now}
}

// Verify checks the federation headers of r. It never returns an error:
// any problem yields OK=false with a reason so the session path can proceed.
func (v *Verifier) Verify(r *http.Request) Verification {
	if !v.cfg.Enabled {
		return Verification{Reason: "disabled"}
	}

	keyID := strings.TrimSpace(r.Header.Get(HeaderKeyID))
	ts := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if keyID == "" && ts == "" && sig == "" {
		return Verification{Reason: "no federation headers"}
	}
	if keyID == "" || ts == "" || sig == "" {
		return Verification{Reason: "missing headers"}
	}

	sent, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return Verification{Reason: "bad timestamp"}
	}
	if skew := v.now().Sub(sent); skew > v.cfg.ClockSkew || skew < -v.cfg.ClockSkew {
		return Verification{Reason: "timestamp expired", KeyID: keyID}
	}

	secret, ok := v.cfg.Keys[keyID]
	if !ok || secret == "" {
		return Verification{Reason: "unknown key"}
	}

	payload := canonicalPayload(r.Method, r.URL.RequestURI(), ts)
	if !v.signatureMatches(secret, payload, sig) {
		return Verification{Reason: "bad signature", KeyID: keyID}
	}

	scope := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderScope)))
	if scope != ScopeRead {
		scope = ScopeProvider
	}
	if scope == ScopeProvider {
		if _, allowed := v.providerIDs[keyID]; !allowed {
			scope = ScopeRead
		}
	}

	return Verification{
		OK:      true,
		Scope:   scope,
		KeyID:   keyID,
		OrgHint: strings.TrimSpace(r.Header.Get(HeaderOrg)),
	}
}

// OverridesRBAC reports whether the verified caller bypasses permission checks.
func OverridesRBAC(v Verification) bool {
	return v.OK && v.Scope == ScopeProvider
}

func (v *Verifier) signatureMatches(secret, payload, sig string) bool {
	switch {
	case strings.HasPrefix(sig, "sha256:"):
		expected := SignSHA256(secret, payload)
		return hmac.Equal([]byte(sig), []byte(expected))
	case strings.HasPrefix(sig, "h31:"):
		if !v.cfg.AllowH31 {
			return false
		}
		return hmac.Equal([]byte(sig), []byte(SignH31(secret, payload)))
	default:
		return false
	}
}

func canonicalPayload(method, uri, timestamp string) string {
	return strings.ToUpper(method) + " " + uri + " " + timestamp
}

// SignSHA256 computes the production signature: HMAC-SHA256 over the
// canonical payload, hex encoded with the algorithm tag prefixed.
func SignSHA256(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return "sha256:" + hex.EncodeToString(mac.Sum(nil))
}

// SignH31 computes the legacy checksum: a 31-base rolling hash over
// payload+secret with 32-bit wraparound. Not cryptographically secure,
// retained only for low-stakes development traffic.
func SignH31(secret, payload string) string {
	var h int32
	for _, b := range []byte(payload + secret) {
		h = h*31 + int32(b)
	}
	return fmt.Sprintf("h31:%x", uint32(h))
}
