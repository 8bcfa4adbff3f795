package gateway

import (
	"context"

	"github.com/workstream-hq/workstream/internal/rbac"
)

type principalKey struct{}

// ContextWithPrincipal stores the admitted principal for downstream handlers.
func ContextWithPrincipal(ctx context.Context, p rbac.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal the pipeline admitted.
func PrincipalFromContext(ctx context.Context) (rbac.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(rbac.Principal)
	return p, ok
}
