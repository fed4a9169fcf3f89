// Package obscontext carries correlation identifiers across request and job
// boundaries for logging and tracing.
package obscontext

import "context"

type requestIDKey struct{}
type tenantKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTenant records the tenant scope string ("project:<id>", "personal:<id>"
// or "none") for correlation fields.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

func TenantFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}
