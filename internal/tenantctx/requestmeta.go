package tenantctx

import "context"

const clientIPKey ctxKey = "mh.clientIP"

// WithClientIP stores the caller's remote address for audit attribution.
// Kept separate from TenantContext: the IP is request metadata, not identity.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP fetches the caller's remote address, empty when unknown.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok {
		return v
	}
	return ""
}
