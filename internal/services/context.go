package services

import "context"

// Identity is the authenticated caller, carried explicitly through context.
type Identity struct {
	UserID   uint
	Username string
}

// RequestMeta is the transport metadata recorded by the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

type identityKey struct{}
type requestMetaKey struct{}

// ContextWithIdentity attaches the authenticated caller.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller set by ContextWithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.Username != ""
}

// ContextWithRequestMeta attaches request metadata.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext returns metadata set by ContextWithRequestMeta, or the zero value.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}
