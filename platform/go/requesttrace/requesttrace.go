package requesttrace

import (
	"context"
	"errors"

	platformauth "github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "PALMYRA_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures request-scoped metadata recorded with provisioning runs and activations.
// UserID and Actor are only set for ActorKindUser. Actor is the operator identity that ends
// up in capability tokens and security logs (email when known, else user id).
type AuditInfo struct {
	ActorKind ActorKind
	UserID    *string
	Actor     string
	RequestID string
}

// Who returns a printable actor for logs.
func (a AuditInfo) Who() string {
	if a.Actor != "" {
		return a.Actor
	}
	return string(a.ActorKind)
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	v := ctx.Value(ctxAuditInfo)
	if v == nil {
		return AuditInfo{}, false
	}

	audit, ok := v.(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// FromCredentials builds an AuditInfo from authenticated operator credentials and a request ID.
func FromCredentials(creds *platformauth.UserCredentials, requestID string) (AuditInfo, error) {
	if creds == nil {
		return AuditInfo{}, errors.New("credentials are required to build audit info")
	}
	if creds.Id == "" {
		return AuditInfo{}, errors.New("user id is required to build audit info")
	}

	return AuditInfo{
		ActorKind: ActorKindUser,
		UserID:    &creds.Id,
		Actor:     creds.Actor(),
		RequestID: requestID,
	}, nil
}

// Anonymous builds an AuditInfo for unauthenticated requests.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for CLI and background operations. name labels the actor.
func System(requestID, name string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, Actor: name, RequestID: requestID}
}
