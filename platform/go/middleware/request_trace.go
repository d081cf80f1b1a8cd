package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-worlds/platform/go/logging"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/requesttrace"
)

// RequestIDHeader echoes the request ID so operators can quote it when a provisioning run fails.
const RequestIDHeader = "X-Request-Id"

// RequestTrace records who is acting on the worlds for the rest of the request.
// Runs after authentication; credentials without a user id are rejected.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := middleware.GetReqID(ctx)
		if requestID != "" {
			w.Header().Set(RequestIDHeader, requestID)
		}
		logger := platformlogging.FromContextOr(ctx, nil)

		audit := requesttrace.Anonymous(requestID)
		fields := []zap.Field{zap.String("actor_kind", string(requesttrace.ActorKindAnonymous))}
		if creds, ok := platformauth.UserFromContext(ctx); ok && creds != nil {
			var err error
			if audit, err = requesttrace.FromCredentials(creds, requestID); err != nil {
				logger.Warn("credentials without operator identity", zap.Error(err))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			fields = []zap.Field{
				zap.String("actor_kind", string(audit.ActorKind)),
				zap.String("actor", audit.Actor),
				zap.String("roles", strings.Join(creds.Roles(), ",")),
			}
		}

		ctx = requesttrace.IntoContext(ctx, audit)
		ctx = platformlogging.WithLogger(ctx, logger.With(fields...))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
