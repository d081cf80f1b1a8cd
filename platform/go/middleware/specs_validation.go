package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	platformauth "github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/authz"
)

// ErrOperatorForbidden marks an authenticated operator whose roles do not grant the operation.
var ErrOperatorForbidden = errors.New("operator not allowed")

// AuthzExtension names the operation-level contract extension holding "<object>:<action>".
const AuthzExtension = "x-authz"

// ContractAuthenticator returns the AuthenticationFunc used by the contract validator for bearerAuth.
// The JWT middleware runs first, so credentials are read from the context instead of re-parsing
// the header; when the matched operation declares x-authz, the operator's roles must allow it.
func ContractAuthenticator(az *authz.Authorizer) openapi3filter.AuthenticationFunc {
	return func(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
		if input == nil || input.SecuritySchemeName != "bearerAuth" {
			return nil
		}
		rv := input.RequestValidationInput
		if rv == nil || rv.Request == nil {
			return fmt.Errorf("no request in validation input")
		}
		creds, ok := platformauth.UserFromContext(rv.Request.Context())
		if !ok || creds == nil {
			return errors.New("missing or invalid Authorization header")
		}
		if az == nil || rv.Route == nil || rv.Route.Operation == nil {
			return nil
		}
		object, action, declared := operationPermission(rv.Route.Operation)
		if !declared {
			return nil
		}
		allowed, err := az.AllowUser(creds, object, action)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s may not %s %s", ErrOperatorForbidden, creds.Actor(), action, object)
		}
		return nil
	}
}

func operationPermission(op *openapi3.Operation) (string, string, bool) {
	raw, ok := op.Extensions[AuthzExtension].(string)
	if !ok {
		return "", "", false
	}
	object, action, ok := strings.Cut(raw, ":")
	if !ok || object == "" || action == "" {
		return "", "", false
	}
	return object, action, true
}

// ContractValidator builds the oapi-codegen request validator for spec. Failures are answered
// with problem documents: 401 without credentials, 403 when casbin denies the operation,
// 400 for malformed requests.
func ContractValidator(spec *openapi3.T, az *authz.Authorizer) func(http.Handler) http.Handler {
	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: ContractAuthenticator(az),
		},
		ErrorHandlerWithOpts: writeContractError,
	})
}

func writeContractError(_ context.Context, err error, w http.ResponseWriter, _ *http.Request, opts oapimiddleware.ErrorHandlerOpts) {
	if errors.Is(err, ErrOperatorForbidden) {
		writeForbidden(w, err.Error())
		return
	}

	status := opts.StatusCode
	if status == 0 {
		status = http.StatusBadRequest
	}
	problemType := "validation-error"
	if status == http.StatusUnauthorized {
		problemType = "unauthorized"
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	detail := err.Error()
	if first, _, cut := strings.Cut(detail, "\n"); cut {
		detail = first
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"type":"https://palmyra.pro/problems/%s","title":%q,"status":%d,"detail":%q}`+"\n",
		problemType, http.StatusText(status), status, detail)
}
