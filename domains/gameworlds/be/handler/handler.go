// Package handler exposes the game world registry, provisioning and world activation over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/operations"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/session"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/switchboard"
	platformauth "github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-worlds/platform/go/logging"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/middleware"
)

const (
	problemTypeValidation = "https://palmyra.pro/problems/validation-error"
	problemTypeNotFound   = "https://palmyra.pro/problems/not-found"
	problemTypeForbidden  = "https://palmyra.pro/problems/forbidden"
	problemTypeConflict   = "https://palmyra.pro/problems/conflict"
	problemTypeInternal   = "https://palmyra.pro/problems/internal-error"
	problemTypeProvision  = "https://palmyra.pro/problems/provisioning-failed"
	problemTypePartial    = "https://palmyra.pro/problems/partial-update"
	problemTypeBusy       = "https://palmyra.pro/problems/unavailable"

	maxBodyBytes = 1 << 20
)

type operation string

const (
	listOperation      operation = "worldsList"
	provisionOperation operation = "worldsProvision"
	checkOperation     operation = "worldsCheck"
	getOperation       operation = "worldsGet"
	flagOperation      operation = "worldsFlag"
	timesOperation     operation = "worldsEditTimes"
	csrfOperation      operation = "csrfToken"
	activateOperation  operation = "worldActivate"
)

// Worlds is the registry and provisioning surface. *service.Service implements it.
type Worlds interface {
	List(ctx context.Context) ([]service.World, error)
	Get(ctx context.Context, id int64) (service.World, error)
	CheckWorld(ctx context.Context, raw string) (service.WorldCheck, error)
	Provision(ctx context.Context, req service.ProvisionRequest) (service.ProvisioningResult, error)
	SetFlag(ctx context.Context, id int64, field string, value bool, expectedVersion *int64) (service.World, error)
	ToggleFlag(ctx context.Context, id int64, field string) (service.World, error)
	EditTimes(ctx context.Context, id int64, startTime string, roundLength int) (service.World, error)
}

// Activator runs world-local operations. *switchboard.Switchboard implements it.
type Activator interface {
	Activate(ctx context.Context, slug, operation string) (switchboard.Output, error)
}

// TokenIssuer hands out CSRF tokens. *middleware.CSRF implements it.
type TokenIssuer interface {
	Issue(operator string) (string, error)
}

// Handler serves the admin routes.
type Handler struct {
	worlds    Worlds
	activator Activator
	csrf      TokenIssuer
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs a Handler instance.
func New(worlds Worlds, activator Activator, csrf TokenIssuer, logger *zap.Logger) *Handler {
	if worlds == nil {
		panic("worlds service is required")
	}
	if activator == nil {
		panic("activator is required")
	}
	if csrf == nil {
		panic("csrf issuer is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{worlds: worlds, activator: activator, csrf: csrf, logger: logger, now: time.Now}
}

// Routes mounts the admin routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/worlds", h.List)
	r.Post("/worlds", h.Provision)
	r.Get("/worlds/check", h.Check)
	r.Get("/worlds/{id}", h.Get)
	r.Post("/worlds/{id}/flags", h.Flag)
	r.Put("/worlds/{id}/times", h.EditTimes)
	r.Get("/csrf-token", h.CSRFToken)
	r.Get("/world", h.Activate)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	worlds, err := h.worlds.List(r.Context())
	if err != nil {
		h.writeError(w, r, err, listOperation)
		return
	}
	items := make([]worldDTO, 0, len(worlds))
	for _, world := range worlds {
		items = append(items, toWorldDTO(world))
	}
	writeJSON(w, http.StatusOK, worldListDTO{Items: items})
}

// Provision decodes the request over the form defaults, so omitted fields keep their default.
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	req := service.DefaultProvisionRequest(h.now())
	if err := decodeJSON(r, &req); err != nil {
		h.writeProblem(w, r, provisionOperation, err, problem{
			Type: problemTypeValidation, Title: "Invalid request body", Status: http.StatusBadRequest, Detail: err.Error(),
		})
		return
	}

	result, err := h.worlds.Provision(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, provisionOperation)
		return
	}
	writeJSON(w, http.StatusCreated, toProvisioningResultDTO(result))
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var worldID string
	if err := runtime.BindQueryParameter("form", true, true, "worldId", r.URL.Query(), &worldID); err != nil {
		h.writeBindError(w, r, checkOperation, err)
		return
	}
	check, err := h.worlds.CheckWorld(r.Context(), worldID)
	if err != nil {
		h.writeError(w, r, err, checkOperation)
		return
	}
	writeJSON(w, http.StatusOK, worldCheckDTO{WorldID: check.WorldID, Exists: check.Exists})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bindID(w, r, getOperation)
	if !ok {
		return
	}
	world, err := h.worlds.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, getOperation)
		return
	}
	writeJSON(w, http.StatusOK, toWorldDTO(world))
}

// Flag sets the field when value is present and flips it otherwise. A flip with an expected
// version reads the row and writes the negated value under that version.
func (h *Handler) Flag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bindID(w, r, flagOperation)
	if !ok {
		return
	}
	var body flagRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeProblem(w, r, flagOperation, err, problem{
			Type: problemTypeValidation, Title: "Invalid request body", Status: http.StatusBadRequest, Detail: err.Error(),
		})
		return
	}

	ctx := r.Context()
	var (
		world service.World
		err   error
	)
	switch {
	case body.Value != nil:
		world, err = h.worlds.SetFlag(ctx, id, body.Field, *body.Value, body.ExpectedVersion)
	case body.ExpectedVersion != nil:
		world, err = h.flipVersioned(ctx, id, body.Field, *body.ExpectedVersion)
	default:
		world, err = h.worlds.ToggleFlag(ctx, id, body.Field)
	}
	if err != nil {
		h.writeError(w, r, err, flagOperation)
		return
	}
	writeJSON(w, http.StatusOK, toWorldDTO(world))
}

func (h *Handler) flipVersioned(ctx context.Context, id int64, field string, version int64) (service.World, error) {
	f, err := service.ParseField(field)
	if err != nil {
		return service.World{}, fmt.Errorf("%w: %q", err, field)
	}
	current, err := h.worlds.Get(ctx, id)
	if err != nil {
		return service.World{}, err
	}
	return h.worlds.SetFlag(ctx, id, field, !f.Of(current), &version)
}

func (h *Handler) EditTimes(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bindID(w, r, timesOperation)
	if !ok {
		return
	}
	var body timesRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeProblem(w, r, timesOperation, err, problem{
			Type: problemTypeValidation, Title: "Invalid request body", Status: http.StatusBadRequest, Detail: err.Error(),
		})
		return
	}

	world, err := h.worlds.EditTimes(r.Context(), id, body.StartTime, body.RoundLength)
	if err != nil {
		h.writeError(w, r, err, timesOperation)
		return
	}
	writeJSON(w, http.StatusOK, toWorldDTO(world))
}

func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	creds, ok := platformauth.UserFromContext(r.Context())
	if !ok || creds == nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	token, err := h.csrf.Issue(creds.Actor())
	if err != nil {
		h.writeError(w, r, err, csrfOperation)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, csrfTokenDTO{Token: token})
}

// Activate renders the captured output of a world-local operation. Operation failures are part
// of the page; only failures before the operation ran become problem documents.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	var (
		tenantSlug string
		opName     string
	)
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "tenant", query, &tenantSlug); err != nil {
		h.writeBindError(w, r, activateOperation, err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "operation", query, &opName); err != nil {
		h.writeBindError(w, r, activateOperation, err)
		return
	}

	out, err := h.activator.Activate(r.Context(), tenantSlug, opName)
	if err != nil {
		h.writeError(w, r, err, activateOperation)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out.HTML())
}

func (h *Handler) bindID(w http.ResponseWriter, r *http.Request, op operation) (int64, bool) {
	var id int64
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false})
	if err == nil && id < 1 {
		err = errors.New("id must be a positive integer")
	}
	if err != nil {
		h.writeBindError(w, r, op, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeBindError(w http.ResponseWriter, r *http.Request, op operation, err error) {
	h.writeProblem(w, r, op, err, problem{
		Type: problemTypeValidation, Title: "Invalid parameter", Status: http.StatusBadRequest, Detail: err.Error(),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// problem is an RFC 7807 document with the extension members this API uses.
type problem struct {
	Type       string                 `json:"type,omitempty"`
	Title      string                 `json:"title"`
	Status     int                    `json:"status"`
	Detail     string                 `json:"detail,omitempty"`
	Errors     map[string][]string    `json:"errors,omitempty"`
	Step       string                 `json:"step,omitempty"`
	RolledBack *bool                  `json:"rolledBack,omitempty"`
	Result     *provisioningResultDTO `json:"result,omitempty"`
	World      *worldDTO              `json:"world,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	h.writeProblem(w, r, op, err, classifyError(err))
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, op operation, err error, p problem) {
	logger := h.loggerFrom(r.Context())
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", p.Status),
		zap.Error(err),
	}
	if creds, ok := platformauth.UserFromContext(r.Context()); ok {
		fields = append(fields, zap.String("actor", creds.Actor()))
	}

	switch {
	case p.Status >= http.StatusInternalServerError:
		logger.Error("worlds operation failed", fields...)
	case p.Status == http.StatusForbidden:
		logger.Warn("worlds request refused", fields...)
	case p.Status == http.StatusNotFound:
		logger.Info("worlds resource not found", fields...)
	default:
		logger.Warn("worlds request rejected", fields...)
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func classifyError(err error) problem {
	var (
		validationErr *service.ValidationError
		provisionErr  *service.ProvisioningError
		partialErr    *service.PartialUpdateError
	)
	switch {
	case errors.As(err, &validationErr):
		return problem{
			Type: problemTypeValidation, Title: "Validation failed", Status: http.StatusBadRequest,
			Detail: validationErr.Error(), Errors: map[string][]string{"request": validationErr.Messages},
		}
	case errors.Is(err, service.ErrFieldNotAllowed):
		return problem{Type: problemTypeValidation, Title: "Validation failed", Status: http.StatusBadRequest, Detail: err.Error()}
	case errors.As(err, &partialErr):
		world := toWorldDTO(partialErr.World)
		return problem{Type: problemTypePartial, Title: "Partial update", Status: http.StatusInternalServerError, Detail: partialErr.Error(), World: &world}
	case errors.Is(err, middleware.ErrCSRF),
		errors.Is(err, descriptor.ErrPathEscape),
		errors.Is(err, session.ErrImpersonationRejected),
		errors.Is(err, switchboard.ErrForbidden):
		return problem{Type: problemTypeForbidden, Title: "Forbidden", Status: http.StatusForbidden, Detail: err.Error()}
	case errors.Is(err, service.ErrProvisioningInProgress),
		errors.Is(err, service.ErrVersionConflict),
		errors.Is(err, service.ErrLiveWorldExists):
		return problem{Type: problemTypeConflict, Title: "Conflict", Status: http.StatusConflict, Detail: err.Error()}
	case errors.As(err, &provisionErr):
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrTemplateMissing) {
			status = http.StatusNotFound
		}
		result := toProvisioningResultDTO(provisionErr.Result)
		rolledBack := provisionErr.RolledBack
		return problem{
			Type: problemTypeProvision, Title: "Provisioning failed", Status: status, Detail: provisionErr.Error(),
			Step: provisionErr.Step, RolledBack: &rolledBack, Result: &result,
		}
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, operations.ErrOperationNotFound),
		errors.Is(err, descriptor.ErrDescriptorMissing),
		errors.Is(err, service.ErrTemplateMissing):
		return problem{Type: problemTypeNotFound, Title: "Resource not found", Status: http.StatusNotFound, Detail: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return problem{Type: problemTypeBusy, Title: "Service unavailable", Status: http.StatusServiceUnavailable, Detail: "no worker became available in time"}
	default:
		return problem{Type: problemTypeInternal, Title: "Internal server error", Status: http.StatusInternalServerError, Detail: "an unexpected error occurred"}
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
