package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/persistence"
)

// Repository abstracts the world registry.
type Repository interface {
	List(ctx context.Context) ([]World, error)
	Get(ctx context.Context, id int64) (World, error)
	FindBySlug(ctx context.Context, slug string) (World, error)
	// InsertLive retires any live row for the same world id and inserts w as the new live row.
	InsertLive(ctx context.Context, w World) (World, error)
	SetFlag(ctx context.Context, id int64, field Field, value bool, expectedVersion *int64) (World, error)
	ToggleFlag(ctx context.Context, id int64, field Field) (World, error)
	UpdateTimes(ctx context.Context, id int64, start time.Time, roundLength int) (World, error)
	Retire(ctx context.Context, id int64) error
	// Reinstate makes a retired row live again with the given finished flag.
	Reinstate(ctx context.Context, id int64, finished bool) error
}

// Service provides world registry and provisioning operations.
type Service struct {
	repo    Repository
	deps    ProvisioningDeps
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// New constructs a Service. recorder may be nil.
func New(repo Repository, deps ProvisioningDeps, cfg Config, logger *zap.Logger, recorder *metrics.Recorder) *Service {
	if repo == nil {
		panic("game worlds repo is required")
	}
	if deps.Tree == nil || deps.DB == nil || deps.Runner == nil || deps.Locker == nil {
		panic("tree, db, runner and locker provisioning deps are required")
	}
	if strings.TrimSpace(cfg.WorldsRoot) == "" {
		panic("worlds root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		deps:    deps,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: recorder,
		now:     time.Now,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// List returns every world, newest first, including retired ones.
func (s *Service) List(ctx context.Context) ([]World, error) {
	return s.repo.List(ctx)
}

// Get returns a world by registry id.
func (s *Service) Get(ctx context.Context, id int64) (World, error) {
	return s.repo.Get(ctx, id)
}

// FindBySlug returns the live world for slug.
func (s *Service) FindBySlug(ctx context.Context, slug string) (World, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if persistence.ValidateWorldID(slug) != nil {
		return World{}, fmt.Errorf("%w: %q", ErrNotFound, slug)
	}
	return s.repo.FindBySlug(ctx, slug)
}

// WorldCheck tells whether a tree already exists for a normalized world id.
type WorldCheck struct {
	WorldID string
	Exists  bool
}

// CheckWorld lowercases raw, strips everything outside [a-z0-9-] and reports whether a tree exists.
func (s *Service) CheckWorld(ctx context.Context, raw string) (WorldCheck, error) {
	slug := persistence.StripWorldID(strings.ToLower(raw))
	if persistence.ValidateWorldID(slug) != nil {
		return WorldCheck{}, validationError("World ID must be 1-32 chars [a-z0-9-].")
	}
	exists, err := s.deps.Tree.Exists(ctx, slug)
	if err != nil {
		return WorldCheck{}, err
	}
	return WorldCheck{WorldID: slug, Exists: exists}, nil
}

// SetFlag writes value into a lifecycle flag. The write is idempotent; with expectedVersion
// it only applies when the row has not changed since the caller read it.
func (s *Service) SetFlag(ctx context.Context, id int64, field string, value bool, expectedVersion *int64) (World, error) {
	f, err := ParseField(field)
	if err != nil {
		return World{}, fmt.Errorf("%w: %q", err, field)
	}
	w, err := s.repo.SetFlag(ctx, id, f, value, expectedVersion)
	if err != nil {
		return World{}, err
	}
	s.logger.Info("world flag set", zap.Int64("world_id", id), zap.String("field", string(f)), zap.Bool("value", value))
	return w, nil
}

// ToggleFlag flips a lifecycle flag in place.
func (s *Service) ToggleFlag(ctx context.Context, id int64, field string) (World, error) {
	f, err := ParseField(field)
	if err != nil {
		return World{}, fmt.Errorf("%w: %q", err, field)
	}
	w, err := s.repo.ToggleFlag(ctx, id, f)
	if err != nil {
		return World{}, err
	}
	s.logger.Info("world flag toggled", zap.Int64("world_id", id), zap.String("field", string(f)), zap.Bool("value", flagValue(w, f)))
	return w, nil
}

func flagValue(w World, f Field) bool {
	switch f {
	case FieldFinished:
		return w.Finished
	case FieldHidden:
		return w.Hidden
	case FieldRegisterClosed:
		return w.RegisterClosed
	case FieldActivation:
		return w.Activation
	}
	return false
}

// EditTimes writes the start time and round length to the registry, then the start time to the
// world's own config row. The second write is independent; when it fails the registry already
// holds the new values and a *PartialUpdateError is returned.
func (s *Service) EditTimes(ctx context.Context, id int64, startTime string, roundLength int) (World, error) {
	var msgs []string
	start, err := ParseStartTime(startTime)
	if err != nil {
		msgs = append(msgs, "Invalid start time.")
	}
	if roundLength <= 0 {
		msgs = append(msgs, "Round length must be a positive number of days.")
	}
	if len(msgs) > 0 {
		return World{}, validationError(msgs...)
	}

	w, err := s.repo.UpdateTimes(ctx, id, start, roundLength)
	if err != nil {
		return World{}, err
	}

	if err := s.syncStartTime(ctx, w); err != nil {
		s.logger.Error("world config sync failed",
			zap.String("world", w.WorldID), zap.Int64("world_id", w.ID), zap.Error(err))
		return w, &PartialUpdateError{World: w, Cause: err}
	}
	return w, nil
}

func (s *Service) syncStartTime(ctx context.Context, w World) error {
	path, err := descriptor.Confine(s.cfg.WorldsRoot, w.ConfigFileLocation)
	if err != nil {
		if errors.Is(err, descriptor.ErrPathEscape) {
			s.logger.Warn("descriptor path escapes worlds root",
				zap.String("world", w.WorldID), zap.String("path", w.ConfigFileLocation))
		}
		return err
	}
	d, err := descriptor.Load(path)
	if err != nil {
		return err
	}
	return s.deps.DB.UpdateStartTime(ctx, d.Target(), w.StartTime.Unix())
}
