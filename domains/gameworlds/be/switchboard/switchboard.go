// Package switchboard enters one world on behalf of an authenticated operator and runs a
// world-local operation inside a fresh per-activation scope.
//
// Activations run on a fixed pool of workers. Each worker caches the world handles it opened
// in lifecycle slots that are reset before and after every activation, so a worker never
// carries one world's configuration, database, cache or session into the next.
package switchboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/operations"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/session"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/authz"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/cache"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/globalconfig"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/logging"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

// DefaultPoolSize is used when Config.PoolSize is not positive.
const DefaultPoolSize = 4

// ErrForbidden is returned when the operator may not run the requested operation.
var ErrForbidden = errors.New("operation not permitted for this operator")

// Resolver finds the live registry row of a world. *service.Service implements it.
type Resolver interface {
	FindBySlug(ctx context.Context, slug string) (service.World, error)
}

// CacheOpener opens the per-activation cache store. *cache.Factory implements it.
type CacheOpener interface {
	Open(ctx context.Context, redisURL, namespace string) (cache.Store, error)
}

// Config holds the switchboard settings.
type Config struct {
	WorldsRoot         string
	GlobalSettingsPath string
	PoolSize           int
}

// Switchboard dispatches activations onto its worker pool.
type Switchboard struct {
	resolver Resolver
	opener   worlddb.Opener
	caches   CacheOpener
	ops      *operations.Registry
	authz    *authz.Authorizer
	metrics  *metrics.Recorder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	workers chan *worker
}

// Option customizes a Switchboard.
type Option func(*Switchboard)

// WithAuthorizer checks every activation against the operator's roles.
func WithAuthorizer(a *authz.Authorizer) Option { return func(s *Switchboard) { s.authz = a } }

// WithMetrics records activation counters.
func WithMetrics(r *metrics.Recorder) Option { return func(s *Switchboard) { s.metrics = r } }

// WithOperations replaces the default operation registry.
func WithOperations(r *operations.Registry) Option { return func(s *Switchboard) { s.ops = r } }

// WithCaches replaces the default cache factory.
func WithCaches(c CacheOpener) Option { return func(s *Switchboard) { s.caches = c } }

// WithClock overrides the clock used for tokens and rendering.
func WithClock(now func() time.Time) Option { return func(s *Switchboard) { s.now = now } }

// New builds a switchboard with cfg.PoolSize idle workers.
func New(resolver Resolver, opener worlddb.Opener, cfg Config, logger *zap.Logger, opts ...Option) *Switchboard {
	if resolver == nil {
		panic("world resolver is required")
	}
	if opener == nil {
		panic("database opener is required")
	}
	if cfg.WorldsRoot == "" {
		panic("worlds root is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	s := &Switchboard{
		resolver: resolver,
		opener:   opener,
		cfg:      cfg,
		logger:   logger.Named("switchboard"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ops == nil {
		s.ops = operations.Default()
	}
	if s.caches == nil {
		s.caches = cache.NewFactory()
	}

	s.workers = make(chan *worker, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		s.workers <- newWorker(i, s.logger)
	}
	return s
}

// Operations lists the names Activate accepts.
func (s *Switchboard) Operations() []string {
	return s.ops.Names()
}

// Activate runs operation inside the world named slug. Errors raised before the operation
// starts are returned; an error or panic inside the operation is rendered into the output.
func (s *Switchboard) Activate(ctx context.Context, slug, operation string) (out Output, err error) {
	start := time.Now()
	op := operations.Normalize(operation)
	defer func() {
		s.observe(op, out, err, time.Since(start))
	}()

	handler, err := s.ops.Lookup(op)
	if err != nil {
		return Output{}, err
	}
	if err := s.authorize(ctx, op); err != nil {
		return Output{}, err
	}

	world, err := s.resolver.FindBySlug(ctx, slug)
	if err != nil {
		return Output{}, err
	}

	logger := logging.FromContextOr(ctx, s.logger).With(
		zap.String("world_id", world.WorldID),
		zap.String("operation", op),
	)

	path, err := descriptor.Confine(s.cfg.WorldsRoot, world.ConfigFileLocation)
	if err != nil {
		if errors.Is(err, descriptor.ErrPathEscape) {
			logger.Warn("descriptor path rejected",
				zap.String("path", world.ConfigFileLocation),
				zap.String("actor", requesttrace.FromContextOrAnonymous(ctx).Who()),
			)
		}
		return Output{}, err
	}

	w, err := s.acquire(ctx)
	if err != nil {
		return Output{}, err
	}
	defer func() { s.workers <- w }()

	return s.run(ctx, w, world, path, op, handler, logger.With(zap.Int("worker", w.id)))
}

func (s *Switchboard) authorize(ctx context.Context, op string) error {
	if s.authz == nil {
		return nil
	}
	creds, _ := auth.UserFromContext(ctx)
	ok, err := s.authz.AllowUser(creds, authz.OperationObject(op), authz.ActionActivate)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrForbidden, op)
	}
	return nil
}

func (s *Switchboard) acquire(ctx context.Context) (*worker, error) {
	select {
	case w := <-s.workers:
		return w, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for worker: %w", ctx.Err())
	}
}

func (s *Switchboard) run(ctx context.Context, w *worker, world service.World, path, op string, handler operations.Handler, logger *zap.Logger) (Output, error) {
	if err := w.reset(); err != nil {
		logger.Error("worker not isolated", zap.Error(err))
		return Output{}, err
	}
	defer func() {
		if err := w.reset(); err != nil {
			logger.Error("worker not isolated after activation", zap.Error(err))
		}
	}()

	if err := s.enter(ctx, w, world, path, handler); err != nil {
		return Output{}, err
	}

	cfg, err := w.config.Get()
	if err != nil {
		return Output{}, err
	}
	db, err := w.db.Get()
	if err != nil {
		return Output{}, err
	}
	store, err := w.cache.Get()
	if err != nil {
		return Output{}, err
	}
	sess, err := w.session.Get()
	if err != nil {
		return Output{}, err
	}
	dispatch, err := w.dispatcher.Get()
	if err != nil {
		return Output{}, err
	}
	row, err := operations.LoadConfigRow(ctx, db)
	if err != nil {
		return Output{}, err
	}

	scope := &operations.Scope{
		World:      world,
		Descriptor: cfg.Descriptor,
		Global:     cfg.Global,
		Config:     row,
		Root:       cfg.Root,
		DB:         db,
		Cache:      store,
		Session:    sess,
		Logger:     logger,
		Now:        s.now,
	}
	ctx = tenant.WithWorld(ctx, tenant.World{
		RecordID: world.ID,
		Slug:     world.WorldID,
		Name:     world.Name,
		UniqueID: cfg.Descriptor.Settings.WorldUniqueID,
		Root:     cfg.Root,
	})
	ctx = logging.WithLogger(ctx, logger)

	out := Output{
		WorldID:    world.WorldID,
		Operation:  op,
		Breadcrumb: Breadcrumb(world.WorldID, world.Name),
	}
	stack, err := invoke(ctx, dispatch, scope)
	out.Content = scope.Out.String()
	out.Info = scope.Info.String()
	if err != nil {
		logger.Warn("operation failed", zap.Error(err))
		out.Failed = true
		out.Content += renderError(err, stack)
	}
	return out, nil
}

// enter fills the worker slots for one world: configuration, database, cache, session and
// the operation handler, in that order.
func (s *Switchboard) enter(ctx context.Context, w *worker, world service.World, path string, handler operations.Handler) error {
	d, err := descriptor.Load(path)
	if err != nil {
		return err
	}
	if d.Settings.WorldID != world.WorldID || d.Settings.WorldUniqueID != world.ID {
		return fmt.Errorf("%w: descriptor names %s/%d, registry row is %s/%d", service.ErrIdentityMismatch,
			d.Settings.WorldID, d.Settings.WorldUniqueID, world.WorldID, world.ID)
	}
	global, err := globalconfig.Load(s.cfg.GlobalSettingsPath)
	if err != nil {
		return err
	}
	root := filepath.Dir(filepath.Dir(path))
	if err := w.config.Init(worldConfig{Descriptor: d, Global: global, Root: root}, nil); err != nil {
		return err
	}

	db, err := s.opener.Open(ctx, d.Target())
	if err != nil {
		return fmt.Errorf("open world database: %w", err)
	}
	if err := w.db.Init(db, func(db *sql.DB) error { return db.Close() }); err != nil {
		_ = db.Close()
		return err
	}

	namespace := strconv.FormatInt(d.Settings.WorldUniqueID, 10)
	store, err := s.caches.Open(ctx, global.Cache.RedisURL, namespace)
	if err != nil {
		return fmt.Errorf("open world cache: %w", err)
	}
	if err := w.cache.Init(store, func(c cache.Store) error { return c.Close() }); err != nil {
		_ = store.Close()
		return err
	}

	actor := requesttrace.FromContextOrAnonymous(ctx).Who()
	if creds, ok := auth.UserFromContext(ctx); ok && creds.Actor() != "" {
		actor = creds.Actor()
	}
	sess, err := session.Establish(ctx, db, d, actor, s.now())
	if err != nil {
		return err
	}
	if err := w.session.Init(sess, nil); err != nil {
		return err
	}
	return w.dispatcher.Init(handler, nil)
}

// invoke runs h and converts a panic into an error. The stack is captured for either failure.
func invoke(ctx context.Context, h operations.Handler, scope *operations.Scope) (stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
			stack = debug.Stack()
		}
	}()
	if err = h(ctx, scope); err != nil {
		stack = debug.Stack()
	}
	return stack, err
}

func (s *Switchboard) observe(op string, out Output, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	label := op
	if _, lerr := s.ops.Lookup(op); lerr != nil {
		label = "unknown"
	}
	result := metrics.ResultSuccess
	switch {
	case err != nil && isRejection(err):
		result = metrics.ResultRejected
	case err != nil || out.Failed:
		result = metrics.ResultFailure
	}
	s.metrics.ObserveActivation(label, result, elapsed)
}

func isRejection(err error) bool {
	for _, target := range []error{
		operations.ErrOperationNotFound,
		ErrForbidden,
		service.ErrNotFound,
		descriptor.ErrPathEscape,
		session.ErrImpersonationRejected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
