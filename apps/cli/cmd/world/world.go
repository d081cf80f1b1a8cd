package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/handler"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/provisioning"
	worldsrepo "github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/repo"
	worldsservice "github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/switchboard"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/authz"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/cache"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/globalconfig"
	platformlogging "github.com/zenGate-Global/palmyra-worlds/platform/go/logging"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

// settings mirrors the API server environment so both binaries act on the same worlds.
type settings struct {
	DatabaseURL        string        `env:"DATABASE_URL"`
	WorldsRoot         string        `env:"WORLDS_ROOT"`
	TemplateRoot       string        `env:"TEMPLATE_ROOT" envDefault:"./deploy/world.tpl"`
	SchemaFile         string        `env:"SCHEMA_FILE"`
	GlobalSettingsFile string        `env:"GLOBAL_SETTINGS_FILE"`
	LockBackend        string        `env:"LOCK_BACKEND" envDefault:"local"`
	LockDir            string        `env:"LOCK_DIR" envDefault:"./.data/locks"`
	RedisURL           string        `env:"REDIS_URL"`
	RollbackPolicy     string        `env:"ROLLBACK_POLICY" envDefault:"none"`
	InstallTimeout     time.Duration `env:"INSTALL_TIMEOUT" envDefault:"10m"`
	SchemaTimeout      time.Duration `env:"SCHEMA_TIMEOUT" envDefault:"2m"`
	InstallerPath      string        `env:"INSTALLER_PATH" envDefault:"./install"`
	UpdaterPath        string        `env:"UPDATER_PATH" envDefault:"./update"`
	EngineLabel        string        `env:"ENGINE_PROCESS_LABEL" envDefault:"worlds-engine"`
	StorageBackend     string        `env:"STORAGE_BACKEND" envDefault:"local"`
	StorageBucket      string        `env:"STORAGE_BUCKET"`
	StorageLocalDir    string        `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"warn"`
}

// app is what the subcommands act on.
type app struct {
	worlds handler.Worlds
	board  handler.Activator
	close  func()
}

// opener builds the app from settings. Tests substitute fakes.
type opener func(ctx context.Context, s settings) (*app, error)

// Command groups world registry, provisioning and activation helpers.
func Command() *cobra.Command {
	return newCommand(openApp)
}

func newCommand(open opener) *cobra.Command {
	var s settings
	envErr := env.Parse(&s)

	cmd := &cobra.Command{
		Use:   "world",
		Short: "Manage game worlds (create, list, flags, times, activation)",
	}
	cmd.PersistentFlags().StringVar(&s.DatabaseURL, "database-url", s.DatabaseURL, "registry PostgreSQL connection string (defaults to $DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&s.WorldsRoot, "worlds-root", s.WorldsRoot, "directory holding the world trees (defaults to $WORLDS_ROOT)")

	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return fmt.Errorf("load environment: %w", envErr)
			}
			if s.DatabaseURL == "" {
				return errors.New("--database-url or DATABASE_URL is required")
			}
			if s.WorldsRoot == "" {
				return errors.New("--worlds-root or WORLDS_ROOT is required")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := open(ctx, s)
			if err != nil {
				return err
			}
			defer a.close()
			return run(cmd, a, args)
		}
	}

	cmd.AddCommand(
		listCommand(withApp),
		checkCommand(withApp),
		createCommand(withApp),
		toggleCommand(withApp),
		setFlagCommand(withApp),
		editTimesCommand(withApp),
		activateCommand(withApp),
	)
	return cmd
}

type runner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func openApp(ctx context.Context, s settings) (*app, error) {
	logger, err := platformlogging.NewLogger(platformlogging.Config{Component: "worlds-cli", Level: s.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      s.DatabaseURL,
		ApplicationName: "worlds-cli",
		PingTimeout:     10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}
	closers := []func(){func() { persistence.ClosePool(pool) }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		_ = logger.Sync()
	}

	fail := func(err error) (*app, error) {
		closeAll()
		return nil, err
	}

	store, err := persistence.NewGameServerStore(pool)
	if err != nil {
		return fail(fmt.Errorf("init game server store: %w", err))
	}
	global, err := globalconfig.Load(s.GlobalSettingsFile)
	if err != nil {
		return fail(err)
	}
	rollback, err := worldsservice.ParseRollbackPolicy(s.RollbackPolicy)
	if err != nil {
		return fail(err)
	}
	schema, err := provisioning.SchemaScript(s.SchemaFile)
	if err != nil {
		return fail(err)
	}

	dbOpener := worlddb.MySQLOpener{MaxOpenConns: 2}
	deps, err := provisioning.Build(ctx, provisioning.Options{
		WorldsRoot:      s.WorldsRoot,
		TemplateRoot:    s.TemplateRoot,
		LockBackend:     s.LockBackend,
		LockDir:         s.LockDir,
		RedisURL:        s.RedisURL,
		LockTTL:         provisioning.LockTTL(worldsservice.Config{InstallTimeout: s.InstallTimeout, SchemaTimeout: s.SchemaTimeout}.RunBudget()),
		StorageBackend:  s.StorageBackend,
		StorageBucket:   s.StorageBucket,
		StorageLocalDir: s.StorageLocalDir,
	}, dbOpener, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = deps.Close() })

	svc := worldsservice.New(worldsrepo.NewPostgresRepository(store), deps.ProvisioningDeps, worldsservice.Config{
		WorldsRoot:     s.WorldsRoot,
		BaseDomain:     global.BaseDomain(),
		SchemaScript:   schema,
		InstallerPath:  s.InstallerPath,
		UpdaterPath:    s.UpdaterPath,
		EngineLabel:    s.EngineLabel,
		InstallTimeout: s.InstallTimeout,
		SchemaTimeout:  s.SchemaTimeout,
		Rollback:       rollback,
	}, logger, nil)

	authorizer, err := authz.New()
	if err != nil {
		return fail(err)
	}
	caches := cache.NewFactory()
	closers = append(closers, func() { _ = caches.Close() })

	board := switchboard.New(svc, dbOpener, switchboard.Config{
		WorldsRoot:         s.WorldsRoot,
		GlobalSettingsPath: s.GlobalSettingsFile,
		PoolSize:           1,
	}, logger.With(zap.String("surface", "cli")),
		switchboard.WithAuthorizer(authorizer),
		switchboard.WithCaches(caches),
	)

	return &app{worlds: svc, board: board, close: closeAll}, nil
}
