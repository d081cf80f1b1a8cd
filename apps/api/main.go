package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-worlds/contracts"
	worldshandler "github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/handler"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/provisioning"
	worldsrepo "github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/repo"
	worldsservice "github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/switchboard"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/authz"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/cache"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/globalconfig"
	platformlogging "github.com/zenGate-Global/palmyra-worlds/platform/go/logging"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/metrics"
	platformmiddleware "github.com/zenGate-Global/palmyra-worlds/platform/go/middleware"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "worlds-api",
		Level:     cfg.LogLevel,
		File:      cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		ApplicationName: "worlds-api",
		PingTimeout:     10 * time.Second,
	})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	store, err := persistence.NewGameServerStore(pool)
	if err != nil {
		logger.Fatal("init game server store", zap.Error(err))
	}

	global, err := globalconfig.Load(cfg.GlobalSettingsFile)
	if err != nil {
		logger.Fatal("load global settings", zap.Error(err))
	}
	rollback, err := worldsservice.ParseRollbackPolicy(cfg.RollbackPolicy)
	if err != nil {
		logger.Fatal("invalid ROLLBACK_POLICY", zap.Error(err))
	}
	schema, err := provisioning.SchemaScript(cfg.SchemaFile)
	if err != nil {
		logger.Fatal("load world schema", zap.Error(err))
	}

	requestTimeout, lockTTL := cfg.runTimeouts()
	if requestTimeout != cfg.RequestTimeout {
		logger.Warn("REQUEST_TIMEOUT raised to cover a provisioning run",
			zap.Duration("configured", cfg.RequestTimeout),
			zap.Duration("effective", requestTimeout),
		)
	}

	opener := worlddb.MySQLOpener{MaxOpenConns: 4, ConnMaxLifetime: 5 * time.Minute}
	deps, err := provisioning.Build(ctx, provisioning.Options{
		WorldsRoot:      cfg.WorldsRoot,
		TemplateRoot:    cfg.TemplateRoot,
		LockBackend:     cfg.LockBackend,
		LockDir:         cfg.LockDir,
		RedisURL:        cfg.RedisURL,
		LockTTL:         lockTTL,
		StorageBackend:  cfg.StorageBackend,
		StorageBucket:   cfg.StorageBucket,
		StorageLocalDir: cfg.StorageLocalDir,
	}, opener, logger.Named("provisioning"))
	if err != nil {
		logger.Fatal("init provisioning", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("close provisioning clients", zap.Error(err))
		}
	}()

	recorder := metrics.New()
	worldService := worldsservice.New(
		worldsrepo.NewPostgresRepository(store),
		deps.ProvisioningDeps,
		worldsservice.Config{
			WorldsRoot:     cfg.WorldsRoot,
			BaseDomain:     global.BaseDomain(),
			SchemaScript:   schema,
			InstallerPath:  cfg.InstallerPath,
			UpdaterPath:    cfg.UpdaterPath,
			EngineLabel:    cfg.EngineLabel,
			InstallTimeout: cfg.InstallTimeout,
			SchemaTimeout:  cfg.SchemaTimeout,
			Rollback:       rollback,
		},
		logger.Named("worlds"),
		recorder,
	)

	authorizer, err := authz.New()
	if err != nil {
		logger.Fatal("init authorizer", zap.Error(err))
	}

	caches := cache.NewFactory()
	defer func() {
		if err := caches.Close(); err != nil {
			logger.Warn("close cache clients", zap.Error(err))
		}
	}()
	board := switchboard.New(worldService, opener, switchboard.Config{
		WorldsRoot:         cfg.WorldsRoot,
		GlobalSettingsPath: cfg.GlobalSettingsFile,
		PoolSize:           cfg.WorkerPoolSize,
	}, logger,
		switchboard.WithAuthorizer(authorizer),
		switchboard.WithMetrics(recorder),
		switchboard.WithCaches(caches),
	)

	csrf := platformmiddleware.NewCSRF([]byte(cfg.CSRFSecret))

	spec, err := contracts.LoadWorlds()
	if err != nil {
		logger.Fatal("load worlds contract", zap.Error(err))
	}

	router := newRouter(routerDeps{
		Logger:         logger,
		Spec:           spec,
		Authenticate:   buildAuthMiddleware(ctx, cfg, logger),
		Authorizer:     authorizer,
		CSRF:           csrf,
		Worlds:         worldshandler.New(worldService, board, csrf, logger.Named("http")),
		Metrics:        recorder,
		Ready:          pool.Ping,
		RequestTimeout: requestTimeout,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: requestTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server",
			zap.String("port", cfg.Port),
			zap.Strings("operations", board.Operations()),
			zap.String("rollback", string(rollback)),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
