package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/locking"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/requesttrace"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/storage"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

// Provisioning steps, as reported by ProvisioningError.Step.
const (
	StepArchive     = "archive"
	StepInstantiate = "instantiate"
	StepAssets      = "assets"
	StepEnvironment = "environment"
	StepDatabase    = "database"
	StepDescriptor  = "descriptor"
	StepRegister    = "register"
	StepFinalize    = "finalize-descriptor"
	StepSchema      = "schema"
	StepConfigRow   = "config-row"
	StepOverlay     = "overlay"
	StepInstall     = "install"
	StepUpdate      = "update"
)

var (
	descriptorRel = path.Join(tenant.IncludeDir, tenant.DescriptorFile)
	overlayRel    = path.Join(tenant.IncludeDir, tenant.OverlayFile)
	envRel        = path.Join(tenant.IncludeDir, tenant.EnvFile)
)

// Provision creates a world: archive, instantiate, database, descriptor, registry row, schema,
// config row, overlay, installer and updater, in that order and under a per-world lock.
//
// A non-zero installer or updater exit is reported through Success=false, never as an error.
// Any other failure returns a *ProvisioningError naming the step; the configured RollbackPolicy
// decides whether partial state is unwound.
func (s *Service) Provision(ctx context.Context, req ProvisionRequest) (ProvisioningResult, error) {
	started := s.now()
	audit := requesttrace.FromContextOrAnonymous(ctx)

	v, err := req.validate()
	if err != nil {
		s.metrics.ObserveProvision(metrics.ResultRejected, s.now().Sub(started))
		return ProvisioningResult{}, err
	}

	logger := s.logger.With(zap.String("world", v.WorldID), zap.String("actor", audit.Who()))

	release, err := s.deps.Locker.TryLock(ctx, "provision-"+v.WorldID)
	if err != nil {
		s.metrics.ObserveProvision(metrics.ResultRejected, s.now().Sub(started))
		if errors.Is(err, locking.ErrLocked) {
			logger.Warn("provisioning rejected: already in progress")
			return ProvisioningResult{}, fmt.Errorf("%w: %s", ErrProvisioningInProgress, v.WorldID)
		}
		return ProvisioningResult{}, fmt.Errorf("acquire provisioning lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release provisioning lock", zap.Error(err))
		}
	}()

	logger.Info("provisioning started", zap.String("rollback_policy", string(s.cfg.Rollback)))

	run := &provisionRun{s: s, req: v, logger: logger}
	step, err := run.execute(ctx)
	elapsed := s.now().Sub(started)
	if err != nil {
		perr := &ProvisioningError{Step: step, Cause: err, Result: run.result}
		if s.cfg.Rollback == RollbackRestore {
			perr.RollbackErr = run.rollback(context.WithoutCancel(ctx))
			perr.RolledBack = perr.RollbackErr == nil
		}
		logger.Error("provisioning failed",
			zap.String("step", step),
			zap.Bool("rolled_back", perr.RolledBack),
			zap.NamedError("rollback_error", perr.RollbackErr),
			zap.Error(err))
		s.metrics.ObserveProvision(metrics.ResultFailure, elapsed)
		return run.result, perr
	}

	label := metrics.ResultSuccess
	if !run.result.Success {
		label = metrics.ResultInstallerFailed
		logger.Error("installer reported failure",
			zap.Int("installer_exit", run.result.Installer.ExitCode),
			zap.Int("updater_exit", run.result.Updater.ExitCode),
			zap.String("installer_output", run.result.Installer.Output),
			zap.String("updater_output", run.result.Updater.Output))
	}
	s.metrics.ObserveProvision(label, elapsed)
	logger.Info("provisioning finished",
		zap.Bool("success", run.result.Success),
		zap.Int64("world_unique_id", run.result.WorldUniqueID),
		zap.Duration("elapsed", elapsed))
	return run.result, nil
}

// provisionRun carries one provisioning attempt and what it changed, for rollback.
type provisionRun struct {
	s      *Service
	req    validated
	logger *zap.Logger
	result ProvisioningResult

	root        string
	treeTouched bool
	dbCreated   bool
	target      worlddb.Target
	registered  *World
	superseded  *World
}

func (r *provisionRun) execute(ctx context.Context) (string, error) {
	s, req := r.s, r.req
	deps := s.deps

	r.result.GameWorldURL = tenant.GameWorldURL(req.WorldID, s.cfg.BaseDomain)

	archivedTo, err := deps.Tree.Archive(ctx, req.WorldID, s.now())
	if err != nil {
		return StepArchive, err
	}
	r.result.ArchivedTo = archivedTo
	r.treeTouched = true
	if archivedTo != "" {
		r.logger.Info("previous world tree archived", zap.String("archived_to", archivedTo))
	}

	if r.root, err = deps.Tree.Instantiate(ctx, req.WorldID); err != nil {
		return StepInstantiate, err
	}

	if deps.Assets != nil {
		prefix, err := storage.PublicPrefix(req.WorldID)
		if err != nil {
			return StepAssets, err
		}
		res, err := deps.Assets.Ensure(ctx, prefix)
		if err != nil {
			return StepAssets, err
		}
		if !res.Ready {
			return StepAssets, fmt.Errorf("public asset location %s is not ready", prefix)
		}
	}

	if err := r.writeEnvironment(ctx); err != nil {
		return StepEnvironment, err
	}

	r.target = worlddb.Target{
		Host:     req.Database.Host,
		User:     req.Database.User,
		Password: req.Database.Password,
		Database: req.Database.Name,
	}
	dbRes, err := deps.DB.Ensure(ctx, r.target)
	if err != nil {
		return StepDatabase, err
	}
	r.target.Database = dbRes.Database
	r.dbCreated = dbRes.Created
	r.result.DatabaseName = dbRes.Database

	template, err := deps.Tree.ReadFile(ctx, r.root, descriptorRel)
	if err != nil {
		return StepDescriptor, fmt.Errorf("read descriptor template: %w", err)
	}
	draft, err := descriptor.Render(string(template), descriptor.Values{
		descriptor.TokenPaymentsDisabled: false,
		descriptor.TokenTitle:            req.WorldID,
		descriptor.TokenGameWorldURL:     r.result.GameWorldURL,
		descriptor.TokenServerName:       req.ServerName,
		descriptor.TokenDatabaseHost:     r.target.Host,
		descriptor.TokenDatabaseName:     r.target.Database,
		descriptor.TokenDatabaseUser:     r.target.User,
		descriptor.TokenDatabasePassword: r.target.Password,
	})
	if err != nil {
		return StepDescriptor, err
	}
	if err := deps.Tree.WriteFile(ctx, r.root, descriptorRel, []byte(draft)); err != nil {
		return StepDescriptor, err
	}

	prev, err := s.repo.FindBySlug(ctx, req.WorldID)
	switch {
	case err == nil:
		r.superseded = &prev
	case !errors.Is(err, ErrNotFound):
		return StepRegister, err
	}

	world, err := s.repo.InsertLive(ctx, World{
		WorldID:                req.WorldID,
		Name:                   req.ServerName,
		Speed:                  req.Speed,
		GameWorldURL:           r.result.GameWorldURL,
		StartTime:              req.start,
		RoundLength:            req.RoundLength,
		PreregistrationKeyOnly: req.NeedPreregistrationCode,
		Promoted:               req.IsPromoted,
		Hidden:                 req.ServerHidden,
		Activation:             req.Activation,
		ConfigFileLocation:     tenant.DescriptorPath(r.root),
	})
	if err != nil {
		return StepRegister, err
	}
	r.registered = &world
	r.result.WorldUniqueID = world.ID
	r.logger.Info("world registered", zap.Int64("world_unique_id", world.ID))

	if err := r.finalizeDescriptor(ctx, draft, world.ID); err != nil {
		return StepFinalize, err
	}

	schemaCtx, cancel := context.WithTimeout(ctx, s.cfg.SchemaTimeout)
	statements, err := deps.DB.Import(schemaCtx, r.target, s.cfg.SchemaScript)
	cancel()
	if err != nil {
		return StepSchema, err
	}
	r.logger.Info("world schema imported", zap.Int("statements", statements))

	if err := deps.DB.SeedConfig(ctx, r.target, RuntimeConfig{
		StartTime:     req.start.Unix(),
		MapSize:       req.MapSize,
		WorldUniqueID: world.ID,
	}); err != nil {
		return StepConfigRow, err
	}

	overlay, err := yaml.Marshal(OverlayFor(req.ProvisionRequest))
	if err != nil {
		return StepOverlay, fmt.Errorf("encode overlay: %w", err)
	}
	if err := deps.Tree.WriteFile(ctx, r.root, overlayRel, overlay); err != nil {
		return StepOverlay, err
	}

	installCtx, cancel := context.WithTimeout(ctx, s.cfg.InstallTimeout)
	r.result.Installer, err = deps.Runner.Run(installCtx, r.root, s.cfg.InstallerPath, req.AdminPassword)
	cancel()
	if err != nil {
		return StepInstall, err
	}

	updateCtx, cancel := context.WithTimeout(ctx, s.cfg.InstallTimeout)
	r.result.Updater, err = deps.Runner.Run(updateCtx, r.root, s.cfg.UpdaterPath)
	cancel()
	if err != nil {
		return StepUpdate, err
	}

	r.result.Success = r.result.Installer.ExitCode == 0 && r.result.Updater.ExitCode == 0
	return "", nil
}

// writeEnvironment renders include/env.yaml when the template ships one.
func (r *provisionRun) writeEnvironment(ctx context.Context) error {
	raw, err := r.s.deps.Tree.ReadFile(ctx, r.root, envRel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	rendered, err := descriptor.Render(string(raw), descriptor.Values{descriptor.TokenIsDev: r.req.DevMode})
	if err != nil {
		return err
	}
	return r.s.deps.Tree.WriteFile(ctx, r.root, envRel, []byte(rendered))
}

// finalizeDescriptor fills the tokens that depend on the registry id and checks the round trip.
func (r *provisionRun) finalizeDescriptor(ctx context.Context, draft string, uniqueID int64) error {
	secret, err := descriptor.NewSecureHash()
	if err != nil {
		return err
	}
	final, err := descriptor.Render(draft, descriptor.Values{
		descriptor.TokenWorldID:           r.req.WorldID,
		descriptor.TokenWorldUniqueID:     uniqueID,
		descriptor.TokenGameSpeed:         r.req.Speed,
		descriptor.TokenGameStartTime:     r.req.start.Unix(),
		descriptor.TokenGameRoundLength:   r.req.RoundLength,
		descriptor.TokenSecureHash:        secret,
		descriptor.TokenAutoReinstall:     r.req.AutoReinstall,
		descriptor.TokenAutoReinstallWait: r.req.AutoReinstallStartAfter,
		descriptor.TokenEngineFilename:    r.s.cfg.EngineLabel,
	})
	if err != nil {
		return err
	}
	if err := r.s.deps.Tree.WriteFile(ctx, r.root, descriptorRel, []byte(final)); err != nil {
		return err
	}

	written, err := r.s.deps.Tree.ReadFile(ctx, r.root, descriptorRel)
	if err != nil {
		return err
	}
	parsed, err := descriptor.Parse(written)
	if err != nil {
		return err
	}
	if parsed.Settings.WorldUniqueID != uniqueID {
		return fmt.Errorf("%w: descriptor %d, registry %d", ErrIdentityMismatch, parsed.Settings.WorldUniqueID, uniqueID)
	}
	return nil
}

// rollback unwinds what this run changed. Registry rows are retired, never deleted, and the row
// this run superseded is live again; a database is dropped only when this run created it.
func (r *provisionRun) rollback(ctx context.Context) error {
	var errs []error
	if r.registered != nil {
		if err := r.s.repo.Retire(ctx, r.registered.ID); err != nil {
			errs = append(errs, fmt.Errorf("retire registry row %d: %w", r.registered.ID, err))
		} else if r.superseded != nil {
			if err := r.s.repo.Reinstate(ctx, r.superseded.ID, r.superseded.Finished); err != nil {
				errs = append(errs, fmt.Errorf("reinstate registry row %d: %w", r.superseded.ID, err))
			}
		}
	}
	if r.dbCreated {
		if err := r.s.deps.DB.Drop(ctx, r.target); err != nil {
			errs = append(errs, fmt.Errorf("drop database %s: %w", r.target.Database, err))
		}
	}
	if r.treeTouched {
		if err := r.s.deps.Tree.Restore(ctx, r.req.WorldID, r.result.ArchivedTo); err != nil {
			errs = append(errs, fmt.Errorf("restore world tree: %w", err))
		}
	}
	return errors.Join(errs...)
}
