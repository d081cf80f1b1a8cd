package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/locking"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/requesttrace"
)

const descriptorTemplate = `paymentFeaturesTotallyDisabled: [PAYMENT_FEATURES_TOTALLY_DISABLED]
title: [TITLE]
gameWorldUrl: [GAME_WORLD_URL]
serverName: [GAME_SERVER_NAME]
database:
  hostname: [DATABASE_HOST]
  database: [DATABASE_DATABASE]
  username: [DATABASE_USERNAME]
  password: [DATABASE_PASSWORD]
  charset: utf8mb4
settings:
  worldId: [SETTINGS_WORLD_ID]
  worldUniqueId: [SETTINGS_WORLD_UNIQUE_ID]
  secureHash: [SECURE_HASH_CODE]
  engineFilename: [ENGINE_FILENAME]
game:
  speed: [GAME_SPEED]
  startTime: [GAME_START_TIME]
  roundLength: [GAME_ROUND_LENGTH]
autoReinstall:
  enabled: [AUTO_REINSTALL]
  startAfter: [AUTO_REINSTALL_START_AFTER]
`

var fixedNow = time.Date(2024, 12, 31, 22, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *inMemoryRepo
	tree    *memTree
	db      *stubDB
	assets  *stubAssets
	runner  *stubRunner
	locker  *locking.LocalLocker
	metrics *metrics.Recorder
}

func newFixture(t *testing.T, policy RollbackPolicy) *fixture {
	t.Helper()

	locker, err := locking.NewLocalLocker(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		repo: newInMemoryRepo(),
		tree: newMemTree("/srv/worlds", map[string]string{
			"include/connection.yaml": descriptorTemplate,
			"include/env.yaml":        "isDev: [IS_DEV]\n",
		}),
		db:      &stubDB{created: true},
		assets:  &stubAssets{res: AssetProvisionResult{Ready: true}},
		runner:  &stubRunner{},
		locker:  locker,
		metrics: metrics.New(),
	}
	f.svc = New(f.repo, ProvisioningDeps{
		Tree:   f.tree,
		DB:     f.db,
		Assets: f.assets,
		Runner: f.runner,
		Locker: f.locker,
	}, Config{
		WorldsRoot:   "/srv/worlds",
		BaseDomain:   "example.com",
		SchemaScript: "CREATE TABLE config (id int); CREATE TABLE users (id int);",
		Rollback:     policy,
	}, zaptest.NewLogger(t), f.metrics)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

// provisionCount reads worlds_provision_total{result} from the recorder's registry.
func provisionCount(t *testing.T, rec *metrics.Recorder, result string) float64 {
	t.Helper()

	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "worlds_provision_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func validRequest() ProvisionRequest {
	req := DefaultProvisionRequest(fixedNow)
	req.WorldID = "s9"
	req.ServerName = "Speed 9"
	req.StartTime = "2025-01-01T00:00"
	req.Database = DatabaseInput{Host: "db", User: "root", Password: "secret"}
	req.AdminPassword = "hunter22"
	return req
}

func TestProvisionSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackNone)
	ctx := requesttrace.IntoContext(context.Background(), requesttrace.System("req-1", "test"))

	req := validRequest()
	req.WorldID = "  S9 "
	req.DevMode = true
	req.BuyTroops = true
	req.BuyTroopsInterval = 600
	req.ProtectionHours = 12

	res, err := f.svc.Provision(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(1), res.WorldUniqueID)
	require.Equal(t, "http://s9.example.com/", res.GameWorldURL)
	require.Equal(t, "worlds_s9", res.DatabaseName)
	require.Empty(t, res.ArchivedTo)
	require.Equal(t, "./install ok\n", res.Installer.Output)

	world, err := f.svc.FindBySlug(ctx, "s9")
	require.NoError(t, err)
	require.Equal(t, "Speed 9", world.Name)
	require.Equal(t, int64(50000), world.Speed)
	require.Equal(t, 7, world.RoundLength)
	require.True(t, world.StartTime.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "/srv/worlds/s9/include/connection.yaml", world.ConfigFileLocation)

	d, err := descriptor.Parse([]byte(f.tree.file("/srv/worlds/s9/include/connection.yaml")))
	require.NoError(t, err)
	require.Equal(t, world.ID, d.Settings.WorldUniqueID)
	require.Equal(t, "s9", d.Title)
	require.Equal(t, "worlds_s9", d.Database.Database)
	require.Equal(t, int64(1735689600), d.Game.StartTime)
	require.Equal(t, DefaultEngineLabel, d.Settings.EngineFilename)
	require.Len(t, d.Settings.SecureHash, 64)

	require.Equal(t, "isDev: true\n", f.tree.file("/srv/worlds/s9/include/env.yaml"))

	var overlay Overlay
	require.NoError(t, yaml.Unmarshal([]byte(f.tree.file("/srv/worlds/s9/include/config.custom.yaml")), &overlay))
	require.Equal(t, 3600, overlay.Gold.StartGold)
	require.Equal(t, 12*3600, overlay.Game.ProtectionTime)
	require.Equal(t, Purchase{Enabled: true, BuyInterval: 600}, overlay.ExtraSettings.BuyTroops)
	require.True(t, overlay.ExtraSettings.GeneralOptions.BuyAdventure.Enabled)

	require.True(t, f.db.importTimed)
	require.Equal(t, []RuntimeConfig{{StartTime: 1735689600, MapSize: 100, WorldUniqueID: 1}}, f.db.seeded)
	require.Equal(t, []string{"worlds/s9/public/"}, f.assets.prefixes)

	require.Len(t, f.runner.calls, 2)
	require.Equal(t, runCall{dir: "/srv/worlds/s9", name: DefaultInstallerPath, args: []string{"hunter22"}, deadline: true}, f.runner.calls[0])
	require.Equal(t, DefaultUpdaterPath, f.runner.calls[1].name)
	require.Empty(t, f.runner.calls[1].args)

	require.Equal(t, 1.0, provisionCount(t, f.metrics, metrics.ResultSuccess))
}

func TestProvisionArchivesExistingTree(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackNone)
	ctx := context.Background()

	first, err := f.svc.Provision(ctx, validRequest())
	require.NoError(t, err)

	second, err := f.svc.Provision(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, "/srv/worlds/s9.archived-20241231T220000Z", second.ArchivedTo)
	require.Greater(t, second.WorldUniqueID, first.WorldUniqueID)

	live, err := f.svc.FindBySlug(ctx, "s9")
	require.NoError(t, err)
	require.Equal(t, second.WorldUniqueID, live.ID)

	previous, err := f.svc.Get(ctx, first.WorldUniqueID)
	require.NoError(t, err)
	require.True(t, previous.Archived)
	require.True(t, previous.Finished)
}

func TestProvisionValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*ProvisionRequest)
		want   []string
	}{
		{name: "uppercase is lowered", mutate: func(r *ProvisionRequest) { r.WorldID = "S-9" }},
		{name: "empty slug", mutate: func(r *ProvisionRequest) { r.WorldID = "" }, want: []string{"World ID must be 1-32 chars [a-z0-9-].", "Field 'db_name' is required."}},
		{name: "slug with dot", mutate: func(r *ProvisionRequest) { r.WorldID = "s.9" }, want: []string{"World ID must be 1-32 chars [a-z0-9-].", "Field 'db_name' is required."}},
		{name: "slug too long", mutate: func(r *ProvisionRequest) { r.WorldID = strings.Repeat("a", 33) }, want: []string{"World ID must be 1-32 chars [a-z0-9-].", "Field 'db_name' is required."}},
		{name: "missing server name", mutate: func(r *ProvisionRequest) { r.ServerName = "  " }, want: []string{"Server name is required."}},
		{name: "missing db host and user", mutate: func(r *ProvisionRequest) { r.Database.Host, r.Database.User = "", "" }, want: []string{"Field 'db_host' is required.", "Field 'db_user' is required."}},
		{name: "db name sanitizes to nothing", mutate: func(r *ProvisionRequest) { r.Database.Name = "--" }, want: []string{"Database name must contain letters, digits or underscores."}},
		{name: "short password", mutate: func(r *ProvisionRequest) { r.AdminPassword = "12345" }, want: []string{"Admin password is required and must be at least 6 characters."}},
		{name: "zero speed", mutate: func(r *ProvisionRequest) { r.Speed = 0 }, want: []string{"Speed, round length and map size must be positive."}},
		{name: "negative map size", mutate: func(r *ProvisionRequest) { r.MapSize = -1 }, want: []string{"Speed, round length and map size must be positive."}},
		{name: "bad start time", mutate: func(r *ProvisionRequest) { r.StartTime = "2025-13-01T00:00" }, want: []string{"Invalid start time."}},
		{name: "start time with seconds", mutate: func(r *ProvisionRequest) { r.StartTime = "2025-01-01T00:00:00Z" }, want: []string{"Invalid start time."}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tt.want, verr.Messages)
		})
	}
}

func TestProvisionRejectsBeforeSideEffects(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackRestore)

	req := validRequest()
	req.WorldID = "../etc"
	_, err := f.svc.Provision(context.Background(), req)
	require.ErrorIs(t, err, ErrValidation)

	require.Empty(t, f.tree.files)
	require.Empty(t, f.db.targets)
	require.Empty(t, f.runner.calls)
	list, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
	require.Equal(t, 1.0, provisionCount(t, f.metrics, metrics.ResultRejected))
}

func TestProvisionInProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackNone)
	ctx := context.Background()

	release, err := f.locker.TryLock(ctx, "provision-s9")
	require.NoError(t, err)

	_, err = f.svc.Provision(ctx, validRequest())
	require.ErrorIs(t, err, ErrProvisioningInProgress)
	require.Empty(t, f.tree.files)

	require.NoError(t, release(ctx))
	_, err = f.svc.Provision(ctx, validRequest())
	require.NoError(t, err)
}

func TestProvisionInstallerNonZeroExit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackRestore)
	f.runner.outputs = map[string]StepOutput{DefaultInstallerPath: {ExitCode: 3, Output: "admin exists\n"}}

	res, err := f.svc.Provision(context.Background(), validRequest())
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, 3, res.Installer.ExitCode)
	require.Equal(t, "admin exists\n", res.Installer.Output)
	require.Len(t, f.runner.calls, 2, "updater still runs")

	require.Empty(t, f.repo.retired)
	require.Empty(t, f.db.dropped)
	require.Empty(t, f.tree.restored)
	require.Equal(t, 1.0, provisionCount(t, f.metrics, metrics.ResultInstallerFailed))
}

func TestProvisionFailureWithoutRollback(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackNone)
	f.db.importErr = errors.New("syntax error at line 3")

	res, err := f.svc.Provision(context.Background(), validRequest())
	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, StepSchema, perr.Step)
	require.False(t, perr.RolledBack)
	require.Equal(t, int64(1), res.WorldUniqueID)
	require.Contains(t, err.Error(), "syntax error")

	require.Empty(t, f.repo.retired)
	require.Empty(t, f.db.dropped)
	require.Empty(t, f.tree.restored)
	require.Empty(t, f.runner.calls)
	require.Equal(t, 1.0, provisionCount(t, f.metrics, metrics.ResultFailure))
}

func TestProvisionFailureWithRestore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackRestore)
	ctx := context.Background()

	first, err := f.svc.Provision(ctx, validRequest())
	require.NoError(t, err)

	f.db.created = false
	f.runner.errs = map[string]error{DefaultInstallerPath: context.DeadlineExceeded}

	res, err := f.svc.Provision(ctx, validRequest())
	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, StepInstall, perr.Step)
	require.True(t, perr.RolledBack)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Equal(t, []int64{res.WorldUniqueID}, f.repo.retired)
	require.Empty(t, f.db.dropped, "pre-existing database is kept")
	require.Equal(t, []string{"s9<-" + res.ArchivedTo}, f.tree.restored)

	live, err := f.svc.FindBySlug(ctx, "s9")
	require.NoError(t, err, "restored world stays activatable")
	require.Equal(t, first.WorldUniqueID, live.ID)
	require.False(t, live.Archived)
	require.False(t, live.Finished)
}

func TestProvisionRestoreDropsCreatedDatabase(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackRestore)
	f.db.seedErr = errors.New("table config missing")

	_, err := f.svc.Provision(context.Background(), validRequest())
	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, StepConfigRow, perr.Step)
	require.Equal(t, []string{"worlds_s9"}, f.db.dropped)
	require.Equal(t, []string{"s9<-"}, f.tree.restored)
}

func TestProvisionTemplateMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackNone)
	f.tree.template = nil

	_, err := f.svc.Provision(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrTemplateMissing)
	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, StepInstantiate, perr.Step)
}

func TestProvisionAssetsNotReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackNone)
	f.assets.res = AssetProvisionResult{Ready: false}

	_, err := f.svc.Provision(context.Background(), validRequest())
	var perr *ProvisioningError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, StepAssets, perr.Step)
	require.Empty(t, f.db.targets)
}

func TestFlags(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackNone)
	ctx := context.Background()
	res, err := f.svc.Provision(ctx, validRequest())
	require.NoError(t, err)
	id := res.WorldUniqueID

	for _, field := range []string{"finished", "hidden", "registerClosed", "activation"} {
		before, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		once, err := f.svc.ToggleFlag(ctx, id, field)
		require.NoError(t, err)
		twice, err := f.svc.ToggleFlag(ctx, id, field)
		require.NoError(t, err)
		require.Equal(t, flagValue(before, Field(field)), flagValue(twice, Field(field)), field)
		require.NotEqual(t, flagValue(before, Field(field)), flagValue(once, Field(field)), field)
	}

	for _, field := range []string{"archived", "name", "register_closed", ""} {
		_, err := f.svc.ToggleFlag(ctx, id, field)
		require.ErrorIs(t, err, ErrFieldNotAllowed, field)
		_, err = f.svc.SetFlag(ctx, id, field, true, nil)
		require.ErrorIs(t, err, ErrFieldNotAllowed, field)
	}

	w, err := f.svc.SetFlag(ctx, id, "hidden", true, nil)
	require.NoError(t, err)
	again, err := f.svc.SetFlag(ctx, id, "hidden", true, nil)
	require.NoError(t, err)
	require.True(t, again.Hidden)

	stale := w.RowVersion
	_, err = f.svc.SetFlag(ctx, id, "hidden", false, &stale)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestCheckWorld(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RollbackNone)
	ctx := context.Background()
	_, err := f.svc.Provision(ctx, validRequest())
	require.NoError(t, err)

	check, err := f.svc.CheckWorld(ctx, " S9!")
	require.NoError(t, err)
	require.Equal(t, WorldCheck{WorldID: "s9", Exists: true}, check)

	check, err = f.svc.CheckWorld(ctx, "s10")
	require.NoError(t, err)
	require.False(t, check.Exists)

	_, err = f.svc.CheckWorld(ctx, "!!")
	require.ErrorIs(t, err, ErrValidation)
}

// writeDescriptor renders a complete descriptor under worldsRoot/<slug>/include.
func writeDescriptor(t *testing.T, worldsRoot, slug string, uniqueID int64) string {
	t.Helper()

	first, err := descriptor.Render(descriptorTemplate, descriptor.Values{
		descriptor.TokenPaymentsDisabled: false,
		descriptor.TokenTitle:            slug,
		descriptor.TokenGameWorldURL:     "http://" + slug + ".example.com/",
		descriptor.TokenServerName:       "World " + slug,
		descriptor.TokenDatabaseHost:     "db",
		descriptor.TokenDatabaseName:     "worlds_" + slug,
		descriptor.TokenDatabaseUser:     "root",
		descriptor.TokenDatabasePassword: "secret",
	})
	require.NoError(t, err)
	secret, err := descriptor.NewSecureHash()
	require.NoError(t, err)
	final, err := descriptor.Render(first, descriptor.Values{
		descriptor.TokenWorldID:           slug,
		descriptor.TokenWorldUniqueID:     uniqueID,
		descriptor.TokenGameSpeed:         int64(1),
		descriptor.TokenGameStartTime:     int64(0),
		descriptor.TokenGameRoundLength:   7,
		descriptor.TokenSecureHash:        secret,
		descriptor.TokenAutoReinstall:     false,
		descriptor.TokenAutoReinstallWait: int64(86400),
		descriptor.TokenEngineFilename:    DefaultEngineLabel,
	})
	require.NoError(t, err)

	include := filepath.Join(worldsRoot, slug, "include")
	require.NoError(t, os.MkdirAll(include, 0o755))
	path := filepath.Join(include, "connection.yaml")
	require.NoError(t, os.WriteFile(path, []byte(final), 0o600))
	return path
}

func TestEditTimes(t *testing.T) {
	t.Parallel()

	worldsRoot := t.TempDir()
	repo := newInMemoryRepo()
	db := &stubDB{}
	locker, err := locking.NewLocalLocker(t.TempDir())
	require.NoError(t, err)
	svc := New(repo, ProvisioningDeps{Tree: newMemTree(worldsRoot, nil), DB: db, Runner: &stubRunner{}, Locker: locker},
		Config{WorldsRoot: worldsRoot}, zaptest.NewLogger(t), nil)
	ctx := context.Background()

	w, err := repo.InsertLive(ctx, World{WorldID: "s9", ConfigFileLocation: writeDescriptor(t, worldsRoot, "s9", 1)})
	require.NoError(t, err)

	_, err = svc.EditTimes(ctx, w.ID, "tomorrow", 0)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, []string{"Invalid start time.", "Round length must be a positive number of days."}, verr.Messages)

	updated, err := svc.EditTimes(ctx, w.ID, "2026-03-01T12:30", 14)
	require.NoError(t, err)
	require.Equal(t, 14, updated.RoundLength)
	require.Equal(t, []int64{time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC).Unix()}, db.startTimes)
	require.Equal(t, "worlds_s9", db.targets[0].Database)

	db.updateErr = errors.New("connection refused")
	updated, err = svc.EditTimes(ctx, w.ID, "2026-04-01T00:00", 10)
	var perr *PartialUpdateError
	require.True(t, errors.As(err, &perr))
	require.Contains(t, err.Error(), "gameServers updated, but per-world config sync failed")
	require.Equal(t, 10, updated.RoundLength)
	stored, err := repo.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, 10, stored.RoundLength, "registry write is kept")

	escaped, err := repo.InsertLive(ctx, World{WorldID: "evil", ConfigFileLocation: "/etc/passwd"})
	require.NoError(t, err)
	_, err = svc.EditTimes(ctx, escaped.ID, "2026-04-01T00:00", 10)
	require.ErrorIs(t, err, descriptor.ErrPathEscape)
	require.True(t, errors.As(err, &perr))

	_, err = svc.EditTimes(ctx, 999, "2026-04-01T00:00", 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRunBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want time.Duration
	}{
		{name: "defaults", cfg: Config{}, want: 24 * time.Minute},
		{name: "slow installer", cfg: Config{InstallTimeout: 30 * time.Minute, SchemaTimeout: time.Minute}, want: 63 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.cfg.RunBudget())
		})
	}
}

func TestParseRollbackPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseRollbackPolicy("")
	require.NoError(t, err)
	require.Equal(t, RollbackNone, p)
	p, err = ParseRollbackPolicy(" Restore ")
	require.NoError(t, err)
	require.Equal(t, RollbackRestore, p)
	_, err = ParseRollbackPolicy("undo")
	require.Error(t, err)
}
