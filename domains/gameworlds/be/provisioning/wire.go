package provisioning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	sqlassets "github.com/zenGate-Global/palmyra-worlds/database"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/cache"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/locking"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

// Backend names accepted by Options.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendGCS   = "gcs"
)

// Options selects the collaborators used by the provisioning workflow. The API and the CLI
// fill it from their own configuration.
type Options struct {
	WorldsRoot   string
	TemplateRoot string

	LockBackend string        // local | redis
	LockDir     string
	RedisURL    string
	LockTTL     time.Duration // redis only; zero uses locking.DefaultTTL

	StorageBackend  string // local | gcs
	StorageBucket   string
	StorageLocalDir string
}

// Deps is the assembled collaborator set plus the handles the caller must close.
type Deps struct {
	service.ProvisioningDeps

	closers []func() error
}

// Close releases clients opened by Build.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// LockTTL returns the redis lock expiry for runs that may last up to runTime.
// The key outlives the run so a slow installer cannot lose its lock to a second caller.
func LockTTL(runTime time.Duration) time.Duration {
	return max(locking.DefaultTTL, runTime+5*time.Minute)
}

// Build wires the filesystem tree, MySQL provisioner, process runner, lock and asset backends.
func Build(ctx context.Context, opts Options, opener worlddb.Opener, logger *zap.Logger) (*Deps, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{}
	d.Tree = NewFilesystemTree(opts.WorldsRoot, opts.TemplateRoot)
	d.DB = NewMySQLProvisioner(opener)
	d.Runner = NewExecRunner(logger)

	switch strings.ToLower(opts.LockBackend) {
	case "", BackendLocal:
		dir := opts.LockDir
		if dir == "" {
			dir = os.TempDir()
		}
		locker, err := locking.NewLocalLocker(dir)
		if err != nil {
			return nil, err
		}
		d.Locker = locker
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, errors.New("redis url required when lock backend is redis")
		}
		client, err := cache.DialRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("lock backend: %w", err)
		}
		d.closers = append(d.closers, client.Close)
		d.Locker = locking.NewRedisLocker(redis.UniversalClient(client), "worlds:lock:", opts.LockTTL)
	default:
		return nil, fmt.Errorf("invalid lock backend %q (use local or redis)", opts.LockBackend)
	}

	switch strings.ToLower(opts.StorageBackend) {
	case "", BackendLocal:
		if strings.TrimSpace(opts.StorageLocalDir) == "" {
			_ = d.Close()
			return nil, errors.New("storage local dir required when storage backend is local")
		}
		d.Assets = NewLocalAssetProvisioner(opts.StorageLocalDir)
	case BackendGCS:
		if opts.StorageBucket == "" {
			_ = d.Close()
			return nil, errors.New("storage bucket required when storage backend is gcs")
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		d.closers = append(d.closers, client.Close)
		d.Assets = NewGCSAssetProvisioner(client, opts.StorageBucket)
	default:
		_ = d.Close()
		return nil, fmt.Errorf("invalid storage backend %q (use local or gcs)", opts.StorageBackend)
	}

	return d, nil
}

// SchemaScript returns the contents of path, or the embedded world schema when path is empty.
func SchemaScript(path string) (string, error) {
	if path == "" {
		return sqlassets.WorldSchemaSQL, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read schema file: %w", err)
	}
	return string(data), nil
}
