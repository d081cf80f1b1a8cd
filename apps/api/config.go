package main

import (
	"time"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/provisioning"
	worldsservice "github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"25m"` // provisioning runs the installer inline
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFile         string        `env:"LOG_FILE"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`

	WorldsRoot         string `env:"WORLDS_ROOT,required"`
	TemplateRoot       string `env:"TEMPLATE_ROOT" envDefault:"./deploy/world.tpl"`
	SchemaFile         string `env:"SCHEMA_FILE"` // empty uses the embedded world schema
	GlobalSettingsFile string `env:"GLOBAL_SETTINGS_FILE"`

	LockBackend string `env:"LOCK_BACKEND" envDefault:"local"` // local | redis
	LockDir     string `env:"LOCK_DIR" envDefault:"./.data/locks"`
	RedisURL    string `env:"REDIS_URL"`

	RollbackPolicy string        `env:"ROLLBACK_POLICY" envDefault:"none"` // none | restore
	InstallTimeout time.Duration `env:"INSTALL_TIMEOUT" envDefault:"10m"`
	SchemaTimeout  time.Duration `env:"SCHEMA_TIMEOUT" envDefault:"2m"`
	InstallerPath  string        `env:"INSTALLER_PATH" envDefault:"./install"`
	UpdaterPath    string        `env:"UPDATER_PATH" envDefault:"./update"`
	EngineLabel    string        `env:"ENGINE_PROCESS_LABEL" envDefault:"worlds-engine"`

	AuthProvider     string `env:"AUTH_PROVIDER" envDefault:"firebase"` // firebase | hs256 | dev
	OperatorSecret   string `env:"OPERATOR_TOKEN_SECRET"`
	OperatorIssuer   string `env:"OPERATOR_TOKEN_ISSUER"`
	OperatorAudience string `env:"OPERATOR_TOKEN_AUDIENCE"`
	CSRFSecret       string `env:"CSRF_SECRET,required"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	StorageBackend  string `env:"STORAGE_BACKEND" envDefault:"local"`             // gcs | local
	StorageBucket   string `env:"STORAGE_BUCKET"`                                 // required when STORAGE_BACKEND=gcs
	StorageLocalDir string `env:"STORAGE_LOCAL_DIR" envDefault:"./.data/storage"` // used when STORAGE_BACKEND=local

	WorkerPoolSize int `env:"WORKER_POOL_SIZE" envDefault:"4"`
}

// runTimeouts returns the request deadline and the provisioning lock TTL. A REQUEST_TIMEOUT
// shorter than one provisioning run at the configured step timeouts is raised to that run.
func (c config) runTimeouts() (request, lock time.Duration) {
	budget := worldsservice.Config{InstallTimeout: c.InstallTimeout, SchemaTimeout: c.SchemaTimeout}.RunBudget()
	request = max(c.RequestTimeout, budget)
	return request, provisioning.LockTTL(request)
}
