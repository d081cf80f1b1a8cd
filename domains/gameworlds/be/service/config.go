package service

import (
	"fmt"
	"strings"
	"time"
)

// RollbackPolicy decides what happens to partial state after a failed provisioning step.
type RollbackPolicy string

const (
	// RollbackNone leaves partial state in place for manual cleanup.
	RollbackNone RollbackPolicy = "none"
	// RollbackRestore removes the new tree, moves the archived tree back, drops a database this
	// run created and retires a registry row this run inserted.
	RollbackRestore RollbackPolicy = "restore"
)

// ParseRollbackPolicy accepts "none", "restore" or empty (none).
func ParseRollbackPolicy(v string) (RollbackPolicy, error) {
	switch p := RollbackPolicy(strings.ToLower(strings.TrimSpace(v))); p {
	case "", RollbackNone:
		return RollbackNone, nil
	case RollbackRestore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown rollback policy %q", v)
	}
}

// Config holds provisioning settings.
type Config struct {
	WorldsRoot string
	BaseDomain string
	// SchemaScript is the SQL imported into every new world database.
	SchemaScript   string
	InstallerPath  string
	UpdaterPath    string
	EngineLabel    string
	InstallTimeout time.Duration
	SchemaTimeout  time.Duration
	Rollback       RollbackPolicy
}

const (
	DefaultInstallerPath  = "./install"
	DefaultUpdaterPath    = "./update"
	DefaultEngineLabel    = "worlds-engine"
	DefaultInstallTimeout = 10 * time.Minute
	DefaultSchemaTimeout  = 2 * time.Minute

	// untimedSteps covers the tree copy, registry writes and archive moves around the timed steps.
	untimedSteps = 2 * time.Minute
)

// RunBudget is the longest one provisioning run can take: the schema import, the installer
// and the updater at their timeouts plus the untimed steps. Request deadlines and lock TTLs
// around a run must not be shorter.
func (c Config) RunBudget() time.Duration {
	c = c.withDefaults()
	return c.SchemaTimeout + 2*c.InstallTimeout + untimedSteps
}

func (c Config) withDefaults() Config {
	if c.InstallerPath == "" {
		c.InstallerPath = DefaultInstallerPath
	}
	if c.UpdaterPath == "" {
		c.UpdaterPath = DefaultUpdaterPath
	}
	if c.EngineLabel == "" {
		c.EngineLabel = DefaultEngineLabel
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = DefaultInstallTimeout
	}
	if c.SchemaTimeout <= 0 {
		c.SchemaTimeout = DefaultSchemaTimeout
	}
	if c.Rollback == "" {
		c.Rollback = RollbackNone
	}
	if c.BaseDomain == "" {
		c.BaseDomain = "localhost"
	}
	return c
}
