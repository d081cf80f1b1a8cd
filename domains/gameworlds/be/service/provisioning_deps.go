package service

import (
	"context"
	"time"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/locking"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

// TreeProvisioner owns the on-disk world trees under the worlds root.
type TreeProvisioner interface {
	// Exists reports whether a live tree is present for slug.
	Exists(ctx context.Context, slug string) (bool, error)
	// Archive renames an existing tree aside and returns the new path, or "" when there was nothing to archive.
	Archive(ctx context.Context, slug string, at time.Time) (string, error)
	// Instantiate copies the template into a fresh tree and returns its root. ErrTemplateMissing when the template is absent.
	Instantiate(ctx context.Context, slug string) (string, error)
	// Restore removes the tree created by this run and moves archivedTo back in place.
	Restore(ctx context.Context, slug, archivedTo string) error
	ReadFile(ctx context.Context, worldRoot, rel string) ([]byte, error)
	WriteFile(ctx context.Context, worldRoot, rel string, data []byte) error
}

// DBProvisioner creates and seeds tenant databases.
// Ensure is mutating/idempotent; the rest operate on the database named by the target.
type DBProvisioner interface {
	Ensure(ctx context.Context, target worlddb.Target) (DBProvisionResult, error)
	Import(ctx context.Context, target worlddb.Target, script string) (int, error)
	SeedConfig(ctx context.Context, target worlddb.Target, cfg RuntimeConfig) error
	UpdateStartTime(ctx context.Context, target worlddb.Target, startUnix int64) error
	Drop(ctx context.Context, target worlddb.Target) error
}

type DBProvisionResult struct {
	// Database is the sanitized name actually created or found.
	Database string
	// Created is false when the database pre-existed.
	Created bool
}

// AssetProvisioner validates reachability of a world's public asset location.
// Ensure is mutating/idempotent, Check is read-only/health verification.
type AssetProvisioner interface {
	Ensure(ctx context.Context, prefix string) (AssetProvisionResult, error)
	Check(ctx context.Context, prefix string) (AssetProvisionResult, error)
}

type AssetProvisionResult struct {
	Ready    bool
	Location string
}

// Runner executes an external process in dir. A non-zero exit is reported in StepOutput,
// not as an error; errors mean the process could not run or hit its deadline.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (StepOutput, error)
}

type ProvisioningDeps struct {
	Tree   TreeProvisioner
	DB     DBProvisioner
	Assets AssetProvisioner
	Runner Runner
	Locker locking.Locker
}
