package provisioning

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

// MySQLProvisioner creates world databases and seeds their config row.
type MySQLProvisioner struct {
	opener worlddb.Opener
}

func NewMySQLProvisioner(opener worlddb.Opener) *MySQLProvisioner {
	if opener == nil {
		panic("mysql provisioner requires opener")
	}
	return &MySQLProvisioner{opener: opener}
}

// Ensure connects with server-level credentials and creates the sanitized database if absent.
func (p *MySQLProvisioner) Ensure(ctx context.Context, target worlddb.Target) (service.DBProvisionResult, error) {
	name := worlddb.SanitizeDatabaseName(target.Database)
	if name == "" {
		return service.DBProvisionResult{}, worlddb.ErrEmptyDatabaseName
	}

	var res service.DBProvisionResult
	err := p.with(ctx, target.Server(), func(db *sql.DB) error {
		exists, err := worlddb.DatabaseExists(ctx, db, name)
		if err != nil {
			return err
		}
		created, err := worlddb.CreateDatabase(ctx, db, name)
		if err != nil {
			return err
		}
		res = service.DBProvisionResult{Database: created, Created: !exists}
		return nil
	})
	return res, err
}

func (p *MySQLProvisioner) Import(ctx context.Context, target worlddb.Target, script string) (int, error) {
	var n int
	err := p.with(ctx, target, func(db *sql.DB) error {
		var err error
		n, err = worlddb.ImportScript(ctx, db, script)
		return err
	})
	return n, err
}

// SeedConfig inserts the world's runtime config row.
func (p *MySQLProvisioner) SeedConfig(ctx context.Context, target worlddb.Target, cfg service.RuntimeConfig) error {
	return p.with(ctx, target, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO config (startTime, map_size, worldUniqueId, installed, loginInfoTitle, loginInfoHTML, message) VALUES (?, ?, ?, 0, '', '', '')",
			cfg.StartTime, cfg.MapSize, cfg.WorldUniqueID)
		if err != nil {
			return fmt.Errorf("insert config row: %w", err)
		}
		return nil
	})
}

func (p *MySQLProvisioner) UpdateStartTime(ctx context.Context, target worlddb.Target, startUnix int64) error {
	return p.with(ctx, target, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "UPDATE config SET startTime = ?", startUnix); err != nil {
			return fmt.Errorf("update config start time: %w", err)
		}
		return nil
	})
}

func (p *MySQLProvisioner) Drop(ctx context.Context, target worlddb.Target) error {
	return p.with(ctx, target.Server(), func(db *sql.DB) error {
		return worlddb.DropDatabase(ctx, db, target.Database)
	})
}

func (p *MySQLProvisioner) with(ctx context.Context, target worlddb.Target, fn func(*sql.DB) error) error {
	db, err := p.opener.Open(ctx, target)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

var _ service.DBProvisioner = (*MySQLProvisioner)(nil)
