// Package worlddb opens and bootstraps the per-world MySQL databases.
package worlddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/sqlscript"
)

const (
	// DefaultPort is appended to hosts given without one.
	DefaultPort = "3306"
	// Charset and Collation are used for every world database and connection.
	Charset   = "utf8mb4"
	Collation = "utf8mb4_unicode_ci"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// ErrEmptyDatabaseName is returned when a database name sanitizes to nothing.
var ErrEmptyDatabaseName = errors.New("database name is empty after sanitizing")

// Target addresses one MySQL server and, optionally, one database on it.
type Target struct {
	Host     string
	User     string
	Password string
	Database string
}

// Addr returns host:port, defaulting the port.
func (t Target) Addr() string {
	if _, _, err := net.SplitHostPort(t.Host); err == nil {
		return t.Host
	}
	return net.JoinHostPort(t.Host, DefaultPort)
}

// Server returns the same target without a database, for server-level statements.
func (t Target) Server() Target {
	t.Database = ""
	return t
}

// DSN renders the go-sql-driver DSN for the target.
func (t Target) DSN() string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = t.Addr()
	cfg.User = t.User
	cfg.Passwd = t.Password
	cfg.DBName = t.Database
	cfg.Collation = Collation
	cfg.Params = map[string]string{"charset": Charset}
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN()
}

// SanitizeDatabaseName strips everything outside [a-zA-Z0-9_].
func SanitizeDatabaseName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "")
}

// Opener opens a connection pool for a target. Tests substitute sqlmock-backed openers.
type Opener interface {
	Open(ctx context.Context, target Target) (*sql.DB, error)
}

// MySQLOpener opens real MySQL connections and verifies them with a ping.
type MySQLOpener struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Open implements Opener.
func (o MySQLOpener) Open(ctx context.Context, target Target) (*sql.DB, error) {
	db, err := sql.Open("mysql", target.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql %s: %w", target.Addr(), err)
	}
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql %s: %w", target.Addr(), err)
	}
	return db, nil
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, target Target) (*sql.DB, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, target Target) (*sql.DB, error) {
	return f(ctx, target)
}

// DatabaseExists reports whether the schema is already present on the server.
func DatabaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?", name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return count > 0, nil
}

// CreateDatabase issues CREATE DATABASE IF NOT EXISTS for the sanitized name and returns it.
func CreateDatabase(ctx context.Context, db *sql.DB, name string) (string, error) {
	safe := SanitizeDatabaseName(name)
	if safe == "" {
		return "", ErrEmptyDatabaseName
	}
	stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET %s COLLATE %s", safe, Charset, Collation)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("create database %s: %w", safe, err)
	}
	return safe, nil
}

// DropDatabase removes the sanitized database if present.
func DropDatabase(ctx context.Context, db *sql.DB, name string) error {
	safe := SanitizeDatabaseName(name)
	if safe == "" {
		return ErrEmptyDatabaseName
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", safe)); err != nil {
		return fmt.Errorf("drop database %s: %w", safe, err)
	}
	return nil
}

// ImportScript splits script and executes each statement in order on one connection, so
// session statements such as SET NAMES apply to the rest of the script. It returns the
// number of statements executed.
func ImportScript(ctx context.Context, db *sql.DB, script string) (int, error) {
	statements, err := sqlscript.Split(script)
	if err != nil {
		return 0, fmt.Errorf("split schema: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	for i, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt.SQL); err != nil {
			return i, fmt.Errorf("schema statement at line %d: %w", stmt.Line, err)
		}
	}
	return len(statements), nil
}
