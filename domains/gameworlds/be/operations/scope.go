// Package operations holds the world-local admin operations the switchboard can dispatch to.
//
// Every operation receives a Scope built fresh for one activation. Nothing in this package
// keeps state between activations.
package operations

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/session"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/cache"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/globalconfig"
)

// ErrNoConfigRow is returned when a world database has no runtime config row.
var ErrNoConfigRow = errors.New("no config row in world database")

const selectConfigRow = "SELECT startTime, worldUniqueId, map_size, installed FROM config ORDER BY id LIMIT 1"

// ConfigRow is the runtime config row stored in every world database.
type ConfigRow struct {
	StartTime     int64
	WorldUniqueID int64
	MapSize       int
	Installed     bool
}

// Start returns StartTime as a UTC time.
func (c ConfigRow) Start() time.Time {
	return time.Unix(c.StartTime, 0).UTC()
}

// LoadConfigRow reads the first config row of a world database.
func LoadConfigRow(ctx context.Context, db *sql.DB) (ConfigRow, error) {
	var row ConfigRow
	err := db.QueryRowContext(ctx, selectConfigRow).Scan(&row.StartTime, &row.WorldUniqueID, &row.MapSize, &row.Installed)
	if errors.Is(err, sql.ErrNoRows) {
		return ConfigRow{}, ErrNoConfigRow
	}
	if err != nil {
		return ConfigRow{}, fmt.Errorf("load config row: %w", err)
	}
	return row, nil
}

// Scope is everything one activation may touch.
type Scope struct {
	World      service.World
	Descriptor descriptor.Descriptor
	Global     globalconfig.Settings
	Config     ConfigRow
	// Root is the world's tree on disk.
	Root    string
	DB      *sql.DB
	Cache   cache.Store
	Session session.Session
	Logger  *zap.Logger
	Now     func() time.Time

	// Out is the main content; Info is the optional side panel.
	Out  bytes.Buffer
	Info bytes.Buffer
}

func (s *Scope) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scope) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
