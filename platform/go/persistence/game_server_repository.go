package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GameServersTable defines the fully-qualified registry table.
const GameServersTable = "worlds.game_servers"

// LiveWorldIndex is the partial unique index guarding one live row per world id.
const LiveWorldIndex = "game_servers_world_id_live"

// Errors returned by GameServerStore.
var (
	ErrNotFound        = errors.New("game server not found")
	ErrVersionConflict = errors.New("game server row version changed")
	ErrLiveWorldExists = errors.New("a live game server already exists for this world id")
)

// Flag is a boolean lifecycle column that can be set or flipped in place.
type Flag string

const (
	FlagFinished       Flag = "finished"
	FlagHidden         Flag = "hidden"
	FlagRegisterClosed Flag = "register_closed"
	FlagActivation     Flag = "activation"
)

func (f Flag) column() (string, error) {
	switch f {
	case FlagFinished, FlagHidden, FlagRegisterClosed, FlagActivation:
		return string(f), nil
	default:
		return "", fmt.Errorf("unknown flag column %q", string(f))
	}
}

// GameServerRecord is one registry row.
type GameServerRecord struct {
	ID                     int64     `db:"id"`
	WorldID                string    `db:"world_id"`
	Name                   string    `db:"name"`
	Speed                  int64     `db:"speed"`
	Version                int       `db:"version"`
	GameWorldURL           string    `db:"game_world_url"`
	StartTime              time.Time `db:"start_time"`
	RoundLength            int       `db:"round_length"`
	PreregistrationKeyOnly bool      `db:"preregistration_key_only"`
	Promoted               bool      `db:"promoted"`
	Hidden                 bool      `db:"hidden"`
	Finished               bool      `db:"finished"`
	RegisterClosed         bool      `db:"register_closed"`
	Activation             bool      `db:"activation"`
	ConfigFileLocation     string    `db:"config_file_location"`
	Archived               bool      `db:"archived"`
	RowVersion             int64     `db:"row_version"`
	CreatedAt              time.Time `db:"created_at"`
}

const gameServerColumns = `id, world_id, name, speed, version, game_world_url, start_time, round_length,
        preregistration_key_only, promoted, hidden, finished, register_closed, activation,
        config_file_location, archived, row_version, created_at`

// GameServerStore provides access to the registry table.
type GameServerStore struct {
	pool *pgxpool.Pool
}

// NewGameServerStore creates a store; assumes BootstrapRegistry already created the table.
func NewGameServerStore(pool *pgxpool.Pool) (*GameServerStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &GameServerStore{pool: pool}, nil
}

// InsertLive retires any live row for the same world id and inserts rec as the new live row,
// in one transaction. The database assigns ID, RowVersion and CreatedAt.
func (s *GameServerStore) InsertLive(ctx context.Context, rec GameServerRecord) (GameServerRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return GameServerRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	retire := fmt.Sprintf(`UPDATE %s SET archived = TRUE, finished = TRUE, row_version = row_version + 1
        WHERE world_id = $1 AND archived = FALSE`, GameServersTable)
	if _, err = tx.Exec(ctx, retire, rec.WorldID); err != nil {
		return GameServerRecord{}, fmt.Errorf("retire previous live row: %w", err)
	}

	insert := fmt.Sprintf(`
        INSERT INTO %s (
            world_id, name, speed, version, game_world_url, start_time, round_length,
            preregistration_key_only, promoted, hidden, finished, register_closed, activation,
            config_file_location, archived
        ) VALUES (
            $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,FALSE,$11,$12,$13,FALSE
        )
        RETURNING %s
    `, GameServersTable, gameServerColumns)

	row := tx.QueryRow(ctx, insert,
		rec.WorldID, rec.Name, rec.Speed, rec.Version, rec.GameWorldURL, rec.StartTime.UTC(), rec.RoundLength,
		rec.PreregistrationKeyOnly, rec.Promoted, rec.Hidden, rec.RegisterClosed, rec.Activation,
		rec.ConfigFileLocation,
	)
	out, err := scanGameServerRecord(row)
	if err != nil {
		return GameServerRecord{}, mapUniqueViolation(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return GameServerRecord{}, mapUniqueViolation(err)
	}
	return out, nil
}

// Get fetches a row by id, live or retired.
func (s *GameServerStore) Get(ctx context.Context, id int64) (GameServerRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, gameServerColumns, GameServersTable)
	return scanGameServerRecord(s.pool.QueryRow(ctx, query, id))
}

// GetLiveBySlug returns the live row for a world id.
func (s *GameServerStore) GetLiveBySlug(ctx context.Context, worldID string) (GameServerRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE world_id = $1 AND archived = FALSE`, gameServerColumns, GameServersTable)
	return scanGameServerRecord(s.pool.QueryRow(ctx, query, worldID))
}

// List returns every row, newest first. Retired rows are included.
func (s *GameServerStore) List(ctx context.Context) ([]GameServerRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id DESC`, gameServerColumns, GameServersTable)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []GameServerRecord
	for rows.Next() {
		rec, err := scanGameServerRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// SetFlag writes value into the flag column. When expectedVersion is non-nil the write only
// applies if the row still carries that version.
func (s *GameServerStore) SetFlag(ctx context.Context, id int64, flag Flag, value bool, expectedVersion *int64) (GameServerRecord, error) {
	col, err := flag.column()
	if err != nil {
		return GameServerRecord{}, err
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = $2, row_version = row_version + 1
        WHERE id = $1 AND ($3::bigint IS NULL OR row_version = $3)
        RETURNING %s`, GameServersTable, col, gameServerColumns)

	rec, err := scanGameServerRecord(s.pool.QueryRow(ctx, query, id, value, expectedVersion))
	if errors.Is(err, ErrNotFound) && expectedVersion != nil {
		return GameServerRecord{}, s.conflictOrMissing(ctx, id)
	}
	return rec, err
}

// ToggleFlag flips the flag column in a single statement.
func (s *GameServerStore) ToggleFlag(ctx context.Context, id int64, flag Flag) (GameServerRecord, error) {
	col, err := flag.column()
	if err != nil {
		return GameServerRecord{}, err
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = NOT %s, row_version = row_version + 1
        WHERE id = $1
        RETURNING %s`, GameServersTable, col, col, gameServerColumns)
	return scanGameServerRecord(s.pool.QueryRow(ctx, query, id))
}

// UpdateTimes rewrites the start time and round length.
func (s *GameServerStore) UpdateTimes(ctx context.Context, id int64, start time.Time, roundLength int) (GameServerRecord, error) {
	query := fmt.Sprintf(`UPDATE %s SET start_time = $2, round_length = $3, row_version = row_version + 1
        WHERE id = $1
        RETURNING %s`, GameServersTable, gameServerColumns)
	return scanGameServerRecord(s.pool.QueryRow(ctx, query, id, start.UTC(), roundLength))
}

// Retire marks a row archived, finished and hidden. Rows are never deleted.
func (s *GameServerStore) Retire(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`UPDATE %s SET archived = TRUE, finished = TRUE, hidden = TRUE, row_version = row_version + 1
        WHERE id = $1`, GameServersTable)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reinstate makes a retired row the live row for its world id again. It fails with
// ErrLiveWorldExists if another live row exists.
func (s *GameServerStore) Reinstate(ctx context.Context, id int64, finished bool) error {
	query := fmt.Sprintf(`UPDATE %s SET archived = FALSE, finished = $2, row_version = row_version + 1
        WHERE id = $1`, GameServersTable)
	tag, err := s.pool.Exec(ctx, query, id, finished)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GameServerStore) conflictOrMissing(ctx context.Context, id int64) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, GameServersTable)
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrVersionConflict
	}
	return ErrNotFound
}

func scanGameServerRecord(row pgx.Row) (GameServerRecord, error) {
	var rec GameServerRecord
	if err := row.Scan(
		&rec.ID, &rec.WorldID, &rec.Name, &rec.Speed, &rec.Version, &rec.GameWorldURL, &rec.StartTime,
		&rec.RoundLength, &rec.PreregistrationKeyOnly, &rec.Promoted, &rec.Hidden, &rec.Finished,
		&rec.RegisterClosed, &rec.Activation, &rec.ConfigFileLocation, &rec.Archived, &rec.RowVersion,
		&rec.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GameServerRecord{}, ErrNotFound
		}
		return GameServerRecord{}, err
	}
	rec.StartTime = rec.StartTime.UTC()
	return rec, nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == LiveWorldIndex {
		return fmt.Errorf("%w: %s", ErrLiveWorldExists, pgErr.Detail)
	}
	return err
}
