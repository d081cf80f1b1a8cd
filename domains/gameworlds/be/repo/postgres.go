package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/persistence"
)

// PostgresRepository implements the world registry on the shared persistence layer.
type PostgresRepository struct {
	store *persistence.GameServerStore
}

// NewPostgresRepository constructs a repository backed by GameServerStore.
func NewPostgresRepository(store *persistence.GameServerStore) *PostgresRepository {
	if store == nil {
		panic("game server store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) List(ctx context.Context) ([]service.World, error) {
	rows, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	worlds := make([]service.World, 0, len(rows))
	for _, rec := range rows {
		worlds = append(worlds, toServiceWorld(rec))
	}
	return worlds, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (service.World, error) {
	rec, err := r.store.Get(ctx, id)
	return mapRecord(rec, err)
}

func (r *PostgresRepository) FindBySlug(ctx context.Context, slug string) (service.World, error) {
	rec, err := r.store.GetLiveBySlug(ctx, slug)
	return mapRecord(rec, err)
}

func (r *PostgresRepository) InsertLive(ctx context.Context, w service.World) (service.World, error) {
	rec, err := r.store.InsertLive(ctx, toRecord(w))
	return mapRecord(rec, err)
}

func (r *PostgresRepository) SetFlag(ctx context.Context, id int64, field service.Field, value bool, expectedVersion *int64) (service.World, error) {
	flag, err := toFlag(field)
	if err != nil {
		return service.World{}, err
	}
	rec, err := r.store.SetFlag(ctx, id, flag, value, expectedVersion)
	return mapRecord(rec, err)
}

func (r *PostgresRepository) ToggleFlag(ctx context.Context, id int64, field service.Field) (service.World, error) {
	flag, err := toFlag(field)
	if err != nil {
		return service.World{}, err
	}
	rec, err := r.store.ToggleFlag(ctx, id, flag)
	return mapRecord(rec, err)
}

func (r *PostgresRepository) UpdateTimes(ctx context.Context, id int64, start time.Time, roundLength int) (service.World, error) {
	rec, err := r.store.UpdateTimes(ctx, id, start, roundLength)
	return mapRecord(rec, err)
}

func (r *PostgresRepository) Retire(ctx context.Context, id int64) error {
	return mapError(r.store.Retire(ctx, id))
}

func (r *PostgresRepository) Reinstate(ctx context.Context, id int64, finished bool) error {
	return mapError(r.store.Reinstate(ctx, id, finished))
}

func toFlag(f service.Field) (persistence.Flag, error) {
	switch f {
	case service.FieldFinished:
		return persistence.FlagFinished, nil
	case service.FieldHidden:
		return persistence.FlagHidden, nil
	case service.FieldRegisterClosed:
		return persistence.FlagRegisterClosed, nil
	case service.FieldActivation:
		return persistence.FlagActivation, nil
	default:
		return "", fmt.Errorf("%w: %q", service.ErrFieldNotAllowed, f)
	}
}

func mapRecord(rec persistence.GameServerRecord, err error) (service.World, error) {
	if err != nil {
		return service.World{}, mapError(err)
	}
	return toServiceWorld(rec), nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrVersionConflict):
		return service.ErrVersionConflict
	case errors.Is(err, persistence.ErrLiveWorldExists):
		return fmt.Errorf("%w: %v", service.ErrLiveWorldExists, err)
	default:
		return err
	}
}

func toRecord(w service.World) persistence.GameServerRecord {
	return persistence.GameServerRecord{
		ID:                     w.ID,
		WorldID:                w.WorldID,
		Name:                   w.Name,
		Speed:                  w.Speed,
		Version:                w.Version,
		GameWorldURL:           w.GameWorldURL,
		StartTime:              w.StartTime,
		RoundLength:            w.RoundLength,
		PreregistrationKeyOnly: w.PreregistrationKeyOnly,
		Promoted:               w.Promoted,
		Hidden:                 w.Hidden,
		Finished:               w.Finished,
		RegisterClosed:         w.RegisterClosed,
		Activation:             w.Activation,
		ConfigFileLocation:     w.ConfigFileLocation,
		Archived:               w.Archived,
		RowVersion:             w.RowVersion,
		CreatedAt:              w.CreatedAt,
	}
}

func toServiceWorld(rec persistence.GameServerRecord) service.World {
	return service.World{
		ID:                     rec.ID,
		WorldID:                rec.WorldID,
		Name:                   rec.Name,
		Speed:                  rec.Speed,
		Version:                rec.Version,
		GameWorldURL:           rec.GameWorldURL,
		StartTime:              rec.StartTime,
		RoundLength:            rec.RoundLength,
		PreregistrationKeyOnly: rec.PreregistrationKeyOnly,
		Promoted:               rec.Promoted,
		Hidden:                 rec.Hidden,
		Finished:               rec.Finished,
		RegisterClosed:         rec.RegisterClosed,
		Activation:             rec.Activation,
		ConfigFileLocation:     rec.ConfigFileLocation,
		Archived:               rec.Archived,
		RowVersion:             rec.RowVersion,
		CreatedAt:              rec.CreatedAt,
	}
}

var _ service.Repository = (*PostgresRepository)(nil)
