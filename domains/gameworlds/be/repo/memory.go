package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/service"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and local development.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]service.World
	live   map[string]int64
	now    func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[int64]service.World),
		live: make(map[string]int64),
		now:  time.Now,
	}
}

func (r *MemoryRepository) List(ctx context.Context) ([]service.World, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.World, 0, len(r.byID))
	for _, w := range r.byID {
		items = append(items, w)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id int64) (service.World, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.byID[id]
	if !ok {
		return service.World{}, service.ErrNotFound
	}
	return w, nil
}

func (r *MemoryRepository) FindBySlug(ctx context.Context, slug string) (service.World, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.live[slug]
	if !ok {
		return service.World{}, service.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) InsertLive(ctx context.Context, w service.World) (service.World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.live[w.WorldID]; ok {
		old := r.byID[prev]
		old.Archived, old.Finished = true, true
		old.RowVersion++
		r.byID[prev] = old
	}

	r.nextID++
	w.ID = r.nextID
	w.Archived = false
	w.Finished = false
	w.RowVersion = 1
	w.CreatedAt = r.now().UTC()
	w.StartTime = w.StartTime.UTC()
	r.byID[w.ID] = w
	r.live[w.WorldID] = w.ID
	return w, nil
}

func (r *MemoryRepository) SetFlag(ctx context.Context, id int64, field service.Field, value bool, expectedVersion *int64) (service.World, error) {
	return r.update(id, expectedVersion, func(w *service.World) error {
		p, err := flagPtr(w, field)
		if err != nil {
			return err
		}
		*p = value
		return nil
	})
}

func (r *MemoryRepository) ToggleFlag(ctx context.Context, id int64, field service.Field) (service.World, error) {
	return r.update(id, nil, func(w *service.World) error {
		p, err := flagPtr(w, field)
		if err != nil {
			return err
		}
		*p = !*p
		return nil
	})
}

func (r *MemoryRepository) UpdateTimes(ctx context.Context, id int64, start time.Time, roundLength int) (service.World, error) {
	return r.update(id, nil, func(w *service.World) error {
		w.StartTime = start.UTC()
		w.RoundLength = roundLength
		return nil
	})
}

func (r *MemoryRepository) Retire(ctx context.Context, id int64) error {
	_, err := r.update(id, nil, func(w *service.World) error {
		w.Archived, w.Finished, w.Hidden = true, true, true
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for slug, liveID := range r.live {
		if liveID == id {
			delete(r.live, slug)
		}
	}
	return nil
}

func (r *MemoryRepository) Reinstate(ctx context.Context, id int64, finished bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.byID[id]
	if !ok {
		return service.ErrNotFound
	}
	if liveID, live := r.live[w.WorldID]; live && liveID != id {
		return fmt.Errorf("%w: %s already has live row %d", service.ErrLiveWorldExists, w.WorldID, liveID)
	}
	w.Archived, w.Finished = false, finished
	w.RowVersion++
	r.byID[id] = w
	r.live[w.WorldID] = id
	return nil
}

func (r *MemoryRepository) update(id int64, expectedVersion *int64, mutate func(*service.World) error) (service.World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.byID[id]
	if !ok {
		return service.World{}, service.ErrNotFound
	}
	if expectedVersion != nil && *expectedVersion != w.RowVersion {
		return service.World{}, service.ErrVersionConflict
	}
	if err := mutate(&w); err != nil {
		return service.World{}, err
	}
	w.RowVersion++
	r.byID[id] = w
	return w, nil
}

func flagPtr(w *service.World, field service.Field) (*bool, error) {
	switch field {
	case service.FieldFinished:
		return &w.Finished, nil
	case service.FieldHidden:
		return &w.Hidden, nil
	case service.FieldRegisterClosed:
		return &w.RegisterClosed, nil
	case service.FieldActivation:
		return &w.Activation, nil
	default:
		return nil, service.ErrFieldNotAllowed
	}
}

var _ service.Repository = (*MemoryRepository)(nil)
