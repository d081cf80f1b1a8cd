package switchboard

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/operations"
	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/session"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/cache"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/globalconfig"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/lifecycle"
)

// ErrIsolation is returned when a worker still holds world state after a reset.
var ErrIsolation = errors.New("worker still holds world state after reset")

// worldConfig is what the config slot holds for one activation.
type worldConfig struct {
	Descriptor descriptor.Descriptor
	Global     globalconfig.Settings
	Root       string
}

// worker is one reusable activation slot set. A worker serves one activation at a time and
// many worlds over its lifetime.
type worker struct {
	id     int
	logger *zap.Logger

	slots      lifecycle.Manager
	config     *lifecycle.Slot[worldConfig]
	db         *lifecycle.Slot[*sql.DB]
	cache      *lifecycle.Slot[cache.Store]
	session    *lifecycle.Slot[session.Session]
	dispatcher *lifecycle.Slot[operations.Handler]
}

func newWorker(id int, logger *zap.Logger) *worker {
	w := &worker{
		id:         id,
		logger:     logger.With(zap.Int("worker", id)),
		config:     lifecycle.NewSlot[worldConfig]("config"),
		db:         lifecycle.NewSlot[*sql.DB]("database"),
		cache:      lifecycle.NewSlot[cache.Store]("cache"),
		session:    lifecycle.NewSlot[session.Session]("session"),
		dispatcher: lifecycle.NewSlot[operations.Handler]("dispatcher"),
	}
	w.slots.Register(w.config, w.db, w.cache, w.session, w.dispatcher)
	return w
}

// reset empties every slot. Release failures are logged; a slot that is still live fails the reset.
func (w *worker) reset() error {
	if err := w.slots.ResetAll(); err != nil {
		w.logger.Warn("release world state failed", zap.Error(err))
	}
	if live := w.slots.Live(); len(live) > 0 {
		return fmt.Errorf("%w: %s", ErrIsolation, strings.Join(live, ", "))
	}
	return nil
}
