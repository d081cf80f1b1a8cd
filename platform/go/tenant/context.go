package tenant

import "context"

// World captures the resolved game world a request is acting on.
// The switchboard attaches it to the context handed to tenant-local handlers.
type World struct {
	RecordID int64
	Slug     string
	Name     string
	UniqueID int64
	Root     string
}

type ctxKey string

const worldKey ctxKey = "PALMYRA_GAME_WORLD"

// WithWorld returns a derived context carrying the world.
func WithWorld(ctx context.Context, world World) context.Context {
	return context.WithValue(ctx, worldKey, world)
}

// FromContext extracts the world and a boolean indicating presence.
func FromContext(ctx context.Context) (World, bool) {
	v := ctx.Value(worldKey)
	if v == nil {
		return World{}, false
	}

	world, ok := v.(World)
	return world, ok
}
