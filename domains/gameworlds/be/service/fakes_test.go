package service

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/worlddb"
)

// inMemoryRepo is a minimal in-memory impl of Repository for tests.
type inMemoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	data    map[int64]World
	retired []int64
}

func newInMemoryRepo() *inMemoryRepo {
	return &inMemoryRepo{data: make(map[int64]World)}
}

func (r *inMemoryRepo) List(context.Context) ([]World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]World, 0, len(r.data))
	for _, w := range r.data {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *inMemoryRepo) Get(_ context.Context, id int64) (World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.data[id]
	if !ok {
		return World{}, ErrNotFound
	}
	return w, nil
}

func (r *inMemoryRepo) FindBySlug(_ context.Context, slug string) (World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.data {
		if w.WorldID == slug && !w.Archived {
			return w, nil
		}
	}
	return World{}, ErrNotFound
}

func (r *inMemoryRepo) InsertLive(_ context.Context, w World) (World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.data {
		if existing.WorldID == w.WorldID && !existing.Archived {
			existing.Archived, existing.Finished = true, true
			r.data[id] = existing
		}
	}
	r.nextID++
	w.ID = r.nextID
	w.RowVersion = 1
	r.data[w.ID] = w
	return w, nil
}

func (r *inMemoryRepo) SetFlag(_ context.Context, id int64, field Field, value bool, expected *int64) (World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.data[id]
	if !ok {
		return World{}, ErrNotFound
	}
	if expected != nil && *expected != w.RowVersion {
		return World{}, ErrVersionConflict
	}
	setField(&w, field, value)
	w.RowVersion++
	r.data[id] = w
	return w, nil
}

func (r *inMemoryRepo) ToggleFlag(ctx context.Context, id int64, field Field) (World, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return World{}, err
	}
	return r.SetFlag(ctx, id, field, !flagValue(w, field), nil)
}

func (r *inMemoryRepo) UpdateTimes(_ context.Context, id int64, start time.Time, roundLength int) (World, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.data[id]
	if !ok {
		return World{}, ErrNotFound
	}
	w.StartTime, w.RoundLength = start, roundLength
	w.RowVersion++
	r.data[id] = w
	return w, nil
}

func (r *inMemoryRepo) Retire(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.data[id]
	if !ok {
		return ErrNotFound
	}
	w.Archived, w.Finished, w.Hidden = true, true, true
	r.data[id] = w
	r.retired = append(r.retired, id)
	return nil
}

func (r *inMemoryRepo) Reinstate(_ context.Context, id int64, finished bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.data[id]
	if !ok {
		return ErrNotFound
	}
	for other, existing := range r.data {
		if other != id && existing.WorldID == w.WorldID && !existing.Archived {
			return ErrLiveWorldExists
		}
	}
	w.Archived, w.Finished = false, finished
	w.RowVersion++
	r.data[id] = w
	return nil
}

func setField(w *World, f Field, v bool) {
	switch f {
	case FieldFinished:
		w.Finished = v
	case FieldHidden:
		w.Hidden = v
	case FieldRegisterClosed:
		w.RegisterClosed = v
	case FieldActivation:
		w.Activation = v
	}
}

// memTree keeps world trees as path -> content maps.
type memTree struct {
	mu        sync.Mutex
	root      string
	template  map[string]string
	files     map[string][]byte
	live      map[string]bool
	archives  []string
	restored  []string
	failWrite string
}

func newMemTree(root string, template map[string]string) *memTree {
	return &memTree{root: root, template: template, files: map[string][]byte{}, live: map[string]bool{}}
}

func (t *memTree) Exists(_ context.Context, slug string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live[slug], nil
}

func (t *memTree) Archive(_ context.Context, slug string, at time.Time) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live[slug] {
		return "", nil
	}
	archived := fmt.Sprintf("%s/%s.archived-%s", t.root, slug, at.UTC().Format("20060102T150405Z"))
	t.archives = append(t.archives, archived)
	t.live[slug] = false
	return archived, nil
}

func (t *memTree) Instantiate(_ context.Context, slug string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.template == nil {
		return "", ErrTemplateMissing
	}
	root := t.root + "/" + slug
	for rel, content := range t.template {
		t.files[root+"/"+rel] = []byte(content)
	}
	t.live[slug] = true
	return root, nil
}

func (t *memTree) Restore(_ context.Context, slug, archivedTo string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restored = append(t.restored, slug+"<-"+archivedTo)
	t.live[slug] = archivedTo != ""
	return nil
}

func (t *memTree) ReadFile(_ context.Context, worldRoot, rel string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.files[worldRoot+"/"+rel]
	if !ok {
		return nil, fmt.Errorf("%s: %w", rel, fs.ErrNotExist)
	}
	return b, nil
}

func (t *memTree) WriteFile(_ context.Context, worldRoot, rel string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrite != "" && strings.HasSuffix(rel, t.failWrite) {
		return fmt.Errorf("disk full")
	}
	t.files[worldRoot+"/"+rel] = data
	return nil
}

func (t *memTree) file(path string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.files[path])
}

// stubDB records calls against tenant databases.
type stubDB struct {
	mu          sync.Mutex
	created     bool
	ensureErr   error
	importErr   error
	seedErr     error
	updateErr   error
	targets     []worlddb.Target
	script      string
	seeded      []RuntimeConfig
	startTimes  []int64
	dropped     []string
	importTimed bool
}

func (s *stubDB) Ensure(_ context.Context, target worlddb.Target) (DBProvisionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target)
	if s.ensureErr != nil {
		return DBProvisionResult{}, s.ensureErr
	}
	return DBProvisionResult{Database: worlddb.SanitizeDatabaseName(target.Database), Created: s.created}, nil
}

func (s *stubDB) Import(ctx context.Context, _ worlddb.Target, script string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, s.importTimed = ctx.Deadline()
	s.script = script
	if s.importErr != nil {
		return 0, s.importErr
	}
	return strings.Count(script, ";"), nil
}

func (s *stubDB) SeedConfig(_ context.Context, _ worlddb.Target, cfg RuntimeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded = append(s.seeded, cfg)
	return s.seedErr
}

func (s *stubDB) UpdateStartTime(_ context.Context, target worlddb.Target, startUnix int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, target)
	if s.updateErr != nil {
		return s.updateErr
	}
	s.startTimes = append(s.startTimes, startUnix)
	return nil
}

func (s *stubDB) Drop(_ context.Context, target worlddb.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = append(s.dropped, target.Database)
	return nil
}

type stubAssets struct {
	res      AssetProvisionResult
	err      error
	prefixes []string
}

func (s *stubAssets) Ensure(_ context.Context, prefix string) (AssetProvisionResult, error) {
	s.prefixes = append(s.prefixes, prefix)
	return s.res, s.err
}

func (s *stubAssets) Check(_ context.Context, prefix string) (AssetProvisionResult, error) {
	return s.res, s.err
}

type runCall struct {
	dir, name string
	args      []string
	deadline  bool
}

// stubRunner answers by process name.
type stubRunner struct {
	mu      sync.Mutex
	calls   []runCall
	outputs map[string]StepOutput
	errs    map[string]error
}

func (s *stubRunner) Run(ctx context.Context, dir, name string, args ...string) (StepOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	s.calls = append(s.calls, runCall{dir: dir, name: name, args: args, deadline: hasDeadline})
	if err := s.errs[name]; err != nil {
		return StepOutput{ExitCode: -1}, err
	}
	if out, ok := s.outputs[name]; ok {
		return out, nil
	}
	return StepOutput{Output: name + " ok\n"}, nil
}
