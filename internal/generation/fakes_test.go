package generation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/reelforge/internal/engine"
	"github.com/kiranshivaraju/reelforge/internal/store"
	"github.com/kiranshivaraju/reelforge/pkg/models"
	"github.com/kiranshivaraju/reelforge/pkg/workflow"
)

// --- fake engine ---

type fakeEngine struct {
	mu          sync.Mutex
	checkpoints []string
	overlays    []string
	listCalls   int

	promptID  string
	submitErr error
	submitted []workflow.Graph
	onSubmit  func(context.Context)

	snapshot   *models.QueueSnapshot
	queueErr   error
	queueCalls int
}

func (f *fakeEngine) ListCheckpoints(context.Context) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]string{}, f.checkpoints...)
}

func (f *fakeEngine) ListOverlays(context.Context) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]string{}, f.overlays...)
}

func (f *fakeEngine) Submit(ctx context.Context, g workflow.Graph) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, g)
	if f.onSubmit != nil {
		f.onSubmit(ctx)
	}
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.promptID, nil
}

func (f *fakeEngine) QueueSnapshot(context.Context) (*models.QueueSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueCalls++
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	if f.snapshot == nil {
		return &models.QueueSnapshot{Running: []string{}, Pending: []string{}}, nil
	}
	return f.snapshot, nil
}

func (f *fakeEngine) FetchArtifact(context.Context, string, string, string) ([]byte, error) {
	return nil, engine.ErrNotFound
}

func (f *fakeEngine) SystemStats(context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

var _ engine.Client = (*fakeEngine)(nil)

// --- in-memory store ---

type memStore struct {
	mu      sync.Mutex
	records map[string]*models.GenerationRecord
	// beforeUpdate runs inside UpdateFields before the lock is taken.
	beforeUpdate func()
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*models.GenerationRecord{}}
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) Create(_ context.Context, rec *models.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return store.ErrDuplicateKey
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*models.GenerationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memStore) UpdateFields(_ context.Context, id string, upd store.RecordUpdate) (*models.GenerationRecord, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := rec.Clone()
	if err := store.ApplyUpdate(next, upd); err != nil {
		return nil, err
	}
	m.records[id] = next
	return next.Clone(), nil
}

func (m *memStore) ListRecent(_ context.Context, limit int) ([]*models.GenerationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.GenerationRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// put writes a record state directly, bypassing transition rules.
func (m *memStore) put(rec *models.GenerationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec.Clone()
}

var _ store.Store = (*memStore)(nil)

// --- map cache ---

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.ttls[key] = ttl
	c.sets++
	return nil
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) Ping(context.Context) error { return nil }

func (c *mapCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, nil
}

func (c *mapCache) Close() error { return nil }
