package listings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitrin/marketplace/internal/categories"
	"github.com/vitrin/marketplace/internal/shared"
)

type memRepo struct {
	mu        sync.Mutex
	rows      map[string]Listing
	insertErr error
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]Listing)}
}

func (r *memRepo) Insert(ctx context.Context, l Listing) (*Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	l.ID = uuid.NewString()
	l.CreatedAt = time.Now().UTC()
	l.UpdatedAt = l.CreatedAt
	r.rows[l.ID] = l
	return &l, nil
}

func (r *memRepo) Update(ctx context.Context, l Listing) (*Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	existing, ok := r.rows[l.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if existing.UserID != l.UserID {
		return nil, ErrNotOwner
	}
	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = time.Now().UTC()
	r.rows[l.ID] = l
	return &l, nil
}

func (r *memRepo) Get(ctx context.Context, id string) (*Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (r *memRepo) ListByOwner(ctx context.Context, userID string, limit int) ([]Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Listing
	for _, l := range r.rows {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) all() []Listing {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Listing, 0, len(r.rows))
	for _, l := range r.rows {
		out = append(out, l)
	}
	return out
}

type memGuard struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemGuard() *memGuard {
	return &memGuard{keys: make(map[string]string)}
}

func (g *memGuard) CheckAndInsert(ctx context.Context, key, module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	g.keys[key] = module
	return nil
}

func (g *memGuard) Delete(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}

func (g *memGuard) has(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.keys[key]
	return ok
}

type memAuditor struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memAuditor) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type memCleaner struct {
	keys [][]string
}

func (c *memCleaner) EnqueueOrphanCleanup(ctx context.Context, keys []string) error {
	c.keys = append(c.keys, keys)
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	uploads map[string]int
	submits map[string]int
}

func newMemRecorder() *memRecorder {
	return &memRecorder{uploads: map[string]int{}, submits: map[string]int{}}
}

func (r *memRecorder) ObserveUpload(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads[result]++
}

func (r *memRecorder) ObserveSubmit(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submits[result]++
}

type staticCategories []categories.Category

func (c staticCategories) ListActive(ctx context.Context) []categories.Category {
	return c
}

func (c staticCategories) IsActive(ctx context.Context, id string) bool {
	for _, cat := range c {
		if cat.ID == id {
			return true
		}
	}
	return false
}

var testCategories = staticCategories{
	{ID: "cat-games", Name: "Oyun Hesapları", Slug: "oyun-hesaplari", Active: true},
	{ID: "cat-keys", Name: "Lisans Anahtarları", Slug: "lisans-anahtarlari", Active: true},
}
