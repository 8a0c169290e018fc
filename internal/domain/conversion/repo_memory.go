package conversion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a concurrency-safe, in-memory Repository. It backs tests
// and the one-shot CLI conversion, where spinning up Postgres would be
// pointless.
type MemoryRepo struct {
	mu      sync.RWMutex
	byHash  map[string]*Record
	order   []string         // hashes in insertion order
	nowFunc func() time.Time // for testing; defaults to time.Now
}

// NewMemoryRepo returns an empty in-memory Repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byHash:  make(map[string]*Record),
		nowFunc: time.Now,
	}
}

// Create stores a copy of rec. Like the Postgres unique index, the first
// record for a hash wins; a second insert with the same hash is a no-op.
func (m *MemoryRepo) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[rec.HL7Hash]; ok {
		return nil
	}

	cp := *rec
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.nowFunc()
	}
	rec.ID = cp.ID
	rec.CreatedAt = cp.CreatedAt

	m.byHash[cp.HL7Hash] = &cp
	m.order = append(m.order, cp.HL7Hash)
	return nil
}

// GetByHash returns a copy of the stored record, or ErrNotFound.
func (m *MemoryRepo) GetByHash(_ context.Context, hash string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List returns records newest first, mirroring the Postgres
// ORDER BY created_at DESC.
func (m *MemoryRepo) List(_ context.Context, limit, offset int) ([]*Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := len(m.order)
	var items []*Record
	for i := total - 1 - offset; i >= 0 && len(items) < limit; i-- {
		cp := *m.byHash[m.order[i]]
		items = append(items, &cp)
	}
	return items, total, nil
}
