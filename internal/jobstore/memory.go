package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"renderd/pkg/types"
)

// MemoryDurable is an in-memory Durable used by tests and by local
// development without a database.
type MemoryDurable struct {
	mu   sync.Mutex
	jobs map[string]types.Job
}

// NewMemoryDurable constructs an empty in-memory durable tier.
func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{jobs: make(map[string]types.Job)}
}

func (m *MemoryDurable) Insert(_ context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryDurable) Get(_ context.Context, id string) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, NewNotFound(id)
	}
	return &job, nil
}

func (m *MemoryDurable) Update(_ context.Context, id string, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return NewNotFound(id)
	}
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.Step != nil {
		job.Step = *u.Step
	}
	if u.OutputPath != nil {
		job.OutputPath = *u.OutputPath
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		job.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		job.CompletedAt = &t
	}
	m.jobs[id] = job
	return nil
}

func (m *MemoryDurable) ListRecent(_ context.Context, limit int) ([]types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryCache is an in-memory Cache with TTL expiry, mirroring the
// Redis hash layout so the codec path is exercised in tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	fields    map[string]string
	expiresAt time.Time
}

// NewMemoryCache constructs an empty cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Write(_ context.Context, job *types.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[job.ID] = memoryEntry{
		fields:    encodeJob(job),
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

func (c *MemoryCache) Patch(_ context.Context, id string, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, id)
		return nil
	}
	for k, v := range fields {
		entry.fields[k] = v
	}
	entry.expiresAt = c.now().Add(c.ttl)
	c.entries[id] = entry
	return nil
}

func (c *MemoryCache) Get(_ context.Context, id string) (*types.Job, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, id)
		return nil, false, nil
	}
	job, err := decodeJob(entry.fields)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}
