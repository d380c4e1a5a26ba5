package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"what2eat/internal/domain"
)

type memGroup struct {
	head    uint64
	byID    map[string]*domain.FeedEntry
	entries []*domain.FeedEntry // seq ascending
	events  []domain.FeedEvent  // seq ascending
}

type MemoryRepository struct {
	mu     sync.RWMutex
	groups map[string]*memGroup
}

func NewMemoryRepository() FeedRepositoryInterface {
	return &MemoryRepository{groups: make(map[string]*memGroup)}
}

func (m *MemoryRepository) group(id string) *memGroup {
	g, ok := m.groups[id]
	if !ok {
		g = &memGroup{byID: make(map[string]*domain.FeedEntry)}
		m.groups[id] = g
	}
	return g
}

func (m *MemoryRepository) Insert(_ context.Context, groupID string, rec domain.PushRecord) (domain.FeedEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.group(groupID)
	if e, ok := g.byID[rec.ID]; ok {
		return copyEntry(e), false, nil
	}
	g.head++
	e := &domain.FeedEntry{GroupID: groupID, Seq: g.head, Record: rec.Clone()}
	g.byID[rec.ID] = e
	g.entries = append(g.entries, e)
	g.events = append(g.events, domain.AppendEvent(groupID, e.Seq, e.Record))
	return copyEntry(e), true, nil
}

func (m *MemoryRepository) Get(_ context.Context, groupID, recordID string) (domain.FeedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return domain.FeedEntry{}, domain.ErrNotFound
	}
	e, ok := g.byID[recordID]
	if !ok {
		return domain.FeedEntry{}, domain.ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *MemoryRepository) Tombstone(_ context.Context, groupID, recordID string, at time.Time) (domain.FeedEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return domain.FeedEvent{}, false, domain.ErrNotFound
	}
	e, ok := g.byID[recordID]
	if !ok {
		return domain.FeedEvent{}, false, domain.ErrNotFound
	}
	if e.Deleted {
		return domain.FeedEvent{}, false, nil
	}
	e.Deleted = true
	g.head++
	ev := domain.DeleteEvent(groupID, g.head, recordID, at)
	g.events = append(g.events, ev)
	return ev, true, nil
}

func (m *MemoryRepository) RecordsSince(_ context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEntry, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, nil
	}
	i := sort.Search(len(g.entries), func(i int) bool { return g.entries[i].Seq > cursor })
	out := make([]domain.FeedEntry, 0, min(limit, len(g.entries)-i))
	for ; i < len(g.entries) && len(out) < limit; i++ {
		if g.entries[i].Deleted {
			continue
		}
		out = append(out, copyEntry(g.entries[i]))
	}
	return out, nil
}

func (m *MemoryRepository) EventsSince(_ context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEvent, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, nil
	}
	i := sort.Search(len(g.events), func(i int) bool { return g.events[i].Seq > cursor })
	j := min(i+limit, len(g.events))
	return append([]domain.FeedEvent(nil), g.events[i:j]...), nil
}

func (m *MemoryRepository) Head(_ context.Context, groupID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.groups[groupID]; ok {
		return g.head, nil
	}
	return 0, nil
}

func (m *MemoryRepository) Close() error { return nil }

func copyEntry(e *domain.FeedEntry) domain.FeedEntry {
	c := *e
	c.Record = e.Record.Clone()
	return c
}
