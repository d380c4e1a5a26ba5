package repository

import (
	"context"
	"time"

	"what2eat/internal/domain"
)

// FeedRepositoryInterface stores group feeds as live records plus an event log.
// Sequence numbers are assigned per group and shared by appends and deletes, so
// the event log is gap-free. Every method is atomic on its own.
type FeedRepositoryInterface interface {
	// Insert stores rec at the next seq unless a record with the same id already
	// exists in the group, in which case the existing entry is returned with inserted=false.
	Insert(ctx context.Context, groupID string, rec domain.PushRecord) (entry domain.FeedEntry, inserted bool, err error)
	// Get returns the entry including tombstoned ones; ErrNotFound if it never existed.
	Get(ctx context.Context, groupID, recordID string) (domain.FeedEntry, error)
	// Tombstone marks the record deleted and logs a delete event. Tombstoning an
	// already deleted record returns changed=false and no event.
	Tombstone(ctx context.Context, groupID, recordID string, at time.Time) (ev domain.FeedEvent, changed bool, err error)
	// RecordsSince lists live records with seq > cursor in seq order.
	RecordsSince(ctx context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEntry, error)
	EventsSince(ctx context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEvent, error)
	Head(ctx context.Context, groupID string) (uint64, error)
	Close() error
}

// storedRecord is the serialized form used by the key-value and SQL backends.
type storedRecord struct {
	Seq     uint64            `json:"seq"`
	Deleted bool              `json:"deleted"`
	Record  *domain.RecordMsg `json:"record"`
}

func (s storedRecord) entry(groupID string) domain.FeedEntry {
	return domain.FeedEntry{GroupID: groupID, Seq: s.Seq, Record: s.Record.ToRecord(), Deleted: s.Deleted}
}

const DefaultPageSize = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultPageSize
	}
	return limit
}
