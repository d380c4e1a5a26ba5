package feed

import (
	"context"
	"fmt"
	"hash/fnv"
	"iter"
	"sync"
	"time"

	"what2eat/internal/common/logger"
	"what2eat/internal/common/metrics"
	"what2eat/internal/domain"
	"what2eat/internal/microservices/push/membership"
	"what2eat/internal/microservices/push/repository"
)

// Publisher receives every committed feed event. Implementations must not block.
type Publisher interface {
	Publish(ev domain.FeedEvent)
}

type FeedInterface interface {
	Append(ctx context.Context, groupID string, rec domain.PushRecord) (domain.FeedEntry, bool, error)
	Delete(ctx context.Context, groupID, recordID, requesterID string) error
	Get(ctx context.Context, groupID, recordID string) (domain.FeedEntry, error)
	ListSince(ctx context.Context, groupID string, cursor uint64) iter.Seq2[domain.FeedEntry, error]
	EventsSince(ctx context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEvent, error)
	Head(ctx context.Context, groupID string) (uint64, error)
}

const lockStripes = 64

type Feed struct {
	repo       repository.FeedRepositoryInterface
	members    membership.MembershipInterface
	publishers []Publisher
	now        func() time.Time
	pageSize   int
	log        *logger.Logger
	metrics    *metrics.Registry

	locks [lockStripes]sync.Mutex
}

type Option func(*Feed)

func WithPublishers(p ...Publisher) Option {
	return func(f *Feed) { f.publishers = append(f.publishers, p...) }
}

func WithClock(now func() time.Time) Option { return func(f *Feed) { f.now = now } }

func WithPageSize(n int) Option { return func(f *Feed) { f.pageSize = n } }

func WithMetrics(m *metrics.Registry) Option { return func(f *Feed) { f.metrics = m } }

func New(repo repository.FeedRepositoryInterface, members membership.MembershipInterface, log *logger.Logger, opts ...Option) *Feed {
	f := &Feed{
		repo:     repo,
		members:  members,
		now:      func() time.Time { return time.Now().UTC() },
		pageSize: repository.DefaultPageSize,
		log:      log,
	}
	for _, o := range opts {
		o(f)
	}
	if f.pageSize <= 0 || f.pageSize > 1000 {
		f.pageSize = repository.DefaultPageSize
	}
	return f
}

// AddPublisher attaches a sink after construction; used when the sink itself
// needs the feed (the hub reads back through EventsSince).
func (f *Feed) AddPublisher(p Publisher) { f.publishers = append(f.publishers, p) }

func (f *Feed) lock(groupID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(groupID))
	return &f.locks[h.Sum32()%lockStripes]
}

func (f *Feed) publish(ev domain.FeedEvent) {
	for _, p := range f.publishers {
		p.Publish(ev)
	}
	if f.metrics != nil {
		f.metrics.FeedHead.WithLabelValues(ev.GroupID).Set(float64(ev.Seq))
	}
}

// Append adds rec to the end of the group's feed. A record id that is already
// present returns the stored entry with appended=false and emits nothing.
func (f *Feed) Append(ctx context.Context, groupID string, rec domain.PushRecord) (domain.FeedEntry, bool, error) {
	ok, err := f.members.IsMember(ctx, groupID, rec.Pusher.ID)
	if err != nil {
		return domain.FeedEntry{}, false, err
	}
	if !ok {
		return domain.FeedEntry{}, false, domain.ErrNotAMember
	}

	start := time.Now()
	mu := f.lock(groupID)
	mu.Lock()
	defer mu.Unlock()

	entry, appended, err := f.repo.Insert(ctx, groupID, rec)
	if err != nil {
		return domain.FeedEntry{}, false, fmt.Errorf("append %s to %s: %w", rec.ID, groupID, err)
	}
	if !appended {
		return entry, false, nil
	}
	f.publish(domain.AppendEvent(groupID, entry.Seq, entry.Record))

	if f.metrics != nil {
		f.metrics.PushesCreated.Inc()
		f.metrics.AppendLatency.Observe(time.Since(start).Seconds())
	}
	f.log.FromContext(ctx).Info("push_appended", map[string]any{
		"group_id": groupID, "push_id": rec.ID, "seq": entry.Seq, "pusher_id": rec.Pusher.ID, "total": rec.Total.String(),
	})
	return entry, true, nil
}

// Delete retracts a record. Only its pusher may do so; deleting an already
// deleted record again is a no-op.
func (f *Feed) Delete(ctx context.Context, groupID, recordID, requesterID string) error {
	mu := f.lock(groupID)
	mu.Lock()
	defer mu.Unlock()

	entry, err := f.repo.Get(ctx, groupID, recordID)
	if err != nil {
		return err
	}
	if entry.Record.Pusher.ID != requesterID {
		return domain.ErrForbidden
	}
	ev, changed, err := f.repo.Tombstone(ctx, groupID, recordID, f.now())
	if err != nil {
		return fmt.Errorf("delete %s from %s: %w", recordID, groupID, err)
	}
	if !changed {
		return nil
	}
	f.publish(ev)

	if f.metrics != nil {
		f.metrics.PushesDeleted.Inc()
	}
	f.log.FromContext(ctx).Info("push_deleted", map[string]any{"group_id": groupID, "push_id": recordID, "seq": ev.Seq})
	return nil
}

// Get returns a live record; deleted records are reported as not found.
func (f *Feed) Get(ctx context.Context, groupID, recordID string) (domain.FeedEntry, error) {
	e, err := f.repo.Get(ctx, groupID, recordID)
	if err != nil {
		return domain.FeedEntry{}, err
	}
	if e.Deleted {
		return domain.FeedEntry{}, domain.ErrNotFound
	}
	return e, nil
}

// ListSince yields live records with seq > cursor in append order, reading
// storage one page at a time. Each range over the result starts afresh.
func (f *Feed) ListSince(ctx context.Context, groupID string, cursor uint64) iter.Seq2[domain.FeedEntry, error] {
	return func(yield func(domain.FeedEntry, error) bool) {
		c := cursor
		for {
			page, err := f.repo.RecordsSince(ctx, groupID, c, f.pageSize)
			if err != nil {
				yield(domain.FeedEntry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				c = e.Seq
			}
			if len(page) < f.pageSize {
				return
			}
		}
	}
}

func (f *Feed) EventsSince(ctx context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEvent, error) {
	return f.repo.EventsSince(ctx, groupID, cursor, limit)
}

func (f *Feed) Head(ctx context.Context, groupID string) (uint64, error) {
	return f.repo.Head(ctx, groupID)
}
