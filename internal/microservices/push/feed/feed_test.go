package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"what2eat/internal/common/logger"
	"what2eat/internal/domain"
	"what2eat/internal/microservices/push/cart"
	"what2eat/internal/microservices/push/factory"
	"what2eat/internal/microservices/push/membership"
	"what2eat/internal/microservices/push/repository"
)

var (
	alice = domain.Identity{ID: "alice", DisplayName: "Alice"}
	bob   = domain.Identity{ID: "bob", DisplayName: "Bob"}
	carol = domain.Identity{ID: "carol", DisplayName: "Carol"}
)

type recorder struct {
	mu  sync.Mutex
	evs []domain.FeedEvent
}

func (r *recorder) Publish(ev domain.FeedEvent) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) events() []domain.FeedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.FeedEvent(nil), r.evs...)
}

func newFeed(t *testing.T, opts ...Option) (*Feed, *recorder) {
	t.Helper()
	rec := &recorder{}
	members := membership.NewStatic(map[string][]string{"family": {"alice", "bob"}})
	opts = append(opts, WithPublishers(rec))
	return New(repository.NewMemoryRepository(), members, logger.NewWithWriter("test", io.Discard, false), opts...), rec
}

func pushRecord(id string, pusher domain.Identity) domain.PushRecord {
	lines := []domain.CartLine{{Dish: domain.DishRef{ID: "d", Name: "d", Price: 100}, Qty: 1}}
	return domain.PushRecord{ID: id, Pusher: pusher, Lines: lines, Total: domain.SumLines(lines), CreatedAt: time.Now().UTC()}
}

func collect(t *testing.T, f *Feed, group string, cursor uint64) []domain.FeedEntry {
	t.Helper()
	var out []domain.FeedEntry
	for e, err := range f.ListSince(context.Background(), group, cursor) {
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestAppendRequiresMembership(t *testing.T) {
	f, rec := newFeed(t)
	_, _, err := f.Append(context.Background(), "family", pushRecord("r1", carol))
	assert.Equal(t, errors.Is(err, domain.ErrNotAMember), true)
	assert.Equal(t, len(collect(t, f, "family", 0)), 0)
	assert.Equal(t, len(rec.events()), 0)
}

func TestAppendIsIdempotent(t *testing.T) {
	f, rec := newFeed(t)
	ctx := context.Background()
	r := pushRecord("r1", alice)

	e1, ok, err := f.Append(ctx, "family", r)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)

	e2, ok, err := f.Append(ctx, "family", r)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)
	assert.Equal(t, e2.Seq, e1.Seq)

	assert.Equal(t, len(collect(t, f, "family", 0)), 1)
	assert.Equal(t, len(rec.events()), 1)
}

func TestOwnershipAndDeleteScenario(t *testing.T) {
	f, rec := newFeed(t)
	ctx := context.Background()

	_, _, _ = f.Append(ctx, "family", pushRecord("r1", alice))

	err := f.Delete(ctx, "family", "r1", "bob")
	assert.Equal(t, errors.Is(err, domain.ErrForbidden), true)
	assert.Equal(t, len(collect(t, f, "family", 0)), 1)

	assert.Equal(t, f.Delete(ctx, "family", "r1", "alice"), nil)
	assert.Equal(t, len(collect(t, f, "family", 0)), 0)

	// second delete by the owner is a quiet success, by others still forbidden
	assert.Equal(t, f.Delete(ctx, "family", "r1", "alice"), nil)
	assert.Equal(t, errors.Is(f.Delete(ctx, "family", "r1", "bob"), domain.ErrForbidden), true)

	assert.Equal(t, errors.Is(f.Delete(ctx, "family", "ghost", "alice"), domain.ErrNotFound), true)

	_, err = f.Get(ctx, "family", "r1")
	assert.Equal(t, errors.Is(err, domain.ErrNotFound), true)

	evs := rec.events()
	assert.Equal(t, len(evs), 2)
	assert.Equal(t, evs[0].EventType, domain.EventAppend)
	assert.Equal(t, evs[1].EventType, domain.EventDelete)
	assert.Equal(t, evs[1].RecordID, "r1")
	assert.Equal(t, evs[1].Seq, uint64(2))
}

func TestListSinceOrderingForEveryCursor(t *testing.T) {
	f, _ := newFeed(t, WithPageSize(3))
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		who := alice
		if i%2 == 0 {
			who = bob
		}
		_, _, err := f.Append(ctx, "family", pushRecord(fmt.Sprintf("r%02d", i), who))
		assert.Equal(t, err, nil)
	}
	_ = f.Delete(ctx, "family", "r04", "bob")

	all := collect(t, f, "family", 0)
	assert.Equal(t, len(all), 9)
	for cursor := uint64(0); cursor <= 11; cursor++ {
		got := collect(t, f, "family", cursor)
		var want []string
		for _, e := range all {
			if e.Seq > cursor {
				want = append(want, e.Record.ID)
			}
		}
		var ids []string
		for _, e := range got {
			ids = append(ids, e.Record.ID)
		}
		assert.Equal(t, ids, want)
	}
}

func TestListSinceStopsEarlyAndRestarts(t *testing.T) {
	f, _ := newFeed(t, WithPageSize(2))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, _ = f.Append(ctx, "family", pushRecord(fmt.Sprintf("r%d", i), alice))
	}
	seq := f.ListSince(ctx, "family", 0)
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, n, 3)

	n = 0
	for range seq {
		n++
	}
	assert.Equal(t, n, 5)
}

// Two members add ¥30×2 and ¥15×1, push, and the feed holds one record of ¥75.
func TestPushScenarioTotals(t *testing.T) {
	f, _ := newFeed(t)
	ctx := context.Background()
	c := cart.New()
	_ = c.AddLine(domain.DishRef{ID: "tofu", Name: "Mapo Tofu", Price: 3000}, 2)
	_ = c.AddLine(domain.DishRef{ID: "rice", Name: "Rice", Price: 1500}, 1)

	rec, err := factory.New().CreatePushWith(c, alice, func(r domain.PushRecord) error {
		_, _, err := f.Append(ctx, "family", r)
		return err
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Count(), 0)

	got := collect(t, f, "family", 0)
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0].Record.ID, rec.ID)
	assert.Equal(t, got[0].Record.Total.String(), "75.00")
}

func TestConcurrentAppendsGetDistinctOrderedSeqs(t *testing.T) {
	f, rec := newFeed(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := alice
			if i%2 == 1 {
				who = bob
			}
			_, _, err := f.Append(ctx, "family", pushRecord(fmt.Sprintf("r%d", i), who))
			if err != nil {
				t.Errorf("append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got := collect(t, f, "family", 0)
	assert.Equal(t, len(got), 40)
	for i, e := range got {
		assert.Equal(t, e.Seq, uint64(i+1))
	}
	// publish order equals seq order because it runs under the group lock
	for i, ev := range rec.events() {
		assert.Equal(t, ev.Seq, uint64(i+1))
	}
}
