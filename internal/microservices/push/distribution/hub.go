package distribution

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"what2eat/internal/common/logger"
	"what2eat/internal/common/metrics"
	"what2eat/internal/domain"
)

// EventSource is the durable event log subscriptions catch up from.
type EventSource interface {
	EventsSince(ctx context.Context, groupID string, cursor uint64, limit int) ([]domain.FeedEvent, error)
}

type HubInterface interface {
	Publish(ev domain.FeedEvent)
	Subscribe(ctx context.Context, groupID string, since uint64) *Subscription
}

// A failed read of the event log is retried after catchUpRetry, doubling up to
// maxCatchUpRetry while it keeps failing.
const (
	catchUpRetry    = 200 * time.Millisecond
	maxCatchUpRetry = 5 * time.Second
)

type Options struct {
	Buffer         int
	ResyncInterval time.Duration
	PageSize       int
}

// Hub fans feed events out to live subscriptions. Publish never blocks: each
// subscription has a bounded inbox and falls back to the event log when it
// overflows or sees a gap.
type Hub struct {
	source  EventSource
	opts    Options
	log     *logger.Logger
	metrics *metrics.Registry

	mu     sync.Mutex
	groups map[string]map[string]*Subscription
}

func NewHub(source EventSource, opts Options, log *logger.Logger, m *metrics.Registry) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Hub{
		source:  source,
		opts:    opts,
		log:     log,
		metrics: m,
		groups:  make(map[string]map[string]*Subscription),
	}
}

func (h *Hub) Publish(ev domain.FeedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.groups[ev.GroupID] {
		select {
		case s.inbox <- ev:
		default:
			s.lagging.Store(true)
			s.poke()
		}
	}
}

// Subscribe registers first and replays afterwards, so an event committed while
// the replay runs is seen either from the log or from the inbox.
func (h *Hub) Subscribe(ctx context.Context, groupID string, since uint64) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ID:      uuid.NewString(),
		GroupID: groupID,
		hub:     h,
		cursor:  since,
		inbox:   make(chan domain.FeedEvent, h.opts.Buffer),
		wake:    make(chan struct{}, 1),
		out:     make(chan domain.FeedEvent),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	subs, ok := h.groups[groupID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.groups[groupID] = subs
	}
	subs[s.ID] = s
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.Subscribers.Inc()
	}
	glog.V(2).Infof("[hub]subscribe %s group=%s since=%d", s.ID, groupID, since)

	go s.run()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	if subs, ok := h.groups[s.GroupID]; ok {
		delete(subs, s.ID)
		if len(subs) == 0 {
			delete(h.groups, s.GroupID)
		}
	}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.Subscribers.Dec()
	}
	glog.V(2).Infof("[hub]unsubscribe %s group=%s cursor=%d", s.ID, s.GroupID, s.Cursor())
}

// Subscribers reports how many live subscriptions a group has.
func (h *Hub) Subscribers(groupID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[groupID])
}

type Subscription struct {
	ID      string
	GroupID string

	hub     *Hub
	cursor  uint64
	seen    atomic.Uint64
	inbox   chan domain.FeedEvent
	wake    chan struct{}
	lagging atomic.Bool
	pending []domain.FeedEvent
	out     chan domain.FeedEvent

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Events yields events in seq order without duplicates. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan domain.FeedEvent { return s.out }

// Cursor is the seq of the last delivered event.
func (s *Subscription) Cursor() uint64 { return s.seen.Load() }

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}

func (s *Subscription) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	defer close(s.out)
	defer s.hub.remove(s)
	s.seen.Store(s.cursor)

	// retry is armed while the event log is failing; the cursor stays put
	// until a read succeeds, so nothing past a missing seq is delivered early.
	var retry <-chan time.Time
	delay := catchUpRetry
	refresh := func(reason string) bool {
		alive, ok := s.catchUp(reason)
		if !alive {
			return false
		}
		if !ok {
			retry = time.After(delay)
			delay = min(delay*2, maxCatchUpRetry)
			return true
		}
		retry, delay = nil, catchUpRetry
		return s.flushPending()
	}

	if !refresh("initial") {
		return
	}

	var tick <-chan time.Time
	if s.hub.opts.ResyncInterval > 0 {
		t := time.NewTicker(s.hub.opts.ResyncInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.inbox:
			switch {
			case ev.Seq <= s.cursor:
				// duplicate of something already delivered
			case ev.Seq == s.cursor+1 && len(s.pending) == 0:
				if !s.deliver(ev) {
					return
				}
			default:
				s.hold(ev)
				if retry == nil && !refresh("gap") {
					return
				}
			}
		case <-s.wake:
			if s.lagging.Swap(false) && retry == nil {
				if !refresh("lag") {
					return
				}
			}
		case <-retry:
			if !refresh("retry") {
				return
			}
		case <-tick:
			if retry == nil && !refresh("resync") {
				return
			}
		}
	}
}

// catchUp pages the event log forward from the cursor. alive is false when the
// subscription is over; ok is false when the log could not be read.
func (s *Subscription) catchUp(reason string) (alive, ok bool) {
	if s.hub.metrics != nil && reason != "initial" {
		s.hub.metrics.Resyncs.WithLabelValues(reason).Inc()
	}
	for {
		evs, err := s.hub.source.EventsSince(s.ctx, s.GroupID, s.cursor, s.hub.opts.PageSize)
		if err != nil {
			if s.ctx.Err() != nil {
				return false, false
			}
			s.hub.log.Error("stream_catchup_failed", err, map[string]any{"group_id": s.GroupID, "cursor": s.cursor, "reason": reason})
			return true, false
		}
		for _, ev := range evs {
			if ev.Seq <= s.cursor {
				continue
			}
			if !s.deliver(ev) {
				return false, false
			}
		}
		if len(evs) < s.hub.opts.PageSize {
			return true, true
		}
	}
}

// hold keeps an out-of-order live event until the log has been read past the
// gap in front of it. When the buffer is full the event is dropped; it is
// read back from the log like any other missed event.
func (s *Subscription) hold(ev domain.FeedEvent) {
	for _, p := range s.pending {
		if p.Seq == ev.Seq {
			return
		}
	}
	if len(s.pending) >= s.hub.opts.Buffer {
		return
	}
	s.pending = append(s.pending, ev)
}

// flushPending runs after a successful catch-up. Held events the log did not
// cover (relayed from an instance with local storage) are delivered in seq
// order rather than stalling the stream.
func (s *Subscription) flushPending() bool {
	if len(s.pending) == 0 {
		return true
	}
	sort.Slice(s.pending, func(i, j int) bool { return s.pending[i].Seq < s.pending[j].Seq })
	held := s.pending
	s.pending = nil
	for _, ev := range held {
		if ev.Seq <= s.cursor {
			continue
		}
		if !s.deliver(ev) {
			return false
		}
	}
	return true
}

func (s *Subscription) deliver(ev domain.FeedEvent) bool {
	select {
	case s.out <- ev:
		s.cursor = ev.Seq
		s.seen.Store(ev.Seq)
		if s.hub.metrics != nil {
			s.hub.metrics.Delivered.Inc()
		}
		return true
	case <-s.ctx.Done():
		return false
	}
}
