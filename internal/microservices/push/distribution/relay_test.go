package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	amqp "github.com/rabbitmq/amqp091-go"

	"what2eat/internal/common/mq"
	"what2eat/internal/domain"
)

type published struct {
	exchange, key, origin string
	body                  []byte
}

type fakeBroker struct {
	mu    sync.Mutex
	msgs  []published
	fails int
	calls int
}

func (b *fakeBroker) Publish(_ context.Context, exchange, key, origin string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fails > 0 {
		b.fails--
		return errors.New("broker down")
	}
	b.msgs = append(b.msgs, published{exchange, key, origin, body})
	return nil
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

type fakeAudit struct {
	mu  sync.Mutex
	evs []domain.FeedEvent
}

func (a *fakeAudit) Append(_ context.Context, ev domain.FeedEvent) error {
	a.mu.Lock()
	a.evs = append(a.evs, ev)
	a.mu.Unlock()
	return nil
}

func (a *fakeAudit) Close() error { return nil }

type captureHub struct {
	mu  sync.Mutex
	evs []domain.FeedEvent
}

func (c *captureHub) Publish(ev domain.FeedEvent) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *captureHub) Subscribe(context.Context, string, uint64) *Subscription { return nil }

type acker struct {
	mu                    sync.Mutex
	acks, nacks, requeues int
}

func (a *acker) Ack(uint64, bool) error { a.mu.Lock(); a.acks++; a.mu.Unlock(); return nil }
func (a *acker) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeues++
	} else {
		a.nacks++
	}
	return nil
}
func (a *acker) Reject(uint64, bool) error { return nil }

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayForwardsToBrokerAndAudit(t *testing.T) {
	b := &fakeBroker{fails: 1}
	a := &fakeAudit{}
	r := NewRelay(b, "push_events", "node-1", a, &captureHub{}, 8, quiet, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = r.Run(ctx); close(done) }()

	r.Publish(domain.DeleteEvent("family", 4, "r1", time.Now().UTC()))
	eventually(t, func() bool { return b.count() == 1 })
	cancel()
	<-done

	assert.Equal(t, b.msgs[0].exchange, "push_events")
	assert.Equal(t, b.msgs[0].key, mq.RoutingKey("family"))
	assert.Equal(t, b.msgs[0].origin, "node-1")
	var ev domain.FeedEvent
	assert.Equal(t, json.Unmarshal(b.msgs[0].body, &ev), nil)
	assert.Equal(t, ev.Seq, uint64(4))
	assert.Equal(t, len(a.evs), 1)
}

func TestRelayGivesUpAfterThreeAttempts(t *testing.T) {
	b := &fakeBroker{fails: 100}
	r := NewRelay(b, "push_events", "node-1", nil, &captureHub{}, 8, quiet, nil)
	r.forward(context.Background(), domain.DeleteEvent("g", 1, "r1", time.Now().UTC()))
	assert.Equal(t, b.calls, publishAttempts)
	assert.Equal(t, b.count(), 0)
}

func TestRelayStopsRetryingWhenCancelled(t *testing.T) {
	b := &fakeBroker{fails: 100}
	r := NewRelay(b, "push_events", "node-1", nil, &captureHub{}, 8, quiet, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	r.forward(ctx, domain.DeleteEvent("g", 1, "r1", time.Now().UTC()))
	assert.Equal(t, b.calls, 1)
	assert.Equal(t, time.Since(start) < 100*time.Millisecond, true)
}

func TestRelayPublishNeverBlocks(t *testing.T) {
	r := NewRelay(nil, "x", "node-1", nil, &captureHub{}, 1, quiet, nil)
	for i := 0; i < 10; i++ {
		r.Publish(domain.DeleteEvent("g", uint64(i+1), "r", time.Now()))
	}
	assert.Equal(t, len(r.outbox), 1)
}

func TestRelayListenAppliesRemoteEventsOnly(t *testing.T) {
	local := &captureHub{}
	r := NewRelay(nil, "push_events", "node-1", nil, local, 8, quiet, nil)
	ack := &acker{}
	deliveries := make(chan amqp.Delivery, 4)

	body, _ := json.Marshal(domain.DeleteEvent("family", 7, "r1", time.Now().UTC()))
	deliveries <- amqp.Delivery{Acknowledger: ack, Body: body, Headers: amqp.Table{mq.OriginHeader: "node-2"}}
	deliveries <- amqp.Delivery{Acknowledger: ack, Body: body, Headers: amqp.Table{mq.OriginHeader: "node-1"}}
	deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte("{bad"), Headers: amqp.Table{}}
	close(deliveries)

	err := r.Listen(context.Background(), deliveries)
	assert.NotEqual(t, err, nil)

	assert.Equal(t, len(local.evs), 1)
	assert.Equal(t, local.evs[0].Seq, uint64(7))
	assert.Equal(t, ack.acks, 2)
	assert.Equal(t, ack.nacks, 1)
}
