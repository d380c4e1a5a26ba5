package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"what2eat/internal/common/logger"
	"what2eat/internal/common/metrics"
	"what2eat/internal/common/mq"
	"what2eat/internal/domain"
	"what2eat/internal/microservices/push/changelog"
)

var (
	ErrRequeue = errors.New("requeue")     // nack(requeue=true)
	ErrDLQ     = errors.New("dead_letter") // nack(requeue=false)
)

const publishAttempts = 3

// Broker is the slice of the AMQP client the relay publishes through.
type Broker interface {
	Publish(ctx context.Context, exchange, key, origin string, body []byte) error
}

type RelayInterface interface {
	Publish(ev domain.FeedEvent)
	Run(ctx context.Context) error
	Listen(ctx context.Context, deliveries <-chan amqp.Delivery) error
}

// Relay is the asynchronous outbox behind the feed: committed events go to the
// audit changelog and to other instances via the broker. Either may be nil.
type Relay struct {
	broker   Broker
	exchange string
	origin   string
	audit    changelog.Writer
	local    HubInterface
	outbox   chan domain.FeedEvent
	log      *logger.Logger
	metrics  *metrics.Registry
}

func NewRelay(broker Broker, exchange, origin string, audit changelog.Writer, local HubInterface, size int, log *logger.Logger, m *metrics.Registry) *Relay {
	if size <= 0 {
		size = 1024
	}
	return &Relay{
		broker:   broker,
		exchange: exchange,
		origin:   origin,
		audit:    audit,
		local:    local,
		outbox:   make(chan domain.FeedEvent, size),
		log:      log,
		metrics:  m,
	}
}

// Publish enqueues without blocking. A full outbox drops the event; remote
// subscribers recover it on their next resync from shared storage.
func (r *Relay) Publish(ev domain.FeedEvent) {
	select {
	case r.outbox <- ev:
	default:
		if r.metrics != nil {
			r.metrics.RelayDropped.Inc()
		}
		r.log.Error("relay_outbox_full", errors.New("outbox full"), map[string]any{"group_id": ev.GroupID, "seq": ev.Seq})
	}
}

// Run drains the outbox until ctx is done, then flushes what is left.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-r.outbox:
			r.forward(ctx, ev)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-r.outbox:
					r.forward(flushCtx, ev)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Relay) forward(ctx context.Context, ev domain.FeedEvent) {
	if r.audit != nil {
		if err := r.audit.Append(ctx, ev); err != nil {
			r.log.Error("audit_append_failed", err, map[string]any{"group_id": ev.GroupID, "seq": ev.Seq})
		} else if r.metrics != nil {
			r.metrics.AuditAppended.Inc()
		}
	}
	if r.broker == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("relay_marshal_failed", err, map[string]any{"group_id": ev.GroupID, "seq": ev.Seq})
		return
	}
	backoff := 100 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err = r.broker.Publish(ctx, r.exchange, mq.RoutingKey(ev.GroupID), r.origin, body)
		if err == nil {
			if r.metrics != nil {
				r.metrics.RelayPublished.Inc()
			}
			return
		}
		if attempt == publishAttempts {
			r.publishFailed(ev, err)
			return
		}
		select {
		case <-ctx.Done():
			r.publishFailed(ev, err)
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (r *Relay) publishFailed(ev domain.FeedEvent, err error) {
	if r.metrics != nil {
		r.metrics.RelayFailed.Inc()
	}
	r.log.Error("relay_publish_failed", err, map[string]any{"group_id": ev.GroupID, "seq": ev.Seq})
}

// Listen feeds events published by other instances into the local hub.
func (r *Relay) Listen(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("relay deliveries closed")
			}
			err := r.apply(d)
			switch {
			case err == nil:
				_ = d.Ack(false)
			case errors.Is(err, ErrRequeue):
				_ = d.Nack(false, true)
			default:
				r.log.Error("relay_message_rejected", err, map[string]any{"routing_key": d.RoutingKey})
				_ = d.Nack(false, false)
			}
		}
	}
}

func (r *Relay) apply(d amqp.Delivery) error {
	if origin, _ := d.Headers[mq.OriginHeader].(string); origin == r.origin {
		return nil
	}
	var ev domain.FeedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrDLQ, err)
	}
	if ev.GroupID == "" || ev.Seq == 0 {
		return fmt.Errorf("%w: missing group or seq", ErrDLQ)
	}
	r.local.Publish(ev)
	if r.metrics != nil {
		r.metrics.RemoteApplied.Inc()
	}
	return nil
}
