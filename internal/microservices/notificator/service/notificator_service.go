package service

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"what2eat/internal/common/logger"
	"what2eat/internal/domain"
)

type NotificatorServiceInterface interface {
	Notify(ctx context.Context, deliveries <-chan amqp.Delivery) error
}

// NotificatorService turns feed events into user-facing notifications. The
// delivery channel is a log line per event; a mobile push gateway would plug in here.
type NotificatorService struct {
	log *logger.Logger
}

func NewNotificatorService(log *logger.Logger) NotificatorServiceInterface {
	return &NotificatorService{log: log}
}

func (ns *NotificatorService) Notify(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("notification deliveries closed")
			}
			if err := ns.handle(d.Body); err != nil {
				ns.log.Error("notification_rejected", err, map[string]any{"routing_key": d.RoutingKey})
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (ns *NotificatorService) handle(body []byte) error {
	var ev domain.FeedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	switch ev.EventType {
	case domain.EventAppend:
		if ev.Record == nil {
			return fmt.Errorf("append event %d without record", ev.Seq)
		}
		ns.log.Info("push_notification", map[string]any{
			"group_id":    ev.GroupID,
			"seq":         ev.Seq,
			"push_id":     ev.Record.ID,
			"pusher_id":   ev.Record.PusherID,
			"pusher_name": ev.Record.PusherName,
			"dishes":      len(ev.Record.Lines),
			"total":       ev.Record.Total.String(),
			"message":     fmt.Sprintf("%s pushed %d dishes (%s)", ev.Record.PusherName, len(ev.Record.Lines), ev.Record.Total),
		})
	case domain.EventDelete:
		ns.log.Info("push_retracted", map[string]any{"group_id": ev.GroupID, "seq": ev.Seq, "push_id": ev.RecordID})
	default:
		return fmt.Errorf("unknown event type %q", ev.EventType)
	}
	return nil
}
