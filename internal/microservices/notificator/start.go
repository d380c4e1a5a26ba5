package notificator

import (
	"context"
	"fmt"

	"what2eat/internal/common/config"
	"what2eat/internal/common/logger"
	"what2eat/internal/common/mq"
	"what2eat/internal/microservices/notificator/service"
)

// Start consumes push events from a durable queue until ctx is cancelled.
func Start(ctx context.Context, cfg config.MQ) error {
	lg := logger.New("notification-subscriber")
	client, err := mq.Dial(cfg)
	if err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}
	defer client.Close()

	if err := client.DeclarePushTopology(cfg.Exchange); err != nil {
		return fmt.Errorf("rabbitmq declare: %w", err)
	}
	if err := client.DeclareDurableQueue(cfg.Exchange, cfg.Queue); err != nil {
		return fmt.Errorf("rabbitmq queue: %w", err)
	}
	deliveries, err := client.Consume(cfg.Queue, "notificator", 16)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}
	lg.Info("service_started", map[string]any{"queue": cfg.Queue, "exchange": cfg.Exchange})

	svc := service.New(lg)
	return svc.NotificatorService.Notify(ctx, deliveries)
}
