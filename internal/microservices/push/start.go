package push

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"what2eat/internal/common/auth"
	"what2eat/internal/common/config"
	"what2eat/internal/common/db"
	"what2eat/internal/common/httpx"
	"what2eat/internal/common/logger"
	"what2eat/internal/common/metrics"
	"what2eat/internal/common/mq"
	"what2eat/internal/microservices/push/cart"
	"what2eat/internal/microservices/push/catalog"
	"what2eat/internal/microservices/push/changelog"
	"what2eat/internal/microservices/push/distribution"
	"what2eat/internal/microservices/push/factory"
	"what2eat/internal/microservices/push/feed"
	"what2eat/internal/microservices/push/handlers"
	"what2eat/internal/microservices/push/membership"
	"what2eat/internal/microservices/push/repository"
	"what2eat/internal/microservices/push/service"
)

// Run serves the cart and push API until ctx is cancelled.
func Run(ctx context.Context, cfg config.App) error {
	lg := logger.New("push-service")
	m := metrics.NewRegistry()

	// 1. Storage and collaborators
	var (
		repo    repository.FeedRepositoryInterface
		members membership.MembershipInterface
		cat     catalog.CatalogInterface
		err     error
	)
	switch cfg.Store.Backend {
	case "postgres":
		conn, err := db.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer conn.Close()
		if err := repository.Migrate(ctx, conn.Pool); err != nil {
			return err
		}
		repo = repository.NewPostgresRepository(conn.Pool)
		members = membership.NewPostgres(conn.Pool)
		cat = catalog.NewPostgres(conn.Pool)
		lg.Info("db_connected", map[string]any{"host": cfg.Database.Host, "database": cfg.Database.Name})
	case "pebble":
		if repo, err = repository.NewPebbleRepository(cfg.Store.PebbleDir); err != nil {
			return err
		}
	default:
		repo = repository.NewMemoryRepository()
	}
	defer repo.Close()
	if members == nil {
		members = membership.NewStatic(cfg.Groups)
	}
	if cat == nil {
		if cat, err = catalog.NewStatic(cfg.Catalog); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}

	// 2. Feed and local fan-out
	f := feed.New(repo, members, lg, feed.WithMetrics(m), feed.WithPageSize(cfg.Store.PageSize))
	hub := distribution.NewHub(f, distribution.Options{
		Buffer:         cfg.Distribution.Buffer,
		ResyncInterval: cfg.Distribution.ResyncInterval,
		PageSize:       cfg.Store.PageSize,
	}, lg, m)
	f.AddPublisher(hub)

	// 3. Outbox: audit changelog and cross-instance relay
	audit, err := changelog.Open(cfg.Changelog.Sink, cfg.Changelog.Dir, cfg.Changelog.KafkaBootstrap, cfg.Changelog.Topic)
	if err != nil {
		return fmt.Errorf("changelog: %w", err)
	}
	if audit != nil {
		defer audit.Close()
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var broker distribution.Broker
	var relay *distribution.Relay
	if cfg.Rabbit.Enabled {
		client, err := mq.Dial(cfg.Rabbit)
		if err != nil {
			return fmt.Errorf("rabbitmq connect: %w", err)
		}
		defer client.Close()
		if err := client.DeclarePushTopology(cfg.Rabbit.Exchange); err != nil {
			return fmt.Errorf("rabbitmq declare: %w", err)
		}
		queue, err := client.DeclareInstanceQueue(cfg.Rabbit.Exchange)
		if err != nil {
			return fmt.Errorf("rabbitmq queue: %w", err)
		}
		deliveries, err := client.Consume(queue, "push-service-"+queue, 32)
		if err != nil {
			return fmt.Errorf("rabbitmq consume: %w", err)
		}
		broker = client
		closed := client.NotifyClose()
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case e := <-closed:
				if e != nil {
					lg.Error("rabbitmq_connection_lost", e, map[string]any{"code": e.Code})
					cancel()
				}
			case <-ctx.Done():
			}
		}()
		relay = distribution.NewRelay(broker, cfg.Rabbit.Exchange, uuid.NewString(), audit, hub, cfg.Distribution.OutboxSize, lg, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Listen(ctx, deliveries); err != nil {
				lg.Error("relay_listen_stopped", err, nil)
				cancel()
			}
		}()
		lg.Info("rabbitmq_connected", map[string]any{"host": cfg.Rabbit.Host, "queue": queue})
	} else if audit != nil {
		relay = distribution.NewRelay(nil, "", "", audit, hub, cfg.Distribution.OutboxSize, lg, m)
	}
	if relay != nil {
		f.AddPublisher(relay)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = relay.Run(ctx)
		}()
	}

	// 4. HTTP
	svc := service.New(service.Deps{
		Carts:   cart.NewRegistry(),
		Factory: factory.New(),
		Feed:    f,
		Hub:     hub,
		Members: members,
		Catalog: cat,
		Log:     lg,
	})
	h := handlers.New(svc, lg, handlers.StreamOptions{
		PingInterval: cfg.Distribution.PingInterval,
		WriteTimeout: cfg.Distribution.WriteTimeout,
		Base:         ctx,
	})
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.DefaultAvatar)
	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	lg.Info("service_started", map[string]any{"addr": addr, "backend": cfg.Store.Backend, "max_concurrent": cfg.HTTP.MaxConcurrent})

	err = httpx.New(addr, handlers.Router(h, verifier, m, cfg.HTTP.MaxConcurrent)).Run(ctx)
	// stop the relay and let it flush before the broker and changelog close
	cancel()
	wg.Wait()
	return err
}
