package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"what2eat/internal/common/config"
	"what2eat/internal/common/logger"
	"what2eat/internal/microservices/notificator"
	"what2eat/internal/microservices/push"
)

func main() {
	mode := flag.String("mode", "", "push-service | notification-subscriber")
	cfgPath := flag.String("config", "", "path to YAML config (default: ./config.yaml if present)")
	port := flag.Int("port", 0, "push-service: http port (overrides config)")
	maxConc := flag.Int("max-concurrent", 0, "push-service: max concurrent requests (overrides config)")
	flag.Parse()
	defer glog.Flush()

	lg := logger.New("bootstrap")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := *cfgPath
	if path == "" {
		p, err := config.FindConfig()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			lg.Error("config_lookup_failed", err, nil)
			os.Exit(1)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": path})
		os.Exit(2)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	if *maxConc != 0 {
		cfg.HTTP.MaxConcurrent = *maxConc
	}

	switch *mode {
	case "push-service":
		lg.Info("service_starting", map[string]any{"service": "push-service", "port": cfg.HTTP.Port, "config": path})
		if err := push.Run(ctx, cfg); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "notification-subscriber":
		if !cfg.Rabbit.Enabled {
			fmt.Fprintln(os.Stderr, "notification-subscriber needs rabbitmq.enabled: true")
			os.Exit(2)
		}
		lg.Info("service_starting", map[string]any{"service": "notification-subscriber"})
		if err := notificator.Start(ctx, cfg.Rabbit); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: push-service | notification-subscriber")
		os.Exit(2)
	}
	lg.Info("service_stopped", map[string]any{"mode": *mode})
}
