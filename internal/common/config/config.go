package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DB struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"password"`
	Name     string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

type MQ struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"` // durable queue of the notification subscriber
}

type HTTP struct {
	Port          int `yaml:"port"`
	MaxConcurrent int `yaml:"max_concurrent"`
}

type Auth struct {
	JWTSecret     string `yaml:"jwt_secret"`
	DefaultAvatar string `yaml:"default_avatar"`
}

type Store struct {
	Backend   string `yaml:"backend"` // memory | postgres | pebble
	PebbleDir string `yaml:"pebble_dir"`
	PageSize  int    `yaml:"page_size"`
}

type Changelog struct {
	Sink           string `yaml:"sink"` // none | file | kafka | both
	Dir            string `yaml:"dir"`
	KafkaBootstrap string `yaml:"kafka_bootstrap"`
	Topic          string `yaml:"topic"`
}

type Distribution struct {
	Buffer         int           `yaml:"buffer"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	OutboxSize     int           `yaml:"outbox_size"`
}

type Dish struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
	Image string `yaml:"image"`
}

type App struct {
	HTTP         HTTP                `yaml:"http"`
	Auth         Auth                `yaml:"auth"`
	Store        Store               `yaml:"store"`
	Database     DB                  `yaml:"database"`
	Rabbit       MQ                  `yaml:"rabbitmq"`
	Changelog    Changelog           `yaml:"changelog"`
	Distribution Distribution        `yaml:"distribution"`
	Groups       map[string][]string `yaml:"groups"`
	Catalog      []Dish              `yaml:"catalog"`
}

// Load reads the YAML file at path, then overlays .env and WHAT2EAT_* variables.
// An empty path skips the file and runs on defaults plus environment.
func Load(path string) (App, error) {
	a := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return App{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &a); err != nil {
			return App{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	// .env is optional; a missing file is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return App{}, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&a)
	if err := a.Validate(); err != nil {
		return App{}, err
	}
	return a, nil
}

func Defaults() App {
	return App{
		HTTP:  HTTP{Port: 3000, MaxConcurrent: 50},
		Auth:  Auth{DefaultAvatar: "/static/default-avatar.png"},
		Store: Store{Backend: "memory", PebbleDir: "./data/feed", PageSize: 100},
		Database: DB{
			Port: 5432, SSLMode: "disable", MaxConns: 10,
		},
		Rabbit: MQ{
			Port: 5672, VHost: "/", Exchange: "push_events", Queue: "push_notifications.q",
		},
		Changelog: Changelog{Sink: "none", Dir: "./changelog", Topic: "push-feed-changelog"},
		Distribution: Distribution{
			Buffer:         64,
			ResyncInterval: 15 * time.Second,
			PingInterval:   30 * time.Second,
			WriteTimeout:   10 * time.Second,
			OutboxSize:     1024,
		},
	}
}

func (a App) Validate() error {
	switch a.Store.Backend {
	case "memory":
	case "pebble":
		if a.Store.PebbleDir == "" {
			return errors.New("invalid config: store.pebble_dir is required for pebble backend")
		}
	case "postgres":
		if a.Database.Host == "" || a.Database.User == "" || a.Database.Name == "" {
			return errors.New("invalid config: database host/user/database required for postgres backend")
		}
	default:
		return fmt.Errorf("invalid config: unknown store.backend %q", a.Store.Backend)
	}
	if a.Rabbit.Enabled && (a.Rabbit.Host == "" || a.Rabbit.User == "") {
		return errors.New("invalid config: rabbitmq host/user required when enabled")
	}
	switch a.Changelog.Sink {
	case "", "none", "file":
	case "kafka", "both":
		if a.Changelog.KafkaBootstrap == "" {
			return errors.New("invalid config: changelog.kafka_bootstrap required for kafka sink")
		}
	default:
		return fmt.Errorf("invalid config: unknown changelog.sink %q", a.Changelog.Sink)
	}
	if a.Auth.JWTSecret == "" {
		return errors.New("invalid config: auth.jwt_secret is required")
	}
	return nil
}

func applyEnv(a *App) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv("WHAT2EAT_" + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv("WHAT2EAT_" + key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	str("JWT_SECRET", &a.Auth.JWTSecret)
	str("STORE_BACKEND", &a.Store.Backend)
	str("PEBBLE_DIR", &a.Store.PebbleDir)
	str("DB_HOST", &a.Database.Host)
	num("DB_PORT", &a.Database.Port)
	str("DB_USER", &a.Database.User)
	str("DB_PASSWORD", &a.Database.Pass)
	str("DB_NAME", &a.Database.Name)
	str("RABBITMQ_HOST", &a.Rabbit.Host)
	num("RABBITMQ_PORT", &a.Rabbit.Port)
	str("RABBITMQ_USER", &a.Rabbit.User)
	str("RABBITMQ_PASSWORD", &a.Rabbit.Pass)
	if v, ok := os.LookupEnv("WHAT2EAT_RABBITMQ_ENABLED"); ok {
		a.Rabbit.Enabled, _ = strconv.ParseBool(v)
	}
	str("CHANGELOG_SINK", &a.Changelog.Sink)
	str("KAFKA_BOOTSTRAP", &a.Changelog.KafkaBootstrap)
	num("HTTP_PORT", &a.HTTP.Port)
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}
