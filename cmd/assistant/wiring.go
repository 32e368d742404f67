package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/example/assistant-calendar/internal/adapters"
	"github.com/example/assistant-calendar/internal/application"
	"github.com/example/assistant-calendar/internal/cache"
	"github.com/example/assistant-calendar/internal/config"
	httptransport "github.com/example/assistant-calendar/internal/http"
	"github.com/example/assistant-calendar/internal/notifications"
	"github.com/example/assistant-calendar/internal/persistence"
	"github.com/example/assistant-calendar/internal/persistence/memory"
	"github.com/example/assistant-calendar/internal/persistence/sqlite"
	"github.com/example/assistant-calendar/internal/persistence/sqlite/migration"
	"github.com/example/assistant-calendar/internal/scheduler"
	"github.com/example/assistant-calendar/internal/telemetry"
)

// backend is the configured persistence layer.
type backend struct {
	Name     string
	Users    persistence.UserRepository
	Meetings persistence.MeetingRepository

	ping  func(ctx context.Context) error
	close func() error
}

func (b *backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		store := memory.NewStore()
		return &backend{Name: config.StorageMemory, Users: store, Meetings: store}, nil
	case config.StorageSQLite:
		storage, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(cfg.SQLiteDSN), logger)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		return &backend{
			Name:     config.StorageSQLite,
			Users:    storage.Users,
			Meetings: storage.Meetings,
			ping:     storage.Ping,
			close:    storage.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

// services is the application layer wired over a backend.
type services struct {
	Meetings *application.MeetingService
	Users    *application.UserService
	Auth     *application.AuthService
	Resets   *application.PasswordResetService
}

// keyValueStores separates revocation entries from reset codes so a flood of
// reset requests cannot evict a revoked session.
type keyValueStores struct {
	Revoked application.KeyValueStore
	Resets  application.KeyValueStore
}

// memoryKeyValueStores keeps both concerns in process. Revocation entries are
// pinned and only leave the store when they expire.
func memoryKeyValueStores() keyValueStores {
	return keyValueStores{
		Revoked: cache.NewMemoryStore(0, time.Now, cache.WithPinnedPrefixes(application.RevokedTokenKeyPrefix)),
		Resets:  cache.NewMemoryStore(0, time.Now),
	}
}

type notifier interface {
	application.Notifier
	application.ResetCodeSender
}

func newServices(cfg config.Config, logger *slog.Logger, b *backend, kv keyValueStores, events notifier, metrics application.MeetingMetrics) *services {
	now := time.Now
	credentials := adapters.NewCredentialStore(b.Users, now)
	tokens := application.NewTokenIssuer([]byte(cfg.TokenSecret), cfg.TokenTTL, now)

	return &services{
		Meetings: application.NewMeetingService(application.MeetingServiceDeps{
			Meetings:     adapters.NewMeetingRepository(b.Meetings),
			Users:        adapters.NewParticipantDirectory(b.Users),
			Notifier:     events,
			Metrics:      metrics,
			IDGenerator:  uuid.NewString,
			Now:          now,
			Logger:       logger,
			SlotStep:     cfg.SlotStep,
			WorkingHours: scheduler.WorkingHours{Start: cfg.WorkingHoursStart, End: cfg.WorkingHoursEnd},
		}),
		Users:  application.NewUserService(adapters.NewUserRepository(b.Users), uuid.NewString, now),
		Auth:   application.NewAuthServiceWithLogger(credentials, tokens, kv.Revoked, nil, uuid.NewString, now, logger),
		Resets: application.NewPasswordResetService(credentials, kv.Resets, events, nil, now, cfg.ResetCodeTTL, logger),
	}
}

// api is the HTTP handler together with the connections it owns.
type api struct {
	Handler  http.Handler
	Services *services
	Metrics  *telemetry.Metrics

	closers []func()
}

// Close releases the Redis and NATS connections.
func (a *api) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newAPI(ctx context.Context, cfg config.Config, logger *slog.Logger, b *backend) (*api, error) {
	out := &api{Metrics: telemetry.New()}
	checks := []httptransport.HealthCheck{b.Ping}

	var kv keyValueStores
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		store := cache.NewRedisStore(client, cache.DefaultKeyPrefix)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		out.closers = append(out.closers, func() { _ = client.Close() })
		checks = append(checks, store.Ping)
		kv = keyValueStores{Revoked: store, Resets: store}
		logger.Info("using redis key-value store", "addr", cfg.RedisAddr)
	} else {
		kv = memoryKeyValueStores()
	}

	var events notifier = notifications.NewLogNotifier(logger)
	if cfg.NATSURL != "" {
		natsCfg := notifications.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.SubjectPrefix = cfg.NATSSubjectPrefix
		conn, err := notifications.Connect(natsCfg, logger)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.closers = append(out.closers, func() { drain(conn, logger) })
		checks = append(checks, func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		})
		events = notifications.NewNATSNotifier(conn, natsCfg.SubjectPrefix, time.Now, logger)
		logger.Info("publishing events to nats", "url", cfg.NATSURL, "prefix", natsCfg.SubjectPrefix)
	}

	out.Services = newServices(cfg, logger, b, kv, events, out.Metrics)
	out.Handler = httptransport.NewRouter(httptransport.RouterConfig{
		Auth:       httptransport.NewAuthHandler(out.Services.Auth, out.Services.Resets, cfg.CookieSecure, logger),
		Users:      httptransport.NewUserHandler(out.Services.Users, logger),
		Meetings:   httptransport.NewMeetingHandler(out.Services.Meetings, logger),
		Sessions:   out.Services.Auth,
		Logger:     logger,
		Metrics:    out.Metrics.Handler(),
		Health:     allHealthy(checks),
		Middleware: []func(http.Handler) http.Handler{out.Metrics.Middleware},
	})
	return out, nil
}

func allHealthy(checks []httptransport.HealthCheck) httptransport.HealthCheck {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func drain(conn *nats.Conn, logger *slog.Logger) {
	if err := conn.Drain(); err != nil {
		logger.Warn("failed to drain nats connection", "error", err)
		conn.Close()
	}
}
