package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qms/waitlist-service/internal/config"
	"qms/waitlist-service/internal/notify"
	"qms/waitlist-service/internal/queue"
	"qms/waitlist-service/internal/realtime"
	"qms/waitlist-service/internal/store"
	"qms/waitlist-service/internal/store/memory"
	"qms/waitlist-service/internal/store/postgres"
	"qms/waitlist-service/internal/tenant"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	entries   store.EntryStore
	directory tenant.Directory
	hub       *realtime.Hub
	redis     *redis.Client
	service   *queue.Service
	pool      *queue.Pool

	closers []func() error
}

// newApp connects the backing services. With DB_DSN unset the queue runs on
// the in-memory store and the tenants file.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, hub: realtime.NewHub(logger)}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var publisher realtime.Publisher = realtime.NewLocalPublisher(a.hub)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		a.closers = append(a.closers, a.redis.Close)
		publisher = realtime.NewRedisPublisher(a.redis, cfg.RedisChannel)
	}

	email, messaging, err := a.notificationChannels()
	if err != nil {
		a.Close()
		return nil, err
	}
	dispatcher := notify.NewDispatcher(email, messaging, logger.With("component", "notify"))
	trigger := notify.NewTrigger(a.entries, dispatcher, logger.With("component", "notify"))

	a.pool = queue.NewPool(cfg.BackgroundQueueSize, logger.With("component", "runner"),
		queue.WithPoolWorkers(cfg.BackgroundWorkers),
		queue.WithTaskTimeout(cfg.BackgroundTimeout),
	)
	a.service = queue.NewService(a.entries, a.directory,
		queue.WithLogger(logger.With("component", "queue")),
		queue.WithRunner(a.pool),
		queue.WithTrigger(trigger),
		queue.WithBroadcaster(realtime.NewBroadcaster(publisher, logger.With("component", "realtime"))),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		directory := tenant.NewStatic()
		entries := memory.New()
		if a.cfg.TenantsFile != "" {
			file, err := tenant.LoadFile(a.cfg.TenantsFile)
			if err != nil {
				return err
			}
			restaurants, err := file.Models()
			if err != nil {
				return err
			}
			for _, restaurant := range restaurants {
				directory.Put(restaurant)
			}
			for _, session := range file.StoreSessions(time.Now().UTC()) {
				entries.AddSession(session)
			}
		}
		a.logger.Warn("DB_DSN not set, using in-memory store")
		a.entries = entries
		a.directory = directory
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.entries = postgres.NewStore(pool)
	a.directory = tenant.NewPostgres(pool)
	return nil
}

func (a *app) notificationChannels() (notify.Channel, notify.Channel, error) {
	var publisher notify.Publisher
	if a.cfg.EmailProvider == "amqp" || a.cfg.MessagingProvider == "amqp" {
		if a.cfg.AMQPURL == "" {
			return nil, nil, errors.New("AMQP_URL is required for the amqp notification provider")
		}
		conn, err := notify.DialAMQP(a.cfg.AMQPURL, a.cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, conn.Close)
		publisher = conn.Publisher()
	}
	logger := a.logger.With("component", "notify")
	email := notify.NewChannel(notify.ChannelConfig{
		Name:         "email",
		Kind:         a.cfg.EmailProvider,
		WebhookURL:   a.cfg.EmailWebhookURL,
		WebhookToken: a.cfg.WebhookToken,
		Publisher:    publisher,
		Exchange:     a.cfg.AMQPExchange,
	}, logger)
	messaging := notify.NewChannel(notify.ChannelConfig{
		Name:         "messaging",
		Kind:         a.cfg.MessagingProvider,
		WebhookURL:   a.cfg.MessagingWebhookURL,
		WebhookToken: a.cfg.WebhookToken,
		Publisher:    publisher,
		Exchange:     a.cfg.AMQPExchange,
	}, logger)
	return email, messaging, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
