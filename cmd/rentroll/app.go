package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/matthewbaird/rentroll/internal/activity"
	"github.com/matthewbaird/rentroll/internal/billing"
	"github.com/matthewbaird/rentroll/internal/config"
	"github.com/matthewbaird/rentroll/internal/event"
	"github.com/matthewbaird/rentroll/internal/eventbus"
	"github.com/matthewbaird/rentroll/internal/logger"
	"github.com/matthewbaird/rentroll/internal/store"
	"github.com/matthewbaird/rentroll/internal/sweep"
)

// app holds the wired components shared by the subcommands.
type app struct {
	store    *store.Store
	feed     *activity.SQLStore
	recorder *event.ActivityRecorder
	bus      *eventbus.Bus
	engine   *billing.Engine
	sweeper  *sweep.Orchestrator
	redis    *redis.Client
}

// newApp opens and migrates the database and wires the engine, the
// notification pipeline and the sweep. The bus is created but not started.
func newApp(ctx context.Context, c *config.Config) (*app, error) {
	st, err := store.Open(ctx, c.DatabaseURL, logger.WithComponent("store"))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	a := &app{store: st, feed: activity.NewSQLStore(st.Driver())}
	a.recorder = event.NewActivityRecorder(a.feed)
	a.bus = eventbus.New(c.EventBuffer, log.Logger)
	a.bus.Subscribe("log", eventbus.NewLogConsumer(logger.WithComponent("notifications")))
	a.recorder.SetPublisher(a.bus)

	a.engine = billing.NewEngine(st, st,
		billing.WithNotifier(a.recorder),
		billing.WithLogger(logger.WithComponent("billing")),
		billing.WithExpiringWindow(c.ExpiringWindowDays),
	)

	opts := []sweep.Option{
		sweep.WithReminderDays(c.ReminderDays...),
		sweep.WithLogger(logger.WithComponent("sweep")),
	}
	if c.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", c.RedisAddr, err)
		}
		opts = append(opts, sweep.WithLocker(sweep.NewRedisLocker(a.redis, "rentroll:"), c.LockTTL))
	} else {
		opts = append(opts, sweep.WithLocker(sweep.NewMutexLocker(), c.LockTTL))
	}
	a.sweeper = sweep.New(a.engine, a.recorder, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.store.Close()
}
