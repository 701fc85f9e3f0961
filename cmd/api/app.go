package main

import (
	"context"
	"fmt"
	"log/slog"

	"callbridge/internal/appointments"
	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/callcap"
	"callbridge/internal/calls"
	"callbridge/internal/clinic"
	"callbridge/internal/config"
	"callbridge/internal/events"
	"callbridge/internal/observability"
	"callbridge/internal/realtime"
	"callbridge/internal/reporting"
	"callbridge/internal/store"
	"callbridge/internal/telephony"
	"callbridge/internal/tools"
	"callbridge/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// app holds the wired process dependencies. No globals.
type app struct {
	cfg config.Config
	log *slog.Logger

	promRegistry *prometheus.Registry
	metrics      *observability.Metrics

	broadcaster  *events.Broadcaster
	directory    *clinic.Directory
	appointments *appointments.Manager
	tools        *tools.Registry
	calls        *calls.Registry
	limiter      callcap.Limiter
	providers    realtime.Factory
	twilio       *telephony.TwilioClient
	auth         *auth.Manager
	reports      *reporting.Service
	audit        *audit.Service
}

// openStore selects the record store backend. The returned close func is
// never nil.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PoolOptions{})
		if err != nil {
			return nil, func() {}, fmt.Errorf("postgres: %w", err)
		}
		ps := store.NewPostgresStore(db)
		if _, err := ps.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, func() {}, fmt.Errorf("postgres migrate: %w", err)
		}
		return ps, func() { _ = db.Close() }, nil
	default:
		fs, err := store.NewFileStore(cfg.Store.DataDir)
		if err != nil {
			return nil, func() {}, err
		}
		return fs, func() {}, nil
	}
}

// openRedis returns nil when Redis is not configured.
func openRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if !cfg.RedisEnabled() {
		return nil, nil
	}
	return utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
}

// newApp wires every component on top of an opened store. rdb may be nil.
func newApp(cfg config.Config, log *slog.Logger, st store.Store, rdb redis.Scripter) (*app, error) {
	a := &app{cfg: cfg, log: log}

	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.promRegistry)

	a.broadcaster = events.NewBroadcaster(cfg.Dashboard.QueueSize, log, events.Hooks{
		OnSubscribersChanged: a.metrics.SetSubscribers,
		OnSubscriberDropped:  a.metrics.SubscriberDropped,
	})
	a.directory = clinic.NewDirectory(st)
	a.appointments = appointments.NewManager(st, a.broadcaster, appointments.Options{
		Hours:     a.directory.WorkingHours,
		OnBooking: a.metrics.Booking,
		Logger:    log,
	})

	var err error
	a.tools, err = tools.NewRegistry(a.appointments, a.directory)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}

	a.reports = reporting.NewService(reporting.NewStoreRepo(st, cfg.Calls.LogRetention))
	a.audit = audit.NewService(audit.NewStoreRepo(st))

	a.calls = calls.NewRegistry()
	a.limiter = callcap.New(cfg.Calls, rdb)
	a.providers = realtime.NewFactory(cfg.Provider)
	a.twilio = telephony.NewTwilioClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)

	if cfg.AuthEnabled() {
		a.auth, err = auth.NewManager(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
	}
	return a, nil
}
