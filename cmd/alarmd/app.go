package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"escalarm/internal/api/handlers"
	"escalarm/internal/archive"
	"escalarm/internal/config"
	"escalarm/internal/core"
	"escalarm/internal/db"
	"escalarm/internal/external"
	notify "escalarm/internal/notifications/core"
	"escalarm/internal/notifications/local"
	"escalarm/internal/notifications/webhook"
	"escalarm/internal/scheduler"
	"escalarm/internal/security"
	"escalarm/internal/tasks"
	"escalarm/internal/telemetry"
	"escalarm/internal/types"
)

// deps holds the constructors that reach outside the process. Tests replace
// them.
type deps struct {
	loadAWS func(ctx context.Context, cfg config.AWSConfig) (aws.Config, error)
	newPool func(ctx context.Context, cfg db.PoolConfig) (*pgxpool.Pool, error)
}

func defaultDeps() deps {
	return deps{loadAWS: loadAWSConfig, newPool: db.NewPool}
}

// app is the fully wired daemon.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	sched   *scheduler.Scheduler
	gateway *notify.Gateway
	backend *local.Backend
	bridge  *tasks.Bridge
	server  *core.Server

	pool *pgxpool.Pool
}

// newApp constructs every component. Nothing is restored or served yet.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, d deps) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	adapter := types.NewSlogAdapter(logger)

	var awsCfg *aws.Config
	awsOnce := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := d.loadAWS(ctx, cfg.AWS)
		if err != nil {
			return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	var metrics telemetry.AlarmMetrics = telemetry.Noop{}
	if cfg.Observability.EnableMetrics {
		c, err := awsOnce()
		if err != nil {
			return nil, err
		}
		metrics = telemetry.NewCloudWatchMetrics(cloudwatch.NewFromConfig(c), cfg.Observability.MetricNamespace, adapter)
	}

	store, err := a.openStore(ctx, d)
	if err != nil {
		return nil, err
	}

	var arch archive.Archiver = archive.Nop{}
	if cfg.Archive.Dir != "" {
		fa, err := archive.NewFileArchive(cfg.Archive.Dir)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("opening archive: %w", err)
		}
		arch = fa
	}

	deliverers := []notify.Deliverer{notify.NewLogDeliverer(adapter)}
	if cfg.Webhook.URL != "" {
		wh, err := newWebhookDeliverer(cfg.Webhook, adapter)
		if err != nil {
			a.close()
			return nil, err
		}
		deliverers = append(deliverers, wh)
	}
	if cfg.Notification.QueueURL != "" {
		c, err := awsOnce()
		if err != nil {
			a.close()
			return nil, err
		}
		deliverers = append(deliverers, notify.NewQueuePublisher(sqs.NewFromConfig(c), cfg.Notification.QueueURL, adapter))
	}

	a.backend = local.New(
		notify.NewMultiDeliverer(metrics, adapter, deliverers...),
		adapter,
		local.WithPermission(cfg.Notification.PermissionGranted),
	)
	a.gateway = notify.NewGateway(a.backend,
		notify.WithReminderOffset(cfg.Notification.ReminderOffset),
		notify.WithCategory(cfg.Notification.Category),
		notify.WithGatewayLogger(logger),
	)
	a.sched = scheduler.New(a.gateway, scheduler.Config{
		SweepInterval:    cfg.Scheduler.SweepInterval,
		SweepTolerance:   cfg.Scheduler.SweepTolerance,
		ExpiryGrace:      cfg.Scheduler.ExpiryGrace,
		AdvisoryCapacity: cfg.Scheduler.AdvisoryCapacity,
	},
		scheduler.WithStore(store),
		scheduler.WithArchive(arch),
		scheduler.WithMetrics(metrics),
		scheduler.WithLogger(logger),
	)

	loc, err := time.LoadLocation(cfg.Scheduler.TaskTimezone)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("task timezone: %w", err)
	}
	a.bridge = tasks.NewBridge(a.sched, tasks.WithLocation(loc), tasks.WithLogger(logger))

	if err := a.buildServer(metrics); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// openStore picks Postgres when DATABASE_URL is set and memory otherwise.
func (a *app) openStore(ctx context.Context, d deps) (db.AlarmStore, error) {
	url := a.cfg.Database.URL.Unmask()
	if url == "" {
		a.logger.Info("no database configured, alarms are kept in memory")
		return db.NewMemoryStore(), nil
	}
	pool, err := d.newPool(ctx, db.PoolConfig{
		URL:               url,
		MaxConns:          a.cfg.Database.MaxConns,
		MinConns:          a.cfg.Database.MinConns,
		MaxConnLifetime:   a.cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: a.cfg.Database.HealthCheckPeriod,
		AcquireTimeout:    a.cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.pool = pool
	repo := db.NewAlarmRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		a.pool = nil
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return repo, nil
}

func newWebhookDeliverer(cfg config.WebhookConfig, logger types.Logger) (*webhook.Deliverer, error) {
	if warning, deprecated := webhook.NewPlatformRegistry().CheckDeprecation(cfg.URL); deprecated {
		logger.Warn("webhook endpoint is deprecated", "warning", warning)
	}

	var signer *webhook.Signer
	if secret := cfg.Secret.Unmask(); secret != "" {
		signer = webhook.NewSigner(secret)
		if prev := cfg.PreviousSecret.Unmask(); prev != "" {
			signer = signer.WithPrevious(prev, cfg.PreviousSecretExpiresAt)
		}
	}

	httpClient := &http.Client{Timeout: cfg.DefaultTimeout}
	if !cfg.AllowPrivateNetworks {
		guard := security.NewGuard()
		if err := guard.Check(context.Background(), cfg.URL); err != nil {
			logger.Warn("webhook destination failed egress check", "error", err.Error())
		}
		httpClient = guard.HTTPClient(cfg.DefaultTimeout, cfg.MaxRedirects)
	}

	client := external.NewBaseClient(
		httpClient,
		"webhook",
		external.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			MinWait:    500 * time.Millisecond,
			MaxWait:    10 * time.Second,
		},
		cfg.UserAgent,
	)
	return webhook.NewDeliverer(webhook.Options{
		URL:              cfg.URL,
		PlatformOverride: cfg.Platform,
		Signer:           signer,
	}, client, logger)
}

func (a *app) buildServer(metrics telemetry.AlarmMetrics) error {
	srv, err := core.NewServer(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = metrics

	if hash := a.cfg.Server.APIKeyHash.Unmask(); hash != "" {
		auth, err := core.NewAPIKeyAuthenticator(hash, a.cfg.Service)
		if err != nil {
			return fmt.Errorf("api key authenticator: %w", err)
		}
		srv.Authenticator = auth
	}

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "notifications",
		Fn: func(ctx context.Context) error {
			ok, err := a.backend.Authorized(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("notification permission not granted")
			}
			return nil
		},
	})
	if a.pool != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "database", Fn: a.pool.Ping})
	}

	alarms := handlers.NewAlarmHandler(a.sched, srv.Validator, a.logger, types.RealClock{})
	notifications := handlers.NewNotificationHandler(a.gateway, a.sched, a.logger)
	taskSync := handlers.NewTaskHandler(a.bridge, srv.Validator, a.logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		alarms.RegisterRoutes,
		notifications.RegisterRoutes,
		taskSync.RegisterRoutes,
	)
	srv.MountRoutes()
	a.server = srv
	return nil
}

// start restores persisted alarms and re-indexes tasks against them.
func (a *app) start(ctx context.Context) error {
	n, err := a.sched.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring alarms: %w", err)
	}
	a.bridge.Rebuild()
	a.logger.Info("alarms restored", "count", n)
	return nil
}

// close releases resources in reverse order of construction. The scheduler
// is closed separately so its side effects can drain first.
func (a *app) close() {
	if a.backend != nil {
		a.backend.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, err
	}
	if cfg.EndpointURL != "" {
		c.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return c, nil
}
