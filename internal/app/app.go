// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/api"
	"github.com/trendfeed/pipeline/internal/clock/system"
	"github.com/trendfeed/pipeline/internal/config"
	"github.com/trendfeed/pipeline/internal/crawler"
	"github.com/trendfeed/pipeline/internal/dispatcher"
	"github.com/trendfeed/pipeline/internal/generation"
	"github.com/trendfeed/pipeline/internal/github"
	"github.com/trendfeed/pipeline/internal/metrics"
	"github.com/trendfeed/pipeline/internal/notify"
	"github.com/trendfeed/pipeline/internal/pipeline"
	pubmem "github.com/trendfeed/pipeline/internal/publisher/memory"
	pubgcp "github.com/trendfeed/pipeline/internal/publisher/pubsub"
	"github.com/trendfeed/pipeline/internal/scheduler"
	"github.com/trendfeed/pipeline/internal/scorer"
	"github.com/trendfeed/pipeline/internal/storage/gcs"
	"github.com/trendfeed/pipeline/internal/storage/memory"
	"github.com/trendfeed/pipeline/internal/storage/postgres"
	"github.com/trendfeed/pipeline/internal/trend"
	"github.com/trendfeed/pipeline/internal/watcher"
)

// App wires every service the commands need. It is initialized once at
// startup and fails fast when a critical dependency cannot be built.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Crawler   *crawler.Crawler
	Pipeline  *pipeline.Pipeline
	Scheduler *scheduler.Scheduler
	Server    *api.Server

	closers []func()
}

// New builds the application from config.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	clock := system.New()

	repos, cands, comics, subs, err := a.buildStores(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	blobs, err := a.buildBlobStore(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	sink, err := buildSink(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	source, err := github.NewClient(github.Config{
		Token:     cfg.GitHub.Token,
		BaseURL:   cfg.GitHub.BaseURL,
		UserAgent: cfg.GitHub.UserAgent,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("github client: %w", err)
	}
	genClient, err := generation.NewClient(generation.Config{
		Endpoint: cfg.Dispatch.Endpoint,
		Timeout:  time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("generation client: %w", err)
	}

	params := trend.ScoreParams{
		TargetStarsPerDay: cfg.Score.TargetStarsPerDay,
		AgeHalfLifeDays:   cfg.Score.AgeHalfLifeDays,
		PivotStars:        cfg.Score.PivotStars,
		StarsAlpha:        cfg.Score.StarsAlpha,
		StarsFactorMin:    cfg.Score.StarsFactorMin,
		StarsFactorMax:    cfg.Score.StarsFactorMax,
		GrowthWeight:      cfg.Score.GrowthWeight,
		PenaltyWeight:     cfg.Score.PenaltyWeight,
		Threshold:         cfg.Score.Threshold,
	}

	eval := scorer.New(params, cands, publisher, clock, logger)
	crawl := crawler.New(crawler.Config{
		MinStars:      cfg.Crawl.MinStars,
		LookbackYears: cfg.Crawl.LookbackYears,
		MaxPages:      cfg.Crawl.MaxPages,
		PerPage:       cfg.Crawl.PerPage,
		RequestDelay:  cfg.CrawlDelay(),
	}, source, repos, eval, blobs, clock, logger)
	dispatch := dispatcher.New(cands, repos, genClient, publisher, clock, logger)
	watch := watcher.New(watcher.Config{
		FreshnessWindow: cfg.FreshnessWindow(),
		LockLease:       cfg.LockLease(),
	}, cands, comics, subs, sink, publisher, clock, logger)

	a.Crawler = crawl
	a.Pipeline = pipeline.New(crawl, dispatch, watch, cfg.Dispatch.BatchLimit, logger)
	a.Scheduler = scheduler.New(a.Pipeline, cfg.SchedulerInterval(), logger)
	a.Server = api.NewServer(api.Deps{
		Pipeline:    a.Pipeline,
		Crawler:     crawl,
		Dispatcher:  dispatch,
		Watcher:     watch,
		Source:      source,
		Repos:       repos,
		Candidates:  cands,
		Comics:      comics,
		Subscribers: subs,
		Sink:        sink,
		Clock:       clock,
	}, cfg, logger)

	return a, nil
}

// Close releases every held resource in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (api.RepoStore, trend.CandidateStore, trend.ComicStore, trend.SubscriberStore, error) {
	switch cfg.DB.Provider {
	case "postgres":
		logger.Info("using postgres stores")
		dbCfg := postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		}
		pool, err := postgres.NewPool(ctx, dbCfg)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		repos, err := postgres.NewRepoStoreWithPool(pool)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		cands, err := postgres.NewCandidateStoreWithPool(pool)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		comics, err := postgres.NewComicStoreWithPool(pool)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		subs, err := postgres.NewSubscriberStoreWithPool(pool)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return repos, cands, comics, subs, nil
	case "memory":
		logger.Info("using in-memory stores")
		return memory.NewRepoStore(), memory.NewCandidateStore(), memory.NewComicStore(), memory.NewSubscriberStore(), nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown db provider: %s", cfg.DB.Provider)
	}
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (trend.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		logger.Info("using GCS artifact archive", zap.String("bucket", cfg.Storage.GCSBucket))
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
	case "memory":
		logger.Info("using in-memory artifact archive")
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (trend.Publisher, error) {
	switch cfg.PubSub.Provider {
	case "pubsub":
		logger.Info("using Pub/Sub event publisher",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
		pub, err := pubgcp.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		return pub, nil
	case "memory":
		logger.Info("using in-memory event publisher")
		return pubmem.New(), nil
	default:
		return nil, fmt.Errorf("unknown pubsub provider: %s", cfg.PubSub.Provider)
	}
}

func buildSink(cfg config.Config, logger *zap.Logger) (trend.NotificationSink, error) {
	switch cfg.Notify.Sink {
	case "smtp":
		logger.Info("using SMTP notification sink", zap.String("host", cfg.Notify.SMTPHost))
		return notify.NewSMTPSink(notify.SMTPConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUser,
			Password: cfg.Notify.SMTPPass,
			From:     cfg.Notify.FromAddress,
		})
	case "noop":
		logger.Info("using noop notification sink")
		return notify.NewNoopSink(logger), nil
	default:
		return nil, fmt.Errorf("unknown notification sink: %s", cfg.Notify.Sink)
	}
}
