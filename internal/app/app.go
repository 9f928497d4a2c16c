package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/petmatch/dispatchhub/cmd/migrate"
	"github.com/petmatch/dispatchhub/internal/archive"
	"github.com/petmatch/dispatchhub/internal/cache"
	"github.com/petmatch/dispatchhub/internal/config"
	"github.com/petmatch/dispatchhub/internal/dispatch"
	"github.com/petmatch/dispatchhub/internal/queue"
	"github.com/petmatch/dispatchhub/internal/redisclient"
	"github.com/petmatch/dispatchhub/internal/repository/storage"
	"github.com/petmatch/dispatchhub/internal/transport/handler"
	"github.com/petmatch/dispatchhub/internal/transport/router"
	"github.com/petmatch/dispatchhub/internal/workflow"
)

type App struct {
	HttpServer *http.Server

	repo *storage.Repository
	arch *archive.Archive
}

// New wires the pipeline: redis transport, sender, scheduler pump,
// consumer (with its best-effort mirrors), producers and the HTTP edge.
// The consumer and scheduler goroutines live on ctx; cancel it to stop
// them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := migrate.Migrate(cfg.Database.DSN, migrate.Migrations); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo, err := storage.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	holder, err := redisclient.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rc := holder.Get()

	arch, err := archive.New(&cfg.Archive)
	if err != nil {
		return nil, err
	}

	sender := queue.NewSender(rc, cfg.Queue)
	trigger := workflow.NewClient(cfg.Workflow)

	consumer := queue.NewConsumer(rc, cfg.Queue, cfg.Workflow, sender, trigger)
	consumer.History = repo
	consumer.Archive = arch
	consumer.Marker = cache.New("dispatchhub:triggered", rc)

	scheduler := queue.NewScheduler(rc, cfg.Queue)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Printf("[app] consumer stopped: %v", err)
		}
	}()
	go func() {
		if err := scheduler.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[app] scheduler stopped: %v", err)
		}
	}()

	producers := dispatch.New(sender)
	producers.History = repo

	h := handler.New(producers)
	r := router.NewRouter(h)

	s := &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout * time.Second,
	}

	return &App{
		HttpServer: s,
		repo:       repo,
		arch:       arch,
	}, nil
}

func (a *App) Run() error {
	log.Printf("starting dispatcher on %s", a.HttpServer.Addr)
	return a.HttpServer.ListenAndServe()
}

// Shutdown stops the HTTP server and drains the archive upload pool.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.HttpServer.Shutdown(ctx)
	a.arch.Close()
	a.repo.Close()
	return err
}
