package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/jobs"
	"github.com/voyagen/streamvault/internal/proxy"
	"github.com/voyagen/streamvault/internal/server"
	"github.com/voyagen/streamvault/internal/service"
)

var noWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, media proxy and sync scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not consume the Redis sync queue in this process")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := jobs.Schedule{SyncInterval: cfg.SyncInterval}
	if a.memory != nil {
		sched.Sweeper = a.memory
	}
	scheduler, err := jobs.Start(context.WithoutCancel(ctx), a.syncer, sched)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	if a.redis != nil && !noWorker {
		go jobs.RunWorker(ctx, a.redis, cache.SyncQueue, a.syncer)
	}

	catalog := service.NewCatalog(a.store, a.cache, a.fetch, cfg.EPGMaxAge)
	px := proxy.New(cfg.PublicURL, cfg.UserAgent)
	srv := server.New(catalog, px, jobs.NewDispatcher(a.syncer, a.redis), cfg)
	return srv.ListenAndServe(ctx)
}
