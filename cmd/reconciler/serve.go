package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/tbourn/go-billing-reconciler/docs"
	httpapi "github.com/tbourn/go-billing-reconciler/internal/http"
	"github.com/tbourn/go-billing-reconciler/internal/scheduler"
)

func serveCmd() *cobra.Command {
	var noJobs bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook and operator API and run the periodic jobs",
		Long: `Start the HTTP server and the scheduler.

Examples:
  reconciler serve
  reconciler serve --no-jobs --env-file .env.local`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, !noJobs)
		},
	}
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "serve HTTP only; run jobs from another process")
	return cmd
}

func runServe(ctx context.Context, withJobs bool) error {
	rt, err := newRuntime(ctx, "serve")
	if err != nil {
		return err
	}
	defer rt.close(context.Background())
	cfg := rt.cfg

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, rt.engine, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	var sched *scheduler.Scheduler
	if withJobs {
		sched, err = scheduler.ForEngine(rt.engine, cfg.Scheduler)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(sctx)
	})
	if sched != nil {
		g.Go(func() error {
			if err := sched.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}
	g.Go(func() error {
		if err := rt.thresholds.Watch(gctx); err != nil {
			log.Warn().Err(err).Msg("thresholds watch stopped; keeping loaded ladders")
		}
		return nil
	})

	return g.Wait()
}
