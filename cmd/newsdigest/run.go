package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pauldest/newsdigest/engine"
	"github.com/pauldest/newsdigest/internal/server"
	"github.com/pauldest/newsdigest/models"
	"github.com/pauldest/newsdigest/scheduler"
)

func runCMD() *cobra.Command {
	var (
		once        bool
		limit       int
		dryRun      bool
		mode        string
		concurrency int
		web         bool
		chrome      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduled pipeline (or one cycle with --once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, chrome)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := engine.RunOptions{
				Limit:       limit,
				DryRun:      dryRun,
				Mode:        models.ParseAnalysisMode(mode),
				Concurrency: concurrency,
			}

			if web {
				logs := server.NewLogHub(app.cfg.Server.MaxWSConns, nil)
				srv, err := server.New(app.cfg.Server, app.engine, app.store, app.feeds, app.recorder, logs, nil)
				if err != nil {
					return err
				}
				// Tee process logs into the websocket stream.
				log.SetOutput(io.MultiWriter(log.Writer(), srv.Logs()))
				go func() {
					if err := srv.Start(app.cfg.Server.Address); err != nil {
						app.logger.Printf("admin server stopped: %v", err)
					}
				}()
			}

			if once {
				stats, err := app.engine.TryRunCycle(ctx, opts)
				if err != nil {
					return err
				}
				app.logger.Printf("cycle done: %+v", stats)
				if err := app.engine.TryRunDigest(ctx, dryRun); err != nil {
					return err
				}
				return nil
			}

			sched := scheduler.New(app.cfg.Schedule.Location(), nil)
			err = sched.Every(ctx, "rss_fetch", app.cfg.Schedule.FetchInterval, func(ctx context.Context) error {
				_, err := app.engine.TryRunCycle(ctx, opts)
				return err
			})
			if err != nil {
				return err
			}
			err = sched.At(ctx, "daily_digest", app.cfg.Schedule.DigestTimes, func(ctx context.Context) error {
				return app.engine.TryRunDigest(ctx, dryRun)
			})
			if err != nil {
				return err
			}

			app.logger.Printf("scheduler running; fetch every %s, digests at %v",
				app.cfg.Schedule.FetchInterval, app.cfg.Schedule.DigestTimes)
			<-ctx.Done()
			app.logger.Printf("shutting down")
			sched.Wait()
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle then exit")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap analyzed articles in this cycle")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "execute the pipeline but skip SMTP send")
	cmd.Flags().StringVar(&mode, "mode", "standard", "analysis mode: quick|standard|deep")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max concurrent article analyses")
	cmd.Flags().BoolVar(&web, "web", false, "expose the admin HTTP surface")
	cmd.Flags().BoolVar(&chrome, "chrome", false, "enable headless-browser extraction fallback")
	return cmd
}

func digestCMD() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Build and send a digest from unsent units",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, false)
			if err != nil {
				return err
			}
			defer app.close()
			return app.engine.TryRunDigest(cmd.Context(), dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "curate but skip SMTP send")
	return cmd
}
