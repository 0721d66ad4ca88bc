package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	asyncrender "github.com/Swind/go-async-render"
	"github.com/Swind/go-async-render/core"
	obs "github.com/Swind/go-async-render/observability/prometheus"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the demo and render a scripted sequence of frames",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML file to load over the defaults",
			},
			&cli.StringFlag{
				Name:    "surface",
				Aliases: []string{"s"},
				Usage:   "Surface id such as #canvas; empty renders every configured surface",
			},
			&cli.IntFlag{
				Name:    "frames",
				Aliases: []string{"n"},
				Value:   8,
				Usage:   "Number of plane orientations to render",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Directory for PNG frames; empty skips writing",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address, e.g. :2112",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},

		Action: RunAction,
	}
}

func RunAction(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	level, err := core.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid log level %q", cfg.LogLevel), 1)
	}
	frames := c.Int("frames")
	if frames < 1 {
		return cli.Exit("frames must be at least 1", 1)
	}
	outDir := c.String("out")
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
	}

	logger := core.NewWriterLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, level)

	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter(cfg.MetricsNamespace, reg, obs.ExporterOptions{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	poller, err := obs.NewSnapshotPoller(cfg.MetricsNamespace, reg, time.Second)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	demo, err := asyncrender.New(c.String("surface"),
		asyncrender.WithConfig(cfg),
		asyncrender.WithLogger(logger),
		asyncrender.WithMetrics(exporter),
		asyncrender.WithOnReady(func() {
			logger.Info("ready", core.F("thread", "UI"))
		}),
	)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	// This goroutine is the UI thread from here on.
	if err := demo.Start(); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 2)
	}
	defer demo.Close()

	err = demo.AddClipPlaneModifiedObserver(func(x, y, z float64) {
		logger.Info("clip plane modified", core.F("normal", fmt.Sprintf("(%.3f, %.3f, %.3f)", x, y, z)))
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	poller.AddSource("demo", demo)
	poller.Start(c.Context)
	defer poller.Stop()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	uiCtx, stopUI := context.WithCancel(ctx)
	defer stopUI()

	g, gctx := errgroup.WithContext(ctx)

	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: addr, Handler: mux}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-uiCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		logger.Info("serving metrics", core.F("addr", addr))
	}

	g.Go(func() error {
		defer stopUI()
		return script(gctx, demo, logger, frames, outDir)
	})

	if err := demo.RunUI(uiCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ui loop exited", core.F("error", err))
	}

	if err := g.Wait(); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	for _, s := range demo.Stats() {
		logger.Info("thread stats",
			core.F("thread", s.Name),
			core.F("executed", s.Executed),
			core.F("failed", s.Failed),
			core.F("rejected", s.Rejected),
		)
	}
	for _, r := range demo.RecentFailures(5) {
		logger.Warn("failed task", core.F("task", r.Name), core.F("at", r.FinishedAt.Format(time.RFC3339Nano)))
	}
	fmt.Printf("✓ Rendered %d frames\n", demo.Frames())
	return nil
}

// script plays the demo: a first async frame, a sweep of plane orientations,
// an aborted frame followed by a clean one, and one widget drag.
func script(ctx context.Context, demo *asyncrender.Demo, logger core.Logger, frames int, outDir string) error {
	if err := demo.AsyncRender(); err != nil {
		return err
	}
	if err := demo.SyncRender(ctx); err != nil {
		return err
	}

	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		theta := math.Pi * float64(i) / float64(frames)
		if err := demo.UpdateClipPlaneNormal(math.Cos(theta), 0, math.Sin(theta)); err != nil {
			return err
		}
		if err := demo.SyncRender(ctx); err != nil {
			return err
		}
		if outDir != "" {
			paths, err := demo.SavePNG(outDir, i)
			if err != nil {
				return err
			}
			logger.Debug("frame saved", core.F("paths", paths))
		}
	}

	// An abort landing on an idle render thread is cleared by the next request.
	demo.Abort()
	if err := demo.SyncRender(ctx); err != nil {
		return err
	}

	if err := demo.DragWidget(0, 1, 0); err != nil {
		return err
	}
	done := make(chan struct{})
	if err := demo.QueryClipPlaneNormal(func(x, y, z float64) {
		logger.Info("clip plane normal", core.F("normal", fmt.Sprintf("(%.3f, %.3f, %.3f)", x, y, z)))
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
