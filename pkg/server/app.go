package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PatternDesk/internal/handler/console"
	"PatternDesk/internal/service/ratelimit"
	"PatternDesk/internal/usecase"
	"PatternDesk/pkg/config"
	xhttp "PatternDesk/pkg/http"
	applogger "PatternDesk/pkg/logger"
)

// App encapsulates the application lifecycle. Producer and dashboard share
// nothing but the report directory, even when they run in one process.
type App struct {
	cfg        *config.Config
	mode       Mode
	l          *applogger.Logger
	runner     *usecase.AnalysisRunner
	scheduler  *usecase.Scheduler
	collector  *usecase.StreamCollector
	dashboard  *usecase.DashboardUseCase
	httpServer *xhttp.Server
	limiter    *ratelimit.Limiter
	out        io.Writer
	// stops holds the shutdown of every started role, in start order.
	stops []stopFunc
}

type stopFunc struct {
	name string
	fn   func(context.Context) error
}

// Components groups what a mode may need. Fields a mode does not use are nil.
type Components struct {
	Runner     *usecase.AnalysisRunner
	Scheduler  *usecase.Scheduler
	Collector  *usecase.StreamCollector
	Dashboard  *usecase.DashboardUseCase
	HTTPServer *xhttp.Server
	Limiter    *ratelimit.Limiter
}

// New creates a new App for mode.
func New(cfg *config.Config, mode Mode, l *applogger.Logger, c Components) *App {
	return &App{
		cfg:        cfg,
		mode:       mode,
		l:          l,
		runner:     c.Runner,
		scheduler:  c.Scheduler,
		collector:  c.Collector,
		dashboard:  c.Dashboard,
		httpServer: c.HTTPServer,
		limiter:    c.Limiter,
		out:        os.Stdout,
	}
}

// SetOutput redirects status and once-mode output.
func (a *App) SetOutput(w io.Writer) { a.out = w }

// Run starts the roles of the mode and blocks until they finish or the
// process is interrupted.
func (a *App) Run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch a.mode {
	case ModeStatus:
		return a.printStatus(ctx)
	case ModeOnce:
		return a.runOnce(ctx)
	}

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case serveErr = <-a.serverErr():
	}
	a.shutdown()
	return serveErr
}

func (a *App) start(ctx context.Context) error {
	if a.mode.Schedules() {
		if a.runner == nil || a.scheduler == nil {
			return errors.New("producer mode requires a runner and scheduler")
		}
		if a.collector != nil {
			if err := a.collector.Start(ctx); err != nil {
				return fmt.Errorf("start stream collector: %w", err)
			}
			a.stops = append(a.stops, stopFunc{"collector", a.collector.Shutdown})
		}
		a.scheduler.Start(ctx, a.cfg.Producer.RunOnStart)
		a.stops = append(a.stops, stopFunc{"scheduler", a.scheduler.Stop})
		a.l.Info("producer started",
			applogger.String("schedule", a.cfg.Producer.Schedule),
			applogger.String("reports_dir", a.cfg.Reports.Dir),
			applogger.Int("pairs", len(a.runner.Pairs())),
		)
	}

	if a.mode.Serves() {
		if a.httpServer == nil {
			return errors.New("dashboard mode requires an http server")
		}
		if err := a.httpServer.Start(); err != nil {
			return err
		}
		a.stops = append(a.stops, stopFunc{"http server", a.httpServer.Stop})
		if a.limiter != nil {
			go a.sweepLimiter(ctx)
		}
	}
	return nil
}

func (a *App) serverErr() <-chan error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Err()
}

func (a *App) sweepLimiter(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.limiter.Sweep(10 * time.Minute); n > 0 {
				a.l.Debug("rate limiter swept", applogger.Int("buckets", n))
			}
		}
	}
}

// runOnce performs a single batch. Failed pairs are reported but only a
// failed summary is an error.
func (a *App) runOnce(ctx context.Context) error {
	if a.runner == nil {
		return errors.New("once mode requires a runner")
	}
	res, err := a.runner.Run(ctx)
	for _, f := range res.Failures {
		fmt.Fprintf(a.out, "FAILED %s: %v\n", f.Pair, f.Err)
	}
	if err != nil {
		return err
	}
	s := res.Summary.Record
	fmt.Fprintf(a.out, "run %s: %d of %d analyses succeeded, %d patterns\nsummary: %s\n",
		res.RunID, s.Succeeded, s.Attempted, s.PatternTotal, res.Summary.Path)
	return nil
}

func (a *App) printStatus(ctx context.Context) error {
	if a.dashboard == nil {
		return errors.New("status mode requires the dashboard")
	}
	b, err := a.dashboard.Board(ctx, time.Now())
	if err != nil {
		return err
	}
	return console.RenderBoard(a.out, b)
}

// shutdown stops every started role, newest first.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	for i := len(a.stops) - 1; i >= 0; i-- {
		st := a.stops[i]
		if err := st.fn(ctx); err != nil {
			a.l.Warn("stop error", applogger.String("component", st.name), applogger.Error(err))
		}
	}
	a.stops = nil
	a.l.Info("shutdown complete")
}
