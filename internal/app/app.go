package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fred-ingest/internal/alerting"
	"fred-ingest/internal/config"
	"fred-ingest/internal/dispatch"
	"fred-ingest/internal/fetcher"
	"fred-ingest/internal/metrics"
	"fred-ingest/internal/ratelimit"
	"fred-ingest/internal/scheduler"
	"fred-ingest/internal/service"
	"fred-ingest/internal/storage"
	"fred-ingest/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output meant for the terminal.
	Out io.Writer

	governor *ratelimit.Governor
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// newClient returns a FRED client. All clients of one App share a governor,
// so the request budget holds across commands running in the same process.
func (a *App) newClient() (*fetcher.Client, error) {
	if err := a.Config.RequireAPIKey(); err != nil {
		return nil, err
	}
	if a.governor == nil {
		a.governor = ratelimit.New(ratelimit.Options{
			Calls:  a.Config.RateLimit.Calls,
			Window: a.Config.RateLimit.Window,
		}, a.Logger)
	}

	fred := a.Config.Fred
	if fred.UserAgent == "" {
		fred.UserAgent = version.UserAgent()
	}
	return fetcher.New(fetcher.Options{
		BaseURL:          fred.BaseURL,
		WebsiteBase:      fred.WebsiteBase,
		APIKey:           fred.APIKey,
		UserAgent:        fred.UserAgent,
		Timeout:          fred.RequestTimeout,
		EarliestRealtime: fred.EarliestRealtimeTime(),
	}, a.governor, a.Logger), nil
}

func (a *App) newDispatcher() *dispatch.Dispatcher {
	return dispatch.New(dispatch.Options{
		Concurrency: a.Config.Dispatch.Concurrency,
		Timeout:     a.Config.Dispatch.Timeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, func(), error) {
	if err := a.Config.RequireDatabase(); err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// newService wires a sync service around an open store. sched may be nil for
// one-off passes.
func (a *App) newService(store storage.Store, sched *scheduler.Scheduler) (*service.Service, error) {
	client, err := a.newClient()
	if err != nil {
		return nil, err
	}
	return service.New(a.Config, sched, client, client, a.newDispatcher(), store, a.newNotifier(), a.Logger), nil
}

// Run executes the long-running sync service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc, err := a.newService(store, sched)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(gctx) })
	}
	g.Go(func() error {
		a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting sync service")
		return svc.Run(gctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("sync service stopped")
	return nil
}

func (a *App) serveMetrics(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Metrics.Listen,
		Handler:           metrics.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("listen", srv.Addr).Msg("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("metrics server shutdown")
		}
		return ctx.Err()
	}
}

// SyncOptions configure a one-off sync pass.
type SyncOptions struct {
	Series        []string
	Modes         []string
	SkipInfo      bool
	RealtimeStart time.Time
	RealtimeEnd   time.Time
}

// ExportOptions hold parameters for exporting a stored table.
type ExportOptions struct {
	Table   string
	CSVPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Table string
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Series []string
	From   time.Time
	To     time.Time
	DryRun bool
}
