package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"transformer-telemetry/internal/alerting"
	"transformer-telemetry/internal/config"
	"transformer-telemetry/internal/httpapi"
	"transformer-telemetry/internal/metrics"
	"transformer-telemetry/internal/service"
	"transformer-telemetry/internal/state"
	"transformer-telemetry/internal/storage"
	"transformer-telemetry/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}

	var out alerting.Multi
	for _, ch := range a.Config.Alerting.Channels {
		switch ch {
		case "log":
			out = append(out, alerting.NewLogNotifier(a.Logger))
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				a.Logger.Warn().Msg("telegram 通道未启用，已跳过")
				continue
			}
			timeout := cfg.Timeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			out = append(out, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, timeout, a.Logger))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newMonitor(reg *metrics.Metrics, journal storage.AnomalyJournal, notifier alerting.Notifier) *service.Monitor {
	return service.New(
		service.OptionsFromConfig(a.Config),
		state.NewStore(a.Config.Telemetry.SeriesCap),
		reg,
		journal,
		notifier,
		a.Logger,
	)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; anomaly journal disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var journal storage.AnomalyJournal
	if store != nil {
		journal = store
	}

	reg := metrics.New()
	monitor := a.newMonitor(reg, journal, a.newNotifier())

	unsubscribe := monitor.Subscribe(func(st state.UIState) {
		ev := a.Logger.Debug().
			Uint64("revision", st.Revision).
			Str("selected", string(st.SelectedEntity)).
			Bool("running", st.Running)
		if st.LastAnomaly != nil {
			ev = ev.Str("last_anomaly", st.LastAnomaly.Kind.String())
		}
		ev.Msg("snapshot")
	})
	defer unsubscribe()

	a.Logger.Info().Str("session", monitor.SessionID()).Str("build", version.String()).Msg("starting monitoring service")
	if err := monitor.Start(ctx, a.Config.EntityIDs(), a.Config.Telemetry.Seed); err != nil {
		return err
	}
	done := monitor.Done()

	group, groupCtx := errgroup.WithContext(ctx)
	if a.Config.HTTP.ListenAddr != "" {
		api := httpapi.New(a.Config.HTTP, monitor, reg.Handler(), a.Logger)
		group.Go(func() error {
			return api.ListenAndServe(groupCtx)
		})
	}
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
		case <-done:
		}
		return nil
	})

	runErr := group.Wait()

	if err := monitor.Stop(); err != nil && !errors.Is(err, service.ErrNotRunning) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	if runErr != nil {
		a.Logger.Error().Err(runErr).Msg("http api terminated with error")
		return runErr
	}

	a.Logger.Info().Uint64("processed", monitor.Processed()).Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting a replayed series.
type ExportOptions struct {
	Entity  string
	Seed    *int64
	Ticks   int
	Origin  *time.Time
	PNGPath string
	CSVPath string
}

// ClassifyOptions describe a single measurement to classify.
type ClassifyOptions struct {
	Entity       string
	VoltageKV    float64
	CurrentAmps  float64
	TemperatureC float64
	LoadFactor   float64
	Notify       bool
}
