package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"transformer-telemetry/internal/alerting"
	"transformer-telemetry/internal/config"
	"transformer-telemetry/internal/generator"
	"transformer-telemetry/internal/metrics"
	"transformer-telemetry/internal/router"
	"transformer-telemetry/internal/smoothing"
	"transformer-telemetry/internal/state"
	"transformer-telemetry/internal/storage"
	"transformer-telemetry/internal/telemetry"
)

// ErrNotRunning is returned by Stop when nothing is running.
var ErrNotRunning = errors.New("service: not running")

// Options shape the pipeline.
type Options struct {
	Tick           time.Duration
	RouterCapacity int
	WindowSize     int
	Params         generator.Params
	Thresholds     telemetry.Thresholds
	Kinds          map[telemetry.EntityID]telemetry.Kind
	Clock          mclock.Clock
	Origin         time.Time

	AlertCooldown time.Duration
	AlertQueue    int
	Channels      []string
	WriteTimeout  time.Duration
}

// OptionsFromConfig maps configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	kinds := make(map[telemetry.EntityID]telemetry.Kind, len(cfg.Telemetry.Entities))
	for _, e := range cfg.Entities() {
		kinds[e.ID] = e.Kind
	}
	return Options{
		Tick:           cfg.Telemetry.Tick,
		RouterCapacity: cfg.Telemetry.RouterCapacity,
		WindowSize:     cfg.Telemetry.WindowSize,
		Params:         cfg.Generator,
		Thresholds:     cfg.Thresholds,
		Kinds:          kinds,
		AlertCooldown:  cfg.Alerting.Cooldown,
		AlertQueue:     cfg.Alerting.Queue,
		Channels:       cfg.Alerting.Channels,
		WriteTimeout:   cfg.Database.WriteTimeout,
	}
}

func (o Options) entities(ids []telemetry.EntityID) []telemetry.Entity {
	out := make([]telemetry.Entity, 0, len(ids))
	for _, id := range ids {
		kind, ok := o.Kinds[id]
		if !ok {
			kind = telemetry.KindDistribution
		}
		out = append(out, telemetry.Entity{ID: id, Kind: kind})
	}
	return out
}

type run struct {
	cancel context.CancelFunc
	router *router.Router
	gen    *generator.Generator
	done   chan struct{}
	err    error
}

// Monitor orchestrates generation, routing, smoothing and the UI store.
type Monitor struct {
	opts     Options
	store    *state.Store
	metrics  *metrics.Metrics
	journal  storage.AnomalyJournal
	notifier alerting.Notifier
	gate     *alerting.Gate
	logger   zerolog.Logger
	session  string

	processed atomic.Uint64

	mu      sync.Mutex
	current *run
}

// New constructs the monitoring service. metrics, journal and notifier may be nil.
func New(opts Options, store *state.Store, m *metrics.Metrics, journal storage.AnomalyJournal, notifier alerting.Notifier, logger zerolog.Logger) *Monitor {
	if opts.AlertQueue <= 0 {
		opts.AlertQueue = 32
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	session := uuid.NewString()
	return &Monitor{
		opts:     opts,
		store:    store,
		metrics:  m,
		journal:  journal,
		notifier: notifier,
		gate:     alerting.NewGate(opts.AlertCooldown),
		logger:   logger.With().Str("component", "service").Str("session", session).Logger(),
		session:  session,
	}
}

// SessionID identifies this monitor instance in logs, alerts and the journal.
func (m *Monitor) SessionID() string { return m.session }

// Store returns the UI state store.
func (m *Monitor) Store() *state.Store { return m.store }

// Running reports whether generators are active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Start begins generation and processing for ids. Calling Start while running
// is a no-op. The pipeline stops when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context, ids []telemetry.EntityID, seed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.logger.Debug().Msg("start ignored; already running")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	var routerOpts []router.Option
	if m.metrics != nil {
		routerOpts = append(routerOpts, router.WithObserver(m.metrics))
	}
	r := router.New(m.opts.RouterCapacity, routerOpts...)
	engine := smoothing.NewEngine(m.opts.WindowSize, m.opts.Thresholds)
	gen := generator.New(generator.Options{
		Tick:   m.opts.Tick,
		Params: m.opts.Params,
		Clock:  m.opts.Clock,
		Origin: m.opts.Origin,
	}, r, m.logger)

	if _, err := gen.Start(runCtx, m.opts.entities(ids), seed); err != nil {
		cancel()
		return fmt.Errorf("start generators: %w", err)
	}

	m.store.SetEntities(ids)

	var alerts chan telemetry.SmoothedSample
	if m.journal != nil || m.notifier != nil {
		alerts = make(chan telemetry.SmoothedSample, m.opts.AlertQueue)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		<-groupCtx.Done()
		gen.Stop()
		r.Close()
		return nil
	})
	group.Go(func() error {
		return m.drain(r, engine, alerts)
	})
	if alerts != nil {
		group.Go(func() error {
			m.dispatchAlerts(alerts)
			return nil
		})
	}

	cur := &run{cancel: cancel, router: r, gen: gen, done: make(chan struct{})}
	m.current = cur

	m.store.SetRunning(true)
	if m.metrics != nil {
		m.metrics.SetRunning(true)
	}

	go func() {
		err := group.Wait()

		m.mu.Lock()
		if m.current == cur {
			m.current = nil
		}
		m.mu.Unlock()

		m.store.SetRunning(false)
		if m.metrics != nil {
			m.metrics.SetRunning(false)
		}
		cur.err = err
		close(cur.done)
		m.logger.Info().Uint64("dropped", r.Dropped()).Msg("pipeline stopped")
	}()

	m.logger.Info().Int("entities", len(ids)).Int64("seed", seed).Msg("pipeline started")
	return nil
}

// Stop cancels generation, drains what was already routed and waits for the
// pipeline to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()

	if cur == nil {
		return ErrNotRunning
	}
	cur.cancel()
	<-cur.done
	return cur.err
}

// Done is closed when the current run exits. It returns nil when not running.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.done
}

// Processed returns how many samples went through the engine since New.
func (m *Monitor) Processed() uint64 { return m.processed.Load() }

// Dropped returns how many measurements the current run's router rejected.
func (m *Monitor) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.router.Dropped()
}

// SelectEntity switches the displayed entity.
func (m *Monitor) SelectEntity(id telemetry.EntityID) error {
	return m.store.SelectEntity(id)
}

// Snapshot returns the current UI state.
func (m *Monitor) Snapshot() state.UIState {
	return m.store.Snapshot()
}

// Subscribe registers a snapshot observer.
func (m *Monitor) Subscribe(fn func(state.UIState)) (unsubscribe func()) {
	return m.store.Subscribe(fn)
}

func (m *Monitor) drain(r *router.Router, engine *smoothing.Engine, alerts chan<- telemetry.SmoothedSample) error {
	if alerts != nil {
		defer close(alerts)
	}

	for meas := range r.All(context.Background()) {
		sample := engine.Process(meas)
		m.store.OnSample(sample)
		m.processed.Add(1)
		if m.metrics != nil {
			m.metrics.ObserveSample(sample)
		}
		if sample.Anomaly == telemetry.AnomalyNone {
			continue
		}

		m.logger.Debug().Str("entity", string(meas.EntityID)).
			Str("kind", sample.Anomaly.String()).
			Int64("ts", meas.TimestampMillis).
			Msg("anomaly classified")

		if alerts == nil {
			continue
		}
		select {
		case alerts <- sample:
		default:
			m.observeAlert("dropped")
		}
	}
	return nil
}

func (m *Monitor) dispatchAlerts(alerts <-chan telemetry.SmoothedSample) {
	for sample := range alerts {
		if !m.gate.Allow(sample.Raw.EntityID, sample.Anomaly, sample.Raw.Time()) {
			m.observeAlert("suppressed")
			continue
		}
		m.dispatch(sample)
	}
}

func (m *Monitor) dispatch(sample telemetry.SmoothedSample) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()

	note := alerting.NewNotification(m.session, sample, m.opts.Channels)

	var eventID int64
	if m.journal != nil {
		event := storage.AnomalyEvent{
			SessionID:    m.session,
			EntityID:     string(note.EntityID),
			Kind:         note.Kind.String(),
			ObservedAt:   note.At,
			VoltageKV:    note.VoltageKV,
			CurrentAmps:  note.CurrentAmps,
			TemperatureC: note.TemperatureC,
			LoadFactor:   note.LoadFactor,
		}
		saved, err := m.journal.InsertAnomaly(ctx, event)
		if err != nil {
			m.logger.Error().Err(err).Str("entity", event.EntityID).Msg("failed to journal anomaly")
		} else {
			eventID = saved.ID
		}
	}

	if m.notifier == nil {
		m.observeAlert("journaled")
		return
	}
	if err := m.notifier.Notify(ctx, note); err != nil {
		m.observeAlert("failed")
		m.logger.Error().Err(err).Str("entity", string(note.EntityID)).Msg("failed to dispatch alert")
		return
	}
	m.observeAlert("sent")

	if m.journal != nil && eventID != 0 {
		if err := m.journal.MarkNotified(ctx, eventID); err != nil {
			m.logger.Error().Err(err).Int64("event_id", eventID).Msg("failed to mark anomaly notified")
		}
	}
}

func (m *Monitor) observeAlert(outcome string) {
	if m.metrics != nil {
		m.metrics.ObserveAlert(outcome)
	}
}

// Replay runs the pipeline offline for ticks ticks without the router or a
// clock: every entity advances once per tick, in the given order, and each
// sample goes through the engine into store. visit, if set, sees every sample.
func Replay(ctx context.Context, opts Options, store *state.Store, ids []telemetry.EntityID, seed int64, ticks int, visit func(telemetry.SmoothedSample)) error {
	if len(ids) == 0 {
		return generator.ErrNoEntities
	}
	origin := opts.Origin
	if origin.IsZero() {
		origin = time.Now().UTC().Truncate(time.Second)
	}

	procs := make([]*generator.Process, 0, len(ids))
	for _, e := range opts.entities(ids) {
		procs = append(procs, generator.NewProcess(e, seed, opts.Params, origin, opts.Tick))
	}
	engine := smoothing.NewEngine(opts.WindowSize, opts.Thresholds)
	store.SetEntities(ids)

	for tick := 0; tick < ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, p := range procs {
			sample := engine.Process(p.Next())
			store.OnSample(sample)
			if visit != nil {
				visit(sample)
			}
		}
	}
	return nil
}

// FormatValue renders a metric value at display precision.
func FormatValue(metric telemetry.Metric, v float64) string {
	places := int32(2)
	switch metric {
	case telemetry.MetricCurrent, telemetry.MetricTemperature:
		places = 1
	case telemetry.MetricLoad:
		places = 3
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}
