package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"alertrelay/internal/cascade"
	"alertrelay/internal/clock"
	"alertrelay/internal/config"
	"alertrelay/internal/domain"
	"alertrelay/internal/health"
	"alertrelay/internal/logging"
	"alertrelay/internal/metrics"
	"alertrelay/internal/notify"
	"alertrelay/internal/templatefmt"
)

// TransitionSource streams raw health transitions until ctx ends.
type TransitionSource interface {
	Run(ctx context.Context, out chan<- domain.Transition) error
}

// LocalPoster delivers a local alert to the relay in a single attempt.
type LocalPoster interface {
	Post(ctx context.Context, title, body string) error
}

// Watcher feeds health transitions through the debouncer and dispatches confirmed entities.
// Params: event source, inspector, cascade for self entities, and relay client for the rest.
// Returns: runnable health watcher.
type Watcher struct {
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	metrics    *metrics.Metrics
	source     TransitionSource
	debouncer  *health.Debouncer
	cascade    *cascade.Cascade
	local      LocalPoster
	closers    []func() error
	metricsSrv *http.Server
}

// WatcherDeps carries runtime collaborators selected by config or injected by tests.
type WatcherDeps struct {
	Source    TransitionSource
	Inspector health.Inspector
	Cascade   *cascade.Cascade
	Local     LocalPoster
	Metrics   *metrics.Metrics
	Clock     clock.Clock
}

// NewWatcher builds health watcher from config source.
// Params: config source and clock implementation.
// Returns: initialized watcher or setup error.
func NewWatcher(source config.ConfigSource, clk clock.Clock) (*Watcher, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(cfg.Service.Name, cfg.Log)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	deps := WatcherDeps{Metrics: m, Clock: clk}
	var closers []func() error
	switch cfg.Watch.Source {
	case config.WatchSourceNATS:
		natsSource, err := health.NewNATSSource(cfg.Watch.NATS.URL, cfg.Watch.NATS.Subject, cfg.Watch.NATS.Bucket, logger)
		if err != nil {
			closeLog()
			return nil, fmt.Errorf("nats health source: %w", err)
		}
		deps.Source, deps.Inspector = natsSource, natsSource
		closers = append(closers, natsSource.Close)
	default:
		deps.Source = health.NewDockerSource(cfg.Watch.DockerBinary, logger)
		deps.Inspector = health.NewDockerInspector(cfg.Watch.DockerBinary)
	}

	localClient := notify.NewLocalClient(cfg.Cascade.PrimaryURL, cfg.Cascade.PrimaryTimeout())
	deps.Local = localClient
	deps.Cascade = BuildCascade(cfg, localClient, nil, logger, m)

	watcher := newWatcher(cfg, logger, deps)
	watcher.closeLog = closeLog
	watcher.closers = closers
	if cfg.Watch.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.HTTP.MetricsPath, m.Handler())
		watcher.metricsSrv = &http.Server{Addr: cfg.Watch.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return watcher, nil
}

// BuildCascade assembles relay, direct provider, and log-line rungs from config.
// Params: config, relay client, last-rung writer (nil means stdout), logger, and metrics.
// Returns: cascade that always resolves.
func BuildCascade(cfg config.Config, local *notify.LocalClient, logOut io.Writer, logger *slog.Logger, m *metrics.Metrics) *cascade.Cascade {
	var direct notify.Gateway
	if strings.TrimSpace(cfg.Cascade.FallbackBotToken) != "" {
		direct = notify.NewTelegramGateway(cfg.Cascade.FallbackBotToken, cfg.Notify.Telegram.APIBase, cfg.Cascade.FallbackTimeout())
	}
	dest := domain.Destination{ChatID: cfg.Cascade.FallbackChatID, TopicID: cfg.Cascade.FallbackTopicID}
	return cascade.New(
		[]cascade.Strategy{
			cascade.NewPrimary(local, cfg.Cascade.PrimaryTimeout()),
			cascade.NewDirect(direct, dest, cfg.Cascade.FallbackTimeout()),
		},
		cascade.NewLog(logOut),
		logger,
		m.CascadeRung,
	)
}

func newWatcher(cfg config.Config, logger *slog.Logger, deps WatcherDeps) *Watcher {
	w := &Watcher{
		cfg:     cfg,
		logger:  logger,
		metrics: deps.Metrics,
		source:  deps.Source,
		cascade: deps.Cascade,
		local:   deps.Local,
	}
	w.debouncer = health.NewDebouncer(deps.Clock, cfg.Watch.Delay(), deps.Inspector, w.emit, logger, deps.Metrics.DebounceOutcome)
	if len(cfg.Watch.SelfPrefixes) == 0 {
		logger.Warn("watch.self_prefixes is empty, no entity uses the delivery cascade")
	}
	return w
}

// IsSelf reports whether entity belongs to the alerting stack itself.
func IsSelf(entity string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(entity, prefix) {
			return true
		}
	}
	return false
}

// UnhealthyAlert renders title and body for a confirmed unhealthy entity.
func UnhealthyAlert(entity string, since time.Time, delay time.Duration) (string, string) {
	title := "Container unhealthy: " + entity
	body := fmt.Sprintf("unhealthy for more than %s (since %s)", templatefmt.FormatDuration(delay), templatefmt.FormatWindowTime(since))
	return title, body
}

// emit routes self entities through the cascade and posts the rest to the relay once.
func (w *Watcher) emit(ctx context.Context, entity string, since time.Time) {
	title, body := UnhealthyAlert(entity, since, w.cfg.Watch.Delay())
	if IsSelf(entity, w.cfg.Watch.SelfPrefixes) {
		rung := w.cascade.Deliver(ctx, title, body)
		w.logger.Info("self alert delivered", "entity", entity, "rung", rung)
		return
	}
	if err := w.local.Post(ctx, title, body); err != nil {
		w.metrics.Delivered(string(domain.SourceLocal), false)
		w.logger.Error("local alert delivery failed", "entity", entity, "error", err.Error())
		return
	}
	w.metrics.Delivered(string(domain.SourceLocal), true)
	w.logger.Info("local alert delivered", "entity", entity)
}

// Run consumes transitions until ctx ends, the source fails, or a signal arrives.
// Params: root context.
// Returns: source error, nil on orderly shutdown.
func (w *Watcher) Run(ctx context.Context) error {
	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer w.close()

	if w.metricsSrv != nil {
		go func() {
			w.logger.Info("metrics listener starting", "listen", w.metricsSrv.Addr)
			if err := w.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.logger.Error("metrics listener failed", "error", err.Error())
			}
		}()
	}

	transitions := make(chan domain.Transition, 64)
	sourceErr := make(chan error, 1)
	go func() {
		defer close(transitions)
		sourceErr <- w.source.Run(runCtx, transitions)
	}()

	w.logger.Info("health watcher started", "source", w.cfg.Watch.Source, "delay", w.cfg.Watch.Delay())
	if err := w.debouncer.Run(runCtx, transitions); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cancel()
	if err := <-sourceErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("health source: %w", err)
	}
	return nil
}

func (w *Watcher) close() {
	if w.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = w.metricsSrv.Shutdown(ctx)
		cancel()
	}
	for _, closeFn := range w.closers {
		if err := closeFn(); err != nil {
			w.logger.Error("health source close failed", "error", err.Error())
		}
	}
	if w.closeLog != nil {
		w.closeLog()
	}
}
