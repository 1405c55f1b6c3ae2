// Package engine assembles the inspection components from configuration
// and manages their lifecycle.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/leakwatch/internal/ahocorasick"
	"firestige.xyz/leakwatch/internal/attribution"
	"firestige.xyz/leakwatch/internal/capture"
	"firestige.xyz/leakwatch/internal/config"
	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/filter"
	"firestige.xyz/leakwatch/internal/inspector"
	"firestige.xyz/leakwatch/internal/leak"
	"firestige.xyz/leakwatch/internal/leaklog"
	"firestige.xyz/leakwatch/internal/location"
	"firestige.xyz/leakwatch/internal/log"
	"firestige.xyz/leakwatch/internal/metrics"
)

// Option adjusts an Engine before its components are built.
type Option func(*Engine)

// WithCapturePath writes forwarded packets to path instead of a managed
// session file.
func WithCapturePath(path string) Option {
	return func(e *Engine) { e.capturePath = path }
}

// WithNotificationSink replaces the default sink, which logs requests.
func WithNotificationSink(sink func(leak.NotificationRequest)) Option {
	return func(e *Engine) { e.notifySink = sink }
}

// Engine owns every long-lived component of an inspection run.
type Engine struct {
	config      *config.GlobalConfig
	capturePath string
	notifySink  func(leak.NotificationRequest)

	filters   *filter.Store
	location  *location.Static
	resolver  attribution.Resolver
	leakLog   *leaklog.Dispatcher
	notifier  *leak.Notifier
	rebuilder *ahocorasick.Rebuilder
	inspector *inspector.Inspector
	pool      *inspector.Pool

	captures    *capture.Manager // nil unless capture is enabled
	captureFile *capture.File

	metricsServer *metrics.Server // nil if metrics disabled

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds the components described by cfg. Nothing runs until Start.
func New(cfg *config.GlobalConfig, opts ...Option) (*Engine, error) {
	e := &Engine{config: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifySink == nil {
		e.notifySink = logNotification
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	// 1. Filters and location
	if cfg.Filters.RulesFile != "" {
		store, err := filter.LoadFile(cfg.Filters.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load filter rules: %w", err)
		}
		e.filters = store
	} else {
		e.filters = filter.NewStore()
	}
	e.location = location.NewStatic()
	if cfg.Location.Enabled {
		e.location.Set(cfg.Location.Latitude, cfg.Location.Longitude)
	}

	// 2. Attribution
	resolver, err := attribution.New(cfg.Attribution)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}
	e.resolver = resolver

	// 3. Leak log and notifications
	e.leakLog, err = leaklog.New(cfg.LeakLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create leak log: %w", err)
	}
	e.notifier = leak.NewNotifier(e.notifySink)

	// 4. Capture
	if err := e.openCapture(); err != nil {
		e.leakLog.Close()
		return nil, err
	}

	// 5. Inspector and workers
	handle := ahocorasick.NewHandle()
	e.rebuilder = ahocorasick.NewRebuilder(handle)
	insCfg := inspector.Config{
		Enabled:       cfg.Inspector.Enabled,
		MaxPacketSize: cfg.Inspector.MaxPacketSize,
		Handle:        handle,
		Rebuilder:     e.rebuilder,
		Evaluator:     leak.NewEvaluator(e.filters, e.location, e.leakLog, e.notifier),
		Patterns:      e.filters,
		Location:      e.location,
		Resolver:      e.resolver,
	}
	if e.captureFile != nil {
		insCfg.Capture = e.captureFile
	}
	e.inspector = inspector.New(insCfg)
	e.pool = inspector.NewPool(e.inspector, inspector.PoolConfig{
		Workers:   cfg.Inspector.Workers,
		QueueSize: cfg.Inspector.QueueSize,
	})

	return e, nil
}

func (e *Engine) openCapture() error {
	cfg := e.config.Capture
	switch {
	case e.capturePath != "":
		f, err := capture.Open(e.capturePath, capture.MetadataFromConfig(cfg, uuid.NewString()))
		if err != nil {
			return fmt.Errorf("failed to open capture file: %w", err)
		}
		e.captureFile = f
	case cfg.Enabled:
		m, err := capture.NewManager(cfg)
		if err != nil {
			return fmt.Errorf("failed to create capture manager: %w", err)
		}
		f, err := m.NewActiveFile(capture.Outgoing)
		if err != nil {
			return fmt.Errorf("failed to open capture file: %w", err)
		}
		e.captures, e.captureFile = m, f
	}
	return nil
}

// Start initializes logging and metrics, publishes the first automaton
// and starts the rebuilder and the worker pool.
func (e *Engine) Start() error {
	if err := log.Init(&e.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := log.GetLogger()

	if e.config.Metrics.Enabled {
		e.metricsServer = metrics.NewServer(e.config.Metrics.Listen, e.config.Metrics.Path)
		if err := e.metricsServer.Start(e.ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if err := e.inspector.RefreshNow(); err != nil {
		return fmt.Errorf("failed to build pattern automaton: %w", err)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.rebuilder.Run(e.ctx)
	}()
	e.filters.Subscribe(e.inspector.Refresh)
	e.filters.Watch(e.resolveDecided)
	e.location.Subscribe(e.inspector.Refresh)

	e.pool.Start()

	logger.WithFields(map[string]interface{}{
		"rules":    len(e.filters.Rules()),
		"location": e.location.Summary(),
		"enabled":  e.config.Inspector.Enabled,
	}).Info("engine started")
	return nil
}

// resolveDecided clears notifications answered by a rule change, so a
// later leak of the same kind can prompt again.
func (e *Engine) resolveDecided(changed []core.FilterRule) {
	for _, r := range changed {
		if r.IsGlobal() {
			e.notifier.ResolveLabel(r.Label)
			continue
		}
		e.notifier.Resolve(r.App, r.Label)
	}
}

// Stop drains the workers, flushes the leak log and closes the capture
// file. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(e.stop)
}

func (e *Engine) stop() {
	logger := log.GetLogger()

	// 1. Drain in-flight packets
	e.pool.Stop()

	// 2. Stop the rebuilder
	e.cancel()
	e.wg.Wait()

	// 3. Capture
	if e.captureFile != nil {
		if e.captures != nil {
			if path, err := e.captures.Complete(e.captureFile); err != nil {
				logger.WithError(err).Error("failed to complete capture file")
			} else {
				logger.WithField("path", path).Info("capture file completed")
			}
		} else if err := e.captureFile.Close(); err != nil {
			logger.WithError(err).Error("failed to close capture file")
		}
	}

	// 4. Leak log
	if err := e.leakLog.Close(); err != nil {
		logger.WithError(err).Error("failed to close leak log")
	}

	// 5. Metrics
	if e.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.metricsServer.Stop(ctx); err != nil {
			logger.WithError(err).Error("failed to stop metrics server")
		}
	}

	logger.Info("engine stopped")
}

// Reload re-reads the rules file and location from cfg. Subscribed
// components rebuild the automaton in the background.
func (e *Engine) Reload(cfg *config.GlobalConfig) error {
	if cfg.Filters.RulesFile != "" {
		store, err := filter.LoadFile(cfg.Filters.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to reload filter rules: %w", err)
		}
		e.filters.Replace(store.Rules())
	}
	if cfg.Location.Enabled {
		e.location.Set(cfg.Location.Latitude, cfg.Location.Longitude)
	} else {
		e.location.Clear()
	}
	e.config.Filters, e.config.Location = cfg.Filters, cfg.Location
	return nil
}

func (e *Engine) Inspector() *inspector.Inspector { return e.inspector }
func (e *Engine) Pool() *inspector.Pool           { return e.pool }
func (e *Engine) Filters() *filter.Store          { return e.filters }
func (e *Engine) Location() *location.Static      { return e.location }
func (e *Engine) Notifier() *leak.Notifier        { return e.notifier }
func (e *Engine) LeakLog() *leaklog.Dispatcher    { return e.leakLog }

// CapturePath returns the path of the open capture file, "" if none.
func (e *Engine) CapturePath() string {
	if e.captureFile == nil {
		return ""
	}
	return e.captureFile.Path()
}

func logNotification(req leak.NotificationRequest) {
	log.GetLogger().WithFields(map[string]interface{}{
		"app":    req.App,
		"label":  req.Label,
		"value":  req.Value,
		"action": req.Action.String(),
	}).Warn("leak awaiting a decision")
}
