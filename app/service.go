// Package app wires the engine components from configuration and runs
// the background loops.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/foodbridge/relay/config"
	"github.com/foodbridge/relay/core/claim"
	"github.com/foodbridge/relay/core/delivery"
	"github.com/foodbridge/relay/core/dispatch"
	"github.com/foodbridge/relay/core/escalation"
	"github.com/foodbridge/relay/core/geo"
	"github.com/foodbridge/relay/core/journal"
	"github.com/foodbridge/relay/core/lifecycle"
	"github.com/foodbridge/relay/core/match"
	coremetrics "github.com/foodbridge/relay/core/metrics"
	"github.com/foodbridge/relay/core/notify"
	"github.com/foodbridge/relay/core/reliability"
	"github.com/foodbridge/relay/core/roster"
	"github.com/foodbridge/relay/core/routing"
	"github.com/foodbridge/relay/core/scoring"
	"github.com/foodbridge/relay/core/spoilage"
	"github.com/foodbridge/relay/infra/logger"
	"github.com/foodbridge/relay/infra/metrics"
	"github.com/foodbridge/relay/infra/mqtt"
	"github.com/foodbridge/relay/internal/eventbus"
	"github.com/foodbridge/relay/internal/idempotency"
)

// Options carries the pluggable providers. Nil fields fall back to the
// deterministic defaults (fallback spoilage table, Haversine routing,
// no-op notifier when MQTT is disabled).
type Options struct {
	Predictor spoilage.Predictor
	Planner   routing.Planner
	Notifier  notify.Dispatcher
}

// Service owns the engine and its background loops.
type Service struct {
	Engine *Engine

	controller *escalation.Controller
	planner    *dispatch.Planner
	bus        eventbus.EventBus
	notifier   notify.Dispatcher
	journal    journal.Store
	log        logger.Logger
	cfg        *config.Config
}

// New creates a Service from the configuration.
func New(cfg *config.Config, opts Options) (*Service, error) {
	logg := logger.New("service")

	notifier := opts.Notifier
	if notifier == nil {
		if cfg.Notifier.Enabled {
			n, err := mqtt.NewNotifier(cfg.Notifier)
			if err != nil {
				return nil, fmt.Errorf("mqtt notifier: %w", err)
			}
			notifier = n
		} else {
			notifier = notify.Nop{}
		}
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	var jstore journal.Store = journal.NopStore{}
	if cfg.Journal.Backend == "jsonl" {
		js, err := journal.NewJSONLStore(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		jstore = js
	}

	bus := eventbus.New()
	postings := lifecycle.NewStore()
	ros := roster.NewStore()
	ix := geo.NewIndex()
	scorer := scoring.NewEngine(cfg.Match.Weights())
	spoiler := spoilage.NewEngine(opts.Predictor, logg)
	router := routing.NewEngine(opts.Planner, logg)

	broadcaster := match.NewBroadcaster(ix, ros, scorer, notifier, sink, jstore, logg)
	coordinator := claim.NewCoordinator(postings, ros, bus, logg)
	planner := dispatch.NewPlanner(postings, ros, ix, router, bus, jstore, sink, logg, cfg.Dispatch)
	ledger := reliability.NewLedger(ros, logg)
	tracker := delivery.NewTracker(postings, ros, planner, ledger, bus, jstore, sink, logg, cfg.Dispatch.LateArrivalGraceMinutes)
	controller := escalation.NewController(postings, ros, broadcaster, notifier, bus, jstore, sink, logg, cfg.Escalation)

	engine := &Engine{
		cfg:         cfg,
		postings:    postings,
		roster:      ros,
		geo:         ix,
		spoilage:    spoiler,
		broadcaster: broadcaster,
		coordinator: coordinator,
		planner:     planner,
		tracker:     tracker,
		ledger:      ledger,
		tokens:      idempotency.NewStore(0),
		log:         logg,
		now:         time.Now,
	}
	return &Service{
		Engine:     engine,
		controller: controller,
		planner:    planner,
		bus:        bus,
		notifier:   notifier,
		journal:    jstore,
		log:        logg,
		cfg:        cfg,
	}, nil
}

// Run starts the background loops and blocks until the context is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.controller.Run(ctx)
	go s.planner.Run(ctx)
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusAddr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	s.log.Infof("engine running (%d cities)", len(s.cfg.Cities))
	<-ctx.Done()
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.bus.Close()
	if n, ok := s.notifier.(*mqtt.Notifier); ok {
		n.Close()
	}
	return s.journal.Close()
}
