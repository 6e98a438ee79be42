package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/lastmile/api"
	"github.com/kilianp07/lastmile/api/deliveries"
	"github.com/kilianp07/lastmile/api/drivers"
	"github.com/kilianp07/lastmile/app/plugins"
	"github.com/kilianp07/lastmile/auth"
	"github.com/kilianp07/lastmile/config"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/delivery"
	coremetrics "github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/monitoring"
	"github.com/kilianp07/lastmile/core/scheduler"
	"github.com/kilianp07/lastmile/core/tracking"
	"github.com/kilianp07/lastmile/infra/logger"
	"github.com/kilianp07/lastmile/infra/metrics"
	inframon "github.com/kilianp07/lastmile/infra/monitoring"
	"github.com/kilianp07/lastmile/infra/realtime"
)

// Service wires the store, the mutation API, the channel registry, the
// HTTP surfaces and the assignment scheduler.
type Service struct {
	cfg *config.Config
	log logger.Logger

	store      delivery.Backend
	sink       coremetrics.Sink
	Deliveries *delivery.Service
	Channels   channel.Registry
	Notifier   *tracking.Notifier
	Scheduler  *scheduler.Scheduler
	Realtime   *realtime.Server
	API        *api.Server

	closeOnce sync.Once
}

// Option customises New.
type Option func(*options)

type options struct {
	promReg prometheus.Registerer
}

// WithRegisterer records HTTP and connection metrics on reg instead of the
// default Prometheus registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.promReg = reg }
}

// New creates a Service from the configuration. Nothing listens until Run.
func New(cfg *config.Config, opts ...Option) (_ *Service, err error) {
	o := options{promReg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger.Configure(logger.Options{Level: cfg.Logging.Level, Console: cfg.Logging.Console})
	log := logger.New("service")

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	s := &Service{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.store, err = plugins.NewStore(cfg.Store); err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.Store.Type, err)
	}
	if s.sink, err = coremetrics.NewSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	if s.Deliveries, err = delivery.NewService(s.store, s.store, logger.New("delivery"), s.sink); err != nil {
		return nil, err
	}

	reg, bus, err := plugins.NewChannels(cfg.Channels, cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("channels %s: %w", cfg.Channels.Type, err)
	}
	s.Channels = reg
	if s.Notifier, err = tracking.NewNotifier(reg); err != nil {
		return nil, err
	}
	if s.Scheduler, err = scheduler.New(cfg.Assignment, s.Deliveries, s.Notifier, logger.New("scheduler"), s.sink); err != nil {
		return nil, fmt.Errorf("assignment: %w", err)
	}

	verifier, err := plugins.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth %s: %w", cfg.Auth.Type, err)
	}
	if err := s.buildHTTP(verifier, bus, o.promReg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) buildHTTP(v auth.Verifier, bus interface{ SetDropHandler(func(channel.Name)) }, promReg prometheus.Registerer) error {
	gw, err := tracking.NewGateway(s.Deliveries, s.Channels, logger.New("tracking"))
	if err != nil {
		return err
	}
	s.Realtime, err = realtime.NewServer(s.cfg.Server.WebSocket, v, s.Channels, gw, logger.New("realtime"), promReg)
	if err != nil {
		return fmt.Errorf("websocket: %w", err)
	}
	bus.SetDropHandler(s.Realtime.CountDrop)

	mux := http.NewServeMux()
	protected := api.Protected{Mux: mux, Verifier: v}
	drivers.NewHandler(s.Deliveries).Register(protected)
	deliveries.NewHandler(s.Deliveries, s.Notifier, logger.New("deliveries")).Register(protected)
	mux.Handle("GET "+s.Realtime.Path(), s.Realtime)

	s.API, err = api.NewServer(s.cfg.Server.Addr, mux, logger.New("api"), promReg)
	if err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Run serves HTTP, the Prometheus endpoint and the scheduler until ctx is
// canceled or the API listener fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer monitoring.Recover()
		s.Scheduler.Run(ctx)
	}()
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				s.log.Errorf("prom server: %v", err)
				errc <- fmt.Errorf("prom server: %w", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.API.Start(ctx); err != nil {
			errc <- fmt.Errorf("api server: %w", err)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		cancel()
	}
	wg.Wait()
	return err
}

// Close releases resources held by the service. It is safe to call more
// than once.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.Realtime != nil {
			errs = append(errs, s.Realtime.Close())
		}
		if s.Channels != nil {
			errs = append(errs, s.Channels.Close())
		}
		if c, ok := s.sink.(interface{ Close() }); ok {
			c.Close()
		}
		if s.store != nil {
			errs = append(errs, s.store.Close())
		}
		monitoring.Flush(2 * time.Second)
	})
	return errors.Join(errs...)
}
