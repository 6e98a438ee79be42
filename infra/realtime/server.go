// Package realtime serves the bidirectional event channel over WebSocket.
//
// A connection is authenticated with a bearer credential before the upgrade
// and subscribed to one channel per declared role. Inbound events are
// handled one at a time in the order they are read; outbound events and
// error replies are written by a single writer goroutine.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/lastmile/auth"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/monitoring"
	"github.com/kilianp07/lastmile/infra/metrics"
)

// Handler processes one inbound event and returns the error event to send
// back to the sender, or nil.
type Handler interface {
	Handle(ctx context.Context, id auth.Identity, ev channel.Event) *channel.Event
}

// Server upgrades authenticated HTTP requests to event connections.
type Server struct {
	cfg      Config
	verifier auth.Verifier
	reg      channel.Registry
	handler  Handler
	log      logger.Logger
	upgrader websocket.Upgrader

	// base roots handler contexts so that store writes started by a
	// connection complete after it goes away.
	base   context.Context
	cancel context.CancelFunc

	open     prometheus.Gauge
	events   *prometheus.CounterVec
	rejected *prometheus.CounterVec
	dropped  *prometheus.CounterVec

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
}

// NewServer wires a Server. A nil registerer uses the default Prometheus
// registerer.
func NewServer(cfg Config, v auth.Verifier, reg channel.Registry, h Handler, log logger.Logger, promReg prometheus.Registerer) (*Server, error) {
	if v == nil || reg == nil || h == nil || log == nil {
		return nil, fmt.Errorf("realtime: nil parameter verifier=%v registry=%v handler=%v log=%v", v != nil, reg != nil, h != nil, log != nil)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if promReg == nil {
		promReg = prometheus.DefaultRegisterer
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		verifier: v,
		reg:      reg,
		handler:  h,
		log:      log,
		base:     base,
		cancel:   cancel,
		conns:    map[*conn]struct{}{},
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Open event connections",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Inbound events by name and outcome",
		}, []string{"event", "result"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_rejected_total",
			Help: "Connection attempts refused before the upgrade",
		}, []string{"reason"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Outbound events dropped because a subscriber was too slow",
		}, []string{"role"}),
	}
	var err error
	if s.open, err = metrics.Register(promReg, s.open); err != nil {
		return nil, err
	}
	if s.events, err = metrics.Register(promReg, s.events); err != nil {
		return nil, err
	}
	if s.rejected, err = metrics.Register(promReg, s.rejected); err != nil {
		return nil, err
	}
	if s.dropped, err = metrics.Register(promReg, s.dropped); err != nil {
		return nil, err
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Path returns the mount path of the endpoint.
func (s *Server) Path() string { return s.cfg.Path }

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// CountDrop records an event dropped on ch. It is meant to be installed as
// the drop handler of the channel registry.
func (s *Server) CountDrop(ch channel.Name) {
	role, _, ok := channel.Parse(ch)
	if !ok {
		role = "unknown"
	}
	s.dropped.WithLabelValues(string(role)).Inc()
}

// ServeHTTP authenticates the request and runs the connection until either
// side closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok, ok := auth.FromRequest(r)
	if !ok {
		s.reject(w, "missing_credential", http.StatusUnauthorized)
		return
	}
	id, err := s.verifier.Verify(r.Context(), tok)
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		s.reject(w, "invalid_credential", http.StatusUnauthorized)
		return
	case err != nil:
		s.log.Errorw("verify credential", err, nil)
		monitoring.CaptureException(err, map[string]string{"module": "realtime"})
		s.reject(w, "verifier_error", http.StatusServiceUnavailable)
		return
	}

	sub, err := s.reg.Subscribe(id.Channels()...)
	if err != nil {
		s.log.Errorw("subscribe", err, map[string]any{"identity": id.ID})
		s.reject(w, "subscribe_error", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already answered the request.
		sub.Unsubscribe()
		s.rejected.WithLabelValues("upgrade").Inc()
		s.log.Debugf("upgrade failed for %s: %v", id.ID, err)
		return
	}

	c := newConn(s, id, ws, sub)
	if !s.track(c) {
		c.close()
		_ = ws.Close()
		return
	}
	s.log.Infow("connection opened", map[string]any{"conn_id": c.connID, "identity": id.ID, "channels": sub.Channels()})
	go c.writeLoop()
	c.readLoop()
	s.log.Infow("connection closed", map[string]any{"conn_id": c.connID, "identity": id.ID})
}

func (s *Server) reject(w http.ResponseWriter, reason string, code int) {
	s.rejected.WithLabelValues(reason).Inc()
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="lastmile"`)
	}
	http.Error(w, strings.ReplaceAll(reason, "_", " "), code)
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.open.Inc()
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		s.open.Dec()
	}
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close ends every connection and refuses new ones. In-flight handlers are
// cancelled.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	s.cancel()
	return nil
}
