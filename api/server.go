package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/infra/metrics"
)

// Server runs the HTTP listener of the REST and WebSocket endpoints.
type Server struct {
	addr     string
	handler  http.Handler
	log      logger.Logger
	srv      *http.Server
	requests *prometheus.CounterVec
	shutdown time.Duration
	ready    chan struct{}
}

// NewServer wraps mux with request accounting. Handlers reach log through
// the request context. A nil registerer uses the default Prometheus
// registerer.
func NewServer(addr string, mux *http.ServeMux, log logger.Logger, reg prometheus.Registerer) (*Server, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "HTTP requests by route pattern and status code",
	}, []string{"route", "code"})
	requests, err := metrics.Register(reg, requests)
	if err != nil {
		return nil, err
	}
	s := &Server{
		addr:     addr,
		log:      log,
		requests: requests,
		shutdown: 5 * time.Second,
		ready:    make(chan struct{}),
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.log.Errorf("write healthz: %v", err)
		}
	})
	s.handler = s.count(mux)
	return s, nil
}

// Handler returns the instrumented handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection over to the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer cannot be hijacked")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) count(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(WithLogger(r.Context(), s.log)))
		s.requests.WithLabelValues(pattern, strconv.Itoa(rec.code)).Inc()
	})
}

// Addr returns the listening address once Start has been called.
func (s *Server) Addr() string { return s.addr }

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("shutdown server: %v", err)
		}
		cancel()
	}()
	s.log.Infof("API listening on %s", s.addr)
	close(s.ready)
	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
