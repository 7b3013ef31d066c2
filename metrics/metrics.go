// Package metrics serves the Prometheus registry and the latest run report
// over HTTP.
package metrics

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/carbocation/interpose"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gopkg.in/errgo.v1"
	"gopkg.in/tomb.v2"
)

var httpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hpl",
		Name:      "http_request_duration_seconds",
		Help:      "Time spent generating monitor HTTP responses",
	},
	[]string{
		"method",
		"status_code",
	},
)

var metricsRegister sync.Once

func registerMetrics() {
	metricsRegister.Do(func() {
		prometheus.MustRegister(httpRequestDuration)
	})
}

func recordHTTPRequestDuration(method string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "status_code": strconv.Itoa(statusCode)}
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

type statusCodeResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newStatusCodeResponseWriter(w http.ResponseWriter) *statusCodeResponseWriter {
	// WriteHeader is not called if our response implicitly
	// returns 200 OK, so we default to that status code.
	return &statusCodeResponseWriter{w, http.StatusOK}
}

func (scrw *statusCodeResponseWriter) WriteHeader(code int) {
	scrw.statusCode = code
	scrw.ResponseWriter.WriteHeader(code)
}

// Monitor is an HTTP endpoint exposing solver metrics and the most recent
// report.
type Monitor struct {
	s      *Settings
	r      *httprouter.Router
	middle *interpose.Middleware
	srv    *http.Server
	ln     net.Listener
	t      tomb.Tomb

	mu     sync.RWMutex
	report interface{}
}

func NewMonitor(s *Settings) *Monitor {
	if s == nil {
		s = DefaultSettings()
	}
	registerMetrics()

	m := &Monitor{
		s: s,
		r: httprouter.New(),
	}
	m.r.Handler("GET", m.s.MetricsPath, promhttp.Handler())
	m.r.GET("/report", m.serveReport)

	m.middle = interpose.New()
	m.middle.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			start := time.Now()
			scrw := newStatusCodeResponseWriter(rw)
			next.ServeHTTP(scrw, req)
			duration := time.Since(start)
			log.WithFields(log.Fields{
				req.Method:    req.URL.String(),
				"duration":    duration.String(),
				"from":        req.RemoteAddr,
				"status-code": scrw.statusCode,
				"user-agent":  req.UserAgent(),
			}).Info()
			recordHTTPRequestDuration(req.Method, scrw.statusCode, duration)
		})
	})
	m.middle.UseHandler(m.r)
	return m
}

// SetReport replaces the report served at /report. v must marshal to JSON.
func (m *Monitor) SetReport(v interface{}) {
	m.mu.Lock()
	m.report = v
	m.mu.Unlock()
}

func (m *Monitor) serveReport(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	m.mu.RLock()
	report := m.report
	m.mu.RUnlock()
	if report == nil {
		http.Error(w, "no report available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(report)
	if err != nil {
		log.Errorf("failed to encode report: %v", err)
	}
}

// Handler returns the monitor's routes wrapped in request logging.
func (m *Monitor) Handler() http.Handler {
	return m.middle
}

// Start listens on the configured address and serves until Stop.
func (m *Monitor) Start() error {
	ln, err := net.Listen("tcp", m.s.MetricsAddr)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %q", m.s.MetricsAddr)
	}
	m.ln = ln
	m.srv = &http.Server{Handler: m.middle}
	m.t.Go(func() error {
		log.WithField("addr", ln.Addr()).Info("metrics: starting")
		err := m.srv.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("failed to serve metrics: %v", err)
			return err
		}
		return nil
	})
	m.t.Go(func() error {
		<-m.t.Dying()
		return m.srv.Close()
	})
	return nil
}

// Addr returns the listening address, once started.
func (m *Monitor) Addr() net.Addr {
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

func (m *Monitor) Stop() {
	log.Info("metrics: stopping")
	m.t.Kill(nil)
	if err := m.t.Wait(); err != nil {
		log.Error(errgo.Details(err))
	}
	log.Info("metrics: stopped")
}
