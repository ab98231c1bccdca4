package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Server serves the prometheus scrape endpoint and a health check.
type Server struct {
	listen     string
	path       string
	healthPath string

	httpServer *http.Server
	registry   *prometheus.Registry
}

// NewServer creates a metrics HTTP server with its own registry so the
// global prometheus registry stays untouched.
func NewServer(listen, path, healthPath string) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if path == "" {
		path = "/metrics"
	}
	if healthPath == "" {
		healthPath = "/healthz"
	}

	return &Server{
		listen:     listen,
		path:       path,
		healthPath: healthPath,
		registry:   registry,
	}
}

// MustRegister registers a collector, panicking on duplicates.
func (s *Server) MustRegister(c prometheus.Collector) {
	s.registry.MustRegister(c)
}

// Start runs the HTTP server in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(s.healthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	s.httpServer = &http.Server{
		Addr:         s.listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("metrics server listening on %s%s", s.listen, s.path)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Println("metrics server error:", err)
		}
	}()
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Println("metrics server shutdown:", err)
	}
}
