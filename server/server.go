package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/cluster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/message"

	"github.com/golang/groupcache/singleflight"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
)

// WebAPIPath is the prefix of every service endpoint.
const WebAPIPath = "/api/"

// ShutdownDelay bounds how long in-flight exports may run after shutdown begins.
const ShutdownDelay = 30 * time.Second

// Server converts uploaded scenes into bundles.
type Server struct {
	cfg       *Config
	clusterer cluster.Clusterer
	events    *message.Publisher
	flight    singleflight.Group
	handler   http.Handler
}

// New returns a service using cfg.  The clusterer may be nil to use the default engine and
// events may be nil to disable activity logging.
func New(cfg *Config, clusterer cluster.Clusterer, events *message.Publisher) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if _, err := cfg.Encoder(); err != nil {
		return nil, err
	}
	if clusterer == nil {
		clusterer = cluster.Default(cfg.Export.Workers)
	}
	s := &Server{cfg: cfg, clusterer: clusterer, events: events}

	mux := web.New()
	mux.Use(s.isAuthorized)
	mux.Get(WebAPIPath+"health", s.healthHandler)
	mux.Get(WebAPIPath+"version", s.versionHandler)
	mux.Post(WebAPIPath+"export", s.exportHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		BadRequest(w, r, "unknown endpoint %s %s", r.Method, r.URL.Path)
	})

	s.handler = mux
	if len(cfg.Server.CorsDomains) != 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CorsDomains,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Export-Id", "Content-Disposition"},
			AllowCredentials: true,
		}).Handler(mux)
	}
	return s, nil
}

// ServeHTTP dispatches a single request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on the configured address until ctx is done, then waits up to
// ShutdownDelay for in-flight exports.
func (s *Server) ListenAndServe(ctx context.Context) error {
	address := s.cfg.Server.HTTPAddress
	if address == "" {
		address = DefaultWebAddress
	}
	src := &http.Server{
		Addr:        address,
		Handler:     s,
		ReadTimeout: 1 * time.Hour,
	}
	errc := make(chan error, 1)
	go func() {
		lfs.Infof("Web server listening at %s ...\n", address)
		errc <- src.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	lfs.Infof("Shutting down web server at %s ...\n", address)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownDelay)
	defer cancel()
	if err := src.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
