// Package httpapi serves the ops surface: Prometheus metrics, health and the
// manual sweep triggers.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"papp/ingestion/internal/ingest"
	"papp/ingestion/internal/models"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// TokenHeader carries the ops token on guarded routes
const TokenHeader = "X-Ops-Token"

// Sweeper runs the on-demand sweeps
type Sweeper interface {
	TriggerDiscovery(ctx context.Context) (ingest.DiscoverySummary, error)
	TriggerReconciliation(ctx context.Context) (ingest.ReconcileSummary, error)
	TriggerBackfill(ctx context.Context) (ingest.BackfillSummary, error)
	StatusOverview(ctx context.Context) (models.CompletionOverview, error)
}

// Check is a named dependency probe for /health
type Check func(ctx context.Context) error

// Options configure the server
type Options struct {
	Token          string
	AllowedOrigins []string
	Checks         map[string]Check
}

// Server is the ops HTTP server
type Server struct {
	sweeper  Sweeper
	opts     Options
	router   *mux.Router
	validate *validator.Validate
}

// NewServer builds the router
func NewServer(sweeper Sweeper, opts Options) *Server {
	s := &Server{
		sweeper:  sweeper,
		opts:     opts,
		router:   mux.NewRouter(),
		validate: validator.New(),
	}

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.requireToken)
	v1.HandleFunc("/sweeps/{name}", s.handleSweep).Methods(http.MethodPost)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	return s
}

// Handler returns the root handler, with CORS applied when origins are configured
func (s *Server) Handler() http.Handler {
	if len(s.opts.AllowedOrigins) == 0 {
		return s.router
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", TokenHeader},
	}).Handler(s.router)
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Starting ops server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" {
			got := r.Header.Get(TokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing ops token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.opts.Checks))
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]interface{}{"status": "healthy", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	writeJSON(w, status, body)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.validate.Var(name, "required,oneof=discovery reconciliation backfill"); err != nil {
		writeError(w, http.StatusNotFound, "unknown sweep "+name)
		return
	}

	log.Info().Str("sweep", name).Str("remote", r.RemoteAddr).Msg("Sweep triggered over HTTP")

	var (
		summary interface{}
		err     error
	)
	switch name {
	case "discovery":
		summary, err = s.sweeper.TriggerDiscovery(r.Context())
	case "reconciliation":
		summary, err = s.sweeper.TriggerReconciliation(r.Context())
	case "backfill":
		summary, err = s.sweeper.TriggerBackfill(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Str("sweep", name).Msg("Triggered sweep failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sweep": name, "summary": summary})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	overview, err := s.sweeper.StatusOverview(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Status overview failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
