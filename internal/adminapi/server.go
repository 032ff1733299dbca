package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dreamware/torua-cache/pkg/cache"
)

// Info is the /info response body: a point-in-time snapshot of a shard's
// identity and residency, used by shardctl and by monitoring dashboards.
type Info struct {
	ShardID       string `json:"shard_id"`
	ResidentSlots int    `json:"resident_slots"`
}

// Server is the admin HTTP surface for one shard process.
type Server struct {
	shardID string
	store   *cache.Store
	log     zerolog.Logger
	httpSrv *http.Server
}

// NewServer builds a Server listening on addr, delegating to store for
// /flush and reporting shardID in /info.
func NewServer(addr, shardID string, store *cache.Store, log zerolog.Logger) *Server {
	s := &Server{shardID: shardID, store: store, log: log.With().Str("component", "adminapi").Logger()}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/flush", s.handleFlush)
	mux.Handle("/metrics", promhttp.HandlerFor(store.Metrics().Registerer, promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the admin surface until the server is
// shut down, returning nil on a clean http.ErrServerClosed exit.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("admin server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the admin HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	info := Info{ShardID: s.shardID, ResidentSlots: s.store.ResidentSlots()}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.store.SaveAll(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
