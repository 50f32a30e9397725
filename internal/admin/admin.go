// Package admin implements the operator-facing surface named in
// SPEC_FULL.md §4.13: health/readiness probes, Prometheus exposition, a
// config reload endpoint, and cache purge/stats. The /admin/* routes are
// gated behind the authenticator and admin_claim/admin_value check;
// /health, /ready and /metrics are not.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yatagarasu/yatagarasu/internal/auth"
	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/log"
	"github.com/yatagarasu/yatagarasu/internal/metrics"
)

// Server wires gorilla/mux routes for the admin surface.
type Server struct {
	pipeline   PipelineHandle
	authn      *auth.Authenticator
	adminClaim string
	adminValue string
	configPath string
	ready      func() bool
	router     *mux.Router
}

// PipelineHandle is implemented by *pipeline.Pipeline; declared here (not
// imported) to keep internal/admin free of a dependency on internal/pipeline.
type PipelineHandle interface {
	BucketNames() []string
	CacheLayers(bucket string) ([]cache.Stats, cache.Stats, bool)
	PurgeCache(bucket, path string) error
	Rebuild(cfg *config.GatewayConfig) error
	ReplicaStates() map[string]map[string]string
}

// New builds the admin mux.Router. adminAuth may be nil, in which case
// every /admin/* route is open (the operator is expected to keep the admin
// listener unexposed in that case, per spec's "separate, unauthenticated by
// default" admin_listen_address note).
func New(p PipelineHandle, adminAuth *config.AuthConfig, configPath string, ready func() bool) (*Server, error) {
	s := &Server{pipeline: p, configPath: configPath, ready: ready}
	if adminAuth != nil && adminAuth.Enabled {
		a, err := auth.New(adminAuth)
		if err != nil {
			return nil, err
		}
		s.authn = a
		s.adminClaim = adminAuth.AdminClaim
		s.adminValue = adminAuth.AdminValue
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/admin/reload", s.gated(s.handleReload)).Methods(http.MethodPost)
	r.HandleFunc("/admin/cache/purge", s.gated(s.handlePurgeAll)).Methods(http.MethodPost)
	r.HandleFunc("/admin/cache/purge/{bucket}", s.gated(s.handlePurgeBucket)).Methods(http.MethodPost)
	r.HandleFunc("/admin/cache/purge/{bucket}/{path:.*}", s.gated(s.handlePurgePath)).Methods(http.MethodPost)
	r.HandleFunc("/admin/cache/stats", s.gated(s.handleStatsAll)).Methods(http.MethodGet)
	r.HandleFunc("/admin/cache/stats/{bucket}", s.gated(s.handleStatsBucket)).Methods(http.MethodGet)

	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// gated wraps h so it only runs once the request authenticates and its
// claims satisfy admin_claim/admin_value, per spec §4.13.
func (s *Server) gated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authn == nil {
			h(w, r)
			return
		}
		claims, err := s.authn.Authenticate(r)
		if err != nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !auth.IsAdmin(claims, s.adminClaim, s.adminValue) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		h(w, r)
	}
}

// handleHealth always returns 200, including after shutdown has begun; unlike
// /ready, it never reflects shutdown or replica circuit-breaker state (spec §4.14).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "alive"})
}

// handleReady reports 200 iff the process hasn't begun shutting down and
// every bucket has at least one non-open replica, per spec §4.14. The body
// always carries the full per-bucket, per-replica breaker state map so an
// operator can see which replicas tripped even when the overall bucket is
// still serving from another one.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	buckets := s.pipeline.ReplicaStates()

	status := http.StatusOK
	if s.ready != nil && !s.ready() {
		status = http.StatusServiceUnavailable
	} else if !allBucketsAvailable(buckets) {
		status = http.StatusServiceUnavailable
	}

	writeJSONStatus(w, status, map[string]interface{}{"buckets": buckets})
}

// allBucketsAvailable reports whether every bucket has at least one replica
// whose breaker isn't open (a bucket with zero replicas is vacuously ready).
func allBucketsAvailable(buckets map[string]map[string]string) bool {
	for _, replicas := range buckets {
		if len(replicas) == 0 {
			continue
		}
		hasAvailable := false
		for _, state := range replicas {
			if state != "open" {
				hasAvailable = true
				break
			}
		}
		if !hasAvailable {
			return false
		}
	}
	return true
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		log.Error("admin reload failed to load config", log.Pairs{"error": err.Error()})
		http.Error(w, "reload failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.pipeline.Rebuild(cfg); err != nil {
		log.Error("admin reload failed to rebuild pipeline", log.Pairs{"error": err.Error()})
		http.Error(w, "reload failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	config.Store(cfg)
	log.Info("configuration reloaded", log.Pairs{"path": s.configPath})
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("reloaded"))
}

func (s *Server) handlePurgeAll(w http.ResponseWriter, r *http.Request) {
	var firstErr error
	for _, b := range s.pipeline.BucketNames() {
		if err := s.pipeline.PurgeCache(b, ""); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		http.Error(w, firstErr.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePurgeBucket(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	if err := s.pipeline.PurgeCache(bucket, ""); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePurgePath(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.pipeline.PurgeCache(vars["bucket"], vars["path"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatsAll(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]interface{})
	for _, b := range s.pipeline.BucketNames() {
		perLayer, aggregate, ok := s.pipeline.CacheLayers(b)
		if !ok {
			continue
		}
		out[b] = map[string]interface{}{"layers": perLayer, "aggregate": aggregate}
	}
	writeJSON(w, out)
}

func (s *Server) handleStatsBucket(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	perLayer, aggregate, ok := s.pipeline.CacheLayers(bucket)
	if !ok {
		http.Error(w, "unknown bucket", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{"layers": perLayer, "aggregate": aggregate})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("admin: failed to encode JSON response", log.Pairs{"error": err.Error()})
	}
}
