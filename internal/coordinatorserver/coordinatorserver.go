// Package coordinatorserver exposes the RAID coordinator's file and
// status operations over HTTP.
package coordinatorserver

import (
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/lucidgrid/raidfive/internal/coordinator"
	"github.com/lucidgrid/raidfive/internal/health"
)

// Server is the coordinator's HTTP front end.
type Server struct {
	mux    *http.ServeMux
	coord  *coordinator.Coordinator
	health *health.Monitor
	log    *slog.Logger

	statusPath string
	statusMu   sync.Mutex
	started    time.Time
}

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithStatusPath sets where status.raid snapshots are best-effort written.
// Leaving it empty disables the snapshot write entirely.
func WithStatusPath(path string) Option {
	return func(s *Server) {
		s.statusPath = path
	}
}

// New builds a Server over coord and an optional health monitor (nil is
// fine — status endpoints report Unknown availability without one).
func New(coord *coordinator.Coordinator, monitor *health.Monitor, opts ...Option) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		coord:   coord,
		health:  monitor,
		log:     slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /files", s.handleUpload)
	s.mux.HandleFunc("GET /files/{name}", s.handleDownload)
	s.mux.HandleFunc("DELETE /files/{name}", s.handleDeleteFile)
	s.mux.HandleFunc("GET /files/{name}/info", s.handleFileInfo)
	s.mux.HandleFunc("GET /files", s.handleList)
	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("GET /status/raid", s.handleStatusRAID)
	s.mux.HandleFunc("GET /status/nodes", s.handleStatusNodes)
	s.mux.HandleFunc("GET /status/health", s.handleStatusHealth)
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// writeStatusSnapshot best-effort persists a status snapshot to disk.
// Per the design, this artifact is informational only — a write failure
// here never fails the caller's request.
func (s *Server) writeStatusSnapshot(data []byte) {
	if s.statusPath == "" {
		return
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if err := os.WriteFile(s.statusPath, data, 0o644); err != nil {
		s.log.Warn("coordinatorserver: failed to write status snapshot", "error", err)
	}
}
