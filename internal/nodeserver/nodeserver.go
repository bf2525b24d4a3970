// Package nodeserver exposes one storage node's block store over HTTP,
// in the request/response shape internal/transport expects.
package nodeserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lucidgrid/raidfive/internal/blockstore"
	"github.com/lucidgrid/raidfive/internal/wire"
)

// Server is one node's HTTP front end.
type Server struct {
	mux     *http.ServeMux
	store   *blockstore.Store
	nodeID  int
	log     *slog.Logger
	started time.Time
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

// New builds a Server for one node's store.
func New(nodeID int, store *blockstore.Store, opts ...Option) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		store:   store,
		nodeID:  nodeID,
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
	s.mux.HandleFunc("POST /blocks", s.handleStore)
	s.mux.HandleFunc("GET /blocks/{id}", s.handleRetrieve)
	s.mux.HandleFunc("HEAD /blocks/{id}", s.handleExists)
	s.mux.HandleFunc("DELETE /blocks/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /blocks", s.handleList)
	s.mux.HandleFunc("GET /info", s.handleInfo)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req wire.BlockRequest
	if err := json.Unmarshal([]byte(r.Header.Get(wire.HeaderBlockHeader)), &req); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.BlockResponse{Error: "missing or invalid block header"})
		return
	}
	if req.BlockID == "" {
		writeJSON(w, http.StatusBadRequest, wire.BlockResponse{Error: "blockId is required"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 256<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, wire.BlockResponse{Error: "failed to read body"})
		return
	}
	if req.Compressed {
		payload, err = decompressXZ(payload)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, wire.BlockResponse{Error: "failed to decompress body"})
			return
		}
	}

	avail, err := s.store.AvailableSpace()
	if err == nil && int64(len(payload)) > avail {
		writeJSON(w, http.StatusInsufficientStorage, wire.BlockResponse{Error: "insufficient space"})
		return
	}

	if err := s.store.StoreBlock(req.BlockID, payload, req.StripeIndex, req.Position, req.IsParity); err != nil {
		s.log.Error("nodeserver: store failed", "error", err, "blockId", req.BlockID)
		writeJSON(w, http.StatusInternalServerError, wire.BlockResponse{Error: "store failed"})
		return
	}

	writeJSON(w, http.StatusCreated, wire.BlockResponse{OK: true, BlockID: req.BlockID, Length: len(payload)})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	payload, meta, err := s.store.RetrieveBlock(id)
	if err != nil {
		s.writeRetrieveError(w, id, err)
		return
	}

	resp := wire.BlockResponse{
		OK:          true,
		BlockID:     id,
		Checksum:    meta.Checksum,
		Length:      meta.Length,
		StripeIndex: meta.StripeIndex,
		Position:    meta.Position,
		IsParity:    meta.IsParity,
	}
	headerJSON, _ := json.Marshal(resp)
	w.Header().Set(wire.HeaderBlockHeader, string(headerJSON))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		s.log.Error("nodeserver: failed to write response body", "error", err, "blockId", id)
	}
}

func (s *Server) writeRetrieveError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, blockstore.ErrBlockNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, blockstore.ErrChecksumMismatch):
		headerJSON, _ := json.Marshal(wire.BlockResponse{Error: "integrity failure", BlockID: id})
		w.Header().Set(wire.HeaderBlockHeader, string(headerJSON))
		w.WriteHeader(http.StatusUnprocessableEntity)
	default:
		s.log.Error("nodeserver: retrieve failed", "error", err, "blockId", id)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exists, err := s.store.BlockExists(id)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteBlock(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, wire.BlockResponse{Error: "delete failed"})
		return
	}
	writeJSON(w, http.StatusOK, wire.BlockResponse{OK: true, BlockID: id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.ListBlocks()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, wire.ListBlocksResponse{Error: "list failed"})
		return
	}
	resp := wire.ListBlocksResponse{OK: true, Blocks: make([]wire.BlockSummary, 0, len(metas))}
	for _, m := range metas {
		resp.Blocks = append(resp.Blocks, wire.BlockSummary{
			BlockID:     m.BlockID,
			Checksum:    m.Checksum,
			Length:      m.Length,
			StripeIndex: m.StripeIndex,
			Position:    m.Position,
			IsParity:    m.IsParity,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	used, err := s.store.UsedSpace()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, wire.NodeInfoResponse{Error: "info failed"})
		return
	}
	avail, err := s.store.AvailableSpace()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, wire.NodeInfoResponse{Error: "info failed"})
		return
	}
	metas, err := s.store.ListBlocks()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, wire.NodeInfoResponse{Error: "info failed"})
		return
	}
	writeJSON(w, http.StatusOK, wire.NodeInfoResponse{
		OK:             true,
		NodeID:         s.nodeID,
		UsedBytes:      used,
		AvailableBytes: avail,
		BlockCount:     len(metas),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.HealthResponse{OK: true, NodeID: s.nodeID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("nodeserver: failed to encode response", "error", err)
	}
}
