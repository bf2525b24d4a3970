package coordinatorserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lucidgrid/raidfive/internal/config"
	"github.com/lucidgrid/raidfive/internal/coordinator"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		http.Error(w, fmt.Sprintf("failed to parse multipart form: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	fileName := r.FormValue("fileName")
	if fileName == "" {
		fileName = header.Filename
	}
	contentType := r.FormValue("contentType")
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = "application/pdf"
	}

	res, err := s.coord.Upload(r.Context(), fileName, data, contentType)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		OK:            true,
		FileID:        res.FileID,
		BlocksCreated: res.BlocksCreated,
		NodesUsed:     res.NodesUsed,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, file, err := s.coord.Download(r.Context(), name)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, file.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Error("coordinatorserver: failed to write response body", "error", err, "file", name)
	}
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	res, err := s.coord.Delete(r.Context(), name)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{OK: true, BlocksDeleted: res.BlocksDeleted})
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	file, err := s.coord.Info(name)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	files, err := s.coord.List()
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}

	var totalSize int64
	for _, f := range files {
		totalSize += f.SizeBytes
	}

	writeJSON(w, http.StatusOK, listResponse{
		Files:      files,
		TotalCount: len(files),
		TotalSize:  totalSize,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	files, err := s.coord.Search(query)
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Files: files, TotalCount: len(files)})
}

func (s *Server) handleStatusRAID(w http.ResponseWriter, r *http.Request) {
	status := raidStatusResponse{
		Status:    "unknown",
		NodeCount: config.NodeCount,
		Timestamp: time.Now().UTC(),
	}
	if s.health != nil {
		status.Status = string(s.health.AvailabilityStats())
		status.OnlineNodes = s.health.OnlineCount()
	}

	body, err := json.Marshal(status)
	if err == nil {
		s.writeStatusSnapshot(body)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatusNodes(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, nodesStatusResponse{})
		return
	}
	resp := nodesStatusResponse{}
	for _, id := range s.health.NodeIDs() {
		node, _ := s.health.Snapshot(id)
		resp.Nodes = append(resp.Nodes, nodeStatusEntry{
			NodeID:        int(id),
			Online:        s.health.IsOnline(id),
			ErrorCount:    node.ErrorCount,
			LastLatencyMs: node.LastLatency.Milliseconds(),
			Endpoint:      node.Endpoint,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatusHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatusResponse{OK: true, Uptime: time.Since(s.started).String()})
}

func (s *Server) writeCoordinatorError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, coordinator.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, coordinator.ErrUnrecoverableLoss):
		status = http.StatusConflict
	case errors.Is(err, coordinator.ErrServiceDegraded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, coordinator.ErrStorageFailure):
		status = http.StatusInternalServerError
	}
	s.log.Error("coordinatorserver: request failed", "error", err)
	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		fmt.Println("coordinatorserver: failed to encode response:", err)
	}
}
