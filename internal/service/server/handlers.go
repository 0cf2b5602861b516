package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/service/manager"
)

type errorResponse struct {
	Error string `json:"error"`
}

type addRequest struct {
	URL   string `json:"url"`
	Dest  string `json:"dest"`
	ID    string `json:"id"`
	Start *bool  `json:"start"`
}

type restartRequest struct {
	Approve *bool `json:"approve"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrAlreadyActive),
		errors.Is(err, domain.ErrNotActive),
		errors.Is(err, domain.ErrNoPendingRestart):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Downloads.List())
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	view, err := s.deps.Downloads.Add(req.URL, req.Dest, req.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if req.Start == nil || *req.Start {
		if err := s.deps.Downloads.StartDownload(view.ID); err != nil {
			s.fail(w, r, err)
			return
		}
		if current, err := s.deps.Downloads.Get(view.ID); err == nil {
			view = current
		}
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Downloads.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	purge := false
	if v := r.URL.Query().Get("purge"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "purge must be a boolean")
			return
		}
		purge = parsed
	}

	if err := s.deps.Downloads.Remove(r.PathValue("id"), purge); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAction wraps a control operation that takes only the download id
func (s *Server) handleAction(op func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := op(id); err != nil {
			s.fail(w, r, err)
			return
		}
		view, err := s.deps.Downloads.Get(id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approve == nil {
		writeError(w, http.StatusBadRequest, `body must be {"approve": true|false}`)
		return
	}

	id := r.PathValue("id")
	if err := s.deps.Downloads.ResolveRestart(id, *req.Approve); err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.deps.Downloads.Get(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	downloads := s.deps.Downloads.List()
	byStatus := make(map[domain.Status]int)
	var downloaded int64
	for _, d := range downloads {
		byStatus[d.Status]++
		downloaded += d.DownloadedBytes
	}

	stats := map[string]any{
		"total":            len(downloads),
		"by_status":        byStatus,
		"downloaded_bytes": downloaded,
		"downloaded":       humanize.Bytes(uint64(downloaded)),
	}

	if s.deps.Disk != nil {
		usage, err := s.deps.Disk.GetDiskUsage()
		if err != nil {
			s.logger.Warn("failed to get disk usage", zap.Error(err))
		} else {
			stats["disk_total_bytes"] = usage.Total
			stats["disk_free_bytes"] = usage.Free
			stats["disk_used_percent"] = usage.UsedPct
			stats["disk_free"] = humanize.Bytes(usage.Free)
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	if !s.hub.attach(conn) {
		conn.Close()
		return
	}
	// Greet with the current state so clients need not wait for the ticker
	if payload, err := json.Marshal(wsMessage{Type: "downloads", Data: s.deps.Downloads.List()}); err == nil {
		select {
		case s.hub.broadcast <- payload:
		default:
		}
	}
}

var _ Downloads = (*manager.Manager)(nil)
