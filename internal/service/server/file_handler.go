package server

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
)

// handleFile serves the payload of a completed download: /api/downloads/{id}/file
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := s.deps.Downloads.Get(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if view.Status != domain.StatusCompleted || view.ActiveFilePath == "" {
		writeError(w, http.StatusConflict, "download is not completed")
		return
	}

	f, err := os.Open(view.ActiveFilePath)
	if err != nil {
		s.logger.Error("failed to open downloaded file", zap.String("path", view.ActiveFilePath), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "file not available")
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		s.logger.Error("failed to stat downloaded file", zap.String("path", view.ActiveFilePath), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "file not available")
		return
	}

	// Determine content type
	filename := filepath.Base(view.ActiveFilePath)
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if view.ETag != "" {
		w.Header().Set("ETag", view.ETag)
	}

	http.ServeContent(w, r, filename, stat.ModTime(), f)

	s.logger.Debug("downloaded file served",
		zap.String("id", id),
		zap.String("path", view.ActiveFilePath),
		zap.Int64("size", stat.Size()))
}
