package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	hazards "safeflame/internal/hazards/domain"
	"safeflame/internal/observability/metrics"
)

const (
	sourceHTTP   = "http"
	maxFrameBody = 4 << 20
)

// FrameSubmitter queues frames for the capture loop.
type FrameSubmitter interface {
	Submit(frame hazards.Frame) bool
}

// IngestHandler accepts processed camera frames.
type IngestHandler struct {
	submitter FrameSubmitter
	logger    *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(submitter FrameSubmitter, logger *zap.Logger) (*IngestHandler, error) {
	if submitter == nil {
		return nil, errors.New("ingest handler: nil submitter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{submitter: submitter, logger: logger}, nil
}

// ServeHTTP handles POST /ingest/frames.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBody))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	frame, err := hazards.DecodeFrame(body, sourceHTTP)
	if err != nil {
		metrics.IncFrame(sourceHTTP, metrics.ResultError)
		h.logger.Debug("rejecting frame", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.submitter.Submit(frame) {
		http.Error(w, "frame queue full", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}
