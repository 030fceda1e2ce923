package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"call-insights-service/internal/models"
	"call-insights-service/internal/observability/logging"
	"call-insights-service/internal/observability/metrics"
	"call-insights-service/internal/pipeline"
	"call-insights-service/internal/progress"
	"call-insights-service/internal/session"
	"call-insights-service/internal/store"
)

// allowedExtensions is the upload whitelist, lowercase with the dot.
var allowedExtensions = map[string]struct{}{
	".wav":  {},
	".mp3":  {},
	".m4a":  {},
	".ogg":  {},
	".flac": {},
	".webm": {},
}

// PipelineStarter launches a processing run for an accepted artifact.
type PipelineStarter interface {
	Start(sessionID string, artifact pipeline.Artifact) error
}

// CallStore is the record access the API needs.
type CallStore interface {
	GetCall(id string) (*models.CallRecord, error)
	ListCalls(limit, offset int) ([]models.CallRecord, error)
	OverrideTags(id string, tags []string) error
	DeleteCall(id string) error
	Stats() (store.CallStats, error)
}

// Handler bundles the dependencies behind the HTTP surface.
type Handler struct {
	uploadDir   string
	maxBytes    int64
	pipeline    PipelineStarter
	store       CallStore
	broadcaster *progress.Broadcaster
	metrics     *metrics.Metrics
}

// NewHandler creates the API handler. uploadDir is created if missing.
func NewHandler(uploadDir string, maxBytes int64, p PipelineStarter, cs CallStore, b *progress.Broadcaster) (*Handler, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = 100 * 1024 * 1024
	}
	return &Handler{
		uploadDir:   uploadDir,
		maxBytes:    maxBytes,
		pipeline:    p,
		store:       cs,
		broadcaster: b,
		metrics:     metrics.DefaultMetrics,
	}, nil
}

// UploadCall accepts a multipart audio upload, stores it under a fresh
// name, and starts the pipeline. Responds 202 with the session id; the
// client follows progress over the websocket channel.
func (h *Handler) UploadCall(w http.ResponseWriter, r *http.Request) {
	h.metrics.UploadsTotal.Inc()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			h.rejectUpload(w, http.StatusRequestEntityTooLarge, "too_large", "file exceeds upload limit")
			return
		}
		h.rejectUpload(w, http.StatusBadRequest, "missing_file", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedExtensions[ext]; !ok {
		h.rejectUpload(w, http.StatusBadRequest, "bad_extension",
			fmt.Sprintf("unsupported file type %q", ext))
		return
	}

	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	// Store under a generated name; the original filename is only kept
	// as record metadata.
	storagePath := filepath.Join(h.uploadDir, uuid.New().String()+ext)
	written, err := h.saveUpload(storagePath, file)
	if err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			h.rejectUpload(w, http.StatusRequestEntityTooLarge, "too_large", "file exceeds upload limit")
			return
		}
		logger := logging.WithSession(sessionID)
		logger.Error().Err(err).Msg("Failed to store upload")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if written == 0 {
		_ = os.Remove(storagePath)
		h.rejectUpload(w, http.StatusBadRequest, "empty_file", "uploaded file is empty")
		return
	}
	h.metrics.UploadBytes.Add(float64(written))

	artifact := pipeline.Artifact{
		Filename:    filepath.Base(header.Filename),
		StoragePath: storagePath,
	}
	if err := h.pipeline.Start(sessionID, artifact); err != nil {
		_ = os.Remove(storagePath)
		if errors.Is(err, session.ErrSessionConflict) {
			writeError(w, http.StatusConflict, "session id already in use")
			return
		}
		logger := logging.WithSession(sessionID)
		logger.Error().Err(err).Msg("Failed to start pipeline")
		writeError(w, http.StatusInternalServerError, "failed to start processing")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

func (h *Handler) saveUpload(path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return written, nil
}

func (h *Handler) rejectUpload(w http.ResponseWriter, status int, reason, msg string) {
	h.metrics.UploadsRejected.WithLabelValues(reason).Inc()
	writeError(w, status, msg)
}

// GetCall returns one call record.
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.GetCall(id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load call")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListCalls returns call records, newest first.
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	recs, err := h.store.ListCalls(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": recs, "count": len(recs)})
}

// CallStats returns aggregate call counts and tag frequencies.
func (h *Handler) CallStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// OverrideTags replaces a call's effective tags with a manual set. The
// engine-produced tags stay in tags_original and later pipeline updates
// no longer touch the effective set.
func (h *Handler) OverrideTags(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Tags == nil {
		writeError(w, http.StatusBadRequest, "field 'tags' is required")
		return
	}

	if err := h.store.OverrideTags(id, body.Tags); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to override tags")
		return
	}

	rec, err := h.store.GetCall(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load call")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteCall removes a record and its stored artifact.
func (h *Handler) DeleteCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.store.GetCall(id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load call")
		return
	}

	if err := h.store.DeleteCall(id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete call")
		return
	}

	// Best-effort artifact cleanup; the record is already gone.
	if rec.StoragePath != "" {
		if err := os.Remove(rec.StoragePath); err != nil && !os.IsNotExist(err) {
			logger := logging.Logger()
			logger.Warn().Err(err).Str("callId", id).Msg("Failed to remove artifact")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
