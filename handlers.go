package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kwv/casemap/occmap"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds JSON request bodies; marker images arrive as data URLs
const maxBodyBytes = 16 << 20

// Handler serves the case and editor session API
type Handler struct {
	importer *occmap.Importer
	sessions *occmap.SessionRegistry
	editor   occmap.EditorConfig
	log      zerolog.Logger
	now      func() time.Time
}

func newHandler(importer *occmap.Importer, sessions *occmap.SessionRegistry, editor occmap.EditorConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		importer: importer,
		sessions: sessions,
		editor:   editor,
		log:      logger.With().Str("component", "http").Logger(),
		now:      time.Now,
	}
}

// Routes builds the chi router with every endpoint
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)

	r.Route("/cases", func(r chi.Router) {
		r.Get("/", h.handleListCases)
		r.Get("/{caseID}", h.handleImportCase)
		r.Get("/{caseID}/base.png", h.handleBaseImage)
		r.Get("/{caseID}/contours.geojson", h.handleContours)
		r.Post("/{caseID}/sessions", h.handleOpenSession)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.handleListSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleSessionState)
			r.Delete("/", h.handleCloseSession)
			r.Post("/pointer", h.handlePointer)
			r.Post("/markers", h.handleAddMarker)
			r.Delete("/markers/selected", h.handleDeleteSelected)
			r.Patch("/markers/{markerID}", h.handleUpdateMarker)
			r.Post("/markers/{markerID}/lock", h.handleToggleLock)
			r.Post("/markers/{markerID}/reset", h.handleResetOne)
			r.Post("/markers/{markerID}/images", h.handleAttachImage)
			r.Delete("/markers/{markerID}/images/{index}", h.handleRemoveImage)
			r.Post("/reset", h.handleResetAll)
			r.Post("/ruler", h.handleRuler)
			r.Put("/ruler-mode", h.handleRulerMode)
			r.Post("/zoom", h.handleZoom)
			r.Get("/snapshot.png", h.handleSnapshotPNG)
			r.Get("/snapshot.svg", h.handleSnapshotSVG)
			r.Get("/evidence.csv", h.handleEvidenceCSV)
			r.Get("/evidence.geojson", h.handleEvidenceGeoJSON)
			r.Post("/save", h.handleSave)
		})
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := h.log.Debug()
		if status >= http.StatusInternalServerError {
			event = h.log.Warn()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// ---------------------------------------------------------------------------
// responses
// ---------------------------------------------------------------------------

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("encoding response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps an error from the pipeline or a session to a status code
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	h.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, occmap.ErrNotFound), errors.Is(err, occmap.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, occmap.ErrMissingInput):
		return http.StatusBadRequest
	case errors.Is(err, occmap.ErrMalformedRaster),
		errors.Is(err, occmap.ErrMissingField),
		errors.Is(err, occmap.ErrInvalidValue):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeBytes(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// cases
// ---------------------------------------------------------------------------

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		Sessions  int       `json:"sessions"`
	}{
		Status:    "ok",
		Timestamp: h.now(),
		Sessions:  h.sessions.Len(),
	})
}

func (h *Handler) handleListCases(w http.ResponseWriter, r *http.Request) {
	objects, err := h.importer.Store.List(r.Context(), "")
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	ids := []string{}
	seen := make(map[string]bool)
	for _, obj := range objects {
		i := strings.IndexByte(obj.Key, '/')
		if i <= 0 {
			continue
		}
		id := obj.Key[:i]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"cases": ids})
}

func (h *Handler) importCase(w http.ResponseWriter, r *http.Request) (*occmap.ImportResult, bool) {
	result, err := h.importer.Import(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeFailure(w, err)
		return nil, false
	}
	return result, true
}

func (h *Handler) handleImportCase(w http.ResponseWriter, r *http.Request) {
	if result, ok := h.importCase(w, r); ok {
		h.writeJSON(w, http.StatusOK, result)
	}
}

func (h *Handler) handleBaseImage(w http.ResponseWriter, r *http.Request) {
	if result, ok := h.importCase(w, r); ok {
		writeBytes(w, "image/png", result.BasePNG)
	}
}

func (h *Handler) handleContours(w http.ResponseWriter, r *http.Request) {
	result, ok := h.importCase(w, r)
	if !ok {
		return
	}
	fc := occmap.ContoursGeoJSON(result.Map.Contours, result.Meta, result.Raster.Height)
	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		h.log.Error().Err(err).Msg("encoding contours")
	}
}

func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	result, ok := h.importCase(w, r)
	if !ok {
		return
	}
	caseID := strings.Trim(chi.URLParam(r, "caseID"), "/")
	id := h.sessions.Open(caseID, result, occmap.WithEditorConfig(h.editor))
	h.log.Info().Str("case", caseID).Str("session", id).Msg("editor session opened")

	h.withSession(w, id, func(_ string, _ *occmap.CaseFiles, s *occmap.Session) error {
		h.writeJSON(w, http.StatusCreated, struct {
			SessionID string              `json:"sessionId"`
			BaseImage string              `json:"baseImage"`
			Contours  []occmap.Contour    `json:"contours"`
			State     occmap.SessionState `json:"state"`
		}{id, result.BaseImage, result.Map.Contours, s.State()})
		return nil
	})
}

// ---------------------------------------------------------------------------
// sessions
// ---------------------------------------------------------------------------

// withSession runs fn under the session lock and writes a failure when the
// session is unknown or fn returns an error
func (h *Handler) withSession(w http.ResponseWriter, id string, fn func(caseID string, files *occmap.CaseFiles, s *occmap.Session) error) {
	if err := h.sessions.With(id, fn); err != nil {
		h.writeFailure(w, err)
	}
}

// mutate applies op to the session from the URL and responds with the new state.
// op returning false means the addressed marker does not exist.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op func(s *occmap.Session) bool) {
	h.withSession(w, chi.URLParam(r, "sessionID"), func(_ string, _ *occmap.CaseFiles, s *occmap.Session) error {
		if !op(s) {
			return fmt.Errorf("%w: marker", occmap.ErrNotFound)
		}
		h.writeJSON(w, http.StatusOK, s.State())
		return nil
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{"sessions": h.sessions.IDs()})
}

func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(*occmap.Session) bool { return true })
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Close(chi.URLParam(r, "sessionID")) {
		h.writeFailure(w, occmap.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pointerRequest struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// handlePointer forwards a screen-space pointer event at the session zoom
func (h *Handler) handlePointer(w http.ResponseWriter, r *http.Request) {
	var req pointerRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := occmap.Point{X: req.X, Y: req.Y}
	switch req.Type {
	case "down":
		h.mutate(w, r, func(s *occmap.Session) bool { s.PointerDown(p, s.Zoom()); return true })
	case "move":
		h.mutate(w, r, func(s *occmap.Session) bool { s.PointerMove(p, s.Zoom()); return true })
	case "up":
		h.mutate(w, r, func(s *occmap.Session) bool { s.PointerUp(); return true })
	default:
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown pointer event %q", req.Type))
	}
}

func (h *Handler) handleAddMarker(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, chi.URLParam(r, "sessionID"), func(_ string, _ *occmap.CaseFiles, s *occmap.Session) error {
		id := s.AddMarker()
		h.writeJSON(w, http.StatusCreated, struct {
			ID    string              `json:"id"`
			State occmap.SessionState `json:"state"`
		}{id, s.State()})
		return nil
	})
}

// handleDeleteSelected answers with the state even when nothing was selected
func (h *Handler) handleDeleteSelected(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *occmap.Session) bool { s.DeleteSelected(); return true })
}

func (h *Handler) handleUpdateMarker(w http.ResponseWriter, r *http.Request) {
	var patch occmap.MarkerPatch
	if err := decodeBody(w, r, &patch); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markerID := chi.URLParam(r, "markerID")
	h.mutate(w, r, func(s *occmap.Session) bool { return s.UpdateMarker(markerID, patch) })
}

func (h *Handler) handleToggleLock(w http.ResponseWriter, r *http.Request) {
	markerID := chi.URLParam(r, "markerID")
	h.mutate(w, r, func(s *occmap.Session) bool { return s.ToggleLock(markerID) })
}

func (h *Handler) handleResetOne(w http.ResponseWriter, r *http.Request) {
	markerID := chi.URLParam(r, "markerID")
	h.mutate(w, r, func(s *occmap.Session) bool { return s.ResetOne(markerID) })
}

func (h *Handler) handleAttachImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Image string `json:"image"`
	}
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Image) == "" {
		h.writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	markerID := chi.URLParam(r, "markerID")
	h.mutate(w, r, func(s *occmap.Session) bool { return s.AttachImage(markerID, req.Image) })
}

func (h *Handler) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "image index must be an integer")
		return
	}
	markerID := chi.URLParam(r, "markerID")
	h.mutate(w, r, func(s *occmap.Session) bool { return s.RemoveImage(markerID, index) })
}

func (h *Handler) handleResetAll(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *occmap.Session) bool { s.ResetAll(); return true })
}

// handleRuler records a ruler click at a pixel-space point
func (h *Handler) handleRuler(w http.ResponseWriter, r *http.Request) {
	var req occmap.Point
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.mutate(w, r, func(s *occmap.Session) bool { s.MeasureRuler(req); return true })
}

func (h *Handler) handleRulerMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.mutate(w, r, func(s *occmap.Session) bool { s.SetRulerMode(req.On); return true })
}

// handleZoom accepts an absolute {scale} or a {step: "in"|"out"}
func (h *Handler) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scale *float64 `json:"scale"`
		Step  string   `json:"step"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case req.Scale != nil:
		h.mutate(w, r, func(s *occmap.Session) bool { s.SetZoom(*req.Scale); return true })
	case req.Step == "in":
		h.mutate(w, r, func(s *occmap.Session) bool { s.ZoomIn(); return true })
	case req.Step == "out":
		h.mutate(w, r, func(s *occmap.Session) bool { s.ZoomOut(); return true })
	default:
		h.writeError(w, http.StatusBadRequest, "scale or step is required")
	}
}

func (h *Handler) handleSnapshotPNG(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, chi.URLParam(r, "sessionID"), func(_ string, _ *occmap.CaseFiles, s *occmap.Session) error {
		data, err := occmap.ExportSnapshot(s)
		if err != nil {
			return err
		}
		writeBytes(w, "image/png", data)
		return nil
	})
}

func (h *Handler) handleSnapshotSVG(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, chi.URLParam(r, "sessionID"), func(_ string, _ *occmap.CaseFiles, s *occmap.Session) error {
		var buf bytes.Buffer
		if err := occmap.NewVectorExporter().ExportSVG(&buf, s); err != nil {
			return err
		}
		writeBytes(w, "image/svg+xml", buf.Bytes())
		return nil
	})
}

func (h *Handler) handleEvidenceCSV(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, chi.URLParam(r, "sessionID"), func(_ string, _ *occmap.CaseFiles, s *occmap.Session) error {
		view := s.View()
		if view.Raster == nil || view.Meta == nil {
			return fmt.Errorf("%w: session has no map", occmap.ErrMissingInput)
		}
		var buf bytes.Buffer
		if err := occmap.WriteEvidenceCSV(&buf, s.Records(), view.Meta, view.Raster.Height); err != nil {
			return err
		}
		w.Header().Set("Content-Disposition", `attachment; filename="evidence.csv"`)
		writeBytes(w, "text/csv", buf.Bytes())
		return nil
	})
}

func (h *Handler) handleEvidenceGeoJSON(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, chi.URLParam(r, "sessionID"), func(_ string, _ *occmap.CaseFiles, s *occmap.Session) error {
		view := s.View()
		if view.Raster == nil || view.Meta == nil {
			return fmt.Errorf("%w: session has no map", occmap.ErrMissingInput)
		}
		w.Header().Set("Content-Type", "application/geo+json")
		return json.NewEncoder(w).Encode(occmap.EvidenceGeoJSON(s.Records(), view.Meta, view.Raster.Height))
	})
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, chi.URLParam(r, "sessionID"), func(caseID string, files *occmap.CaseFiles, s *occmap.Session) error {
		key, err := h.importer.Save(r.Context(), caseID, files, s)
		if err != nil {
			return err
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"key": key, "markers": len(s.Records())})
		return nil
	})
}
