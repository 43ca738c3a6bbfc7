// Package api exposes the thin administrative HTTP surface over the engine.
//
// It translates the engine's stable error kinds into HTTP status codes and
// JSON error bodies; all campaign semantics live in the engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"blastbot/internal/campaign"
	"blastbot/internal/engine"
	"blastbot/internal/logx"
)

type Handler struct {
	eng *engine.Engine
	log logx.Logger
}

func NewHandler(eng *engine.Engine, log logx.Logger) *Handler {
	return &Handler{eng: eng, log: log}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Route("/api/campaigns", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/start", h.start)
		r.Post("/{id}/pause", h.pause)
	})
	return r
}

type createRequest struct {
	Name     string           `json:"name"`
	Payload  campaign.Payload `json:"payload"`
	Targets  []string         `json:"targets"`
	Schedule string           `json:"schedule"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body: "+err.Error())
		return
	}
	c, err := h.eng.Create(r.Context(), req.Name, req.Payload, req.Targets, req.Schedule)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": c.ID})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.StartCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.PauseCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.DeleteCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	c, logs, err := h.eng.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaign": c, "logs": logs})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", 20)
	cs, total, err := h.eng.List(r.Context(), page, size)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if cs == nil {
		cs = []*campaign.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaigns": cs,
		"page":      page,
		"size":      size,
		"total":     total,
	})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, campaign.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
	case errors.Is(err, campaign.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, campaign.ErrIllegalState):
		writeError(w, http.StatusConflict, "illegal_state", err.Error())
	case errors.Is(err, campaign.ErrStillRunning):
		writeError(w, http.StatusConflict, "still_running", err.Error())
	default:
		h.log.Error("admin request failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, map[string]string{"error": kind, "message": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
