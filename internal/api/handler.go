// Package api exposes mission control over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/aerosight/internal/mission"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	manager *mission.Manager
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(manager *mission.Manager, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/missions", h.listMissions)
		r.Post("/missions", h.createMission)
		r.Get("/missions/{id}", h.getMission)
		r.Get("/missions/{id}/transcript", h.getTranscript)
		r.Post("/missions/{id}/stop", h.stopMission)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createMissionRequest struct {
	Scene              string `json:"scene"`
	Goal               string `json:"goal"`
	StepLimit          int    `json:"step_limit,omitempty"`
	Model              string `json:"model,omitempty"`
	PriorKnowledgePath string `json:"prior_knowledge_path,omitempty"`
}

type missionView struct {
	ID     string             `json:"id"`
	Scene  string             `json:"scene"`
	Goal   string             `json:"goal"`
	Phase  mission.Phase      `json:"phase"`
	State  mission.AgentState `json:"state"`
	Result *mission.Result    `json:"result,omitempty"`
}

func viewOf(m *mission.Mission) missionView {
	return missionView{
		ID:     m.ID(),
		Scene:  m.Scene(),
		Goal:   m.Goal(),
		Phase:  m.Phase(),
		State:  m.State(),
		Result: m.Result(),
	}
}

func (h *Handler) createMission(w http.ResponseWriter, r *http.Request) {
	var req createMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	m := h.manager.Launch(r.Context(), mission.Config{
		Scene:              req.Scene,
		Goal:               req.Goal,
		StepLimit:          req.StepLimit,
		Model:              req.Model,
		PriorKnowledgePath: req.PriorKnowledgePath,
	})
	h.logger.Info("mission launched via API",
		zap.String("id", m.ID()), zap.String("scene", m.Scene()))

	writeJSON(w, http.StatusCreated, viewOf(m))
}

func (h *Handler) listMissions(w http.ResponseWriter, r *http.Request) {
	missions := h.manager.List()
	views := make([]missionView, 0, len(missions))
	for _, m := range missions {
		views = append(views, viewOf(m))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(m))
}

func (h *Handler) getTranscript(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Transcript())
}

func (h *Handler) stopMission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Stop(id); err != nil {
		writeNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "stopping"})
}

func writeNotFound(w http.ResponseWriter, err error) {
	if errors.Is(err, mission.ErrMissionNotFound) {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
