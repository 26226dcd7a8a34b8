// Package handler serves the JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stationops/skillcheck/internal/analysis"
	"github.com/stationops/skillcheck/internal/exam"
	appI18n "github.com/stationops/skillcheck/internal/i18n"
	"github.com/stationops/skillcheck/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	exams    *exam.Service
	analysis *analysis.Service
}

// New creates a new Handler.
func New(s *store.Store, exams *exam.Service, an *analysis.Service) *Handler {
	return &Handler{store: s, exams: exams, analysis: an}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(appI18n.Middleware)
		r.Post("/auth/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Post("/auth/logout", h.handleLogout)
			r.Get("/auth/profile", h.handleProfile)

			r.Get("/questions", h.handleListQuestions)

			r.Route("/exam", func(r chi.Router) {
				r.Get("/", h.handleListPapers)
				r.Post("/generate", h.handleGenerate)
				r.Get("/{paperID}", h.handleGetPaper)
				r.Delete("/{paperID}", h.handleDeletePaper)
				r.Post("/{paperID}/start", h.handleStartPaper)
				r.Post("/{paperID}/submit", h.handleSubmitPaper)
			})

			r.Route("/analysis", func(r chi.Router) {
				r.Get("/radar", h.handleRadar)
				r.Get("/summary", h.handleSummary)
				r.Get("/trend", h.handleTrend)
				r.Get("/recommendations", h.handleRecommendations)
				r.Get("/capability-profiles", h.handleProfiles)
			})

			r.Get("/materials", h.handleListMaterials)
			r.Get("/materials/{materialID}", h.handleGetMaterial)

			r.Group(func(r chi.Router) {
				r.Use(requireStaff)
				r.Get("/users", h.handleListUsers)
				r.Get("/questions/{questionID}", h.handleGetQuestion)
				r.Post("/materials", h.handleCreateMaterial)
				r.Put("/materials/{materialID}", h.handleUpdateMaterial)
				r.Delete("/materials/{materialID}", h.handleDeleteMaterial)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fieldErrors maps request fields to localized problems.
type fieldErrors map[string]string

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, map[string]string{"message": appI18n.T(r.Context(), msgID)})
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeValidation(w http.ResponseWriter, r *http.Request, fields fieldErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  appI18n.T(r.Context(), "ValidationFailed"),
		"fields": fields,
	})
}

// writeError maps a service error to a status code. what is the message id
// of the resource named in not-found responses.
func writeError(w http.ResponseWriter, r *http.Request, err error, what string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeErrorMsg(w, http.StatusNotFound, appI18n.Td(ctx, "NotFound", map[string]any{"What": appI18n.T(ctx, what)}))
	case errors.Is(err, exam.ErrForbidden):
		writeErrorMsg(w, http.StatusForbidden, appI18n.T(ctx, "Forbidden"))
	case errors.Is(err, exam.ErrAlreadyStarted):
		writeErrorMsg(w, http.StatusConflict, appI18n.T(ctx, "AlreadyStarted"))
	case errors.Is(err, exam.ErrAlreadyCompleted):
		writeErrorMsg(w, http.StatusConflict, appI18n.T(ctx, "AlreadyCompleted"))
	case errors.Is(err, exam.ErrInvalidReason):
		writeValidation(w, r, fieldErrors{"reason": appI18n.T(ctx, "InvalidReason")})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeErrorMsg(w, http.StatusInternalServerError, appI18n.T(ctx, "InternalError")+": "+err.Error())
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}
