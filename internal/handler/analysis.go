package handler

import (
	"net/http"
	"strconv"

	"github.com/stationops/skillcheck/internal/analysis"
	"github.com/stationops/skillcheck/internal/exam"
	appI18n "github.com/stationops/skillcheck/internal/i18n"
	"github.com/stationops/skillcheck/internal/model"
)

// targetUser resolves the ?user_id query parameter. Only staff may pass it.
// It writes the error response itself and returns nil on failure.
func (h *Handler) targetUser(w http.ResponseWriter, r *http.Request) *model.User {
	caller := model.UserFromContext(r.Context())
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return caller
	}
	if !caller.IsStaff() {
		writeError(w, r, exam.ErrForbidden, "User")
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeValidation(w, r, fieldErrors{"user_id": appI18n.T(r.Context(), "InvalidNumber")})
		return nil
	}
	u, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "User")
		return nil
	}
	return u
}

func (h *Handler) handleRadar(w http.ResponseWriter, r *http.Request) {
	u := h.targetUser(w, r)
	if u == nil {
		return
	}
	points, err := h.analysis.Radar(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, err, "User")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	u := h.targetUser(w, r)
	if u == nil {
		return
	}
	sum, err := h.analysis.Summary(r.Context(), u)
	if err != nil {
		writeError(w, r, err, "User")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleTrend(w http.ResponseWriter, r *http.Request) {
	u := h.targetUser(w, r)
	if u == nil {
		return
	}
	days := analysis.RecentDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeValidation(w, r, fieldErrors{"days": appI18n.T(r.Context(), "InvalidNumber")})
			return
		}
		if n < 1 || n > 365 {
			writeValidation(w, r, fieldErrors{"days": appI18n.T(r.Context(), "DaysRange")})
			return
		}
		days = n
	}
	points, err := h.analysis.Trend(r.Context(), u.ID, days)
	if err != nil {
		writeError(w, r, err, "User")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.analysis.Recommendations(r.Context(), model.UserFromContext(r.Context()).ID)
	if err != nil {
		writeError(w, r, err, "User")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"weak_tags":   recs,
		"total_count": len(recs),
	})
}

func (h *Handler) handleProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.analysis.Profiles(r.Context(), model.UserFromContext(r.Context()).ID)
	if err != nil {
		writeError(w, r, err, "User")
		return
	}
	if profiles == nil {
		profiles = []model.CapabilityProfile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}
