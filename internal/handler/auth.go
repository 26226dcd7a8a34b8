package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/stationops/skillcheck/internal/i18n"
	"github.com/stationops/skillcheck/internal/model"
	"github.com/stationops/skillcheck/internal/store"
)

type tokenCtxKey struct{}

// bearerToken extracts the token from "Bearer <t>" or "Token <t>".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok {
		return ""
	}
	if !strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, "Token") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth resolves the request token to an active user.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeErrorMsg(w, http.StatusUnauthorized, appI18n.T(r.Context(), "Unauthorized"))
			return
		}

		authSess, err := h.store.GetAuthSession(r.Context(), token)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Error("failed to get auth session", "error", err)
			}
			writeErrorMsg(w, http.StatusUnauthorized, appI18n.T(r.Context(), "Unauthorized"))
			return
		}

		user, err := h.store.GetUserByID(r.Context(), authSess.UserID)
		if err != nil || !user.Active {
			writeErrorMsg(w, http.StatusUnauthorized, appI18n.T(r.Context(), "Unauthorized"))
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		ctx = context.WithValue(ctx, tokenCtxKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireStaff rejects callers without staff rights.
func requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := model.UserFromContext(r.Context())
		if user == nil {
			writeErrorMsg(w, http.StatusUnauthorized, appI18n.T(r.Context(), "Unauthorized"))
			return
		}
		if !user.IsStaff() {
			writeErrorMsg(w, http.StatusForbidden, appI18n.T(r.Context(), "Forbidden"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	JobNumber string `json:"job_number"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidBody"))
		return
	}
	login := strings.TrimSpace(req.JobNumber)
	if login == "" {
		login = strings.TrimSpace(req.Username)
	}
	fields := fieldErrors{}
	if login == "" {
		fields["job_number"] = appI18n.T(r.Context(), "FieldRequired")
	}
	if req.Password == "" {
		fields["password"] = appI18n.T(r.Context(), "FieldRequired")
	}
	if len(fields) > 0 {
		writeValidation(w, r, fields)
		return
	}

	user, err := h.store.GetUserByLogin(r.Context(), login)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("failed to get user", "error", err)
		}
		writeErrorMsg(w, http.StatusUnauthorized, appI18n.T(r.Context(), "InvalidCredentials"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeErrorMsg(w, http.StatusUnauthorized, appI18n.T(r.Context(), "InvalidCredentials"))
		return
	}
	if !user.Active {
		writeErrorMsg(w, http.StatusUnauthorized, appI18n.T(r.Context(), "AccountDisabled"))
		return
	}

	token, err := h.store.CreateAuthSession(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err, "User")
		return
	}
	slog.Info("user logged in", "user_id", user.ID, "job_number", user.JobNumber)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(tokenCtxKey{}).(string)
	if err := h.store.DeleteAuthSession(r.Context(), token); err != nil {
		writeError(w, r, err, "User")
		return
	}
	writeMessage(w, r, http.StatusOK, "LoggedOut")
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, r, err, "User")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}
