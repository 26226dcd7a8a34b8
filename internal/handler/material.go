package handler

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	appI18n "github.com/stationops/skillcheck/internal/i18n"
	"github.com/stationops/skillcheck/internal/model"
	"github.com/stationops/skillcheck/internal/store"
)

type materialRequest struct {
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	MaterialType model.MaterialType `json:"material_type"`
	URL          string             `json:"url"`
	FilePath     string             `json:"file_path"`
	Public       *bool              `json:"is_public"`
	TagIDs       []int64            `json:"tag_ids"`
}

// materialFilter returns the visibility filter for the caller.
func materialFilter(u *model.User) store.MaterialFilter {
	if u.IsStaff() {
		return store.MaterialFilter{}
	}
	return store.MaterialFilter{Viewer: u.ID}
}

func visible(u *model.User, m model.TrainingMaterial) bool {
	return u.IsStaff() || m.Public || m.CreatorID == u.ID
}

func (h *Handler) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	f := materialFilter(model.UserFromContext(r.Context()))
	if raw := r.URL.Query().Get("tag_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeValidation(w, r, fieldErrors{"tag_id": appI18n.T(r.Context(), "InvalidNumber")})
			return
		}
		f.TagID = id
	}
	ms, err := h.store.ListMaterials(r.Context(), f)
	if err != nil {
		writeError(w, r, err, "Material")
		return
	}
	if ms == nil {
		ms = []model.TrainingMaterial{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *Handler) handleGetMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "materialID")
	if !ok {
		writeError(w, r, store.ErrNotFound, "Material")
		return
	}
	m, err := h.store.GetMaterial(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "Material")
		return
	}
	if !visible(model.UserFromContext(r.Context()), m) {
		writeError(w, r, store.ErrNotFound, "Material")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// validateMaterial checks the request and returns the material it describes.
// An absent is_public means public.
func (h *Handler) validateMaterial(r *http.Request, req materialRequest) (model.TrainingMaterial, fieldErrors, error) {
	ctx := r.Context()
	fields := fieldErrors{}
	m := model.TrainingMaterial{
		Title:        strings.TrimSpace(req.Title),
		Description:  req.Description,
		MaterialType: req.MaterialType,
		URL:          req.URL,
		FilePath:     req.FilePath,
		Public:       req.Public == nil || *req.Public,
	}
	if m.Title == "" {
		fields["title"] = appI18n.T(ctx, "FieldRequired")
	}
	if m.MaterialType == "" {
		m.MaterialType = model.MaterialDocument
	}
	if !m.MaterialType.Valid() {
		fields["material_type"] = appI18n.Td(ctx, "InvalidChoice", map[string]any{"Value": string(m.MaterialType)})
	}

	if len(req.TagIDs) > 0 {
		tags, err := h.store.GetTagsByIDs(ctx, req.TagIDs)
		if err != nil {
			return m, nil, err
		}
		var missing []string
		for _, id := range req.TagIDs {
			if !slices.ContainsFunc(tags, func(t model.Tag) bool { return t.ID == id }) {
				missing = append(missing, strconv.FormatInt(id, 10))
			}
		}
		if len(missing) > 0 {
			fields["tag_ids"] = appI18n.Td(ctx, "UnknownTags", map[string]any{"IDs": strings.Join(missing, ", ")})
		}
	}
	return m, fields, nil
}

func (h *Handler) handleCreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req materialRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidBody"))
		return
	}
	m, fields, err := h.validateMaterial(r, req)
	if err != nil {
		writeError(w, r, err, "Material")
		return
	}
	if len(fields) > 0 {
		writeValidation(w, r, fields)
		return
	}
	m.CreatorID = model.UserFromContext(r.Context()).ID

	id, err := h.store.CreateMaterial(r.Context(), m, req.TagIDs)
	if err != nil {
		writeError(w, r, err, "Material")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     appI18n.T(r.Context(), "MaterialCreated"),
		"material_id": id,
	})
}

func (h *Handler) handleUpdateMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "materialID")
	if !ok {
		writeError(w, r, store.ErrNotFound, "Material")
		return
	}
	var req materialRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidBody"))
		return
	}
	m, fields, err := h.validateMaterial(r, req)
	if err != nil {
		writeError(w, r, err, "Material")
		return
	}
	if len(fields) > 0 {
		writeValidation(w, r, fields)
		return
	}
	m.ID = id
	if req.Public == nil {
		current, err := h.store.GetMaterial(r.Context(), id)
		if err != nil {
			writeError(w, r, err, "Material")
			return
		}
		m.Public = current.Public
	}
	if err := h.store.UpdateMaterial(r.Context(), m, req.TagIDs); err != nil {
		writeError(w, r, err, "Material")
		return
	}
	writeMessage(w, r, http.StatusOK, "MaterialUpdated")
}

func (h *Handler) handleDeleteMaterial(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "materialID")
	if !ok {
		writeError(w, r, store.ErrNotFound, "Material")
		return
	}
	if err := h.store.DeactivateMaterial(r.Context(), id); err != nil {
		writeError(w, r, err, "Material")
		return
	}
	writeMessage(w, r, http.StatusOK, "MaterialDeleted")
}
