package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	appI18n "github.com/stationops/skillcheck/internal/i18n"
	"github.com/stationops/skillcheck/internal/model"
	"github.com/stationops/skillcheck/internal/store"
)

// paperQuestion is a question as shown to the exam taker.
type paperQuestion struct {
	RecordID   int64              `json:"record_id"`
	QuestionID int64              `json:"question_id"`
	Content    string             `json:"content"`
	Type       model.QuestionType `json:"question_type"`
	Options    []model.Option     `json:"options"`
	Difficulty int                `json:"difficulty"`
	Tags       []model.Tag        `json:"tags"`
}

func paperQuestions(view *model.PaperView) []paperQuestion {
	out := make([]paperQuestion, 0, len(view.Records))
	for _, rv := range view.Records {
		q := rv.Question
		out = append(out, paperQuestion{
			RecordID:   rv.Record.ID,
			QuestionID: q.ID,
			Content:    q.Content,
			Type:       q.Type,
			Options:    q.Options,
			Difficulty: q.Difficulty,
			Tags:       q.Tags,
		})
	}
	return out
}

type recordDetail struct {
	model.ExamRecord
	Question model.Question `json:"question"`
}

type paperDetail struct {
	model.ExamPaper
	Records []recordDetail `json:"records"`
}

// newPaperDetail hides answers and explanations until the paper is completed.
func newPaperDetail(view *model.PaperView) paperDetail {
	d := paperDetail{ExamPaper: view.Paper, Records: make([]recordDetail, 0, len(view.Records))}
	done := view.Paper.Status == model.PaperCompleted
	for _, rv := range view.Records {
		q := rv.Question
		if !done {
			q = q.Public()
		}
		d.Records = append(d.Records, recordDetail{ExamRecord: rv.Record, Question: q})
	}
	return d
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.store.ListQuestions(r.Context(), true)
	if err != nil {
		writeError(w, r, err, "Question")
		return
	}
	out := make([]model.Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "questionID")
	if !ok {
		writeError(w, r, store.ErrNotFound, "Question")
		return
	}
	q, err := h.store.GetQuestion(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "Question")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := h.exams.List(r.Context(), model.UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err, "Paper")
		return
	}
	if papers == nil {
		papers = []model.ExamPaper{}
	}
	writeJSON(w, http.StatusOK, papers)
}

func (h *Handler) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "paperID")
	if !ok {
		writeError(w, r, store.ErrNotFound, "Paper")
		return
	}
	view, err := h.exams.Get(r.Context(), model.UserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err, "Paper")
		return
	}
	writeJSON(w, http.StatusOK, newPaperDetail(view))
}

type generateRequest struct {
	Reason model.GenerationReason `json:"reason"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidBody"))
		return
	}
	user := model.UserFromContext(r.Context())
	view, err := h.exams.Generate(r.Context(), user.ID, req.Reason)
	if err != nil {
		writeError(w, r, err, "User")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"paper_id":       view.Paper.ID,
		"title":          view.Paper.Title,
		"question_count": len(view.Records),
		"time_limit":     view.Paper.TimeLimit,
		"questions":      paperQuestions(view),
	})
}

func (h *Handler) handleStartPaper(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "paperID")
	if !ok {
		writeError(w, r, store.ErrNotFound, "Paper")
		return
	}
	view, err := h.exams.Start(r.Context(), model.UserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err, "Paper")
		return
	}
	p := view.Paper
	writeJSON(w, http.StatusOK, map[string]any{
		"message": appI18n.T(r.Context(), "PaperStarted"),
		"paper_info": map[string]any{
			"paper_id":       p.ID,
			"title":          p.Title,
			"time_limit":     p.TimeLimit,
			"started_at":     p.StartedAt,
			"question_count": len(view.Records),
		},
		"questions": paperQuestions(view),
	})
}

func (h *Handler) handleSubmitPaper(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "paperID")
	if !ok {
		writeError(w, r, store.ErrNotFound, "Paper")
		return
	}
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, appI18n.T(r.Context(), "InvalidBody"))
		return
	}
	answers, fields := parseAnswers(body)
	if len(fields) > 0 {
		for k := range fields {
			fields[k] = appI18n.T(r.Context(), fields[k])
		}
		writeValidation(w, r, fields)
		return
	}

	res, err := h.exams.Submit(r.Context(), model.UserFromContext(r.Context()), id, answers)
	if err != nil {
		writeError(w, r, err, "Paper")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": appI18n.T(r.Context(), "PaperSubmitted"),
		"result":  res,
	})
}

// parseAnswers accepts {"<question id>": answer, ...} or the same object
// under an "answers" key. Array answers are joined with "," in the order
// given. Problems are returned as message ids per field.
func parseAnswers(body map[string]json.RawMessage) (map[int64]string, fieldErrors) {
	if raw, ok := body["answers"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fieldErrors{"answers": "InvalidBody"}
		}
		body = inner
	}

	answers := make(map[int64]string, len(body))
	fields := fieldErrors{}
	for k, raw := range body {
		qid, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			fields[k] = "InvalidNumber"
			continue
		}
		ans, ok := answerText(raw)
		if !ok {
			fields[k] = "InvalidBody"
			continue
		}
		answers[qid] = ans
	}
	return answers, fields
}

func answerText(raw json.RawMessage) (string, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch a := v.(type) {
	case nil:
		return "", true
	case string:
		return a, true
	case float64:
		return strconv.FormatFloat(a, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(a), true
	case []any:
		parts := make([]string, 0, len(a))
		for _, item := range a {
			s, ok := item.(string)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), true
	}
	return "", false
}

func (h *Handler) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "paperID")
	if !ok {
		writeError(w, r, store.ErrNotFound, "Paper")
		return
	}
	if err := h.exams.Delete(r.Context(), model.UserFromContext(r.Context()), id); err != nil {
		writeError(w, r, err, "Paper")
		return
	}
	writeMessage(w, r, http.StatusOK, "PaperDeleted")
}

