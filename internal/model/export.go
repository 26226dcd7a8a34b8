package model

import "time"

// CapabilityExport is the top-level JSON structure for capability export.
type CapabilityExport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Users       []UserResult `json:"users"`
}

// UserResult holds one user's capability and exam history for export.
type UserResult struct {
	JobNumber   string         `json:"job_number"`
	DisplayName string         `json:"display_name"`
	Position    string         `json:"position"`
	Department  string         `json:"department"`
	Profiles    []TagMastery   `json:"profiles"`
	Papers      []PaperOutcome `json:"papers"`
}

// TagMastery is a single exported capability profile.
type TagMastery struct {
	Tag      string      `json:"tag"`
	Category TagCategory `json:"category"`
	Mastery  float64     `json:"mastery"`
}

// PaperOutcome summarizes one completed paper for export.
type PaperOutcome struct {
	PaperID          int64            `json:"paper_id"`
	GenerationReason GenerationReason `json:"generation_reason"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	ScoreObtained    float64          `json:"score_obtained"`
	TotalScore       float64          `json:"total_score"`
	QuestionCount    int              `json:"question_count"`
}
