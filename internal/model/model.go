package model

import (
	"context"
	"encoding/json"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleEmployee is a regular employee who takes exams.
	UserRoleEmployee UserRole = "employee"
	// UserRoleStaff can view other users' data and manage materials.
	UserRoleStaff UserRole = "staff"
	// UserRoleAdmin has staff rights and sees the unfiltered question pool.
	UserRoleAdmin UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleEmployee, UserRoleStaff, UserRoleAdmin:
		return true
	}
	return false
}

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	JobNumber    string    `json:"job_number"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Position     string    `json:"position"`
	Department   string    `json:"department"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsStaff reports whether the user may act on other users' data.
func (u User) IsStaff() bool {
	return u.Role == UserRoleStaff || u.Role == UserRoleAdmin
}

// IsAdmin reports whether the user is an administrator.
func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// AuthSession represents an API token.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// TagCategory classifies tags. Role tags name job positions and never take
// part in capability scoring.
type TagCategory string

const (
	CategoryRole          TagCategory = "role"
	CategoryPosition      TagCategory = "position"
	CategoryEmergency     TagCategory = "emergency"
	CategoryComprehensive TagCategory = "comprehensive"
)

// Valid reports whether c is a known category.
func (c TagCategory) Valid() bool {
	switch c {
	case CategoryRole, CategoryPosition, CategoryEmergency, CategoryComprehensive:
		return true
	}
	return false
}

// IsRole reports whether c is the role category.
func (c TagCategory) IsRole() bool {
	return c == CategoryRole
}

// Scored reports whether tags of this category feed capability profiles.
func (c TagCategory) Scored() bool {
	return c.Valid() && !c.IsRole()
}

// Tag labels questions and materials.
type Tag struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Category    TagCategory `json:"category"`
	Description string      `json:"description,omitempty"`
}

// QuestionType is the answer format of a question.
type QuestionType string

const (
	QuestionSingle     QuestionType = "single"
	QuestionMultiple   QuestionType = "multiple"
	QuestionTrueFalse  QuestionType = "true_false"
	QuestionSubjective QuestionType = "subjective"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionSingle, QuestionMultiple, QuestionTrueFalse, QuestionSubjective:
		return true
	}
	return false
}

// Objective reports whether answers of this type are graded by string match.
func (t QuestionType) Objective() bool {
	return t == QuestionSingle || t == QuestionMultiple || t == QuestionTrueFalse
}

// Option is one selectable choice of an objective question.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question is an entry of the question bank.
type Question struct {
	ID            int64        `json:"id"`
	Content       string       `json:"content"`
	Type          QuestionType `json:"question_type"`
	Options       []Option     `json:"options"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Explanation   string       `json:"explanation,omitempty"`
	Difficulty    int          `json:"difficulty"`
	Active        bool         `json:"active"`
	Tags          []Tag        `json:"tags"`
	CreatedAt     time.Time    `json:"created_at"`
}

// HasTag reports whether the question carries the tag with the given id.
func (q Question) HasTag(tagID int64) bool {
	for _, t := range q.Tags {
		if t.ID == tagID {
			return true
		}
	}
	return false
}

// HasCategory reports whether the question carries any tag of one of the
// given categories.
func (q Question) HasCategory(cats ...TagCategory) bool {
	for _, t := range q.Tags {
		for _, c := range cats {
			if t.Category == c {
				return true
			}
		}
	}
	return false
}

// Public returns a copy of the question without answer and explanation.
func (q Question) Public() Question {
	q.CorrectAnswer = ""
	q.Explanation = ""
	return q
}

// PaperStatus is the lifecycle state of an exam paper.
type PaperStatus string

const (
	PaperNotStarted PaperStatus = "not_started"
	PaperInProgress PaperStatus = "in_progress"
	PaperCompleted  PaperStatus = "completed"
)

// Submittable reports whether a paper in this state may still be submitted.
func (s PaperStatus) Submittable() bool {
	return s == PaperNotStarted || s == PaperInProgress
}

// GenerationReason records why a paper was generated.
type GenerationReason string

const (
	ReasonDailyPractice       GenerationReason = "daily_practice"
	ReasonErrorReview         GenerationReason = "error_review"
	ReasonMandatoryAssessment GenerationReason = "mandatory_assessment"
)

// Valid reports whether r is a known generation reason.
func (r GenerationReason) Valid() bool {
	switch r {
	case ReasonDailyPractice, ReasonErrorReview, ReasonMandatoryAssessment:
		return true
	}
	return false
}

// ExamPaper is one generated exam for one user.
type ExamPaper struct {
	ID               int64            `json:"id"`
	UserID           int64            `json:"user_id"`
	Title            string           `json:"title"`
	TotalScore       float64          `json:"total_score"`
	ScoreObtained    *float64         `json:"score_obtained"`
	Status           PaperStatus      `json:"status"`
	GenerationReason GenerationReason `json:"generation_reason"`
	TimeLimit        int              `json:"time_limit"`
	StartedAt        *time.Time       `json:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at"`
	CreatedAt        time.Time        `json:"created_at"`
	QuestionCount    int              `json:"question_count"`
}

// ExamRecord is one question slot of a paper.
type ExamRecord struct {
	ID          int64     `json:"id"`
	PaperID     int64     `json:"paper_id"`
	QuestionID  int64     `json:"question_id"`
	UserAnswer  string    `json:"user_answer"`
	IsCorrect   *bool     `json:"is_correct"`
	ScoreGained float64   `json:"score_gained"`
	AIScore     *float64  `json:"ai_score"`
	Duration    int       `json:"duration"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecordView joins a record with its question.
type RecordView struct {
	Record   ExamRecord
	Question Question
}

// PaperView combines a paper with its records for display.
type PaperView struct {
	Paper   ExamPaper
	Records []RecordView
}

// DefaultMastery is the mastery level assumed for a tag without history.
const DefaultMastery = 50.0

// CapabilityProfile is a user's mastery of one tag.
type CapabilityProfile struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Tag          Tag       `json:"tag"`
	MasteryLevel float64   `json:"mastery_level"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MaterialType classifies training materials.
type MaterialType string

const (
	MaterialDocument MaterialType = "document"
	MaterialVideo    MaterialType = "video"
	MaterialExercise MaterialType = "exercise"
	MaterialOther    MaterialType = "other"
)

// Valid reports whether m is a known material type.
func (m MaterialType) Valid() bool {
	switch m {
	case MaterialDocument, MaterialVideo, MaterialExercise, MaterialOther:
		return true
	}
	return false
}

// TrainingMaterial is a learning resource linked to tags.
type TrainingMaterial struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	MaterialType MaterialType `json:"material_type"`
	URL          string       `json:"url"`
	FilePath     string       `json:"file_path"`
	Tags         []Tag        `json:"tags"`
	CreatorID    int64        `json:"creator_id"`
	Active       bool         `json:"is_active"`
	Public       bool         `json:"is_public"`
	CreatedAt    time.Time    `json:"created_at"`
}

// AssessmentConfig holds the exam generation and scoring parameters.
type AssessmentConfig struct {
	QuestionCount      int
	WeakThreshold      float64
	WeakRatio          float64
	ExcludeRecentHours int
	TimeLimit          int // seconds
	WeightOld          float64
	WeightNew          float64
	NormalizeMultiple  bool // compare multi-select answers as sets
}

// DefaultAssessmentConfig returns the stock settings.
func DefaultAssessmentConfig() AssessmentConfig {
	return AssessmentConfig{
		QuestionCount:      15,
		WeakThreshold:      60,
		WeakRatio:          0.6,
		ExcludeRecentHours: 24,
		TimeLimit:          1800,
		WeightOld:          0.7,
		WeightNew:          0.3,
	}
}

// QuestionBank is the on-disk format for question imports.
type QuestionBank struct {
	Tags      []TagImport      `json:"tags"`
	Questions []QuestionImport `json:"questions"`
}

// TagImport is used for loading tags from JSON.
type TagImport struct {
	Name        string      `json:"name"`
	Category    TagCategory `json:"category"`
	Description string      `json:"description"`
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Content       string          `json:"content"`
	Type          QuestionType    `json:"question_type"`
	Options       json.RawMessage `json:"options"`
	CorrectAnswer string          `json:"correct_answer"`
	Explanation   string          `json:"explanation"`
	Difficulty    int             `json:"difficulty"`
	Tags          []string        `json:"tags"`
}
