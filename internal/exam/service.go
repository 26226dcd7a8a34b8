package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/stationops/skillcheck/internal/model"
	"github.com/stationops/skillcheck/internal/store"
)

// SubjectiveGrader scores a free-text answer in [0,100].
type SubjectiveGrader interface {
	Score(ctx context.Context, q model.Question, answer string) float64
}

// Service generates and scores exam papers.
type Service struct {
	store   *store.Store
	cfg     model.AssessmentConfig
	grader  SubjectiveGrader
	newRand func() *rand.Rand
	now     func() time.Time
}

// NewService creates an exam service.
func NewService(st *store.Store, cfg model.AssessmentConfig, grader SubjectiveGrader) *Service {
	return &Service{
		store:  st,
		cfg:    cfg,
		grader: grader,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
		now: time.Now,
	}
}

// Config returns the assessment settings in use.
func (s *Service) Config() model.AssessmentConfig {
	return s.cfg
}

// canAccess reports whether caller may act on a paper owned by ownerID.
func canAccess(caller *model.User, ownerID int64) bool {
	return caller != nil && (caller.ID == ownerID || caller.IsStaff())
}

// Generate builds and stores a new paper for the user.
func (s *Service) Generate(ctx context.Context, userID int64, reason model.GenerationReason) (*model.PaperView, error) {
	if reason == "" {
		reason = model.ReasonDailyPractice
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	weak, err := s.store.WeakProfiles(ctx, userID, s.cfg.WeakThreshold)
	if err != nil {
		return nil, fmt.Errorf("weak tags: %w", err)
	}
	weakTags := make(map[int64]bool, len(weak))
	for _, p := range weak {
		weakTags[p.Tag.ID] = true
	}

	active, err := s.store.ListQuestions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	since := s.now().Add(-time.Duration(s.cfg.ExcludeRecentHours) * time.Hour)
	recent, err := s.store.RecentQuestionIDs(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	roleTagID, err := s.roleTagID(ctx, user)
	if err != nil {
		return nil, err
	}

	pool := CandidatePool(active, recent, user.IsAdmin(), roleTagID)
	if len(pool) == 0 {
		slog.Info("candidate pool empty, drawing from all active questions", "user_id", userID)
		pool = active
	}

	picked := Select(pool, Plan{
		Count:     s.cfg.QuestionCount,
		WeakTags:  weakTags,
		RoleTagID: roleTagID,
		WeakRatio: s.cfg.WeakRatio,
	}, s.newRand())

	ids := make([]int64, len(picked))
	for i, q := range picked {
		ids[i] = q.ID
	}
	paperID, err := s.store.CreatePaper(ctx, model.ExamPaper{
		UserID:           userID,
		Title:            user.JobNumber + " skills assessment",
		TotalScore:       100,
		Status:           model.PaperNotStarted,
		GenerationReason: reason,
		TimeLimit:        s.cfg.TimeLimit,
	}, ids)
	if err != nil {
		return nil, fmt.Errorf("create paper: %w", err)
	}
	slog.Info("generated exam paper", "paper_id", paperID, "user_id", userID,
		"reason", reason, "questions", len(ids), "weak_tags", len(weakTags))

	return s.store.GetPaperView(ctx, paperID)
}

// roleTagID returns the id of the role tag named after the user's position,
// or 0 when there is none.
func (s *Service) roleTagID(ctx context.Context, u *model.User) (int64, error) {
	if strings.TrimSpace(u.Position) == "" {
		return 0, nil
	}
	tag, err := s.store.GetTagByName(ctx, u.Position)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("role tag: %w", err)
	}
	if !tag.Category.IsRole() {
		return 0, nil
	}
	return tag.ID, nil
}

// Get returns a paper with its records if caller may see it.
func (s *Service) Get(ctx context.Context, caller *model.User, paperID int64) (*model.PaperView, error) {
	view, err := s.store.GetPaperView(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if !canAccess(caller, view.Paper.UserID) {
		return nil, ErrForbidden
	}
	return view, nil
}

// List returns the caller's papers, or every paper for staff.
func (s *Service) List(ctx context.Context, caller *model.User) ([]model.ExamPaper, error) {
	var owner int64
	if !caller.IsStaff() {
		owner = caller.ID
	}
	return s.store.ListPapers(ctx, owner)
}

// Start moves a paper to in_progress.
func (s *Service) Start(ctx context.Context, caller *model.User, paperID int64) (*model.PaperView, error) {
	paper, err := s.store.GetPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if !canAccess(caller, paper.UserID) {
		return nil, ErrForbidden
	}
	switch paper.Status {
	case model.PaperCompleted:
		return nil, ErrAlreadyCompleted
	case model.PaperInProgress:
		return nil, ErrAlreadyStarted
	}

	ok, err := s.store.StartPaper(ctx, paperID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyStarted
	}
	slog.Info("exam started", "paper_id", paperID, "user_id", paper.UserID)
	return s.store.GetPaperView(ctx, paperID)
}

// Delete removes a paper that has not been completed. Staff only.
func (s *Service) Delete(ctx context.Context, caller *model.User, paperID int64) error {
	if caller == nil || !caller.IsStaff() {
		return ErrForbidden
	}
	ok, err := s.store.DeletePaper(ctx, paperID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyCompleted
	}
	slog.Info("exam deleted", "paper_id", paperID, "by", caller.ID)
	return nil
}
