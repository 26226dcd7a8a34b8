package exam

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stationops/skillcheck/internal/model"
	"github.com/stationops/skillcheck/internal/store"
)

// Result is the outcome of a submitted paper.
type Result struct {
	PaperID        int64            `json:"paper_id"`
	TotalScore     float64          `json:"total_score"`
	MaxScore       float64          `json:"max_score"`
	Accuracy       float64          `json:"accuracy"`
	TagPerformance []TagPerformance `json:"tag_performance"`
}

// Submit grades a paper, stores the results and updates the user's
// capability profiles. answers maps question id to the submitted text.
//
// Subjective answers are graded before the transaction opens. Inside it the
// paper is claimed with a conditional status update, so a concurrent second
// submission fails with ErrAlreadyCompleted and changes nothing.
func (s *Service) Submit(ctx context.Context, caller *model.User, paperID int64, answers map[int64]string) (*Result, error) {
	view, err := s.store.GetPaperView(ctx, paperID)
	if err != nil {
		return nil, err
	}
	paper := view.Paper
	if !canAccess(caller, paper.UserID) {
		return nil, ErrForbidden
	}
	if !paper.Status.Submittable() {
		return nil, ErrAlreadyCompleted
	}

	records, tally, obtained := s.grade(ctx, view, answers)

	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.ClaimPaperForScoring(ctx, paperID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			if _, err := tx.GetPaper(ctx, paperID); err != nil {
				return err
			}
			return ErrAlreadyCompleted
		}
		for _, r := range records {
			if err := tx.SaveRecordResult(ctx, r); err != nil {
				return err
			}
		}
		if err := tx.SetPaperScore(ctx, paperID, obtained); err != nil {
			return fmt.Errorf("set paper score: %w", err)
		}
		return s.updateProfiles(ctx, tx, paper.UserID, tally)
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		PaperID:        paperID,
		TotalScore:     obtained,
		MaxScore:       paper.TotalScore,
		TagPerformance: tally.results(),
	}
	if paper.TotalScore > 0 {
		res.Accuracy = round2(obtained / paper.TotalScore * 100)
	}
	slog.Info("exam submitted", "paper_id", paperID, "user_id", paper.UserID,
		"score", obtained, "records", len(records))
	return res, nil
}

// grade scores every record of the paper without touching the database.
func (s *Service) grade(ctx context.Context, view *model.PaperView, answers map[int64]string) ([]model.ExamRecord, *tagTally, float64) {
	tally := newTagTally()
	records := make([]model.ExamRecord, 0, len(view.Records))
	if len(view.Records) == 0 {
		return records, tally, 0
	}
	perQuestion := view.Paper.TotalScore / float64(len(view.Records))

	var obtained float64
	for _, rv := range view.Records {
		rec := rv.Record
		q := rv.Question
		rec.UserAnswer = answers[q.ID]

		var correct bool
		if q.Type == model.QuestionSubjective {
			var ai float64
			if strings.TrimSpace(rec.UserAnswer) != "" {
				ai = s.grader.Score(ctx, q, rec.UserAnswer)
			}
			ai = max(0, min(100, ai))
			rec.AIScore = &ai
			correct = ai >= PassScore
			rec.ScoreGained = perQuestion * ai / 100
		} else {
			correct = CheckObjective(q.Type, rec.UserAnswer, q.CorrectAnswer, s.cfg.NormalizeMultiple)
			if correct {
				rec.ScoreGained = perQuestion
			} else {
				rec.ScoreGained = 0
			}
		}
		rec.IsCorrect = &correct
		obtained += rec.ScoreGained
		tally.add(q, correct)
		records = append(records, rec)
	}
	return records, tally, obtained
}

func (s *Service) updateProfiles(ctx context.Context, tx *store.Tx, userID int64, tally *tagTally) error {
	current, err := tx.MasteryByTag(ctx, userID)
	if err != nil {
		return err
	}
	for tagID, p := range tally.byID {
		accuracy := float64(p.CorrectCount) / float64(p.TotalCount)
		prev, exists := current[tagID]
		next := NextMastery(prev, exists, accuracy, s.cfg.WeightOld, s.cfg.WeightNew)
		if err := tx.UpsertProfile(ctx, userID, tagID, next); err != nil {
			return err
		}
		slog.Debug("capability updated", "user_id", userID, "tag", p.TagName,
			"previous", prev, "mastery", next)
	}
	return nil
}
