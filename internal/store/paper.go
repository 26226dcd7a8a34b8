package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stationops/skillcheck/internal/model"
)

// CreatePaper inserts a paper and one empty record per question id, in order,
// in a single transaction.
func (s *Store) CreatePaper(ctx context.Context, p model.ExamPaper, questionIDs []int64) (int64, error) {
	var paperID int64
	err := s.InTx(ctx, func(tx *Tx) error {
		now := time.Now().UTC()
		if p.Status == "" {
			p.Status = model.PaperNotStarted
		}
		id, err := tx.insert(ctx,
			`INSERT INTO exam_papers (user_id, title, total_score, status, generation_reason, time_limit, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.UserID, p.Title, p.TotalScore, p.Status, p.GenerationReason, p.TimeLimit, now)
		if err != nil {
			return fmt.Errorf("insert paper: %w", err)
		}
		for _, qid := range questionIDs {
			if _, err := tx.exec(ctx,
				`INSERT INTO exam_records (paper_id, question_id, user_answer, score_gained, duration, created_at)
				 VALUES (?, ?, '', 0, 0, ?)`,
				id, qid, now); err != nil {
				return fmt.Errorf("insert record for question %d: %w", qid, err)
			}
		}
		paperID = id
		return nil
	})
	return paperID, err
}

const paperColumns = `p.id, p.user_id, p.title, p.total_score, p.score_obtained, p.status, p.generation_reason,
	p.time_limit, p.started_at, p.completed_at, p.created_at,
	(SELECT COUNT(*) FROM exam_records r WHERE r.paper_id = p.id)`

func scanPaper(r rowScanner) (model.ExamPaper, error) {
	var p model.ExamPaper
	err := r.Scan(&p.ID, &p.UserID, &p.Title, &p.TotalScore, &p.ScoreObtained, &p.Status, &p.GenerationReason,
		&p.TimeLimit, &p.StartedAt, &p.CompletedAt, &p.CreatedAt, &p.QuestionCount)
	return p, err
}

// GetPaper returns a paper by id.
func (c *conn) GetPaper(ctx context.Context, id int64) (model.ExamPaper, error) {
	p, err := scanPaper(c.queryRow(ctx, `SELECT `+paperColumns+` FROM exam_papers p WHERE p.id = ?`, id))
	if err != nil {
		return p, notFound(err, "paper")
	}
	return p, nil
}

// ListPapers returns papers newest first. A zero userID lists every user's papers.
func (c *conn) ListPapers(ctx context.Context, userID int64) ([]model.ExamPaper, error) {
	q := `SELECT ` + paperColumns + ` FROM exam_papers p`
	var args []any
	if userID != 0 {
		q += ` WHERE p.user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY p.created_at DESC, p.id DESC`
	return c.listPapers(ctx, q, args...)
}

// CompletedPapersSince returns the user's completed papers with completed_at
// at or after since, oldest first.
func (c *conn) CompletedPapersSince(ctx context.Context, userID int64, since time.Time) ([]model.ExamPaper, error) {
	return c.listPapers(ctx,
		`SELECT `+paperColumns+` FROM exam_papers p
		 WHERE p.user_id = ? AND p.status = ? AND p.completed_at >= ?
		 ORDER BY p.completed_at, p.id`,
		userID, model.PaperCompleted, since.UTC())
}

// CountPapers returns how many papers were generated for the user.
func (c *conn) CountPapers(ctx context.Context, userID int64) (int, error) {
	var n int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM exam_papers WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// CountCompletedPapers returns how many papers the user has completed.
func (c *conn) CountCompletedPapers(ctx context.Context, userID int64) (int, error) {
	var n int
	err := c.queryRow(ctx,
		`SELECT COUNT(*) FROM exam_papers WHERE user_id = ? AND status = ?`,
		userID, model.PaperCompleted).Scan(&n)
	return n, err
}

func (c *conn) listPapers(ctx context.Context, q string, args ...any) ([]model.ExamPaper, error) {
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var papers []model.ExamPaper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// GetRecords returns a paper's records in presentation order.
func (c *conn) GetRecords(ctx context.Context, paperID int64) ([]model.ExamRecord, error) {
	rows, err := c.query(ctx,
		`SELECT id, paper_id, question_id, user_answer, is_correct, score_gained, ai_score, duration, created_at
		 FROM exam_records WHERE paper_id = ? ORDER BY id`, paperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []model.ExamRecord
	for rows.Next() {
		var r model.ExamRecord
		var correct sql.NullBool
		var ai sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.PaperID, &r.QuestionID, &r.UserAnswer, &correct,
			&r.ScoreGained, &ai, &r.Duration, &r.CreatedAt); err != nil {
			return nil, err
		}
		if correct.Valid {
			r.IsCorrect = &correct.Bool
		}
		if ai.Valid {
			r.AIScore = &ai.Float64
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// GetPaperView returns a paper with its records and their questions.
func (c *conn) GetPaperView(ctx context.Context, paperID int64) (*model.PaperView, error) {
	p, err := c.GetPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	recs, err := c.GetRecords(ctx, paperID)
	if err != nil {
		return nil, fmt.Errorf("records of paper %d: %w", paperID, err)
	}
	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.QuestionID
	}
	questions, err := c.GetQuestionsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("questions of paper %d: %w", paperID, err)
	}
	view := &model.PaperView{Paper: p}
	for _, r := range recs {
		view.Records = append(view.Records, model.RecordView{Record: r, Question: questions[r.QuestionID]})
	}
	return view, nil
}

// StartPaper moves a not-started paper to in_progress. It reports false when
// the paper was not in the not_started state.
func (c *conn) StartPaper(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := c.exec(ctx,
		`UPDATE exam_papers SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		model.PaperInProgress, at.UTC(), id, model.PaperNotStarted)
	if err != nil {
		return false, fmt.Errorf("start paper %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimPaperForScoring marks a submittable paper completed. It reports false
// when the paper was already completed.
func (c *conn) ClaimPaperForScoring(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := c.exec(ctx,
		`UPDATE exam_papers SET status = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		model.PaperCompleted, at.UTC(), id, model.PaperNotStarted, model.PaperInProgress)
	if err != nil {
		return false, fmt.Errorf("claim paper %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SaveRecordResult stores the graded answer of a record.
func (c *conn) SaveRecordResult(ctx context.Context, r model.ExamRecord) error {
	var correct sql.NullBool
	if r.IsCorrect != nil {
		correct = sql.NullBool{Bool: *r.IsCorrect, Valid: true}
	}
	var ai sql.NullFloat64
	if r.AIScore != nil {
		ai = sql.NullFloat64{Float64: *r.AIScore, Valid: true}
	}
	_, err := c.exec(ctx,
		`UPDATE exam_records SET user_answer = ?, is_correct = ?, score_gained = ?, ai_score = ?, duration = ?
		 WHERE id = ?`,
		r.UserAnswer, correct, r.ScoreGained, ai, r.Duration, r.ID)
	if err != nil {
		return fmt.Errorf("save record %d: %w", r.ID, err)
	}
	return nil
}

// SetPaperScore stores the obtained score of a paper.
func (c *conn) SetPaperScore(ctx context.Context, id int64, score float64) error {
	_, err := c.exec(ctx, `UPDATE exam_papers SET score_obtained = ? WHERE id = ?`, score, id)
	return err
}

// DeletePaper removes a paper that is not completed. It reports false when
// the paper is completed.
func (c *conn) DeletePaper(ctx context.Context, id int64) (bool, error) {
	if _, err := c.GetPaper(ctx, id); err != nil {
		return false, err
	}
	res, err := c.exec(ctx, `DELETE FROM exam_papers WHERE id = ? AND status <> ?`, id, model.PaperCompleted)
	if err != nil {
		return false, fmt.Errorf("delete paper %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
