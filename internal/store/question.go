package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stationops/skillcheck/internal/model"
)

// CreateTag inserts a tag.
func (c *conn) CreateTag(ctx context.Context, t model.Tag) (int64, error) {
	if !t.Category.Valid() {
		return 0, fmt.Errorf("invalid tag category %q", t.Category)
	}
	return c.insert(ctx,
		`INSERT INTO tags (name, category, description) VALUES (?, ?, ?)`,
		t.Name, t.Category, t.Description)
}

// GetTagByName returns a tag by its unique name.
func (c *conn) GetTagByName(ctx context.Context, name string) (*model.Tag, error) {
	var t model.Tag
	err := c.queryRow(ctx, `SELECT id, name, category, description FROM tags WHERE name = ?`, name).
		Scan(&t.ID, &t.Name, &t.Category, &t.Description)
	if err != nil {
		return nil, notFound(err, "tag")
	}
	return &t, nil
}

// ListTags returns all tags ordered by name.
func (c *conn) ListTags(ctx context.Context) ([]model.Tag, error) {
	return c.scanTags(ctx, `SELECT id, name, category, description FROM tags ORDER BY name`)
}

// GetTagsByIDs returns the tags with the given ids. Unknown ids are skipped.
func (c *conn) GetTagsByIDs(ctx context.Context, ids []int64) ([]model.Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return c.scanTags(ctx,
		`SELECT id, name, category, description FROM tags WHERE id IN (`+placeholders(len(ids))+`) ORDER BY name`,
		args...)
}

func (c *conn) scanTags(ctx context.Context, q string, args ...any) ([]model.Tag, error) {
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.Description); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// CreateQuestion inserts a question and links it to tagIDs.
func (c *conn) CreateQuestion(ctx context.Context, q model.Question, tagIDs []int64) (int64, error) {
	if !q.Type.Valid() {
		return 0, fmt.Errorf("invalid question type %q", q.Type)
	}
	if q.Difficulty == 0 {
		q.Difficulty = 3
	}
	var opts sql.NullString
	if len(q.Options) > 0 {
		b, err := json.Marshal(q.Options)
		if err != nil {
			return 0, fmt.Errorf("encode options: %w", err)
		}
		opts = sql.NullString{String: string(b), Valid: true}
	}
	id, err := c.insert(ctx,
		`INSERT INTO questions (content, question_type, options, correct_answer, explanation, difficulty, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Content, q.Type, opts, q.CorrectAnswer, q.Explanation, q.Difficulty, q.Active, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	for _, tid := range tagIDs {
		if _, err := c.exec(ctx,
			`INSERT INTO question_tags (question_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			id, tid); err != nil {
			return 0, fmt.Errorf("link question %d to tag %d: %w", id, tid, err)
		}
	}
	return id, nil
}

const questionColumns = `id, content, question_type, options, correct_answer, explanation, difficulty, active, created_at`

func scanQuestion(r rowScanner) (model.Question, error) {
	var q model.Question
	var opts sql.NullString
	if err := r.Scan(&q.ID, &q.Content, &q.Type, &opts, &q.CorrectAnswer, &q.Explanation,
		&q.Difficulty, &q.Active, &q.CreatedAt); err != nil {
		return q, err
	}
	if opts.Valid && opts.String != "" {
		if err := json.Unmarshal([]byte(opts.String), &q.Options); err != nil {
			return q, fmt.Errorf("decode options of question %d: %w", q.ID, err)
		}
	}
	return q, nil
}

// GetQuestion returns a question with its tags.
func (c *conn) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	q, err := scanQuestion(c.queryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	if err != nil {
		return q, notFound(err, "question")
	}
	tags, err := c.tagsForQuestions(ctx, []int64{id})
	if err != nil {
		return q, err
	}
	q.Tags = tags[id]
	return q, nil
}

// ListQuestions returns questions with their tags ordered by id.
func (c *conn) ListQuestions(ctx context.Context, activeOnly bool) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions`
	var args []any
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY id`
	return c.listQuestions(ctx, query, args...)
}

// GetQuestionsByIDs returns the questions with the given ids, keyed by id.
func (c *conn) GetQuestionsByIDs(ctx context.Context, ids []int64) (map[int64]model.Question, error) {
	out := make(map[int64]model.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	qs, err := c.listQuestions(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, q := range qs {
		out[q.ID] = q
	}
	return out, nil
}

func (c *conn) listQuestions(ctx context.Context, query string, args ...any) ([]model.Question, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var qs []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		qs = append(qs, q)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	ids := make([]int64, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	tags, err := c.tagsForQuestions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range qs {
		qs[i].Tags = tags[qs[i].ID]
	}
	return qs, nil
}

// tagsForQuestions loads tags for every question id, ordered by tag name.
func (c *conn) tagsForQuestions(ctx context.Context, ids []int64) (map[int64][]model.Tag, error) {
	out := make(map[int64][]model.Tag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := c.query(ctx,
		`SELECT qt.question_id, t.id, t.name, t.category, t.description
		 FROM question_tags qt JOIN tags t ON t.id = qt.tag_id
		 WHERE qt.question_id IN (`+placeholders(len(ids))+`)
		 ORDER BY t.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("load question tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var qid int64
		var t model.Tag
		if err := rows.Scan(&qid, &t.ID, &t.Name, &t.Category, &t.Description); err != nil {
			return nil, err
		}
		out[qid] = append(out[qid], t)
	}
	return out, rows.Err()
}

// QuestionCount returns the number of active questions.
func (c *conn) QuestionCount(ctx context.Context) (int, error) {
	var n int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM questions WHERE active = ?`, true).Scan(&n)
	return n, err
}

// RecentQuestionIDs returns the ids of questions that appear on the user's
// papers created at or after since.
func (c *conn) RecentQuestionIDs(ctx context.Context, userID int64, since time.Time) (map[int64]bool, error) {
	rows, err := c.query(ctx,
		`SELECT DISTINCT r.question_id
		 FROM exam_records r JOIN exam_papers p ON p.id = r.paper_id
		 WHERE p.user_id = ? AND r.created_at >= ?`,
		userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("recent questions: %w", err)
	}
	defer rows.Close()
	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// ImportQuestionBank upserts the bank's tags by name and inserts its
// questions in one transaction. It returns the number of tags created and
// questions inserted.
func (s *Store) ImportQuestionBank(ctx context.Context, bank model.QuestionBank) (int, int, error) {
	var tagsCreated, questionsAdded int
	err := s.InTx(ctx, func(tx *Tx) error {
		tagIDs := make(map[string]int64)
		for _, ti := range bank.Tags {
			existing, err := tx.GetTagByName(ctx, ti.Name)
			if err == nil {
				tagIDs[ti.Name] = existing.ID
				continue
			}
			if !isNotFound(err) {
				return err
			}
			cat := ti.Category
			if cat == "" {
				cat = model.CategoryPosition
			}
			id, err := tx.CreateTag(ctx, model.Tag{Name: ti.Name, Category: cat, Description: ti.Description})
			if err != nil {
				return fmt.Errorf("create tag %q: %w", ti.Name, err)
			}
			tagIDs[ti.Name] = id
			tagsCreated++
		}

		for i, qi := range bank.Questions {
			q, err := questionFromImport(qi)
			if err != nil {
				return fmt.Errorf("question %d: %w", i+1, err)
			}
			var ids []int64
			for _, name := range qi.Tags {
				id, ok := tagIDs[name]
				if !ok {
					t, err := tx.GetTagByName(ctx, name)
					if err != nil {
						return fmt.Errorf("question %d: tag %q: %w", i+1, name, err)
					}
					id = t.ID
					tagIDs[name] = id
				}
				ids = append(ids, id)
			}
			if _, err := tx.CreateQuestion(ctx, q, ids); err != nil {
				return fmt.Errorf("question %d: %w", i+1, err)
			}
			questionsAdded++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	slog.Info("imported question bank", "tags", tagsCreated, "questions", questionsAdded)
	return tagsCreated, questionsAdded, nil
}

func questionFromImport(qi model.QuestionImport) (model.Question, error) {
	q := model.Question{
		Content:       qi.Content,
		Type:          qi.Type,
		CorrectAnswer: qi.CorrectAnswer,
		Explanation:   qi.Explanation,
		Difficulty:    qi.Difficulty,
		Active:        true,
	}
	if q.Content == "" {
		return q, fmt.Errorf("empty content")
	}
	if !q.Type.Valid() {
		return q, fmt.Errorf("invalid question type %q", q.Type)
	}
	if q.Difficulty < 0 || q.Difficulty > 5 {
		return q, fmt.Errorf("difficulty %d out of range 1-5", q.Difficulty)
	}
	if len(qi.Options) > 0 && string(qi.Options) != "null" {
		if err := json.Unmarshal(qi.Options, &q.Options); err != nil {
			return q, fmt.Errorf("options: %w", err)
		}
	}
	if q.Type.Objective() && len(q.Options) == 0 {
		return q, fmt.Errorf("%s question without options", q.Type)
	}
	return q, nil
}
