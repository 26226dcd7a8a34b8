package store

import (
	"context"
	"fmt"
	"time"

	"github.com/stationops/skillcheck/internal/model"
)

// ListProfiles returns the user's capability profiles ordered by tag name.
func (c *conn) ListProfiles(ctx context.Context, userID int64) ([]model.CapabilityProfile, error) {
	return c.listProfiles(ctx,
		`SELECT cp.id, cp.user_id, t.id, t.name, t.category, t.description, cp.mastery_level, cp.created_at, cp.updated_at
		 FROM capability_profiles cp JOIN tags t ON t.id = cp.tag_id
		 WHERE cp.user_id = ?
		 ORDER BY t.name`, userID)
}

// WeakProfiles returns the user's non-role profiles below threshold, weakest
// first.
func (c *conn) WeakProfiles(ctx context.Context, userID int64, threshold float64) ([]model.CapabilityProfile, error) {
	return c.listProfiles(ctx,
		`SELECT cp.id, cp.user_id, t.id, t.name, t.category, t.description, cp.mastery_level, cp.created_at, cp.updated_at
		 FROM capability_profiles cp JOIN tags t ON t.id = cp.tag_id
		 WHERE cp.user_id = ? AND cp.mastery_level < ? AND t.category <> ?
		 ORDER BY cp.mastery_level, t.name`, userID, threshold, model.CategoryRole)
}

func (c *conn) listProfiles(ctx context.Context, q string, args ...any) ([]model.CapabilityProfile, error) {
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()
	var out []model.CapabilityProfile
	for rows.Next() {
		var p model.CapabilityProfile
		if err := rows.Scan(&p.ID, &p.UserID, &p.Tag.ID, &p.Tag.Name, &p.Tag.Category, &p.Tag.Description,
			&p.MasteryLevel, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MasteryByTag returns the user's current mastery per tag id.
func (c *conn) MasteryByTag(ctx context.Context, userID int64) (map[int64]float64, error) {
	rows, err := c.query(ctx, `SELECT tag_id, mastery_level FROM capability_profiles WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("load mastery: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]float64)
	for rows.Next() {
		var id int64
		var level float64
		if err := rows.Scan(&id, &level); err != nil {
			return nil, err
		}
		out[id] = level
	}
	return out, rows.Err()
}

// UpsertProfile sets the mastery level of a (user, tag) pair, creating the
// profile when it does not exist.
func (c *conn) UpsertProfile(ctx context.Context, userID, tagID int64, level float64) error {
	now := time.Now().UTC()
	_, err := c.exec(ctx,
		`INSERT INTO capability_profiles (user_id, tag_id, mastery_level, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, tag_id) DO UPDATE SET mastery_level = excluded.mastery_level, updated_at = excluded.updated_at`,
		userID, tagID, level, now, now)
	if err != nil {
		return fmt.Errorf("upsert profile user=%d tag=%d: %w", userID, tagID, err)
	}
	return nil
}
