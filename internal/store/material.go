package store

import (
	"context"
	"fmt"
	"time"

	"github.com/stationops/skillcheck/internal/model"
)

const materialColumns = `id, title, description, material_type, url, file_path, creator_id, active, public, created_at`

// MaterialFilter narrows ListMaterials. A zero Viewer lists every active
// material.
type MaterialFilter struct {
	Viewer int64 // non-staff viewer: only public or own materials
	TagID  int64
}

// CreateMaterial inserts a training material and its tag links.
func (s *Store) CreateMaterial(ctx context.Context, m model.TrainingMaterial, tagIDs []int64) (int64, error) {
	var id int64
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.insert(ctx,
			`INSERT INTO training_materials (title, description, material_type, url, file_path, creator_id, active, public, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.Title, m.Description, m.MaterialType, m.URL, m.FilePath, m.CreatorID, true, m.Public, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("insert material: %w", err)
		}
		return tx.setMaterialTags(ctx, id, tagIDs)
	})
	return id, err
}

// UpdateMaterial replaces the editable fields and tags of a material.
func (s *Store) UpdateMaterial(ctx context.Context, m model.TrainingMaterial, tagIDs []int64) error {
	return s.InTx(ctx, func(tx *Tx) error {
		res, err := tx.exec(ctx,
			`UPDATE training_materials SET title = ?, description = ?, material_type = ?, url = ?, file_path = ?, public = ?
			 WHERE id = ? AND active = ?`,
			m.Title, m.Description, m.MaterialType, m.URL, m.FilePath, m.Public, m.ID, true)
		if err != nil {
			return fmt.Errorf("update material %d: %w", m.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("material %d: %w", m.ID, ErrNotFound)
		}
		if _, err := tx.exec(ctx, `DELETE FROM training_material_tags WHERE material_id = ?`, m.ID); err != nil {
			return err
		}
		return tx.setMaterialTags(ctx, m.ID, tagIDs)
	})
}

func (c *conn) setMaterialTags(ctx context.Context, materialID int64, tagIDs []int64) error {
	for _, tid := range tagIDs {
		if _, err := c.exec(ctx,
			`INSERT INTO training_material_tags (material_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			materialID, tid); err != nil {
			return fmt.Errorf("link material %d to tag %d: %w", materialID, tid, err)
		}
	}
	return nil
}

// DeactivateMaterial hides a material from every listing.
func (c *conn) DeactivateMaterial(ctx context.Context, id int64) error {
	res, err := c.exec(ctx, `UPDATE training_materials SET active = ? WHERE id = ? AND active = ?`, false, id, true)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("material %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetMaterial returns an active material with its tags.
func (c *conn) GetMaterial(ctx context.Context, id int64) (model.TrainingMaterial, error) {
	ms, err := c.listMaterials(ctx, `SELECT `+materialColumns+` FROM training_materials WHERE id = ? AND active = ?`, id, true)
	if err != nil {
		return model.TrainingMaterial{}, err
	}
	if len(ms) == 0 {
		return model.TrainingMaterial{}, fmt.Errorf("material %d: %w", id, ErrNotFound)
	}
	return ms[0], nil
}

// ListMaterials returns active materials newest first.
func (c *conn) ListMaterials(ctx context.Context, f MaterialFilter) ([]model.TrainingMaterial, error) {
	q := `SELECT ` + materialColumns + ` FROM training_materials WHERE active = ?`
	args := []any{true}
	if f.Viewer != 0 {
		q += ` AND (public = ? OR creator_id = ?)`
		args = append(args, true, f.Viewer)
	}
	if f.TagID != 0 {
		q += ` AND id IN (SELECT material_id FROM training_material_tags WHERE tag_id = ?)`
		args = append(args, f.TagID)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	return c.listMaterials(ctx, q, args...)
}

// CountMaterialsByTag returns the number of active materials per tag id.
func (c *conn) CountMaterialsByTag(ctx context.Context) (map[int64]int, error) {
	rows, err := c.query(ctx,
		`SELECT mt.tag_id, COUNT(*) FROM training_material_tags mt
		 JOIN training_materials m ON m.id = mt.material_id
		 WHERE m.active = ?
		 GROUP BY mt.tag_id`, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]int)
	for rows.Next() {
		var tag int64
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, err
		}
		out[tag] = n
	}
	return out, rows.Err()
}

func (c *conn) listMaterials(ctx context.Context, q string, args ...any) ([]model.TrainingMaterial, error) {
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	var ms []model.TrainingMaterial
	for rows.Next() {
		var m model.TrainingMaterial
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.MaterialType, &m.URL, &m.FilePath,
			&m.CreatorID, &m.Active, &m.Public, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		ms = append(ms, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range ms {
		tags, err := c.scanTags(ctx,
			`SELECT t.id, t.name, t.category, t.description FROM training_material_tags mt
			 JOIN tags t ON t.id = mt.tag_id WHERE mt.material_id = ? ORDER BY t.name`, ms[i].ID)
		if err != nil {
			return nil, err
		}
		ms[i].Tags = tags
	}
	return ms, nil
}
