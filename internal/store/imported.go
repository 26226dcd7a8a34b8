package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetImportedFileHash returns the sha256 recorded for path, or "" when the
// file was never imported.
func (c *conn) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := c.queryRow(ctx, `SELECT sha256 FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the sha256 of an imported file.
func (c *conn) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := c.exec(ctx,
		`INSERT INTO imported_files (path, sha256, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET sha256 = excluded.sha256, imported_at = excluded.imported_at`,
		path, hash, time.Now().UTC(),
	)
	return err
}
