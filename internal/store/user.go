package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stationops/skillcheck/internal/model"
)

const userColumns = `id, job_number, username, display_name, password_hash, position, department, role, active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (model.User, error) {
	var u model.User
	err := r.Scan(&u.ID, &u.JobNumber, &u.Username, &u.DisplayName, &u.PasswordHash,
		&u.Position, &u.Department, &u.Role, &u.Active, &u.CreatedAt)
	return u, err
}

// CreateUser inserts a new user.
func (c *conn) CreateUser(ctx context.Context, u model.User) (int64, error) {
	if u.Username == "" {
		u.Username = u.JobNumber
	}
	if u.Role == "" {
		u.Role = model.UserRoleEmployee
	}
	id, err := c.insert(ctx,
		`INSERT INTO users (job_number, username, display_name, password_hash, position, department, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.JobNumber, u.Username, u.DisplayName, u.PasswordHash, u.Position, u.Department, u.Role, u.Active, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("failed to create user", "job_number", u.JobNumber, "error", err)
		return 0, fmt.Errorf("create user %s: %w", u.JobNumber, err)
	}
	slog.Info("created user", "id", id, "job_number", u.JobNumber, "role", u.Role)
	return id, nil
}

// GetUserByLogin returns a user whose job number or username equals login.
func (c *conn) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	u, err := scanUser(c.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE job_number = ? OR username = ?
		 ORDER BY CASE WHEN job_number = ? THEN 0 ELSE 1 END LIMIT 1`,
		login, login, login))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// GetUserByID returns a user by ID.
func (c *conn) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(c.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// ListEmployees returns users without staff rights ordered by job number.
func (c *conn) ListEmployees(ctx context.Context) ([]model.User, error) {
	return c.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY job_number`, model.UserRoleEmployee)
}

// ListUsers returns all users ordered by job number.
func (c *conn) ListUsers(ctx context.Context) ([]model.User, error) {
	return c.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY job_number`)
}

func (c *conn) listUsers(ctx context.Context, q string, args ...any) ([]model.User, error) {
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserCount returns the total number of users.
func (c *conn) UserCount(ctx context.Context) (int, error) {
	var count int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
