// Package projects records completed generations and removes them together
// with their stored images.
package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusCompleted is the only status a stored project carries
const StatusCompleted = "completed"

// ErrNotFound is returned when the project does not exist or belongs to
// another user
var ErrNotFound = errors.New("project not found")

// ProjectRecord is one completed generation
type ProjectRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	InputImageURL  string    `json:"input_image_url"`
	OutputImageURL string    `json:"output_image_url"`
	Prompt         string    `json:"prompt"`
	Model          string    `json:"model"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists projects
type Store interface {
	Create(ctx context.Context, project *ProjectRecord) error
	Get(ctx context.Context, id, userID string) (*ProjectRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*ProjectRecord, error)
	Delete(ctx context.Context, id, userID string) error
}

// DatabaseSource hands out the shared connection pool
type DatabaseSource interface {
	DB() (*sql.DB, error)
}

// PostgresStore implements Store on the projects table
type PostgresStore struct {
	source DatabaseSource
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(source DatabaseSource) *PostgresStore {
	return &PostgresStore{source: source}
}

// Create inserts project, filling in ID, Status and CreatedAt
func (s *PostgresStore) Create(ctx context.Context, project *ProjectRecord) error {
	db, err := s.source.DB()
	if err != nil {
		return err
	}

	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.Status == "" {
		project.Status = StatusCompleted
	}

	query := `
		INSERT INTO projects (id, user_id, input_image_url, output_image_url, prompt, model, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err = db.QueryRowContext(ctx, query,
		project.ID, project.UserID, project.InputImageURL, project.OutputImageURL,
		project.Prompt, project.Model, project.Status,
	).Scan(&project.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Get returns the project with id owned by userID
func (s *PostgresStore) Get(ctx context.Context, id, userID string) (*ProjectRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	db, err := s.source.DB()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, COALESCE(input_image_url, ''), COALESCE(output_image_url, ''),
		       prompt, model, status, created_at
		FROM projects
		WHERE id = $1 AND user_id = $2
	`
	p := &ProjectRecord{}
	err = db.QueryRowContext(ctx, query, id, userID).Scan(
		&p.ID, &p.UserID, &p.InputImageURL, &p.OutputImageURL,
		&p.Prompt, &p.Model, &p.Status, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListByUser returns up to limit projects, newest first
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*ProjectRecord, error) {
	db, err := s.source.DB()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, COALESCE(input_image_url, ''), COALESCE(output_image_url, ''),
		       prompt, model, status, created_at
		FROM projects
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*ProjectRecord, 0)
	for rows.Next() {
		p := &ProjectRecord{}
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.InputImageURL, &p.OutputImageURL,
			&p.Prompt, &p.Model, &p.Status, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	return projects, nil
}

// Delete removes the row. Deleting a row that is already gone is not an error.
func (s *PostgresStore) Delete(ctx context.Context, id, userID string) error {
	db, err := s.source.DB()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}
