package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dailybugs-backend/internal/db"
)

// DatabaseStore stores tokens, delivery settings and the step log in PostgreSQL
type DatabaseStore struct {
	db *db.DB
}

// NewDatabaseStore creates a new database store
func NewDatabaseStore(database *db.DB) *DatabaseStore {
	return &DatabaseStore{db: database}
}

// GetToken retrieves the GitHub access token for a user
func (ds *DatabaseStore) GetToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user_id is required")
	}
	var token string
	err := ds.db.QueryRowContext(ctx, `SELECT github_token FROM user_tokens WHERE user_id = $1`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// SetToken saves or replaces the GitHub access token for a user
func (ds *DatabaseStore) SetToken(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("user_id and github_token are required")
	}

	query := `
		INSERT INTO user_tokens (user_id, github_token, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET
			github_token = EXCLUDED.github_token,
			updated_at = NOW()
	`
	if _, err := ds.db.ExecContext(ctx, query, userID, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// DeleteToken removes the GitHub access token for a user
func (ds *DatabaseStore) DeleteToken(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if _, err := ds.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// GetDelivery returns the user's delivery method, DefaultDelivery when unset
func (ds *DatabaseStore) GetDelivery(ctx context.Context, userID string) (string, error) {
	var method string
	err := ds.db.QueryRowContext(ctx, `SELECT method FROM delivery_methods WHERE user_id = $1`, userID).Scan(&method)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultDelivery, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get delivery method: %w", err)
	}
	return method, nil
}

// SetDelivery stores the user's delivery method; the default is stored as no row
func (ds *DatabaseStore) SetDelivery(ctx context.Context, userID, method string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if method == DefaultDelivery {
		if _, err := ds.db.ExecContext(ctx, `DELETE FROM delivery_methods WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to reset delivery method: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO delivery_methods (user_id, method, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET method = EXCLUDED.method, updated_at = NOW()
	`
	if _, err := ds.db.ExecContext(ctx, query, userID, method); err != nil {
		return fmt.Errorf("failed to save delivery method: %w", err)
	}
	return nil
}

// ListUsers returns every user with a stored token
func (ds *DatabaseStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := ds.db.QueryContext(ctx, `SELECT user_id FROM user_tokens ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// LoadStep returns the committed result of a workflow step
func (ds *DatabaseStore) LoadStep(ctx context.Context, runID, name string) ([]byte, bool, error) {
	var result []byte
	err := ds.db.QueryRowContext(ctx,
		`SELECT result FROM workflow_steps WHERE run_id = $1 AND step_name = $2`,
		runID, name,
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load step: %w", err)
	}
	return result, true, nil
}

// SaveStep commits a workflow step result; the first commit wins
func (ds *DatabaseStore) SaveStep(ctx context.Context, runID, name string, result []byte) error {
	query := `
		INSERT INTO workflow_steps (run_id, step_name, result, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (run_id, step_name) DO NOTHING
	`
	if _, err := ds.db.ExecContext(ctx, query, runID, name, string(result)); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// PruneSteps deletes every run whose latest step was committed before the cutoff
func (ds *DatabaseStore) PruneSteps(ctx context.Context, before time.Time) (int, error) {
	query := `
		WITH stale AS (
			SELECT run_id FROM workflow_steps
			GROUP BY run_id
			HAVING MAX(created_at) < $1
		), deleted AS (
			DELETE FROM workflow_steps
			WHERE run_id IN (SELECT run_id FROM stale)
			RETURNING run_id
		)
		SELECT COUNT(DISTINCT run_id) FROM deleted
	`
	var pruned int
	if err := ds.db.QueryRowContext(ctx, query, before.UTC()).Scan(&pruned); err != nil {
		return 0, fmt.Errorf("failed to prune steps: %w", err)
	}
	return pruned, nil
}
