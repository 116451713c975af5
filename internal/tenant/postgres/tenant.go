package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/ragquery/internal/tenant"
)

// Repo implements tenant.Repository on PostgreSQL.
type Repo struct {
	db *DB
}

// NewRepo creates a tenant repository.
func NewRepo(db *DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, t *tenant.Tenant) error {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO tenants (id, name, api_key, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Name, t.APIKey, configJSON, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	return r.scan(ctx, `
		SELECT id, name, api_key, config, created_at, updated_at
		FROM tenants WHERE id = $1
	`, id)
}

func (r *Repo) GetByAPIKey(ctx context.Context, apiKey string) (*tenant.Tenant, error) {
	return r.scan(ctx, `
		SELECT id, name, api_key, config, created_at, updated_at
		FROM tenants WHERE api_key = $1
	`, apiKey)
}

func (r *Repo) scan(ctx context.Context, query string, args ...any) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var configJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&t.ID, &t.Name, &t.APIKey, &configJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	if err := json.Unmarshal(configJSON, &t.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	usage, err := r.usage(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.Usage = *usage
	return &t, nil
}

func (r *Repo) usage(ctx context.Context, tenantID uuid.UUID) (*tenant.Usage, error) {
	var u tenant.Usage
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE tenant_id = $1`, tenantID,
	).Scan(&u.DocumentCount); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(chunk_count), 0) FROM documents WHERE tenant_id = $1`, tenantID,
	).Scan(&u.ChunkCount); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	return &u, nil
}

func (r *Repo) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, api_key, config, created_at, updated_at
		FROM tenants ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []*tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		var configJSON []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.APIKey, &configJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if err := json.Unmarshal(configJSON, &t.Config); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		out = append(out, &t)
	}
	return out, total, nil
}

func (r *Repo) Update(ctx context.Context, t *tenant.Tenant) error {
	configJSON, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE tenants SET name = $2, config = $3, updated_at = NOW() WHERE id = $1
	`, t.ID, t.Name, configJSON)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func (r *Repo) UpdateAPIKey(ctx context.Context, id uuid.UUID, newAPIKey string) error {
	result, err := r.db.Pool.Exec(ctx,
		`UPDATE tenants SET api_key = $2, updated_at = NOW() WHERE id = $1`, id, newAPIKey)
	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

var _ tenant.Repository = (*Repo)(nil)
