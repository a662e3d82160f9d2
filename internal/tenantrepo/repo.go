// Package tenantrepo is the thin Postgres accessor for the tenants
// table, using the same query shape as internal/jobrepo.
package tenantrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"frameworks/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("tenantrepo: not found")

// Repository is the tenant accessor.
type Repository struct {
	db *sql.DB
}

// New creates a Repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get fetches a tenant by its ID, as resolved from a bearer token's
// claims by the Ingress layer.
func (r *Repository) Get(ctx context.Context, id string) (*models.Tenant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, plan, creation_ip, plan_expires_at, billing_handle, created_at, updated_at
		FROM tenants WHERE id = $1
	`, id)

	var t models.Tenant
	var plan string
	err := row.Scan(&t.ID, &plan, &t.CreationIP, &t.PlanExpiresAt, &t.BillingHandle, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenantrepo: get: %w", err)
	}
	t.Plan = models.Plan(plan)
	return &t, nil
}

// EnsureExists inserts a default-plan tenant row if one does not
// already exist, so first-touch ingestion from a valid bearer token
// never 404s on a missing tenant row.
func (r *Repository) EnsureExists(ctx context.Context, id, creationIP string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, plan, creation_ip, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, id, string(models.PlanFree), creationIP)
	if err != nil {
		return fmt.Errorf("tenantrepo: ensure exists: %w", err)
	}
	return nil
}
