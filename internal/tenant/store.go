// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds one tenant's service credentials and settings.
type Config struct {
	TenantSlug      string
	ServiceEmail    string
	ServicePassword string
	Enabled         bool
	APIBaseURL      string
}

// Record is a tenant directory row, including bookkeeping timestamps.
type Record struct {
	Config
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Directory is the keyed tenant lookup the cache sits in front of.
// Get returns (nil, nil) when the tenant does not exist.
type Directory interface {
	Get(ctx context.Context, tenantSlug string) (*Config, error)
}

// Store provides CRUD operations for tenant records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a tenant store backed by the given Postgres pool.
// It ensures the tenants table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure tenant schema: %w", err)
	}
	slog.Info("tenant store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			tenant_slug      TEXT PRIMARY KEY,
			service_email    TEXT NOT NULL,
			service_password TEXT NOT NULL,
			enabled          BOOLEAN NOT NULL DEFAULT TRUE,
			api_base_url     TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Get retrieves a tenant config by slug. Returns (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, tenantSlug string) (*Config, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_slug, service_email, service_password, enabled,
		       COALESCE(api_base_url, '')
		FROM tenants
		WHERE tenant_slug = $1
	`, tenantSlug)

	var c Config
	err := row.Scan(&c.TenantSlug, &c.ServiceEmail, &c.ServicePassword, &c.Enabled, &c.APIBaseURL)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert inserts or updates a tenant record keyed on tenant_slug.
func (s *Store) Upsert(ctx context.Context, c Config) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants
			(tenant_slug, service_email, service_password, enabled, api_base_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_slug) DO UPDATE SET
			service_email    = EXCLUDED.service_email,
			service_password = EXCLUDED.service_password,
			enabled          = EXCLUDED.enabled,
			api_base_url     = EXCLUDED.api_base_url,
			updated_at       = NOW()
	`, c.TenantSlug, c.ServiceEmail, c.ServicePassword, c.Enabled, c.APIBaseURL)
	return err
}

// SetEnabled flips the enabled flag. Returns false if the tenant is unknown.
func (s *Store) SetEnabled(ctx context.Context, tenantSlug string, enabled bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants
		SET enabled = $1, updated_at = NOW()
		WHERE tenant_slug = $2
	`, enabled, tenantSlug)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a tenant record.
func (s *Store) Delete(ctx context.Context, tenantSlug string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM tenants WHERE tenant_slug = $1
	`, tenantSlug)
	return err
}

// List returns all tenant records ordered by slug.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_slug, service_email, service_password, enabled,
		       COALESCE(api_base_url, ''), created_at, updated_at
		FROM tenants
		ORDER BY tenant_slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.TenantSlug, &r.ServiceEmail, &r.ServicePassword, &r.Enabled,
			&r.APIBaseURL, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
