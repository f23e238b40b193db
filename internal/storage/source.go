package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mandari/ingestor/internal/model"
)

// AddSource registers a new OParl source. Fails if the URL is already
// registered.
func (db *DB) AddSource(ctx context.Context, s *model.Source) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO oparl_sources (id, name, url, contact_email, contact_name, website, is_active, sync_config, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.Name, s.URL, s.ContactEmail, s.ContactName, s.Website, s.IsActive, orEmptyMap(s.SyncConfig), orEmptyMap(s.RawJSON))
	if err != nil {
		return fmt.Errorf("storage: add source: %w", err)
	}
	return nil
}

// GetSourceByURL returns the source registered for a URL, or ErrNotFound.
func (db *DB) GetSourceByURL(ctx context.Context, url string) (*model.Source, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, name, url, contact_email, contact_name, website, is_active,
		       last_sync, last_full_sync, sync_config, raw_json, created_at, updated_at
		FROM oparl_sources WHERE url = $1
	`, url)
	return scanSource(row)
}

// ListSources returns every registered source. If activeOnly is true,
// only sources with is_active = true are returned.
func (db *DB) ListSources(ctx context.Context, activeOnly bool) ([]*model.Source, error) {
	query := `
		SELECT id, name, url, contact_email, contact_name, website, is_active,
		       last_sync, last_full_sync, sync_config, raw_json, created_at, updated_at
		FROM oparl_sources`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY name`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage: list sources: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceSyncTimes records that a sync of the given kind just
// completed for this source.
func (db *DB) UpdateSourceSyncTimes(ctx context.Context, sourceID uuid.UUID, full bool, when time.Time) error {
	var err error
	if full {
		_, err = db.pool.Exec(ctx, `UPDATE oparl_sources SET last_sync = $2, last_full_sync = $2, updated_at = now() WHERE id = $1`, sourceID, when)
	} else {
		_, err = db.pool.Exec(ctx, `UPDATE oparl_sources SET last_sync = $2, updated_at = now() WHERE id = $1`, sourceID, when)
	}
	if err != nil {
		return fmt.Errorf("storage: update source sync times: %w", err)
	}
	return nil
}

// SetSourceActive toggles whether a source is eligible for scheduled sync.
func (db *DB) SetSourceActive(ctx context.Context, sourceID uuid.UUID, active bool) error {
	tag, err := db.pool.Exec(ctx, `UPDATE oparl_sources SET is_active = $2, updated_at = now() WHERE id = $1`, sourceID, active)
	if err != nil {
		return fmt.Errorf("storage: set source active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*model.Source, error) {
	var s model.Source
	err := row.Scan(&s.ID, &s.Name, &s.URL, &s.ContactEmail, &s.ContactName, &s.Website, &s.IsActive,
		&s.LastSync, &s.LastFullSync, &s.SyncConfig, &s.RawJSON, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan source: %w", err)
	}
	return &s, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
