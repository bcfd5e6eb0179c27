package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"extraction-worker/internal/models"
)

// ExtractorStore persists extractor configurations for one tenant.
type ExtractorStore struct {
	pool   *pgxpool.Pool
	tenant string
}

func (s *ExtractorStore) Get(ctx context.Context, id string) (*models.Extractor, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, property, templates FROM extractors
		WHERE tenant = $1 AND id = $2
	`, s.tenant, id)

	extractor, err := scanExtractor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get extractor: %w", err)
	}
	return extractor, nil
}

func (s *ExtractorStore) Create(ctx context.Context, e models.Extractor) error {
	templates, err := json.Marshal(e.Templates)
	if err != nil {
		return fmt.Errorf("marshal templates: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO extractors (id, tenant, name, property, templates)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, s.tenant, e.Name, e.Property, templates)
	if err != nil {
		return fmt.Errorf("insert extractor: %w", err)
	}
	return nil
}

func (s *ExtractorStore) Update(ctx context.Context, e models.Extractor) error {
	templates, err := json.Marshal(e.Templates)
	if err != nil {
		return fmt.Errorf("marshal templates: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE extractors SET name = $3, property = $4, templates = $5
		WHERE tenant = $1 AND id = $2
	`, s.tenant, e.ID, e.Name, e.Property, templates)
	if err != nil {
		return fmt.Errorf("update extractor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("extractor %q not found", e.ID)
	}
	return nil
}

func (s *ExtractorStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM extractors WHERE tenant = $1 AND id = $2`, s.tenant, id); err != nil {
		return fmt.Errorf("delete extractor: %w", err)
	}
	return nil
}

func (s *ExtractorStore) List(ctx context.Context) ([]models.Extractor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, property, templates FROM extractors
		WHERE tenant = $1 ORDER BY created_at
	`, s.tenant)
	if err != nil {
		return nil, fmt.Errorf("list extractors: %w", err)
	}
	defer rows.Close()

	var out []models.Extractor
	for rows.Next() {
		extractor, err := scanExtractor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan extractor: %w", err)
		}
		out = append(out, *extractor)
	}
	return out, rows.Err()
}

func scanExtractor(row pgx.Row) (*models.Extractor, error) {
	var e models.Extractor
	var templates []byte
	if err := row.Scan(&e.ID, &e.Name, &e.Property, &templates); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(templates, &e.Templates); err != nil {
		return nil, fmt.Errorf("unmarshal templates: %w", err)
	}
	return &e, nil
}

// ModelStore persists the per-extractor model record for one tenant.
type ModelStore struct {
	pool   *pgxpool.Pool
	tenant string
}

func (s *ModelStore) Get(ctx context.Context, extractorID string) (*models.ExtractionModel, error) {
	var m models.ExtractionModel
	err := s.pool.QueryRow(ctx, `
		SELECT extractor_id, trained, finding_suggestions FROM ix_models
		WHERE tenant = $1 AND extractor_id = $2
	`, s.tenant, extractorID).Scan(&m.ExtractorID, &m.Trained, &m.FindingSuggestions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get model record: %w", err)
	}
	return &m, nil
}

func (s *ModelStore) Save(ctx context.Context, m models.ExtractionModel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ix_models (extractor_id, tenant, trained, finding_suggestions)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant, extractor_id)
		DO UPDATE SET trained = $3, finding_suggestions = $4
	`, m.ExtractorID, s.tenant, m.Trained, m.FindingSuggestions)
	if err != nil {
		return fmt.Errorf("save model record: %w", err)
	}
	return nil
}

func (s *ModelStore) Delete(ctx context.Context, extractorID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ix_models WHERE tenant = $1 AND extractor_id = $2`, s.tenant, extractorID); err != nil {
		return fmt.Errorf("delete model record: %w", err)
	}
	return nil
}
