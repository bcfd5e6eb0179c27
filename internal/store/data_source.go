package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"extraction-worker/internal/extraction"
	"extraction-worker/internal/models"
)

// DataSource reads entities, templates, files and segmentations for one
// tenant. It is the read side the extraction engine gathers materials from.
type DataSource struct {
	pool   *pgxpool.Pool
	tenant string
}

// Candidates joins entities in the extractor's template scope with their
// documents and finished segmentations. Documents without a usable
// segmentation never appear.
func (d *DataSource) Candidates(ctx context.Context, extractor models.Extractor) ([]extraction.Candidate, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT e.id, e.template_id, e.language, e.default_language, e.title,
			f.id, f.filename,
			e.metadata -> $3,
			f.extracted_metadata -> $3,
			sg.page_width, sg.page_height, sg.boxes
		FROM entities e
		JOIN files f ON f.tenant = $1 AND f.entity_id = e.id AND (f.language = e.language OR f.language = '')
		JOIN segmentations sg ON sg.tenant = $1 AND sg.file_id = f.id AND sg.status = 'ready'
		WHERE e.tenant = $1 AND e.template_id = ANY($2)
		ORDER BY e.id, e.language
	`, d.tenant, extractor.Templates, extractor.Property)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []extraction.Candidate
	for rows.Next() {
		var c extraction.Candidate
		var title string
		var value, label, boxes []byte
		if err := rows.Scan(&c.EntityID, &c.EntityTemplate, &c.Language, &c.DefaultLanguage, &title,
			&c.FileID, &c.FileName, &value, &label, &c.Segmentation.PageWidth, &c.Segmentation.PageHeight, &boxes); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if extractor.Property == models.PropertyTitle {
			c.CurrentValue = title
		} else if err := unmarshalValue(value, &c.CurrentValue); err != nil {
			return nil, fmt.Errorf("unmarshal entity value: %w", err)
		}
		if len(label) > 0 {
			var l models.Label
			if err := json.Unmarshal(label, &l); err != nil {
				return nil, fmt.Errorf("unmarshal label: %w", err)
			}
			c.Labels = []models.Label{l}
		}
		if len(boxes) > 0 {
			if err := json.Unmarshal(boxes, &c.Segmentation.Boxes); err != nil {
				return nil, fmt.Errorf("unmarshal segmentation boxes: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *DataSource) Templates(ctx context.Context, ids []string) ([]models.Template, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, properties FROM templates
		WHERE tenant = $1 AND id = ANY($2)
	`, d.tenant, ids)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []models.Template
	for rows.Next() {
		var t models.Template
		var properties []byte
		if err := rows.Scan(&t.ID, &t.Name, &properties); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := json.Unmarshal(properties, &t.Properties); err != nil {
			return nil, fmt.Errorf("unmarshal template properties: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Vocabulary lists the full option set behind an option-valued property:
// thesaurus entries for select/multiselect, related entities for
// relationship properties.
func (d *DataSource) Vocabulary(ctx context.Context, property models.Property) ([]models.Option, error) {
	if property.Type == models.PropertyRelationship {
		rows, err := d.pool.Query(ctx, `
			SELECT id, title FROM entities
			WHERE tenant = $1 AND template_id = $2 AND default_language
			ORDER BY title
		`, d.tenant, property.Content)
		if err != nil {
			return nil, fmt.Errorf("query related entities: %w", err)
		}
		defer rows.Close()

		var out []models.Option
		for rows.Next() {
			var o models.Option
			if err := rows.Scan(&o.ID, &o.Label); err != nil {
				return nil, fmt.Errorf("scan related entity: %w", err)
			}
			out = append(out, o)
		}
		return out, rows.Err()
	}

	var raw []byte
	err := d.pool.QueryRow(ctx, `
		SELECT options FROM thesauri WHERE tenant = $1 AND id = $2
	`, d.tenant, property.Content).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thesaurus %q not found", property.Content)
	}
	if err != nil {
		return nil, fmt.Errorf("query thesaurus: %w", err)
	}
	var out []models.Option
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal thesaurus options: %w", err)
	}
	return out, nil
}

func (d *DataSource) DefaultLanguage(ctx context.Context) (string, error) {
	var lang string
	err := d.pool.QueryRow(ctx, `SELECT default_language FROM settings WHERE tenant = $1`, d.tenant).Scan(&lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return "en", nil
	}
	if err != nil {
		return "", fmt.Errorf("query default language: %w", err)
	}
	return lang, nil
}

// SuggestionContext fetches the entity value and label presence for a
// suggestion's coordinate at write time.
func (d *DataSource) SuggestionContext(ctx context.Context, s models.Suggestion) (extraction.SuggestionContext, error) {
	var title string
	var value []byte
	var labeled bool
	err := d.pool.QueryRow(ctx, `
		SELECT e.title, e.metadata -> $4,
			EXISTS (
				SELECT 1 FROM files f
				WHERE f.tenant = $1 AND f.entity_id = e.id AND f.extracted_metadata ? $4
			)
		FROM entities e
		WHERE e.tenant = $1 AND e.id = $2 AND e.language = $3
	`, d.tenant, s.EntityID, s.Language, s.PropertyName).Scan(&title, &value, &labeled)
	if errors.Is(err, pgx.ErrNoRows) {
		return extraction.SuggestionContext{}, fmt.Errorf("entity %q not found", s.EntityID)
	}
	if err != nil {
		return extraction.SuggestionContext{}, fmt.Errorf("query entity context: %w", err)
	}

	sctx := extraction.SuggestionContext{Labeled: labeled}
	if s.PropertyName == models.PropertyTitle {
		sctx.CurrentValue = title
	} else if err := unmarshalValue(value, &sctx.CurrentValue); err != nil {
		return extraction.SuggestionContext{}, fmt.Errorf("unmarshal entity value: %w", err)
	}
	return sctx, nil
}
