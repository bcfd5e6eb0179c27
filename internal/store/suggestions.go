package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"extraction-worker/internal/models"
)

const suggestionColumns = `id, extractor_id, entity_id, entity_template, property_name, language,
	file_id, page, segment, suggested_value, suggested_text, current_value,
	status, error, state, date, creation_date`

// SuggestionStore persists suggestions for one tenant. Saving is an upsert
// on the (extractorId, entityId, propertyName, language) coordinate.
type SuggestionStore struct {
	pool   *pgxpool.Pool
	tenant string
}

func (s *SuggestionStore) Save(ctx context.Context, sg models.Suggestion) error {
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	suggested, err := marshalValue(sg.SuggestedValue)
	if err != nil {
		return fmt.Errorf("marshal suggested value: %w", err)
	}
	current, err := marshalValue(sg.CurrentValue)
	if err != nil {
		return fmt.Errorf("marshal current value: %w", err)
	}
	state, err := json.Marshal(sg.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO suggestions (id, tenant, extractor_id, entity_id, entity_template, property_name,
			language, file_id, page, segment, suggested_value, suggested_text, current_value,
			status, error, state, date, creation_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (tenant, extractor_id, entity_id, property_name, language)
		DO UPDATE SET entity_template = $5, file_id = $8, page = $9, segment = $10,
			suggested_value = $11, suggested_text = $12, current_value = $13,
			status = $14, error = $15, state = $16, date = $17
	`, sg.ID, s.tenant, sg.ExtractorID, sg.EntityID, sg.EntityTemplate, sg.PropertyName,
		sg.Language, sg.FileID, sg.Page, sg.Segment, suggested, sg.SuggestedText, current,
		sg.Status, sg.Error, state, sg.Date, sg.CreationDate)
	if err != nil {
		return fmt.Errorf("save suggestion: %w", err)
	}
	return nil
}

func (s *SuggestionStore) Get(ctx context.Context, extractorID, entityID, property, language string) (*models.Suggestion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+suggestionColumns+` FROM suggestions
		WHERE tenant = $1 AND extractor_id = $2 AND entity_id = $3 AND property_name = $4 AND language = $5
	`, s.tenant, extractorID, entityID, property, language)

	sg, err := scanSuggestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion: %w", err)
	}
	return sg, nil
}

// ForFile resolves the suggestion records behind one source document. When
// the document's own language has no record, the defaultLanguage record for
// the same entity is used as a fallback.
func (s *SuggestionStore) ForFile(ctx context.Context, extractorID, fileName, defaultLanguage string) ([]models.Suggestion, error) {
	out, err := s.querySuggestions(ctx, `
		SELECT `+prefixed(suggestionColumns, "s.")+`
		FROM suggestions s
		JOIN files f ON f.tenant = $1 AND f.id = s.file_id
		WHERE s.tenant = $1 AND s.extractor_id = $2 AND f.filename = $3
	`, s.tenant, extractorID, fileName)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}

	return s.querySuggestions(ctx, `
		SELECT `+prefixed(suggestionColumns, "s.")+`
		FROM suggestions s
		JOIN files f ON f.tenant = $1 AND f.entity_id = s.entity_id
		WHERE s.tenant = $1 AND s.extractor_id = $2 AND f.filename = $3 AND s.language = $4
	`, s.tenant, extractorID, fileName, defaultLanguage)
}

func (s *SuggestionStore) Counts(ctx context.Context, extractorID string) (int, int, error) {
	var total, processing int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE status = $3) FROM suggestions
		WHERE tenant = $1 AND extractor_id = $2
	`, s.tenant, extractorID, models.SuggestionProcessing).Scan(&total, &processing)
	if err != nil {
		return 0, 0, fmt.Errorf("count suggestions: %w", err)
	}
	return total, processing, nil
}

func (s *SuggestionStore) DeleteByExtractor(ctx context.Context, extractorID string) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM suggestions WHERE tenant = $1 AND extractor_id = $2
	`, s.tenant, extractorID); err != nil {
		return fmt.Errorf("delete suggestions: %w", err)
	}
	return nil
}

func (s *SuggestionStore) DeleteByTemplates(ctx context.Context, extractorID string, templates []string) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM suggestions
		WHERE tenant = $1 AND extractor_id = $2 AND entity_template = ANY($3)
	`, s.tenant, extractorID, templates); err != nil {
		return fmt.Errorf("delete suggestions by template: %w", err)
	}
	return nil
}

func (s *SuggestionStore) querySuggestions(ctx context.Context, sql string, args ...any) ([]models.Suggestion, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer rows.Close()

	var out []models.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, *sg)
	}
	return out, rows.Err()
}

func scanSuggestion(row pgx.Row) (*models.Suggestion, error) {
	var sg models.Suggestion
	var suggested, current, state []byte
	if err := row.Scan(&sg.ID, &sg.ExtractorID, &sg.EntityID, &sg.EntityTemplate, &sg.PropertyName,
		&sg.Language, &sg.FileID, &sg.Page, &sg.Segment, &suggested, &sg.SuggestedText, &current,
		&sg.Status, &sg.Error, &state, &sg.Date, &sg.CreationDate); err != nil {
		return nil, err
	}
	if err := unmarshalValue(suggested, &sg.SuggestedValue); err != nil {
		return nil, err
	}
	if err := unmarshalValue(current, &sg.CurrentValue); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(state, &sg.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &sg, nil
}

func marshalValue(v models.Value) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalValue(raw []byte, into *models.Value) error {
	if len(raw) == 0 {
		*into = nil
		return nil
	}
	return json.Unmarshal(raw, into)
}

func prefixed(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
