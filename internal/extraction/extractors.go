package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"extraction-worker/internal/models"
)

// Manager owns the extractor lifecycle for one tenant: configuration CRUD
// plus the suggestion cascades that keep stored suggestions consistent with
// the configuration.
type Manager struct {
	store       ExtractorStore
	modelStore  ModelStore
	suggestions SuggestionStore
	data        DataSource
	log         *zap.Logger

	now func() time.Time
}

// NewManager builds a lifecycle manager from the same dependency set the
// engine uses.
func NewManager(deps Deps) *Manager {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:       deps.Extractors,
		modelStore:  deps.Models,
		suggestions: deps.Suggestions,
		data:        deps.Data,
		log:         log,
		now:         time.Now,
	}
}

// Create validates and stores a new extractor, then seeds a blank suggestion
// for every candidate in its scope.
func (m *Manager) Create(ctx context.Context, name, property string, templates []string) (models.Extractor, error) {
	if err := m.validate(ctx, property, templates); err != nil {
		return models.Extractor{}, err
	}
	extractor := models.Extractor{
		ID:        uuid.NewString(),
		Name:      name,
		Property:  property,
		Templates: templates,
	}
	if err := m.store.Create(ctx, extractor); err != nil {
		return models.Extractor{}, fmt.Errorf("failed to create extractor: %w", err)
	}
	if err := m.seedBlanks(ctx, extractor, templates); err != nil {
		return models.Extractor{}, err
	}
	m.log.Info("extractor created",
		zap.String("extractor", extractor.ID),
		zap.String("property", property))
	return extractor, nil
}

// Update rewrites an extractor's configuration. Changing the target property
// invalidates every stored suggestion; changing only the template set
// removes suggestions that left scope and seeds blanks for templates that
// entered it.
func (m *Manager) Update(ctx context.Context, updated models.Extractor) (models.Extractor, error) {
	existing, err := m.store.Get(ctx, updated.ID)
	if err != nil {
		return models.Extractor{}, fmt.Errorf("failed to load extractor: %w", err)
	}
	if existing == nil {
		return models.Extractor{}, fmt.Errorf("extractor %q not found", updated.ID)
	}
	if err := m.validate(ctx, updated.Property, updated.Templates); err != nil {
		return models.Extractor{}, err
	}
	if err := m.store.Update(ctx, updated); err != nil {
		return models.Extractor{}, fmt.Errorf("failed to update extractor: %w", err)
	}

	if updated.Property != existing.Property {
		if err := m.suggestions.DeleteByExtractor(ctx, updated.ID); err != nil {
			return models.Extractor{}, fmt.Errorf("failed to clear suggestions: %w", err)
		}
		if err := m.seedBlanks(ctx, updated, updated.Templates); err != nil {
			return models.Extractor{}, err
		}
		return updated, nil
	}

	removed := difference(existing.Templates, updated.Templates)
	added := difference(updated.Templates, existing.Templates)
	if len(removed) > 0 {
		if err := m.suggestions.DeleteByTemplates(ctx, updated.ID, removed); err != nil {
			return models.Extractor{}, fmt.Errorf("failed to clear out-of-scope suggestions: %w", err)
		}
	}
	if len(added) > 0 {
		if err := m.seedBlanks(ctx, updated, added); err != nil {
			return models.Extractor{}, err
		}
	}
	return updated, nil
}

// Delete removes an extractor together with its model record and every
// suggestion it produced.
func (m *Manager) Delete(ctx context.Context, id string) error {
	existing, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load extractor: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("extractor %q not found", id)
	}
	if err := m.suggestions.DeleteByExtractor(ctx, id); err != nil {
		return fmt.Errorf("failed to delete suggestions: %w", err)
	}
	if err := m.modelStore.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete model record: %w", err)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete extractor: %w", err)
	}
	m.log.Info("extractor deleted", zap.String("extractor", id))
	return nil
}

// List returns the tenant's extractors.
func (m *Manager) List(ctx context.Context) ([]models.Extractor, error) {
	return m.store.List(ctx)
}

// validate checks the target templates exist and all expose the property
// with one consistent, allowed type.
func (m *Manager) validate(ctx context.Context, property string, templateIDs []string) error {
	if len(templateIDs) == 0 {
		return fmt.Errorf("extractor needs at least one template")
	}
	templates, err := m.data.Templates(ctx, templateIDs)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	found := make(map[string]bool, len(templates))
	for _, tpl := range templates {
		found[tpl.ID] = true
	}
	for _, id := range templateIDs {
		if !found[id] {
			return fmt.Errorf("template %q not found", id)
		}
	}

	propType := ""
	for _, tpl := range templates {
		prop, ok := tpl.FindProperty(property)
		if !ok {
			return fmt.Errorf("property %q missing on template %q", property, tpl.ID)
		}
		if !models.PropertyTypeAllowed(prop.Type) {
			return fmt.Errorf("property type %q not supported", prop.Type)
		}
		if propType == "" {
			propType = prop.Type
		} else if prop.Type != propType {
			return fmt.Errorf("property %q has mixed types across templates", property)
		}
	}
	return nil
}

// seedBlanks writes an empty ready suggestion for every candidate of the
// given templates that has none yet, so the extractor's scope is visible
// before any prediction runs.
func (m *Manager) seedBlanks(ctx context.Context, extractor models.Extractor, templates []string) error {
	scoped := extractor
	scoped.Templates = templates
	candidates, err := m.data.Candidates(ctx, scoped)
	if err != nil {
		return fmt.Errorf("failed to gather candidates: %w", err)
	}

	for _, c := range candidates {
		existing, err := m.suggestions.Get(ctx, extractor.ID, c.EntityID, extractor.Property, c.Language)
		if err != nil {
			return fmt.Errorf("failed to load suggestion: %w", err)
		}
		if existing != nil {
			continue
		}
		now := m.now().UnixMilli()
		s := models.Suggestion{
			EntityID:       c.EntityID,
			EntityTemplate: c.EntityTemplate,
			PropertyName:   extractor.Property,
			Language:       c.Language,
			ExtractorID:    extractor.ID,
			FileID:         c.FileID,
			CurrentValue:   c.CurrentValue,
			Status:         models.SuggestionReady,
			Date:           now,
			CreationDate:   now,
		}
		s.State = ComputeState(StateInput{
			CurrentValue: s.CurrentValue,
			Labeled:      c.Labeled(),
		})
		if err := m.suggestions.Save(ctx, s); err != nil {
			return fmt.Errorf("failed to save blank suggestion: %w", err)
		}
	}
	return nil
}

func difference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, v := range b {
		inB[v] = true
	}
	var out []string
	for _, v := range a {
		if !inB[v] {
			out = append(out, v)
		}
	}
	return out
}
