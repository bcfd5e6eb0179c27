package extraction

import (
	"context"
	"io"

	"extraction-worker/internal/models"
	"extraction-worker/internal/taskmanager"
)

// Candidate is one (entity, file) pair inside an extractor's template scope
// whose document has finished segmentation. Training uses the labeled ones,
// prediction uses them all.
type Candidate struct {
	EntityID        string
	EntityTemplate  string
	Language        string
	DefaultLanguage bool
	FileID          string
	FileName        string
	CurrentValue    models.Value
	Labels          []models.Label
	Segmentation    models.Segmentation
}

// Labeled reports whether a user selected sample text for this candidate.
func (c Candidate) Labeled() bool {
	return len(c.Labels) > 0
}

// SuggestionContext is the live entity-side facts needed to classify a
// suggestion at the moment it is written.
type SuggestionContext struct {
	CurrentValue models.Value
	Labeled      bool
}

// DataSource reads entities, templates and segmentations for one tenant.
type DataSource interface {
	// Candidates returns every candidate in the extractor's scope.
	Candidates(ctx context.Context, extractor models.Extractor) ([]Candidate, error)
	// Templates resolves template definitions by id.
	Templates(ctx context.Context, ids []string) ([]models.Template, error)
	// Vocabulary lists the option set behind a select, multiselect or
	// relationship property.
	Vocabulary(ctx context.Context, property models.Property) ([]models.Option, error)
	// DefaultLanguage is the tenant's default content language.
	DefaultLanguage(ctx context.Context) (string, error)
	// SuggestionContext fetches the current entity value and label presence
	// for the suggestion's coordinate.
	SuggestionContext(ctx context.Context, s models.Suggestion) (SuggestionContext, error)
}

// ExtractorStore persists extractor configurations for one tenant.
type ExtractorStore interface {
	Get(ctx context.Context, id string) (*models.Extractor, error)
	Create(ctx context.Context, e models.Extractor) error
	Update(ctx context.Context, e models.Extractor) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.Extractor, error)
}

// ModelStore persists the per-extractor model record. Get returns (nil, nil)
// when the extractor was never trained.
type ModelStore interface {
	Get(ctx context.Context, extractorID string) (*models.ExtractionModel, error)
	Save(ctx context.Context, m models.ExtractionModel) error
	Delete(ctx context.Context, extractorID string) error
}

// SuggestionStore persists suggestions for one tenant. A save overwrites any
// earlier record at the same (entityId, propertyName, language, extractorId)
// coordinate. Get returns (nil, nil) when no record exists.
type SuggestionStore interface {
	Save(ctx context.Context, s models.Suggestion) error
	Get(ctx context.Context, extractorID, entityID, propertyName, language string) (*models.Suggestion, error)
	// ForFile returns the suggestions an extractor holds for one source
	// document, across languages. When the document's own language has no
	// record, the defaultLanguage record for the same entity is used as a
	// fallback.
	ForFile(ctx context.Context, extractorID, fileName, defaultLanguage string) ([]models.Suggestion, error)
	// Counts reports how many suggestions the extractor holds and how many
	// of them are still processing.
	Counts(ctx context.Context, extractorID string) (total int, processing int, err error)
	DeleteByExtractor(ctx context.Context, extractorID string) error
	// DeleteByTemplates removes the extractor's suggestions for entities of
	// the given templates.
	DeleteByTemplates(ctx context.Context, extractorID string, templates []string) error
}

// TaskManager submits work to the external task-execution service and
// fetches finished batches. *taskmanager.Client satisfies it.
type TaskManager interface {
	StartTask(ctx context.Context, task taskmanager.Task) error
	UploadFile(ctx context.Context, phase taskmanager.Phase, tenant, extractorID, fileName string, content io.Reader) error
	UploadMaterials(ctx context.Context, phase taskmanager.Phase, material taskmanager.Material) error
	Results(ctx context.Context, dataURL string) ([]taskmanager.RawSuggestion, error)
}

// DocumentOpener reads source documents by file name.
type DocumentOpener interface {
	Open(ctx context.Context, fileName string) (io.ReadCloser, error)
}
