package extraction

import (
	"context"
	"fmt"
	"io"
	"strings"

	"extraction-worker/internal/models"
	"extraction-worker/internal/taskmanager"
)

type memExtractors struct {
	items map[string]models.Extractor
}

func newMemExtractors(items ...models.Extractor) *memExtractors {
	m := &memExtractors{items: map[string]models.Extractor{}}
	for _, e := range items {
		m.items[e.ID] = e
	}
	return m
}

func (m *memExtractors) Get(_ context.Context, id string) (*models.Extractor, error) {
	e, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memExtractors) Create(_ context.Context, e models.Extractor) error {
	m.items[e.ID] = e
	return nil
}

func (m *memExtractors) Update(_ context.Context, e models.Extractor) error {
	m.items[e.ID] = e
	return nil
}

func (m *memExtractors) Delete(_ context.Context, id string) error {
	delete(m.items, id)
	return nil
}

func (m *memExtractors) List(_ context.Context) ([]models.Extractor, error) {
	var out []models.Extractor
	for _, e := range m.items {
		out = append(out, e)
	}
	return out, nil
}

type memModels struct {
	items map[string]models.ExtractionModel
}

func newMemModels() *memModels {
	return &memModels{items: map[string]models.ExtractionModel{}}
}

func (m *memModels) Get(_ context.Context, extractorID string) (*models.ExtractionModel, error) {
	rec, ok := m.items[extractorID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memModels) Save(_ context.Context, rec models.ExtractionModel) error {
	m.items[rec.ExtractorID] = rec
	return nil
}

func (m *memModels) Delete(_ context.Context, extractorID string) error {
	delete(m.items, extractorID)
	return nil
}

type memSuggestions struct {
	items map[string]models.Suggestion
	// fileNames maps fileId to source document name, fileEntities maps
	// fileId to the owning entity, both for ForFile lookups.
	fileNames    map[string]string
	fileEntities map[string]string
	seq          int
}

func newMemSuggestions() *memSuggestions {
	return &memSuggestions{
		items:        map[string]models.Suggestion{},
		fileNames:    map[string]string{},
		fileEntities: map[string]string{},
	}
}

func coord(extractorID, entityID, property, language string) string {
	return extractorID + "|" + entityID + "|" + property + "|" + language
}

func (m *memSuggestions) Save(_ context.Context, s models.Suggestion) error {
	if s.ID == "" {
		m.seq++
		s.ID = fmt.Sprintf("sug%d", m.seq)
	}
	m.items[coord(s.ExtractorID, s.EntityID, s.PropertyName, s.Language)] = s
	return nil
}

func (m *memSuggestions) Get(_ context.Context, extractorID, entityID, property, language string) (*models.Suggestion, error) {
	s, ok := m.items[coord(extractorID, entityID, property, language)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSuggestions) ForFile(_ context.Context, extractorID, fileName, defaultLanguage string) ([]models.Suggestion, error) {
	var out []models.Suggestion
	for _, s := range m.items {
		if s.ExtractorID == extractorID && m.fileNames[s.FileID] == fileName {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	// No record in the document's own language: fall back to the entity's
	// default-language record.
	for fileID, name := range m.fileNames {
		if name != fileName {
			continue
		}
		entity := m.fileEntities[fileID]
		for _, s := range m.items {
			if s.ExtractorID == extractorID && s.EntityID == entity && s.Language == defaultLanguage {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (m *memSuggestions) Counts(_ context.Context, extractorID string) (int, int, error) {
	total, processing := 0, 0
	for _, s := range m.items {
		if s.ExtractorID != extractorID {
			continue
		}
		total++
		if s.Status == models.SuggestionProcessing {
			processing++
		}
	}
	return total, processing, nil
}

func (m *memSuggestions) DeleteByExtractor(_ context.Context, extractorID string) error {
	for k, s := range m.items {
		if s.ExtractorID == extractorID {
			delete(m.items, k)
		}
	}
	return nil
}

func (m *memSuggestions) DeleteByTemplates(_ context.Context, extractorID string, templates []string) error {
	scope := map[string]bool{}
	for _, t := range templates {
		scope[t] = true
	}
	for k, s := range m.items {
		if s.ExtractorID == extractorID && scope[s.EntityTemplate] {
			delete(m.items, k)
		}
	}
	return nil
}

func (m *memSuggestions) all(extractorID string) []models.Suggestion {
	var out []models.Suggestion
	for _, s := range m.items {
		if s.ExtractorID == extractorID {
			out = append(out, s)
		}
	}
	return out
}

type fakeData struct {
	candidates  []Candidate
	templates   []models.Template
	vocabulary  []models.Option
	defaultLang string
	// contexts keyed by entityId|language overrides the candidate-derived
	// entity facts at ingestion time.
	contexts map[string]SuggestionContext
}

func (f *fakeData) Candidates(_ context.Context, extractor models.Extractor) ([]Candidate, error) {
	scope := map[string]bool{}
	for _, t := range extractor.Templates {
		scope[t] = true
	}
	var out []Candidate
	for _, c := range f.candidates {
		if scope[c.EntityTemplate] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeData) Templates(_ context.Context, ids []string) ([]models.Template, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Template
	for _, t := range f.templates {
		if want[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeData) Vocabulary(_ context.Context, _ models.Property) ([]models.Option, error) {
	return f.vocabulary, nil
}

func (f *fakeData) DefaultLanguage(_ context.Context) (string, error) {
	if f.defaultLang == "" {
		return "en", nil
	}
	return f.defaultLang, nil
}

func (f *fakeData) SuggestionContext(_ context.Context, s models.Suggestion) (SuggestionContext, error) {
	if sctx, ok := f.contexts[s.EntityID+"|"+s.Language]; ok {
		return sctx, nil
	}
	for _, c := range f.candidates {
		if c.EntityID == s.EntityID && c.Language == s.Language {
			return SuggestionContext{CurrentValue: c.CurrentValue, Labeled: c.Labeled()}, nil
		}
	}
	return SuggestionContext{CurrentValue: s.CurrentValue}, nil
}

type materialUpload struct {
	phase    taskmanager.Phase
	material taskmanager.Material
}

type fakeTasks struct {
	started   []taskmanager.Task
	files     []string
	materials []materialUpload
	results   []taskmanager.RawSuggestion
}

func (f *fakeTasks) StartTask(_ context.Context, task taskmanager.Task) error {
	f.started = append(f.started, task)
	return nil
}

func (f *fakeTasks) UploadFile(_ context.Context, phase taskmanager.Phase, _, _, fileName string, content io.Reader) error {
	io.Copy(io.Discard, content)
	f.files = append(f.files, string(phase)+":"+fileName)
	return nil
}

func (f *fakeTasks) UploadMaterials(_ context.Context, phase taskmanager.Phase, material taskmanager.Material) error {
	f.materials = append(f.materials, materialUpload{phase: phase, material: material})
	return nil
}

func (f *fakeTasks) Results(_ context.Context, _ string) ([]taskmanager.RawSuggestion, error) {
	return f.results, nil
}

type fakeDocs struct{}

func (fakeDocs) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("<xml/>")), nil
}
