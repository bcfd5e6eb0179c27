package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extraction-worker/internal/models"
	"extraction-worker/internal/taskmanager"
)

func plainCandidate(entity, file string) Candidate {
	return Candidate{
		EntityID:        entity,
		EntityTemplate:  "tpl1",
		Language:        "en",
		DefaultLanguage: true,
		FileID:          "f-" + entity,
		FileName:        file,
		Segmentation: models.Segmentation{
			PageWidth:  600,
			PageHeight: 800,
			Boxes:      []models.Box{{Width: 10, Height: 5, PageNumber: 1, Text: "some text"}},
		},
	}
}

func labeledCandidate(entity, file string, label models.Label) Candidate {
	c := plainCandidate(entity, file)
	c.Labels = []models.Label{label}
	return c
}

func selectTemplate() models.Template {
	return models.Template{ID: "tpl1", Properties: []models.Property{
		{Name: "subject", Type: models.PropertySelect, Content: "thes1"},
	}}
}

func textTemplate() models.Template {
	return models.Template{ID: "tpl1", Properties: []models.Property{
		{Name: "summary", Type: models.PropertyText},
	}}
}

func testEngine(extractor models.Extractor, data *fakeData, tasks *fakeTasks) (*Engine, *memModels, *memSuggestions) {
	mods := newMemModels()
	sugs := newMemSuggestions()
	e := NewEngine("tenant1", Deps{
		Extractors:  newMemExtractors(extractor),
		Models:      mods,
		Suggestions: sugs,
		Data:        data,
		Tasks:       tasks,
		Documents:   fakeDocs{},
	})
	return e, mods, sugs
}

func TestTrainModelSendsVocabularyAndLabeledMaterials(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Name: "subjects", Property: "subject", Templates: []string{"tpl1"}}
	data := &fakeData{
		templates:  []models.Template{selectTemplate()},
		vocabulary: []models.Option{{ID: "A", Label: "A"}, {ID: "B", Label: "B"}, {ID: "C", Label: "C"}},
		candidates: []Candidate{
			labeledCandidate("e1", "doc1.xml", models.Label{Values: []models.Option{{ID: "A", Label: "A"}}}),
			labeledCandidate("e2", "doc2.xml", models.Label{Values: []models.Option{{ID: "B", Label: "B"}}}),
			plainCandidate("e3", "doc3.xml"),
		},
	}
	tasks := &fakeTasks{}
	engine, mods, _ := testEngine(extractor, data, tasks)

	res, err := engine.TrainModel(context.Background(), "ext1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessingModel, res.Status)

	require.Len(t, tasks.started, 1)
	task := tasks.started[0]
	assert.Equal(t, taskmanager.TaskCreateModel, task.Task)
	assert.Equal(t, "tenant1", task.Tenant)
	assert.Equal(t, "ext1", task.Params.ID)
	require.NotNil(t, task.Params.MultiValue)
	assert.False(t, *task.Params.MultiValue)
	assert.Equal(t, []models.Option{{ID: "A", Label: "A"}, {ID: "B", Label: "B"}, {ID: "C", Label: "C"}}, task.Params.Options)

	// Only the labeled documents travel as training materials.
	require.Len(t, tasks.materials, 2)
	for _, up := range tasks.materials {
		assert.Equal(t, taskmanager.PhaseTrain, up.phase)
		assert.NotEmpty(t, up.material.Values)
	}

	model, err := mods.Get(context.Background(), "ext1")
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.True(t, model.FindingSuggestions)
	assert.Zero(t, model.Trained)
}

func TestTrainModelWithoutLabelsIsStructuredResult(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "subject", Templates: []string{"tpl1"}}
	data := &fakeData{
		templates:  []models.Template{selectTemplate()},
		candidates: []Candidate{plainCandidate("e1", "doc1.xml")},
	}
	tasks := &fakeTasks{}
	engine, mods, _ := testEngine(extractor, data, tasks)

	res, err := engine.TrainModel(context.Background(), "ext1")
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, NoLabeledData, res.Message)
	assert.Empty(t, tasks.started)
	assert.Empty(t, tasks.materials)

	model, err := mods.Get(context.Background(), "ext1")
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.False(t, model.FindingSuggestions)
}

func TestTrainModelTextNeedsTwoSamples(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	data := &fakeData{
		templates: []models.Template{textTemplate()},
		candidates: []Candidate{
			labeledCandidate("e1", "doc1.xml", models.Label{Text: "one sample"}),
		},
	}
	tasks := &fakeTasks{}
	engine, _, _ := testEngine(extractor, data, tasks)

	res, err := engine.TrainModel(context.Background(), "ext1")
	require.NoError(t, err)
	assert.Equal(t, NoLabeledData, res.Message)

	data.candidates = append(data.candidates,
		labeledCandidate("e2", "doc2.xml", models.Label{Text: "second sample"}))
	res, err = engine.TrainModel(context.Background(), "ext1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessingModel, res.Status)
}

func TestGetSuggestionsCreatesPlaceholdersAndBatches(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	data := &fakeData{
		templates: []models.Template{textTemplate()},
		candidates: []Candidate{
			plainCandidate("e1", "doc1.xml"),
			plainCandidate("e2", "doc2.xml"),
			plainCandidate("e3", "doc3.xml"),
		},
	}
	tasks := &fakeTasks{}
	engine, mods, sugs := testEngine(extractor, data, tasks)
	engine.now = func() time.Time { return time.UnixMilli(5000) }
	engine.batchSize = 2
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))

	require.NoError(t, engine.GetSuggestions(context.Background(), "ext1"))

	stored := sugs.all("ext1")
	require.Len(t, stored, 2)
	for _, s := range stored {
		assert.Equal(t, models.SuggestionProcessing, s.Status)
		assert.True(t, s.State.Processing)
		assert.EqualValues(t, 5000, s.Date)
	}
	require.Len(t, tasks.started, 1)
	assert.Equal(t, taskmanager.TaskSuggestions, tasks.started[0].Task)
	for _, up := range tasks.materials {
		assert.Equal(t, taskmanager.PhasePredict, up.phase)
		assert.Empty(t, up.material.LabelText)
	}

	// Next batch picks up the remaining candidate.
	require.NoError(t, engine.GetSuggestions(context.Background(), "ext1"))
	assert.Len(t, sugs.all("ext1"), 3)
	require.Len(t, tasks.started, 2)

	// All candidates covered: the run winds down.
	require.NoError(t, engine.GetSuggestions(context.Background(), "ext1"))
	assert.Len(t, tasks.started, 2)
	model, err := mods.Get(context.Background(), "ext1")
	require.NoError(t, err)
	assert.False(t, model.FindingSuggestions)
}

func TestProcessResultsModelSuccessStartsPrediction(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	data := &fakeData{
		templates:  []models.Template{textTemplate()},
		candidates: []Candidate{plainCandidate("e1", "doc1.xml")},
	}
	tasks := &fakeTasks{}
	engine, mods, _ := testEngine(extractor, data, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", FindingSuggestions: true,
	}))

	msg := taskmanager.ResultsMessage{
		Task:    taskmanager.TaskCreateModel,
		Tenant:  "tenant1",
		Params:  &taskmanager.ResultParams{ID: "ext1"},
		Success: true,
	}
	require.NoError(t, engine.ProcessResults(context.Background(), msg, nil))

	model, err := mods.Get(context.Background(), "ext1")
	require.NoError(t, err)
	assert.NotZero(t, model.Trained)
	require.Len(t, tasks.started, 1)
	assert.Equal(t, taskmanager.TaskSuggestions, tasks.started[0].Task)
}

func TestProcessResultsModelFailureStopsRun(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	tasks := &fakeTasks{}
	engine, mods, _ := testEngine(extractor, &fakeData{templates: []models.Template{textTemplate()}}, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", FindingSuggestions: true,
	}))

	msg := taskmanager.ResultsMessage{
		Task:         taskmanager.TaskCreateModel,
		Params:       &taskmanager.ResultParams{ID: "ext1"},
		Success:      false,
		ErrorMessage: "training crashed",
	}
	require.NoError(t, engine.ProcessResults(context.Background(), msg, nil))

	model, err := mods.Get(context.Background(), "ext1")
	require.NoError(t, err)
	assert.False(t, model.FindingSuggestions)
	assert.Empty(t, tasks.started)
}

func seedPlaceholder(t *testing.T, sugs *memSuggestions, language string) {
	t.Helper()
	require.NoError(t, sugs.Save(context.Background(), models.Suggestion{
		EntityID:       "e1",
		EntityTemplate: "tpl1",
		PropertyName:   "summary",
		Language:       language,
		ExtractorID:    "ext1",
		FileID:         "f-e1",
		Status:         models.SuggestionProcessing,
		Date:           9000,
		CreationDate:   9000,
	}))
	sugs.fileNames["f-e1"] = "doc1.xml"
	sugs.fileEntities["f-e1"] = "e1"
}

func suggestionsMessage() taskmanager.ResultsMessage {
	return taskmanager.ResultsMessage{
		Task:    taskmanager.TaskSuggestions,
		Tenant:  "tenant1",
		Params:  &taskmanager.ResultParams{ID: "ext1"},
		Success: true,
		DataURL: "http://tasks/suggestions_results/ext1",
	}
}

func TestIngestMatchingSuggestion(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	data := &fakeData{
		templates: []models.Template{textTemplate()},
		contexts: map[string]SuggestionContext{
			"e1|en": {CurrentValue: "Lion", Labeled: true},
		},
	}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{{
		Tenant:      "tenant1",
		ID:          "ext1",
		XMLFileName: "doc1.xml",
		Text:        "Lion",
		SegmentText: "the Lion of the valley",
	}}}
	engine, mods, sugs := testEngine(extractor, data, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))
	seedPlaceholder(t, sugs, "en")

	require.NoError(t, engine.ProcessResults(context.Background(), suggestionsMessage(), nil))

	s, err := sugs.Get(context.Background(), "ext1", "e1", "summary", "en")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, models.SuggestionReady, s.Status)
	assert.Equal(t, "Lion", s.SuggestedValue)
	assert.True(t, s.State.Match)
	assert.False(t, s.State.Obsolete)
	assert.True(t, s.State.HasContext)
}

func TestIngestObsoleteWhenValueCleared(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	data := &fakeData{
		templates: []models.Template{textTemplate()},
		contexts: map[string]SuggestionContext{
			"e1|en": {CurrentValue: nil, Labeled: true},
		},
	}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{{
		XMLFileName: "doc1.xml",
		Text:        "Lion",
		SegmentText: "the Lion of the valley",
	}}}
	engine, mods, sugs := testEngine(extractor, data, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))
	seedPlaceholder(t, sugs, "en")

	require.NoError(t, engine.ProcessResults(context.Background(), suggestionsMessage(), nil))

	s, err := sugs.Get(context.Background(), "ext1", "e1", "summary", "en")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, s.State.Obsolete)
	assert.False(t, s.State.Match)
}

func TestIngestDateNormalization(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	dateTemplate := models.Template{ID: "tpl1", Properties: []models.Property{
		{Name: "summary", Type: models.PropertyDate},
	}}
	data := &fakeData{templates: []models.Template{dateTemplate}}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{{
		XMLFileName: "doc1.xml",
		Text:        "2019-10-12",
		SegmentText: "issued on 2019-10-12",
	}}}
	engine, mods, sugs := testEngine(extractor, data, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))
	seedPlaceholder(t, sugs, "en")

	require.NoError(t, engine.ProcessResults(context.Background(), suggestionsMessage(), nil))

	s, err := sugs.Get(context.Background(), "ext1", "e1", "summary", "en")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, models.SuggestionReady, s.Status)
	assert.EqualValues(t, 1570838400, s.SuggestedValue)
}

func TestIngestInvalidDateFailsSuggestion(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	dateTemplate := models.Template{ID: "tpl1", Properties: []models.Property{
		{Name: "summary", Type: models.PropertyDate},
	}}
	data := &fakeData{templates: []models.Template{dateTemplate}}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{{
		XMLFileName: "doc1.xml",
		Text:        "sometime last spring",
		SegmentText: "sometime last spring",
	}}}
	engine, mods, sugs := testEngine(extractor, data, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))
	seedPlaceholder(t, sugs, "en")

	require.NoError(t, engine.ProcessResults(context.Background(), suggestionsMessage(), nil))

	s, err := sugs.Get(context.Background(), "ext1", "e1", "summary", "en")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, models.SuggestionFailed, s.Status)
	assert.NotEmpty(t, s.Error)
	assert.True(t, s.State.Error)
	assert.False(t, s.State.WithSuggestion)
}

func TestIngestIsolatesBadItems(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	data := &fakeData{templates: []models.Template{textTemplate()}}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{
		{XMLFileName: "unknown.xml", Text: "orphan"},
		{XMLFileName: "doc1.xml", Text: "Lion", SegmentText: "the Lion"},
	}}
	engine, mods, sugs := testEngine(extractor, data, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))
	seedPlaceholder(t, sugs, "en")

	require.NoError(t, engine.ProcessResults(context.Background(), suggestionsMessage(), nil))

	s, err := sugs.Get(context.Background(), "ext1", "e1", "summary", "en")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, models.SuggestionReady, s.Status)
}

func TestIngestUpdatesEveryLanguageRecordOfAFile(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	data := &fakeData{templates: []models.Template{textTemplate()}}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{{
		XMLFileName: "doc1.xml",
		Text:        "Lion",
		SegmentText: "the Lion",
	}}}
	engine, mods, sugs := testEngine(extractor, data, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))
	seedPlaceholder(t, sugs, "en")
	seedPlaceholder(t, sugs, "es")

	require.NoError(t, engine.ProcessResults(context.Background(), suggestionsMessage(), nil))

	for _, lang := range []string{"en", "es"} {
		s, err := sugs.Get(context.Background(), "ext1", "e1", "summary", lang)
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, models.SuggestionReady, s.Status, lang)
		assert.Equal(t, "Lion", s.SuggestedValue, lang)
	}
}

func TestIngestCallsHeartbeatPerItem(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	data := &fakeData{templates: []models.Template{textTemplate()}}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{
		{XMLFileName: "doc1.xml", Text: "a", SegmentText: "a"},
		{XMLFileName: "doc1.xml", Text: "b", SegmentText: "b"},
		{XMLFileName: "doc1.xml", Text: "c", SegmentText: "c"},
	}}
	engine, mods, sugs := testEngine(extractor, data, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))
	seedPlaceholder(t, sugs, "en")

	beats := 0
	heartbeat := func(context.Context) error {
		beats++
		return nil
	}
	require.NoError(t, engine.ProcessResults(context.Background(), suggestionsMessage(), heartbeat))
	assert.Equal(t, 3, beats)
}

func TestFailedBatchMarksSuggestionsFailed(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{{XMLFileName: "doc1.xml"}}}
	engine, mods, sugs := testEngine(extractor, &fakeData{templates: []models.Template{textTemplate()}}, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))
	seedPlaceholder(t, sugs, "en")

	msg := suggestionsMessage()
	msg.Success = false
	msg.ErrorMessage = "Issue calculation suggestion"
	require.NoError(t, engine.ProcessResults(context.Background(), msg, nil))

	s, err := sugs.Get(context.Background(), "ext1", "e1", "summary", "en")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, models.SuggestionFailed, s.Status)
	assert.Equal(t, "Issue calculation suggestion", s.Error)
	assert.True(t, s.State.Error)
	assert.False(t, s.State.WithSuggestion)

	// The run winds down without requesting another batch.
	model, err := mods.Get(context.Background(), "ext1")
	require.NoError(t, err)
	assert.False(t, model.FindingSuggestions)
	assert.Empty(t, tasks.started)
}

func TestIngestFallsBackToDefaultLanguageRecord(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	data := &fakeData{templates: []models.Template{textTemplate()}}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{{
		XMLFileName: "doc-fr.xml",
		Text:        "Lion",
		SegmentText: "the Lion",
	}}}
	engine, mods, sugs := testEngine(extractor, data, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true,
	}))
	seedPlaceholder(t, sugs, "en")
	// A translated document of the same entity, with no suggestion record of
	// its own language.
	sugs.fileNames["f-fr"] = "doc-fr.xml"
	sugs.fileEntities["f-fr"] = "e1"

	require.NoError(t, engine.ProcessResults(context.Background(), suggestionsMessage(), nil))

	s, err := sugs.Get(context.Background(), "ext1", "e1", "summary", "en")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, models.SuggestionReady, s.Status)
	assert.Equal(t, "Lion", s.SuggestedValue)
}

func TestCanceledBatchIsIgnored(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	tasks := &fakeTasks{results: []taskmanager.RawSuggestion{{XMLFileName: "doc1.xml", Text: "x"}}}
	engine, mods, sugs := testEngine(extractor, &fakeData{templates: []models.Template{textTemplate()}}, tasks)
	require.NoError(t, mods.Save(context.Background(), models.ExtractionModel{
		ExtractorID: "ext1", Trained: 1000, FindingSuggestions: false,
	}))
	seedPlaceholder(t, sugs, "en")

	require.NoError(t, engine.ProcessResults(context.Background(), suggestionsMessage(), nil))

	s, err := sugs.Get(context.Background(), "ext1", "e1", "summary", "en")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionProcessing, s.Status)
}

func TestStatusPhases(t *testing.T) {
	extractor := models.Extractor{ID: "ext1", Property: "summary", Templates: []string{"tpl1"}}
	engine, mods, sugs := testEngine(extractor, &fakeData{templates: []models.Template{textTemplate()}}, &fakeTasks{})
	ctx := context.Background()

	res, err := engine.Status(ctx, "ext1")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, res.Status)

	require.NoError(t, mods.Save(ctx, models.ExtractionModel{ExtractorID: "ext1", FindingSuggestions: true}))
	res, err = engine.Status(ctx, "ext1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessingModel, res.Status)

	require.NoError(t, mods.Save(ctx, models.ExtractionModel{ExtractorID: "ext1", Trained: 1000, FindingSuggestions: true}))
	for i, status := range []string{models.SuggestionReady, models.SuggestionReady, models.SuggestionReady, models.SuggestionProcessing} {
		require.NoError(t, sugs.Save(ctx, models.Suggestion{
			EntityID:     string(rune('a' + i)),
			PropertyName: "summary",
			Language:     "en",
			ExtractorID:  "ext1",
			Status:       status,
		}))
	}
	res, err = engine.Status(ctx, "ext1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessingSuggestions, res.Status)
	require.NotNil(t, res.Data)
	assert.Equal(t, 4, res.Data.Total)
	assert.Equal(t, 3, res.Data.Processed)
}
