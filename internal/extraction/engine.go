package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"extraction-worker/internal/models"
	"extraction-worker/internal/taskmanager"
	"extraction-worker/internal/telemetry"
)

// Extractor status values reported by Status.
const (
	StatusProcessingModel       = "processing_model"
	StatusProcessingSuggestions = "processing_suggestions"
	StatusReady                 = "ready"
)

// NoLabeledData is the structured outcome of training without labeled
// samples. It is a result, not an error.
const NoLabeledData = "No labeled data"

const defaultBatchSize = 50

// TrainResult is the outcome of a train request.
type TrainResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusData accompanies the processing_suggestions status.
type StatusData struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
}

// StatusResult is the answer to a status query.
type StatusResult struct {
	Status string      `json:"status"`
	Data   *StatusData `json:"data,omitempty"`
}

// Deps are the collaborators an Engine needs, all scoped to one tenant.
type Deps struct {
	Extractors  ExtractorStore
	Models      ModelStore
	Suggestions SuggestionStore
	Data        DataSource
	Tasks       TaskManager
	Documents   DocumentOpener
	Log         *zap.Logger
}

// Engine orchestrates model training and suggestion prediction for one
// tenant. It owns no goroutines; all methods run in the caller's context.
type Engine struct {
	tenant      string
	extractors  ExtractorStore
	modelStore  ModelStore
	suggestions SuggestionStore
	data        DataSource
	tasks       TaskManager
	docs        DocumentOpener
	log         *zap.Logger

	now       func() time.Time
	batchSize int
}

// NewEngine builds an engine for the given tenant.
func NewEngine(tenant string, deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		tenant:      tenant,
		extractors:  deps.Extractors,
		modelStore:  deps.Models,
		suggestions: deps.Suggestions,
		data:        deps.Data,
		tasks:       deps.Tasks,
		docs:        deps.Documents,
		log:         log.With(zap.String("tenant", tenant)),
		now:         time.Now,
		batchSize:   defaultBatchSize,
	}
}

// TrainModel gathers labeled materials for the extractor and submits a
// create_model task. Too few labeled samples is a structured "No labeled
// data" result that also stops suggestion finding.
func (e *Engine) TrainModel(ctx context.Context, extractorID string) (TrainResult, error) {
	extractor, property, err := e.resolveExtractor(ctx, extractorID)
	if err != nil {
		return TrainResult{}, err
	}

	candidates, err := e.data.Candidates(ctx, *extractor)
	if err != nil {
		return TrainResult{}, fmt.Errorf("failed to gather candidates: %w", err)
	}
	labeled := labeledCandidates(candidates)

	if len(labeled) < minLabeledSamples(property.Type) {
		model, err := e.modelStore.Get(ctx, extractorID)
		if err != nil {
			return TrainResult{}, fmt.Errorf("failed to load model record: %w", err)
		}
		record := models.ExtractionModel{ExtractorID: extractorID}
		if model != nil {
			record.Trained = model.Trained
		}
		if err := e.modelStore.Save(ctx, record); err != nil {
			return TrainResult{}, fmt.Errorf("failed to save model record: %w", err)
		}
		return TrainResult{Status: "error", Message: NoLabeledData}, nil
	}

	for _, c := range labeled {
		if err := e.uploadMaterial(ctx, *extractor, taskmanager.PhaseTrain, c); err != nil {
			return TrainResult{}, err
		}
	}

	task, err := e.buildTask(ctx, taskmanager.TaskCreateModel, *extractor, property)
	if err != nil {
		return TrainResult{}, err
	}
	if err := e.tasks.StartTask(ctx, task); err != nil {
		return TrainResult{}, fmt.Errorf("failed to start training task: %w", err)
	}

	// Trained stays zero until the create_model callback confirms a model.
	if err := e.modelStore.Save(ctx, models.ExtractionModel{
		ExtractorID:        extractorID,
		Trained:            0,
		FindingSuggestions: true,
	}); err != nil {
		return TrainResult{}, fmt.Errorf("failed to save model record: %w", err)
	}

	telemetry.TrainingsStarted.Inc()
	e.log.Info("training started",
		zap.String("extractor", extractorID),
		zap.Int("labeledSamples", len(labeled)))
	return TrainResult{Status: StatusProcessingModel}, nil
}

// GetSuggestions submits the next prediction batch: candidates whose
// suggestion predates the trained model (or does not exist) get a placeholder
// record in processing status and their document uploaded. An empty batch
// means prediction is complete and clears findingSuggestions.
func (e *Engine) GetSuggestions(ctx context.Context, extractorID string) error {
	extractor, property, err := e.resolveExtractor(ctx, extractorID)
	if err != nil {
		return err
	}
	model, err := e.modelStore.Get(ctx, extractorID)
	if err != nil {
		return fmt.Errorf("failed to load model record: %w", err)
	}
	if model == nil || model.Trained == 0 {
		return errors.New("extractor has no trained model")
	}

	candidates, err := e.data.Candidates(ctx, *extractor)
	if err != nil {
		return fmt.Errorf("failed to gather candidates: %w", err)
	}

	batch, err := e.pendingBatch(ctx, *extractor, *model, candidates)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		e.log.Info("suggestions complete", zap.String("extractor", extractorID))
		return e.stopFindingSuggestions(ctx, extractorID)
	}

	for _, c := range batch {
		if err := e.uploadMaterial(ctx, *extractor, taskmanager.PhasePredict, c); err != nil {
			return err
		}
		if err := e.savePlaceholder(ctx, *extractor, c); err != nil {
			return err
		}
	}

	task, err := e.buildTask(ctx, taskmanager.TaskSuggestions, *extractor, property)
	if err != nil {
		return err
	}
	if err := e.tasks.StartTask(ctx, task); err != nil {
		return fmt.Errorf("failed to start suggestions task: %w", err)
	}

	telemetry.PredictionsStarted.Inc()
	e.log.Info("prediction batch started",
		zap.String("extractor", extractorID),
		zap.Int("batchSize", len(batch)))
	return nil
}

// ProcessResults handles a callback from the task service. A finished
// create_model kicks off prediction; a finished suggestions batch is
// ingested and the next batch requested. A failed batch marks its
// suggestions failed and stops the run. The heartbeat, when non-nil, is
// invoked between ingested items.
func (e *Engine) ProcessResults(ctx context.Context, msg taskmanager.ResultsMessage, heartbeat func(context.Context) error) error {
	if msg.Params == nil || msg.Params.ID == "" {
		return errors.New("results message has no extractor id")
	}
	extractorID := msg.Params.ID

	switch msg.Task {
	case taskmanager.TaskCreateModel:
		if !msg.Success {
			e.log.Warn("training failed",
				zap.String("extractor", extractorID),
				zap.String("message", msg.ErrorMessage))
			return e.stopFindingSuggestions(ctx, extractorID)
		}
		if err := e.modelStore.Save(ctx, models.ExtractionModel{
			ExtractorID:        extractorID,
			Trained:            e.now().UnixMilli(),
			FindingSuggestions: true,
		}); err != nil {
			return fmt.Errorf("failed to save trained model: %w", err)
		}
		return e.GetSuggestions(ctx, extractorID)

	case taskmanager.TaskSuggestions:
		model, err := e.modelStore.Get(ctx, extractorID)
		if err != nil {
			return fmt.Errorf("failed to load model record: %w", err)
		}
		if model == nil || !model.FindingSuggestions {
			// A delete or failed retrain canceled the run mid-flight.
			e.log.Info("ignoring canceled suggestions batch", zap.String("extractor", extractorID))
			return nil
		}
		if !msg.Success {
			e.log.Warn("suggestions batch failed",
				zap.String("extractor", extractorID),
				zap.String("message", msg.ErrorMessage))
			if err := e.markBatchFailed(ctx, extractorID, msg, heartbeat); err != nil {
				return err
			}
			return e.stopFindingSuggestions(ctx, extractorID)
		}
		if err := e.ingestBatch(ctx, extractorID, msg, heartbeat); err != nil {
			return err
		}
		return e.GetSuggestions(ctx, extractorID)
	}
	return fmt.Errorf("unknown task %q in results message", msg.Task)
}

// Status reports where the extractor is in the train/predict cycle.
func (e *Engine) Status(ctx context.Context, extractorID string) (StatusResult, error) {
	model, err := e.modelStore.Get(ctx, extractorID)
	if err != nil {
		return StatusResult{}, fmt.Errorf("failed to load model record: %w", err)
	}
	if model == nil || !model.FindingSuggestions {
		return StatusResult{Status: StatusReady}, nil
	}
	if model.Trained == 0 {
		return StatusResult{Status: StatusProcessingModel}, nil
	}

	total, processing, err := e.suggestions.Counts(ctx, extractorID)
	if err != nil {
		return StatusResult{}, fmt.Errorf("failed to count suggestions: %w", err)
	}
	if processing > 0 {
		return StatusResult{
			Status: StatusProcessingSuggestions,
			Data:   &StatusData{Total: total, Processed: total - processing},
		}, nil
	}
	return StatusResult{Status: StatusReady}, nil
}

func (e *Engine) resolveExtractor(ctx context.Context, extractorID string) (*models.Extractor, models.Property, error) {
	extractor, err := e.extractors.Get(ctx, extractorID)
	if err != nil {
		return nil, models.Property{}, fmt.Errorf("failed to load extractor: %w", err)
	}
	if extractor == nil {
		return nil, models.Property{}, fmt.Errorf("extractor %q not found", extractorID)
	}

	templates, err := e.data.Templates(ctx, extractor.Templates)
	if err != nil {
		return nil, models.Property{}, fmt.Errorf("failed to load templates: %w", err)
	}
	for _, tpl := range templates {
		if prop, ok := tpl.FindProperty(extractor.Property); ok {
			return extractor, prop, nil
		}
	}
	return nil, models.Property{}, fmt.Errorf("property %q not found on extractor templates", extractor.Property)
}

func (e *Engine) buildTask(ctx context.Context, taskName string, extractor models.Extractor, property models.Property) (taskmanager.Task, error) {
	params := taskmanager.TaskParams{
		ID: extractor.ID,
		Metadata: taskmanager.TaskMetadata{
			ExtractorName: extractor.Name,
			Property:      extractor.Property,
			Templates:     extractor.Templates,
		},
	}
	if property.Type == models.PropertySelect || models.MultiValued(property.Type) {
		multi := models.MultiValued(property.Type)
		params.MultiValue = &multi
		options, err := e.data.Vocabulary(ctx, property)
		if err != nil {
			return taskmanager.Task{}, fmt.Errorf("failed to load vocabulary: %w", err)
		}
		params.Options = options
	}
	return taskmanager.Task{Task: taskName, Tenant: e.tenant, Params: params}, nil
}

func (e *Engine) uploadMaterial(ctx context.Context, extractor models.Extractor, phase taskmanager.Phase, c Candidate) error {
	file, err := e.docs.Open(ctx, c.FileName)
	if err != nil {
		return fmt.Errorf("failed to open document %q: %w", c.FileName, err)
	}
	err = e.tasks.UploadFile(ctx, phase, e.tenant, extractor.ID, c.FileName, file)
	file.Close()
	if err != nil {
		return fmt.Errorf("failed to upload document %q: %w", c.FileName, err)
	}

	material := taskmanager.Material{
		XMLFileName:      c.FileName,
		ID:               extractor.ID,
		Tenant:           e.tenant,
		XMLSegmentsBoxes: c.Segmentation.Boxes,
		PageWidth:        c.Segmentation.PageWidth,
		PageHeight:       c.Segmentation.PageHeight,
		LanguageISO:      c.Language,
	}
	if phase == taskmanager.PhaseTrain && len(c.Labels) > 0 {
		label := c.Labels[0]
		material.LabelText = label.Text
		material.LabelSegmentsBoxes = label.Boxes
		material.Values = label.Values
	}
	if err := e.tasks.UploadMaterials(ctx, phase, material); err != nil {
		return fmt.Errorf("failed to upload materials for %q: %w", c.FileName, err)
	}
	return nil
}

// pendingBatch selects up to batchSize candidates that still need a
// prediction from the current model, oldest criteria being the absence of a
// suggestion or a suggestion written before the model was trained.
func (e *Engine) pendingBatch(ctx context.Context, extractor models.Extractor, model models.ExtractionModel, candidates []Candidate) ([]Candidate, error) {
	var batch []Candidate
	for _, c := range candidates {
		if c.Segmentation.Empty() {
			continue
		}
		existing, err := e.suggestions.Get(ctx, extractor.ID, c.EntityID, extractor.Property, c.Language)
		if err != nil {
			return nil, fmt.Errorf("failed to load suggestion: %w", err)
		}
		if existing != nil && existing.Date >= model.Trained {
			continue
		}
		batch = append(batch, c)
		if len(batch) == e.batchSize {
			break
		}
	}
	return batch, nil
}

func (e *Engine) savePlaceholder(ctx context.Context, extractor models.Extractor, c Candidate) error {
	now := e.now().UnixMilli()
	s := models.Suggestion{
		EntityID:       c.EntityID,
		EntityTemplate: c.EntityTemplate,
		PropertyName:   extractor.Property,
		Language:       c.Language,
		ExtractorID:    extractor.ID,
		FileID:         c.FileID,
		CurrentValue:   c.CurrentValue,
		Status:         models.SuggestionProcessing,
		Date:           now,
		CreationDate:   now,
	}
	existing, err := e.suggestions.Get(ctx, extractor.ID, c.EntityID, extractor.Property, c.Language)
	if err != nil {
		return fmt.Errorf("failed to load suggestion: %w", err)
	}
	if existing != nil {
		s.ID = existing.ID
		s.CreationDate = existing.CreationDate
		s.SuggestedValue = existing.SuggestedValue
		s.SuggestedText = existing.SuggestedText
		s.Segment = existing.Segment
		s.Page = existing.Page
	}
	s.State = ComputeState(StateInput{
		CurrentValue:   s.CurrentValue,
		SuggestedValue: s.SuggestedValue,
		Labeled:        c.Labeled(),
		Segment:        s.Segment,
		Processing:     true,
	})
	return e.suggestions.Save(ctx, s)
}

// ingestBatch writes one result batch. A bad item is recorded as failed or
// logged and skipped; it never aborts its siblings.
func (e *Engine) ingestBatch(ctx context.Context, extractorID string, msg taskmanager.ResultsMessage, heartbeat func(context.Context) error) error {
	extractor, property, err := e.resolveExtractor(ctx, extractorID)
	if err != nil {
		return err
	}
	results, err := e.tasks.Results(ctx, msg.DataURL)
	if err != nil {
		return fmt.Errorf("failed to fetch results batch: %w", err)
	}
	defaultLang, err := e.data.DefaultLanguage(ctx)
	if err != nil {
		return fmt.Errorf("failed to load default language: %w", err)
	}

	for _, raw := range results {
		if heartbeat != nil {
			if err := heartbeat(ctx); err != nil {
				return fmt.Errorf("failed to renew job lock: %w", err)
			}
		}
		if err := e.ingestResult(ctx, *extractor, property, defaultLang, raw); err != nil {
			telemetry.SuggestionsFailed.Inc()
			e.log.Error("failed to ingest suggestion",
				zap.String("extractor", extractorID),
				zap.String("file", raw.XMLFileName),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) ingestResult(ctx context.Context, extractor models.Extractor, property models.Property, defaultLang string, raw taskmanager.RawSuggestion) error {
	targets, err := e.suggestions.ForFile(ctx, extractor.ID, raw.XMLFileName, defaultLang)
	if err != nil {
		return fmt.Errorf("failed to find suggestions for file: %w", err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no suggestion record for file %q", raw.XMLFileName)
	}

	value, text, normErr := normalizeSuggestion(property.Type, raw)
	now := e.now().UnixMilli()

	for _, s := range targets {
		sctx, err := e.data.SuggestionContext(ctx, s)
		if err != nil {
			return fmt.Errorf("failed to load entity context: %w", err)
		}

		s.SuggestedValue = value
		s.SuggestedText = text
		s.Segment = raw.SegmentText
		s.Page = raw.Page()
		s.CurrentValue = sctx.CurrentValue
		s.Date = now

		if normErr != nil {
			s.Status = models.SuggestionFailed
			s.Error = normErr.Error()
		} else {
			s.Status = models.SuggestionReady
			s.Error = ""
		}
		s.State = ComputeState(StateInput{
			CurrentValue:   s.CurrentValue,
			SuggestedValue: s.SuggestedValue,
			Labeled:        sctx.Labeled,
			Segment:        s.Segment,
			Failed:         normErr != nil,
		})

		if err := e.suggestions.Save(ctx, s); err != nil {
			return fmt.Errorf("failed to save suggestion: %w", err)
		}
		telemetry.SuggestionsSaved.Inc()
	}
	return nil
}

// markBatchFailed stamps the service-reported failure on every suggestion of
// a failed batch, so no record stays stuck in processing. The service still
// publishes the batch manifest on failure, which is what identifies the
// affected records.
func (e *Engine) markBatchFailed(ctx context.Context, extractorID string, msg taskmanager.ResultsMessage, heartbeat func(context.Context) error) error {
	results, err := e.tasks.Results(ctx, msg.DataURL)
	if err != nil {
		return fmt.Errorf("failed to fetch results batch: %w", err)
	}
	defaultLang, err := e.data.DefaultLanguage(ctx)
	if err != nil {
		return fmt.Errorf("failed to load default language: %w", err)
	}
	now := e.now().UnixMilli()

	for _, raw := range results {
		if heartbeat != nil {
			if err := heartbeat(ctx); err != nil {
				return fmt.Errorf("failed to renew job lock: %w", err)
			}
		}
		targets, err := e.suggestions.ForFile(ctx, extractorID, raw.XMLFileName, defaultLang)
		if err != nil {
			return fmt.Errorf("failed to find suggestions for file: %w", err)
		}
		for _, s := range targets {
			s.Status = models.SuggestionFailed
			s.Error = msg.ErrorMessage
			s.Date = now
			s.State = ComputeState(StateInput{
				CurrentValue:   s.CurrentValue,
				SuggestedValue: s.SuggestedValue,
				Labeled:        s.State.Labeled,
				Segment:        s.Segment,
				Failed:         true,
			})
			if err := e.suggestions.Save(ctx, s); err != nil {
				return fmt.Errorf("failed to save suggestion: %w", err)
			}
			telemetry.SuggestionsFailed.Inc()
		}
	}
	return nil
}

func (e *Engine) stopFindingSuggestions(ctx context.Context, extractorID string) error {
	model, err := e.modelStore.Get(ctx, extractorID)
	if err != nil {
		return fmt.Errorf("failed to load model record: %w", err)
	}
	if model == nil || !model.FindingSuggestions {
		return nil
	}
	model.FindingSuggestions = false
	if err := e.modelStore.Save(ctx, *model); err != nil {
		return fmt.Errorf("failed to save model record: %w", err)
	}
	return nil
}

func labeledCandidates(candidates []Candidate) []Candidate {
	var labeled []Candidate
	for _, c := range candidates {
		if c.Segmentation.Empty() || !c.Labeled() {
			continue
		}
		label := c.Labels[0]
		if label.Text == "" && len(label.Values) == 0 {
			continue
		}
		labeled = append(labeled, c)
	}
	return labeled
}

// minLabeledSamples is the training threshold per property kind. Free-text
// properties need at least two non-empty samples; everything else needs one.
func minLabeledSamples(propType string) int {
	switch propType {
	case models.PropertyTitle, models.PropertyText:
		return 2
	default:
		return 1
	}
}
