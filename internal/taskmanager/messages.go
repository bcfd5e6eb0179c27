package taskmanager

import "extraction-worker/internal/models"

// Task names understood by the external task-execution service.
const (
	TaskCreateModel = "create_model"
	TaskSuggestions = "suggestions"
)

// Phase selects the materials route: training uploads and prediction
// uploads are kept apart on the service side.
type Phase string

const (
	PhaseTrain   Phase = "xml_to_train"
	PhasePredict Phase = "xml_to_predict"
)

// Task is a submission to the external service. Files and materials travel
// out-of-band, keyed by (tenant, extractor id).
type Task struct {
	Task   string     `json:"task"`
	Tenant string     `json:"tenant"`
	Params TaskParams `json:"params"`
}

// TaskParams is the model/prediction configuration for one extractor.
type TaskParams struct {
	ID         string          `json:"id"`
	MultiValue *bool           `json:"multi_value,omitempty"`
	Options    []models.Option `json:"options,omitempty"`
	Metadata   TaskMetadata    `json:"metadata"`
}

// TaskMetadata is informational context echoed back by the service.
type TaskMetadata struct {
	ExtractorName string   `json:"extractor_name"`
	Property      string   `json:"property"`
	Templates     []string `json:"templates"`
}

// Material is the per-document payload sent with a task: segmentation
// geometry always, label data only for the training phase.
type Material struct {
	XMLFileName        string          `json:"xml_file_name"`
	ID                 string          `json:"id"`
	Tenant             string          `json:"tenant"`
	XMLSegmentsBoxes   []models.Box    `json:"xml_segments_boxes"`
	PageWidth          float64         `json:"page_width"`
	PageHeight         float64         `json:"page_height"`
	LanguageISO        string          `json:"language_iso,omitempty"`
	LabelText          string          `json:"label_text,omitempty"`
	LabelSegmentsBoxes []models.Box    `json:"label_segments_boxes,omitempty"`
	Values             []models.Option `json:"values,omitempty"`
}

// ResultsMessage is what the service posts to our results callback when a
// task finishes.
type ResultsMessage struct {
	Task         string        `json:"task"`
	Tenant       string        `json:"tenant"`
	Params       *ResultParams `json:"params,omitempty"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
	DataURL      string        `json:"data_url,omitempty"`
	FileURL      string        `json:"file_url,omitempty"`
}

// ResultParams identifies the extractor a results message belongs to.
type ResultParams struct {
	ID string `json:"id"`
}

// RawSuggestion is one prediction in a result batch, keyed by
// (tenant, extractor id, source file name). Text-valued properties use
// Text/SegmentText; option-valued properties use Values.
type RawSuggestion struct {
	Tenant        string          `json:"tenant"`
	ID            string          `json:"id"`
	XMLFileName   string          `json:"xml_file_name"`
	Text          string          `json:"text,omitempty"`
	SegmentText   string          `json:"segment_text"`
	Values        []models.Option `json:"values,omitempty"`
	SegmentsBoxes []models.Box    `json:"segments_boxes,omitempty"`
}

// Page returns the page number the suggestion was found on, defaulting to
// the first page when the service sent no boxes.
func (r RawSuggestion) Page() int {
	for _, box := range r.SegmentsBoxes {
		if box.PageNumber > 0 {
			return box.PageNumber
		}
	}
	return 1
}
