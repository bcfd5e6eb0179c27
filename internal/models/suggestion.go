package models

// Suggestion processing status persisted alongside each record.
const (
	SuggestionProcessing = "processing"
	SuggestionReady      = "ready"
	SuggestionFailed     = "failed"
)

// SuggestionState classifies a suggestion against the entity's current
// property value. It is derived, never edited by hand.
type SuggestionState struct {
	Labeled        bool `json:"labeled"`
	WithValue      bool `json:"withValue"`
	WithSuggestion bool `json:"withSuggestion"`
	Match          bool `json:"match"`
	HasContext     bool `json:"hasContext"`
	Processing     bool `json:"processing"`
	Obsolete       bool `json:"obsolete"`
	Error          bool `json:"error"`
}

// Suggestion is one machine-proposed value for one entity property in one
// language, produced by one extractor. There is exactly one suggestion per
// (entityId, propertyName, language, extractorId); later results for the
// same coordinate overwrite the earlier record.
type Suggestion struct {
	ID             string          `json:"id"`
	EntityID       string          `json:"entityId"`
	EntityTemplate string          `json:"entityTemplate"`
	PropertyName   string          `json:"propertyName"`
	Language       string          `json:"language"`
	ExtractorID    string          `json:"extractorId"`
	FileID         string          `json:"fileId"`
	Page           int             `json:"page"`
	Segment        string          `json:"segment"`
	SuggestedValue Value           `json:"suggestedValue"`
	SuggestedText  string          `json:"suggestedText,omitempty"`
	CurrentValue   Value           `json:"currentValue"`
	Status         string          `json:"status"`
	Error          string          `json:"error"`
	State          SuggestionState `json:"state"`
	Date           int64           `json:"date"`         // unix millis of last write
	CreationDate   int64           `json:"creationDate"` // unix millis
}
