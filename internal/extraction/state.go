package extraction

import "extraction-worker/internal/models"

// StateInput is everything the reconciler looks at. CurrentValue is the
// entity's property value now; Labeled records whether a non-empty value
// existed when the training label was captured, which is what lets the
// reconciler tell "never labeled" apart from "labeled, then cleared".
type StateInput struct {
	CurrentValue   models.Value
	SuggestedValue models.Value
	Labeled        bool
	Segment        string
	Processing     bool
	Failed         bool
}

// ComputeState derives a suggestion's classification from its raw inputs.
// It is pure: no clock, no store, same input always yields the same state.
func ComputeState(in StateInput) models.SuggestionState {
	withValue := !models.ValueEmpty(in.CurrentValue)
	withSuggestion := !models.ValueEmpty(in.SuggestedValue)

	state := models.SuggestionState{
		Labeled:        in.Labeled,
		WithValue:      withValue,
		WithSuggestion: withSuggestion,
		Match:          withSuggestion && withValue && models.ValueEquals(in.CurrentValue, in.SuggestedValue),
		HasContext:     in.Segment != "",
		Processing:     in.Processing,
		Obsolete:       in.Labeled && !withValue,
		Error:          in.Failed,
	}

	// A failed run has nothing usable, whatever stale data came with it.
	if in.Failed {
		state.WithSuggestion = false
		state.Match = false
	}
	return state
}
