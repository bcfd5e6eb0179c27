package extraction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"extraction-worker/internal/models"
	"extraction-worker/internal/taskmanager"
)

// Layouts accepted for date-typed results, tried in order. Day-first forms
// come before month-first so ambiguous numeric dates resolve day-first.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	"02/01/2006",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"2006",
}

// parseDate converts extracted date text to a UTC epoch in seconds.
func parseDate(text string) (int64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized date %q", trimmed)
}

// normalizeSuggestion converts one raw result into the typed value stored on
// the suggestion, plus its display text. An error means the result could not
// be represented in the property's type and the suggestion must be marked
// failed.
func normalizeSuggestion(propType string, raw taskmanager.RawSuggestion) (models.Value, string, error) {
	switch propType {
	case models.PropertyTitle, models.PropertyText:
		text := strings.TrimSpace(raw.Text)
		return text, text, nil

	case models.PropertyNumeric:
		text := strings.TrimSpace(raw.Text)
		if text == "" {
			return nil, "", nil
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, text, fmt.Errorf("not a number: %q", text)
		}
		return v, text, nil

	case models.PropertyDate:
		text := strings.TrimSpace(raw.Text)
		epoch, err := parseDate(text)
		if err != nil {
			return nil, text, err
		}
		return epoch, text, nil

	case models.PropertySelect:
		if len(raw.Values) == 0 {
			return "", "", nil
		}
		return raw.Values[0].ID, raw.Values[0].Label, nil

	case models.PropertyMultiselect, models.PropertyRelationship:
		ids := make([]string, 0, len(raw.Values))
		labels := make([]string, 0, len(raw.Values))
		for _, v := range raw.Values {
			ids = append(ids, v.ID)
			labels = append(labels, v.Label)
		}
		return ids, strings.Join(labels, ", "), nil
	}
	return nil, "", fmt.Errorf("unsupported property type %q", propType)
}
