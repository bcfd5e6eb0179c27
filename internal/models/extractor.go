package models

// Property types an extractor may target. "title" is the virtual title
// property present on every template.
const (
	PropertyTitle        = "title"
	PropertyText         = "text"
	PropertyNumeric      = "numeric"
	PropertyDate         = "date"
	PropertySelect       = "select"
	PropertyMultiselect  = "multiselect"
	PropertyRelationship = "relationship"
)

var allowedPropertyTypes = map[string]struct{}{
	PropertyTitle:        {},
	PropertyText:         {},
	PropertyNumeric:      {},
	PropertyDate:         {},
	PropertySelect:       {},
	PropertyMultiselect:  {},
	PropertyRelationship: {},
}

// PropertyTypeAllowed reports whether extractors may target the given type.
func PropertyTypeAllowed(t string) bool {
	_, ok := allowedPropertyTypes[t]
	return ok
}

// MultiValued reports whether the property type holds a list of option ids.
func MultiValued(t string) bool {
	return t == PropertyMultiselect || t == PropertyRelationship
}

// Extractor configures extraction of one property across a set of templates.
type Extractor struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Property  string   `json:"property"`
	Templates []string `json:"templates"`
}

// ExtractionModel tracks the trained model backing an extractor.
type ExtractionModel struct {
	ExtractorID        string `json:"extractorId"`
	Trained            int64  `json:"trained"` // unix millis, 0 = never trained
	FindingSuggestions bool   `json:"findingSuggestions"`
}

// Template describes an entity template and its typed properties.
type Template struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`
}

// Property is one metadata property on a template.
type Property struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"` // thesaurus or template id for option types
}

// FindProperty returns the named property, or the virtual title property.
func (t Template) FindProperty(name string) (Property, bool) {
	if name == PropertyTitle {
		return Property{Name: PropertyTitle, Type: PropertyTitle}, true
	}
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}
