package models

// Box is one positioned text region on a document page.
type Box struct {
	Left       float64 `json:"left"`
	Top        float64 `json:"top"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text,omitempty"`
}

// Option is one selectable value of a select/multiselect/relationship
// property: a thesaurus entry or a related entity.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Segmentation is the pre-computed layout of one source document: page
// geometry plus the text boxes the segmenter found.
type Segmentation struct {
	PageWidth  float64 `json:"page_width"`
	PageHeight float64 `json:"page_height"`
	Boxes      []Box   `json:"xml_segments_boxes"`
}

// Empty reports whether the segmenter produced nothing usable for this
// document.
func (s Segmentation) Empty() bool {
	return len(s.Boxes) == 0 && s.PageWidth == 0 && s.PageHeight == 0
}

// Label is the human-captured training value for one property on one
// document: selected text for text-like properties, option ids for
// option-valued properties.
type Label struct {
	Text   string   `json:"label_text,omitempty"`
	Boxes  []Box    `json:"label_segments_boxes,omitempty"`
	Values []Option `json:"values,omitempty"`
}
