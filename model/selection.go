package model

import "fmt"

// Selection is a single-choice pick from a candidate list. Picking again
// replaces the previous choice.
type Selection struct {
	Candidates []string `json:"candidates"`
	Selected   string   `json:"selected,omitempty"`
}

// NewSelection returns a selection over the given candidates with nothing
// picked.
func NewSelection(candidates ...string) *Selection {
	return &Selection{Candidates: candidates}
}

// Select picks id. It fails when id is not a candidate and leaves the
// previous choice untouched.
func (s *Selection) Select(id string) error {
	for _, c := range s.Candidates {
		if c == id {
			s.Selected = id
			return nil
		}
	}
	return fmt.Errorf("%q is not one of the available options", id)
}

// HasSelection reports whether something has been picked.
func (s *Selection) HasSelection() bool {
	return s.Selected != ""
}
