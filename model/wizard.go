package model

import (
	"strings"
	"time"
)

// Ownership decides how long a step's form state lives.
type Ownership string

const (
	// OwnershipLocal state is reset every time the step is mounted.
	OwnershipLocal Ownership = "local"
	// OwnershipShared state survives navigation until the wizard is cleared.
	OwnershipShared Ownership = "shared"
)

// WizardState is the persisted form state of one wizard for one session.
type WizardState struct {
	SessionID string                `json:"session_id"`
	WizardID  string                `json:"wizard_id"`
	Steps     map[string]*StepState `json:"steps"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// NewWizardState returns an empty state for the given session and wizard.
func NewWizardState(sessionID, wizardID string) *WizardState {
	return &WizardState{
		SessionID: sessionID,
		WizardID:  wizardID,
		Steps:     make(map[string]*StepState),
	}
}

// Step returns the state of stepID, creating it when absent.
func (w *WizardState) Step(stepID string) *StepState {
	if w.Steps == nil {
		w.Steps = make(map[string]*StepState)
	}
	s, ok := w.Steps[stepID]
	if !ok || s == nil {
		s = NewStepState()
		w.Steps[stepID] = s
	}
	return s
}

// StepState holds field values, repeatable group entries and the last
// validation error of a single step.
type StepState struct {
	Fields map[string]any                 `json:"fields"`
	Groups map[string][]map[string]string `json:"groups"`
	Error  string                         `json:"error,omitempty"`
}

// NewStepState returns a blank step state.
func NewStepState() *StepState {
	return &StepState{
		Fields: make(map[string]any),
		Groups: make(map[string][]map[string]string),
	}
}

// Set replaces the value of a field.
func (s *StepState) Set(name string, value any) {
	if s.Fields == nil {
		s.Fields = make(map[string]any)
	}
	s.Fields[name] = value
}

// String returns the field as a string. Booleans render as "true"/"false"
// and lists as their comma-joined elements.
func (s *StepState) String(name string) string {
	switch v := s.Fields[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return strings.Join(s.Strings(name), ",")
	}
}

// Bool returns the field as a boolean. The strings "true" and "yes" count as
// true so that radio inputs posted as text behave like checkboxes.
func (s *StepState) Bool(name string) bool {
	switch v := s.Fields[name].(type) {
	case bool:
		return v
	case string:
		t := strings.ToLower(strings.TrimSpace(v))
		return t == "true" || t == "yes"
	}
	return false
}

// Strings returns the field as a list of strings. A JSON round trip turns
// []string into []any, so both are accepted.
func (s *StepState) Strings(name string) []string {
	switch v := s.Fields[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Append adds values to a list field.
func (s *StepState) Append(name string, values ...string) {
	s.Set(name, append(append([]string(nil), s.Strings(name)...), values...))
}

// IsSet reports whether a field counts as filled in: a non-blank string, a
// true boolean or a non-empty list.
func (s *StepState) IsSet(name string) bool {
	switch v := s.Fields[name].(type) {
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case []string:
		return len(v) > 0
	case []any:
		return len(v) > 0
	}
	return false
}

// Transition is the outcome of a navigation request on a wizard step.
type Transition struct {
	Route    string `json:"route"`
	Advanced bool   `json:"advanced"`
	Error    string `json:"error,omitempty"`
}

// StepView is what the portal renders for a mounted step.
type StepView struct {
	WizardID      string                         `json:"wizard_id"`
	StepID        string                         `json:"step_id"`
	Route         string                         `json:"route"`
	PreviousRoute string                         `json:"previous_route"`
	Ownership     Ownership                      `json:"ownership"`
	Fields        map[string]any                 `json:"fields"`
	Groups        map[string][]map[string]string `json:"groups"`
	Error         string                         `json:"error,omitempty"`
}
