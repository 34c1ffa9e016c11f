// Package wizard implements multi-step form flows: per-step field state,
// ordered validation rules on "Next", and previous/next route resolution.
package wizard

import "github.com/pitabwire/surety/model"

// FieldType constrains the values a step field accepts.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldBool   FieldType = "bool"
	FieldChoice FieldType = "choice"
	FieldFiles  FieldType = "files"
)

// Definition declares one wizard loaded from YAML.
type Definition struct {
	ID         string           `yaml:"id"`
	Title      string           `yaml:"title"`
	EntryRoute string           `yaml:"entry_route"`
	ExitRoute  string           `yaml:"exit_route"`
	Ownership  model.Ownership  `yaml:"ownership"`
	Steps      []StepDefinition `yaml:"steps"`

	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// StepDefinition declares one page of a wizard.
type StepDefinition struct {
	ID                 string            `yaml:"id"`
	Title              string            `yaml:"title"`
	Route              string            `yaml:"route"`
	Ownership          model.Ownership   `yaml:"ownership,omitempty"`
	Fields             []FieldDefinition `yaml:"fields"`
	Groups             []GroupDefinition `yaml:"groups"`
	SkipValidationWhen string            `yaml:"skip_validation_when,omitempty"`
	Rules              []Rule            `yaml:"rules"`
}

// FieldDefinition declares an editable field of a step.
type FieldDefinition struct {
	Name    string    `yaml:"name"`
	Type    FieldType `yaml:"type"`
	Options []string  `yaml:"options,omitempty"`
}

// GroupDefinition declares a repeatable group such as occupants or
// witnesses. Every entry holds the listed fields as strings.
type GroupDefinition struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
}

// Rule is one validation check. Rules of a step run in declared order and
// the first failing rule's Message is reported.
type Rule struct {
	// Required fields must all be set.
	Required []string `yaml:"required,omitempty"`
	// AnyOf needs at least one of its fields set.
	AnyOf []string `yaml:"any_of,omitempty"`
	// When restricts the rule to states where the condition holds.
	When    string `yaml:"when,omitempty"`
	Message string `yaml:"message"`
}

// Step returns the step with the given id and its position.
func (d Definition) Step(stepID string) (StepDefinition, int, bool) {
	for i, s := range d.Steps {
		if s.ID == stepID {
			return s, i, true
		}
	}
	return StepDefinition{}, -1, false
}

// StepOwnership returns the effective ownership of step.
func (d Definition) StepOwnership(step StepDefinition) model.Ownership {
	if step.Ownership != "" {
		return step.Ownership
	}
	if d.Ownership != "" {
		return d.Ownership
	}
	return model.OwnershipShared
}

// NextRoute is the route after position i, or the exit route after the
// last step.
func (d Definition) NextRoute(i int) string {
	if i+1 < len(d.Steps) {
		return d.Steps[i+1].Route
	}
	return d.ExitRoute
}

// PreviousRoute is the route before position i, or the entry route for the
// first step.
func (d Definition) PreviousRoute(i int) string {
	if i > 0 {
		return d.Steps[i-1].Route
	}
	return d.EntryRoute
}

// Field returns the declared field with the given name.
func (s StepDefinition) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// Group returns the declared group with the given name.
func (s StepDefinition) Group(name string) (GroupDefinition, bool) {
	for _, g := range s.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupDefinition{}, false
}

// HasGroupField reports whether field is a member of the group.
func (g GroupDefinition) HasGroupField(field string) bool {
	for _, f := range g.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// BlankEntry returns a group entry with every member field empty.
func (g GroupDefinition) BlankEntry() map[string]string {
	entry := make(map[string]string, len(g.Fields))
	for _, f := range g.Fields {
		entry[f] = ""
	}
	return entry
}
