package wizard

import (
	"fmt"

	"github.com/pitabwire/surety/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks wizard definitions for structural mistakes.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions.
func (v *Validator) Validate(defs []Definition) []VError {
	var errs []VError
	for i, def := range defs {
		prefix := fmt.Sprintf("wizards[%d]", i)
		if def.SourceFile != "" {
			prefix = def.SourceFile
		}
		errs = append(errs, v.validateWizard(prefix, def)...)
	}
	return errs
}

func (v *Validator) validateWizard(prefix string, def Definition) []VError {
	var errs []VError
	req := func(path, value, name string) {
		if value == "" {
			errs = append(errs, VError{Path: path, Code: "REQUIRED", Message: name + " is required"})
		}
	}

	req(prefix+".id", def.ID, "id")
	req(prefix+".entry_route", def.EntryRoute, "entry_route")
	req(prefix+".exit_route", def.ExitRoute, "exit_route")
	if !validOwnership(def.Ownership) {
		errs = append(errs, VError{Path: prefix + ".ownership", Code: "INVALID", Message: fmt.Sprintf("unknown ownership %q", def.Ownership)})
	}
	if len(def.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	stepIDs := make(map[string]bool)
	routes := make(map[string]bool)
	for i, step := range def.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		req(sp+".id", step.ID, "id")
		req(sp+".route", step.Route, "route")
		if step.ID != "" && stepIDs[step.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate step id %q", step.ID)})
		}
		stepIDs[step.ID] = true
		if step.Route != "" && routes[step.Route] {
			errs = append(errs, VError{Path: sp + ".route", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate route %q", step.Route)})
		}
		routes[step.Route] = true
		if !validOwnership(step.Ownership) {
			errs = append(errs, VError{Path: sp + ".ownership", Code: "INVALID", Message: fmt.Sprintf("unknown ownership %q", step.Ownership)})
		}
		errs = append(errs, v.validateStep(sp, step)...)
	}
	return errs
}

func (v *Validator) validateStep(prefix string, step StepDefinition) []VError {
	var errs []VError

	declared := make(map[string]bool)
	for i, f := range step.Fields {
		fp := fmt.Sprintf("%s.fields[%d]", prefix, i)
		if f.Name == "" {
			errs = append(errs, VError{Path: fp + ".name", Code: "REQUIRED", Message: "name is required"})
		}
		if declared[f.Name] {
			errs = append(errs, VError{Path: fp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate field %q", f.Name)})
		}
		declared[f.Name] = true
		switch f.Type {
		case FieldText, FieldBool, FieldFiles:
		case FieldChoice:
			if len(f.Options) == 0 {
				errs = append(errs, VError{Path: fp + ".options", Code: "REQUIRED", Message: "choice fields need options"})
			}
		default:
			errs = append(errs, VError{Path: fp + ".type", Code: "INVALID", Message: fmt.Sprintf("unknown field type %q", f.Type)})
		}
	}

	for i, g := range step.Groups {
		gp := fmt.Sprintf("%s.groups[%d]", prefix, i)
		if g.Name == "" {
			errs = append(errs, VError{Path: gp + ".name", Code: "REQUIRED", Message: "name is required"})
		}
		if len(g.Fields) == 0 {
			errs = append(errs, VError{Path: gp + ".fields", Code: "REQUIRED", Message: "groups need at least one field"})
		}
	}

	checkCondition := func(path, cond string) {
		if cond == "" {
			return
		}
		c, err := parseCondition(cond)
		if err != nil {
			errs = append(errs, VError{Path: path, Code: "INVALID", Message: err.Error()})
			return
		}
		if !declared[c.field] {
			errs = append(errs, VError{Path: path, Code: "UNKNOWN_FIELD", Message: fmt.Sprintf("condition refers to undeclared field %q", c.field)})
		}
	}
	checkCondition(prefix+".skip_validation_when", step.SkipValidationWhen)

	for i, r := range step.Rules {
		rp := fmt.Sprintf("%s.rules[%d]", prefix, i)
		if r.Message == "" {
			errs = append(errs, VError{Path: rp + ".message", Code: "REQUIRED", Message: "message is required"})
		}
		if len(r.Required) == 0 && len(r.AnyOf) == 0 {
			errs = append(errs, VError{Path: rp, Code: "REQUIRED", Message: "rule needs required or any_of fields"})
		}
		for _, f := range append(append([]string(nil), r.Required...), r.AnyOf...) {
			if !declared[f] {
				errs = append(errs, VError{Path: rp, Code: "UNKNOWN_FIELD", Message: fmt.Sprintf("rule refers to undeclared field %q", f)})
			}
		}
		checkCondition(rp+".when", r.When)
	}
	return errs
}

func validOwnership(o model.Ownership) bool {
	return o == "" || o == model.OwnershipLocal || o == model.OwnershipShared
}
