package wizard

import (
	"testing"
)

func codes(errs []VError) map[string]int {
	out := make(map[string]int)
	for _, e := range errs {
		out[e.Code]++
	}
	return out
}

func TestValidator_valid(t *testing.T) {
	def := Definition{
		ID: "w", EntryRoute: "/in", ExitRoute: "/out",
		Steps: []StepDefinition{{
			ID: "s", Route: "/s",
			Fields: []FieldDefinition{{Name: "a", Type: FieldText}, {Name: "b", Type: FieldBool}},
			Rules:  []Rule{{Required: []string{"a"}, When: "b == 'true'", Message: "need a"}},
		}},
	}
	if verrs := NewValidator().Validate([]Definition{def}); len(verrs) != 0 {
		t.Errorf("Validate() = %v, want none", verrs)
	}
}

func TestValidator_errors(t *testing.T) {
	def := Definition{
		ID:        "w",
		Ownership: "global",
		Steps: []StepDefinition{
			{
				ID:    "s",
				Route: "/s",
				Fields: []FieldDefinition{
					{Name: "a", Type: FieldText},
					{Name: "a", Type: FieldText},
					{Name: "c", Type: FieldChoice},
					{Name: "d", Type: "date"},
				},
				Groups:             []GroupDefinition{{Name: "g"}},
				SkipValidationWhen: "a ~ 1",
				Rules: []Rule{
					{Required: []string{"zzz"}},
					{When: "missing == 'x'", AnyOf: []string{"a"}, Message: "m"},
					{Message: "empty"},
				},
			},
			{ID: "s", Route: "/s"},
			{},
		},
	}

	got := codes(NewValidator().Validate([]Definition{def}))
	tests := []struct {
		code string
		want int
	}{
		// Duplicate field a, step id s and route /s.
		{"DUPLICATE", 3},
		// Routes, choice options, group fields, rule message, rule fields, empty step id and route.
		{"REQUIRED", 8},
		// Ownership, field type and the skip condition.
		{"INVALID", 3},
		// Rule field zzz and condition field missing.
		{"UNKNOWN_FIELD", 2},
	}
	for _, tt := range tests {
		if got[tt.code] != tt.want {
			t.Errorf("%s count = %d, want %d", tt.code, got[tt.code], tt.want)
		}
	}
}

func TestValidator_builtin_definitions_are_valid(t *testing.T) {
	defs, err := NewLoader().LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin error: %v", err)
	}
	if verrs := NewValidator().Validate(defs); len(verrs) != 0 {
		t.Errorf("Validate() = %v, want none", verrs)
	}
}
