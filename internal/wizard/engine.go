package wizard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/model"
)

// Recorder receives wizard navigation metrics.
type Recorder interface {
	RecordWizardAdvance(wizardID, stepID string)
	RecordWizardValidationFailure(wizardID, stepID string)
}

type nopRecorder struct{}

func (nopRecorder) RecordWizardAdvance(string, string)           {}
func (nopRecorder) RecordWizardValidationFailure(string, string) {}

// Engine drives wizard steps: it holds field state in a Store, validates on
// advance and resolves previous/next routes from the definitions.
type Engine struct {
	registry *Registry
	store    Store
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// NewEngine creates a wizard engine.
func NewEngine(registry *Registry, store Store, logger *zap.Logger, recorder Recorder) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Engine{
		registry: registry,
		store:    store,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// stepRef bundles a resolved step with its wizard and position.
type stepRef struct {
	def   Definition
	step  StepDefinition
	index int
}

func (e *Engine) lookup(wizardID, stepID string) (stepRef, error) {
	def, ok := e.registry.Get(wizardID)
	if !ok {
		return stepRef{}, model.NewWizardNotFoundError(wizardID)
	}
	step, idx, ok := def.Step(stepID)
	if !ok {
		return stepRef{}, model.NewStepNotFoundError(wizardID, stepID)
	}
	return stepRef{def: def, step: step, index: idx}, nil
}

func (e *Engine) load(ctx context.Context, sessionID, wizardID string) (*model.WizardState, error) {
	state, found, err := e.store.Load(ctx, sessionID, wizardID)
	if err != nil {
		return nil, fmt.Errorf("load wizard %q: %w", wizardID, err)
	}
	if !found {
		return model.NewWizardState(sessionID, wizardID), nil
	}
	return state, nil
}

func (e *Engine) save(ctx context.Context, state *model.WizardState) error {
	state.UpdatedAt = e.now().UTC()
	if err := e.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save wizard %q: %w", state.WizardID, err)
	}
	return nil
}

// stepState loads the wizard and returns the state of the referenced step,
// creating a blank one and restoring the group floor as needed.
func (e *Engine) stepState(ctx context.Context, sessionID string, ref stepRef) (*model.WizardState, *model.StepState, error) {
	state, err := e.load(ctx, sessionID, ref.def.ID)
	if err != nil {
		return nil, nil, err
	}
	st, ok := state.Steps[ref.step.ID]
	if !ok || st == nil {
		st = blankStep(ref.step)
		state.Steps[ref.step.ID] = st
	}
	ensureGroups(ref.step, st)
	return state, st, nil
}

// Mount returns the step's view. Local-owned steps start blank on every
// mount; shared steps keep what was entered before.
func (e *Engine) Mount(ctx context.Context, sessionID, wizardID, stepID string) (model.StepView, error) {
	ref, err := e.lookup(wizardID, stepID)
	if err != nil {
		return model.StepView{}, err
	}
	state, st, err := e.stepState(ctx, sessionID, ref)
	if err != nil {
		return model.StepView{}, err
	}
	if ref.def.StepOwnership(ref.step) == model.OwnershipLocal {
		st = blankStep(ref.step)
		state.Steps[ref.step.ID] = st
	}
	if err := e.save(ctx, state); err != nil {
		return model.StepView{}, err
	}
	return view(ref, st), nil
}

// UpdateField replaces one field's value. It never validates the step.
func (e *Engine) UpdateField(ctx context.Context, sessionID, wizardID, stepID, name string, value any) (model.StepView, error) {
	ref, err := e.lookup(wizardID, stepID)
	if err != nil {
		return model.StepView{}, err
	}
	field, ok := ref.step.Field(name)
	if !ok {
		return model.StepView{}, model.NewBadRequestError(
			fmt.Sprintf("field %q is not part of step %q", name, stepID),
		)
	}
	v, err := normalize(field, value)
	if err != nil {
		return model.StepView{}, err
	}

	state, st, err := e.stepState(ctx, sessionID, ref)
	if err != nil {
		return model.StepView{}, err
	}
	st.Set(name, v)
	if err := e.save(ctx, state); err != nil {
		return model.StepView{}, err
	}
	return view(ref, st), nil
}

// UpdateGroupField replaces one member field of a repeatable group entry.
func (e *Engine) UpdateGroupField(ctx context.Context, sessionID, wizardID, stepID, group string, index int, field, value string) (model.StepView, error) {
	ref, err := e.lookup(wizardID, stepID)
	if err != nil {
		return model.StepView{}, err
	}
	g, ok := ref.step.Group(group)
	if !ok {
		return model.StepView{}, model.NewBadRequestError(fmt.Sprintf("group %q is not part of step %q", group, stepID))
	}
	if !g.HasGroupField(field) {
		return model.StepView{}, model.NewBadRequestError(fmt.Sprintf("field %q is not part of group %q", field, group))
	}

	state, st, err := e.stepState(ctx, sessionID, ref)
	if err != nil {
		return model.StepView{}, err
	}
	entries := st.Groups[group]
	if index < 0 || index >= len(entries) {
		return model.StepView{}, model.NewBadRequestError(fmt.Sprintf("group %q has no entry %d", group, index))
	}
	entries[index][field] = value
	if err := e.save(ctx, state); err != nil {
		return model.StepView{}, err
	}
	return view(ref, st), nil
}

// AddGroupEntry appends a blank entry to a repeatable group.
func (e *Engine) AddGroupEntry(ctx context.Context, sessionID, wizardID, stepID, group string) (model.StepView, error) {
	ref, err := e.lookup(wizardID, stepID)
	if err != nil {
		return model.StepView{}, err
	}
	g, ok := ref.step.Group(group)
	if !ok {
		return model.StepView{}, model.NewBadRequestError(fmt.Sprintf("group %q is not part of step %q", group, stepID))
	}

	state, st, err := e.stepState(ctx, sessionID, ref)
	if err != nil {
		return model.StepView{}, err
	}
	st.Groups[group] = append(st.Groups[group], g.BlankEntry())
	if err := e.save(ctx, state); err != nil {
		return model.StepView{}, err
	}
	return view(ref, st), nil
}

// RemoveGroupEntry deletes the entry at index. A group never drops below
// one entry: removing the last one, or an index out of range, changes
// nothing and reports false.
func (e *Engine) RemoveGroupEntry(ctx context.Context, sessionID, wizardID, stepID, group string, index int) (bool, model.StepView, error) {
	ref, err := e.lookup(wizardID, stepID)
	if err != nil {
		return false, model.StepView{}, err
	}
	if _, ok := ref.step.Group(group); !ok {
		return false, model.StepView{}, model.NewBadRequestError(fmt.Sprintf("group %q is not part of step %q", group, stepID))
	}

	state, st, err := e.stepState(ctx, sessionID, ref)
	if err != nil {
		return false, model.StepView{}, err
	}
	entries := st.Groups[group]
	if len(entries) <= 1 || index < 0 || index >= len(entries) {
		return false, view(ref, st), nil
	}
	st.Groups[group] = append(entries[:index:index], entries[index+1:]...)
	if err := e.save(ctx, state); err != nil {
		return false, model.StepView{}, err
	}
	return true, view(ref, st), nil
}

// Validate evaluates the step as if pending were already recorded: each
// entry appends placeholder values to a files field. A failure is stored on
// the step and its message returned; "" means the step is valid.
func (e *Engine) Validate(ctx context.Context, sessionID, wizardID, stepID string, pending map[string][]string) (msg string, err error) {
	ctx, span := observability.StartWizardSpan(ctx, "validate", wizardID, stepID)
	defer func() {
		observability.AnnotateTransition(span, msg == "" && err == nil, msg)
		observability.EndSpanWithError(span, err)
	}()

	ref, err := e.lookup(wizardID, stepID)
	if err != nil {
		return "", err
	}
	state, st, err := e.stepState(ctx, sessionID, ref)
	if err != nil {
		return "", err
	}

	candidate := &model.StepState{Fields: make(map[string]any, len(st.Fields)), Groups: st.Groups}
	for k, v := range st.Fields {
		candidate.Fields[k] = v
	}
	for name, files := range pending {
		if len(files) > 0 {
			candidate.Append(name, files...)
		}
	}

	msg = Evaluate(ref.step, candidate)
	if msg == "" {
		return "", nil
	}
	st.Error = msg
	e.recorder.RecordWizardValidationFailure(wizardID, stepID)
	if err := e.save(ctx, state); err != nil {
		return "", err
	}
	return msg, nil
}

// ValidateAndAdvance runs the step's rules. On failure the message is stored
// and the transition stays on the step; on success the error is cleared and
// the transition points at the next step, or the exit route after the last.
func (e *Engine) ValidateAndAdvance(ctx context.Context, sessionID, wizardID, stepID string) (tr model.Transition, err error) {
	ctx, span := observability.StartWizardSpan(ctx, "advance", wizardID, stepID)
	defer func() {
		observability.AnnotateTransition(span, tr.Advanced, tr.Error)
		observability.EndSpanWithError(span, err)
	}()

	ref, err := e.lookup(wizardID, stepID)
	if err != nil {
		return model.Transition{}, err
	}
	state, st, err := e.stepState(ctx, sessionID, ref)
	if err != nil {
		return model.Transition{}, err
	}

	if msg := Evaluate(ref.step, st); msg != "" {
		st.Error = msg
		if err := e.save(ctx, state); err != nil {
			return model.Transition{}, err
		}
		e.recorder.RecordWizardValidationFailure(wizardID, stepID)
		e.logger.Debug("wizard step invalid",
			zap.String("wizard_id", wizardID),
			zap.String("step_id", stepID),
			zap.String("message", msg),
		)
		return model.Transition{Route: ref.step.Route, Error: msg}, nil
	}

	st.Error = ""
	if err := e.save(ctx, state); err != nil {
		return model.Transition{}, err
	}
	e.recorder.RecordWizardAdvance(wizardID, stepID)
	return model.Transition{Route: ref.def.NextRoute(ref.index), Advanced: true}, nil
}

// GoBack returns the previous step's route, or the wizard's entry route from
// the first step. It never validates.
func (e *Engine) GoBack(_ context.Context, _, wizardID, stepID string) (model.Transition, error) {
	ref, err := e.lookup(wizardID, stepID)
	if err != nil {
		return model.Transition{}, err
	}
	return model.Transition{Route: ref.def.PreviousRoute(ref.index), Advanced: true}, nil
}

// State returns everything entered in a wizard so far, for previews.
func (e *Engine) State(ctx context.Context, sessionID, wizardID string) (*model.WizardState, error) {
	if _, ok := e.registry.Get(wizardID); !ok {
		return nil, model.NewWizardNotFoundError(wizardID)
	}
	return e.load(ctx, sessionID, wizardID)
}

// Clear forgets one wizard's state for the session.
func (e *Engine) Clear(ctx context.Context, sessionID, wizardID string) error {
	if _, ok := e.registry.Get(wizardID); !ok {
		return model.NewWizardNotFoundError(wizardID)
	}
	if err := e.store.Delete(ctx, sessionID, wizardID); err != nil {
		return fmt.Errorf("clear wizard %q: %w", wizardID, err)
	}
	return nil
}

// ClearAll forgets every wizard's state for the session.
func (e *Engine) ClearAll(ctx context.Context, sessionID string) error {
	if err := e.store.DeleteAll(ctx, sessionID); err != nil {
		return fmt.Errorf("clear wizards: %w", err)
	}
	return nil
}

func blankStep(step StepDefinition) *model.StepState {
	st := model.NewStepState()
	for _, f := range step.Fields {
		switch f.Type {
		case FieldBool:
			st.Fields[f.Name] = false
		case FieldFiles:
			st.Fields[f.Name] = []string{}
		default:
			st.Fields[f.Name] = ""
		}
	}
	ensureGroups(step, st)
	return st
}

func ensureGroups(step StepDefinition, st *model.StepState) {
	if st.Groups == nil {
		st.Groups = make(map[string][]map[string]string)
	}
	if st.Fields == nil {
		st.Fields = make(map[string]any)
	}
	for _, g := range step.Groups {
		if len(st.Groups[g.Name]) == 0 {
			st.Groups[g.Name] = []map[string]string{g.BlankEntry()}
		}
	}
}

func view(ref stepRef, st *model.StepState) model.StepView {
	return model.StepView{
		WizardID:      ref.def.ID,
		StepID:        ref.step.ID,
		Route:         ref.step.Route,
		PreviousRoute: ref.def.PreviousRoute(ref.index),
		Ownership:     ref.def.StepOwnership(ref.step),
		Fields:        st.Fields,
		Groups:        st.Groups,
		Error:         st.Error,
	}
}

// normalize coerces an incoming value to the field's declared type.
func normalize(f FieldDefinition, value any) (any, error) {
	switch f.Type {
	case FieldBool:
		switch v := value.(type) {
		case nil:
			return false, nil
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes":
				return true, nil
			case "false", "no", "":
				return false, nil
			}
		}
		return nil, model.NewBadRequestError(fmt.Sprintf("field %q expects true or false", f.Name))

	case FieldChoice:
		v, ok := value.(string)
		if value != nil && !ok {
			return nil, model.NewBadRequestError(fmt.Sprintf("field %q expects one of its options", f.Name))
		}
		if v == "" {
			return "", nil
		}
		sel := model.NewSelection(f.Options...)
		if err := sel.Select(v); err != nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("field %q: %v", f.Name, err))
		}
		return sel.Selected, nil

	case FieldFiles:
		switch v := value.(type) {
		case nil:
			return []string{}, nil
		case []string:
			return append([]string{}, v...), nil
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				s, ok := e.(string)
				if !ok {
					return nil, model.NewBadRequestError(fmt.Sprintf("field %q expects a list of file keys", f.Name))
				}
				out = append(out, s)
			}
			return out, nil
		}
		return nil, model.NewBadRequestError(fmt.Sprintf("field %q expects a list of file keys", f.Name))

	default:
		switch v := value.(type) {
		case nil:
			return "", nil
		case string:
			return v, nil
		}
		return nil, model.NewBadRequestError(fmt.Sprintf("field %q expects text", f.Name))
	}
}
