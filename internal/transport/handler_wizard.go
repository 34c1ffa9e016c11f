package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/model"
)

// WizardService drives wizard steps for a session.
type WizardService interface {
	Mount(ctx context.Context, sessionID, wizardID, stepID string) (model.StepView, error)
	UpdateField(ctx context.Context, sessionID, wizardID, stepID, name string, value any) (model.StepView, error)
	UpdateGroupField(ctx context.Context, sessionID, wizardID, stepID, group string, index int, field, value string) (model.StepView, error)
	AddGroupEntry(ctx context.Context, sessionID, wizardID, stepID, group string) (model.StepView, error)
	RemoveGroupEntry(ctx context.Context, sessionID, wizardID, stepID, group string, index int) (bool, model.StepView, error)
	ValidateAndAdvance(ctx context.Context, sessionID, wizardID, stepID string) (model.Transition, error)
	GoBack(ctx context.Context, sessionID, wizardID, stepID string) (model.Transition, error)
	State(ctx context.Context, sessionID, wizardID string) (*model.WizardState, error)
	Clear(ctx context.Context, sessionID, wizardID string) error
	ClearAll(ctx context.Context, sessionID string) error
}

// RemoveGroupEntryResponse reports whether an entry was removed; removal of
// the last entry is refused.
type RemoveGroupEntryResponse struct {
	Removed bool           `json:"removed"`
	Step    model.StepView `json:"step"`
}

// sessionKey returns the key wizard state is stored under for the caller.
func sessionKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return "", false
	}
	return rctx.SessionKey(), true
}

func indexParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, model.NewBadRequestError(fmt.Sprintf("invalid entry index %q", raw))
	}
	return index, nil
}

// handleMountStep handles GET /ui/wizards/{wizardId}/steps/{stepId}.
func handleMountStep(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}

		view, err := svc.Mount(r.Context(), sid, chi.URLParam(r, "wizardId"), chi.URLParam(r, "stepId"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// handleUpdateField handles PUT /ui/wizards/{wizardId}/steps/{stepId}/fields/{field}.
func handleUpdateField(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}

		var req FieldUpdateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, err)
			return
		}

		wizardID, stepID, field := chi.URLParam(r, "wizardId"), chi.URLParam(r, "stepId"), chi.URLParam(r, "field")
		view, err := svc.UpdateField(r.Context(), sid, wizardID, stepID, field, req.Value)
		if err != nil {
			respondError(w, r, err)
			return
		}
		observability.WizardLogger(r.Context(), zap.NewNop(), wizardID, stepID).Debug("wizard field updated",
			zap.String("field", field),
			zap.Any("value", observability.RedactField(field, req.Value)),
		)
		WriteJSON(w, http.StatusOK, view)
	}
}

// handleUpdateGroupField handles
// PUT /ui/wizards/{wizardId}/steps/{stepId}/groups/{group}/{index}/{field}.
func handleUpdateGroupField(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}
		index, err := indexParam(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		var req GroupFieldUpdateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, err)
			return
		}

		wizardID, stepID, field := chi.URLParam(r, "wizardId"), chi.URLParam(r, "stepId"), chi.URLParam(r, "field")
		view, err := svc.UpdateGroupField(r.Context(), sid, wizardID, stepID, chi.URLParam(r, "group"), index, field, req.Value)
		if err != nil {
			respondError(w, r, err)
			return
		}
		observability.WizardLogger(r.Context(), zap.NewNop(), wizardID, stepID).Debug("wizard group field updated",
			zap.String("group", chi.URLParam(r, "group")),
			zap.Int("index", index),
			zap.String("field", field),
			zap.Any("value", observability.RedactField(field, req.Value)),
		)
		WriteJSON(w, http.StatusOK, view)
	}
}

// handleAddGroupEntry handles POST /ui/wizards/{wizardId}/steps/{stepId}/groups/{group}.
func handleAddGroupEntry(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}

		view, err := svc.AddGroupEntry(r.Context(), sid,
			chi.URLParam(r, "wizardId"), chi.URLParam(r, "stepId"), chi.URLParam(r, "group"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

// handleRemoveGroupEntry handles DELETE /ui/wizards/{wizardId}/steps/{stepId}/groups/{group}/{index}.
func handleRemoveGroupEntry(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}
		index, err := indexParam(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		removed, view, err := svc.RemoveGroupEntry(r.Context(), sid,
			chi.URLParam(r, "wizardId"), chi.URLParam(r, "stepId"), chi.URLParam(r, "group"), index)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, RemoveGroupEntryResponse{Removed: removed, Step: view})
	}
}

// handleNextStep handles POST /ui/wizards/{wizardId}/steps/{stepId}/next.
// A failed validation is a 200 carrying the message and no navigation.
func handleNextStep(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}

		tr, err := svc.ValidateAndAdvance(r.Context(), sid, chi.URLParam(r, "wizardId"), chi.URLParam(r, "stepId"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, tr)
	}
}

// handlePreviousStep handles POST /ui/wizards/{wizardId}/steps/{stepId}/previous.
func handlePreviousStep(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}

		tr, err := svc.GoBack(r.Context(), sid, chi.URLParam(r, "wizardId"), chi.URLParam(r, "stepId"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, tr)
	}
}

// handleWizardState handles GET /ui/wizards/{wizardId}.
func handleWizardState(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}

		state, err := svc.State(r.Context(), sid, chi.URLParam(r, "wizardId"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

// handleClearWizard handles DELETE /ui/wizards/{wizardId}.
func handleClearWizard(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}

		if err := svc.Clear(r.Context(), sid, chi.URLParam(r, "wizardId")); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleClearAll handles DELETE /ui/wizards.
func handleClearAll(svc WizardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}

		if err := svc.ClearAll(r.Context(), sid); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
