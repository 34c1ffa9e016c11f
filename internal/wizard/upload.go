package wizard

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/model"
)

// Identifiers of the claim damage step the submitter works on.
const (
	ClaimWizardID        = "claim-submission"
	DamageStepID         = "damage-details"
	VehicleFilesField    = "vehicleDamageFiles"
	ThirdPartyFilesField = "thirdPartyFiles"
)

// ObjectStore stores an uploaded file and returns the key it is reachable
// under.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// Upload is one file selected by the user and not yet stored.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadRecorder receives upload metrics.
type UploadRecorder interface {
	RecordUpload(category, result string)
}

type nopUploadRecorder struct{}

func (nopUploadRecorder) RecordUpload(string, string) {}

// DamageSubmitter uploads damage photos for the claim damage step and then
// advances the wizard.
type DamageSubmitter struct {
	engine   *Engine
	objects  ObjectStore
	logger   *zap.Logger
	recorder UploadRecorder
	newKey   func(sessionID, category, name string) string
}

// NewDamageSubmitter creates a submitter storing files in objects.
func NewDamageSubmitter(engine *Engine, objects ObjectStore, logger *zap.Logger, recorder UploadRecorder) *DamageSubmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopUploadRecorder{}
	}
	return &DamageSubmitter{
		engine:   engine,
		objects:  objects,
		logger:   logger,
		recorder: recorder,
		newKey:   objectKey,
	}
}

func objectKey(sessionID, category, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = "upload"
	}
	return fmt.Sprintf("claims/%s/%s/%s-%s", sessionID, category, uuid.NewString(), base)
}

// Submit validates the damage step counting the pending files, uploads the
// vehicle files and then the third-party files one at a time, and advances.
// Each stored key is recorded on the step as soon as its upload succeeds,
// so a failure part-way keeps the earlier files; nothing is rolled back.
func (d *DamageSubmitter) Submit(ctx context.Context, sessionID string, vehicleFiles, thirdPartyFiles []Upload) (model.Transition, error) {
	ref, err := d.engine.lookup(ClaimWizardID, DamageStepID)
	if err != nil {
		return model.Transition{}, err
	}

	msg, err := d.engine.Validate(ctx, sessionID, ClaimWizardID, DamageStepID, map[string][]string{
		VehicleFilesField:    uploadNames(vehicleFiles),
		ThirdPartyFilesField: uploadNames(thirdPartyFiles),
	})
	if err != nil {
		return model.Transition{}, err
	}
	if msg != "" {
		return model.Transition{Route: ref.step.Route, Error: msg}, nil
	}

	batches := []struct {
		category string
		field    string
		files    []Upload
	}{
		{"vehicle", VehicleFilesField, vehicleFiles},
		{"third-party", ThirdPartyFilesField, thirdPartyFiles},
	}
	for _, b := range batches {
		for _, u := range b.files {
			if err := d.store(ctx, ref, sessionID, b.category, b.field, u); err != nil {
				d.logger.Warn("damage file upload failed",
					zap.String("category", b.category),
					zap.String("file", u.Name),
					zap.Error(err),
				)
				d.recorder.RecordUpload(b.category, "failure")
				failed := model.NewUploadFailedError()
				if serr := d.engine.setError(ctx, sessionID, ref, failed.Message); serr != nil {
					d.logger.Warn("recording upload failure", zap.Error(serr))
				}
				return model.Transition{Route: ref.step.Route, Error: failed.Message}, failed
			}
			d.recorder.RecordUpload(b.category, "success")
		}
	}

	return d.engine.ValidateAndAdvance(ctx, sessionID, ClaimWizardID, DamageStepID)
}

func (d *DamageSubmitter) store(ctx context.Context, ref stepRef, sessionID, category, field string, u Upload) (err error) {
	ctx, span := observability.StartUploadSpan(ctx, category, u.Size)
	defer func() { observability.EndSpanWithError(span, err) }()

	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key, err := d.objects.Put(ctx, d.newKey(sessionID, category, u.Name), contentType, u.Body, u.Size)
	if err != nil {
		return err
	}
	return d.engine.appendFiles(ctx, sessionID, ref, field, key)
}

func uploadNames(files []Upload) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}

func (e *Engine) appendFiles(ctx context.Context, sessionID string, ref stepRef, field string, keys ...string) error {
	state, st, err := e.stepState(ctx, sessionID, ref)
	if err != nil {
		return err
	}
	st.Append(field, keys...)
	return e.save(ctx, state)
}

func (e *Engine) setError(ctx context.Context, sessionID string, ref stepRef, msg string) error {
	state, st, err := e.stepState(ctx, sessionID, ref)
	if err != nil {
		return err
	}
	st.Error = msg
	return e.save(ctx, state)
}
