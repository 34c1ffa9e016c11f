package transport

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/internal/wizard"
	"github.com/pitabwire/surety/model"
)

// multipartMemory is how much of a damage submission is held in memory
// before parts spill to temporary files.
const multipartMemory = 8 << 20

// DamageService uploads damage photos and advances the claim wizard.
type DamageService interface {
	Submit(ctx context.Context, sessionID string, vehicleFiles, thirdPartyFiles []wizard.Upload) (model.Transition, error)
}

// handleSubmitDamage handles POST /ui/wizards/claim-submission/damage-details/submit.
// The body is multipart with vehicleDamageFiles and thirdPartyFiles parts.
func handleSubmitDamage(svc DamageService, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := sessionKey(w, r)
		if !ok {
			return
		}

		if maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, model.NewBadRequestError("Damage files exceed the upload limit"))
				return
			}
			WriteError(w, model.NewBadRequestError("Invalid multipart body"))
			return
		}
		defer func() {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				observability.LoggerFrom(r.Context(), zap.NewNop()).Warn("removing multipart files", zap.Error(err))
			}
		}()

		vehicle, closeVehicle, err := openUploads(r.MultipartForm.File[wizard.VehicleFilesField])
		defer closeVehicle()
		if err != nil {
			respondError(w, r, err)
			return
		}
		thirdParty, closeThirdParty, err := openUploads(r.MultipartForm.File[wizard.ThirdPartyFilesField])
		defer closeThirdParty()
		if err != nil {
			respondError(w, r, err)
			return
		}

		tr, err := svc.Submit(r.Context(), sid, vehicle, thirdParty)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, tr)
	}
}

// openUploads opens every file header. The returned close func is always
// safe to call.
func openUploads(headers []*multipart.FileHeader) ([]wizard.Upload, func(), error) {
	uploads := make([]wizard.Upload, 0, len(headers))
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		files = append(files, f)
		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		uploads = append(uploads, wizard.Upload{
			Name:        fh.Filename,
			ContentType: contentType,
			Size:        fh.Size,
			Body:        f,
		})
	}
	return uploads, closeAll, nil
}
