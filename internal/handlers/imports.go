package handlers

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/stockflow-api/internal/backend"
	"github.com/stanstork/stockflow-api/internal/models"
	"github.com/stanstork/stockflow-api/internal/report"
	"github.com/stanstork/stockflow-api/internal/tracker"
)

const maxUploadBytes = 32 << 20

// ImportTracker is what the import endpoints need from the tracker.
type ImportTracker interface {
	ActiveJobs(types ...models.ImportType) []models.ImportJob
	History(types ...models.ImportType) []models.ImportJob
	Job(jobID string) (models.ImportJob, error)
	Submit(ctx context.Context, req backend.SubmitRequest) (models.ImportJob, error)
	Refresh(ctx context.Context) error
	Cancel(ctx context.Context, jobID string) error
	Subscribe(onChange func(tracker.Update)) func()
}

type ImportHandler struct {
	tracker   ImportTracker
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewImportHandler(t ImportTracker, v *validator.Validate, logger zerolog.Logger) *ImportHandler {
	return &ImportHandler{
		tracker:   t,
		validator: v,
		logger:    logger.With().Str("handler", "imports").Logger(),
	}
}

type submitImportRequest struct {
	Type     string `validate:"required,oneof=import-products import-receipts-inbound import-receipts-outbound"`
	FileName string `validate:"required,max=255"`
}

type jobView struct {
	models.ImportJob
	Progress float64 `json:"progress"`
}

func toViews(jobs []models.ImportJob) []jobView {
	views := make([]jobView, len(jobs))
	for i, job := range jobs {
		views[i] = jobView{ImportJob: job, Progress: job.Progress()}
	}
	return views
}

func (h *ImportHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	types, err := parseTypes(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": toViews(h.tracker.ActiveJobs(types...)),
	})
}

func (h *ImportHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	types, err := parseTypes(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": toViews(h.tracker.History(types...)),
	})
}

func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(mux.Vars(r)["jobID"])
	job, err := h.tracker.Job(jobID)
	if err != nil {
		http.Error(w, "Import job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, jobView{ImportJob: job, Progress: job.Progress()})
}

// Submit forwards a multipart upload (fields "type" and "file") to the
// import backend.
func (h *ImportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart payload", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	payload := submitImportRequest{
		Type:     strings.TrimSpace(r.FormValue("type")),
		FileName: header.Filename,
	}
	if err := h.validator.Struct(&payload); err != nil {
		http.Error(w, "Invalid import request: "+err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.tracker.Submit(r.Context(), backend.SubmitRequest{
		Type:     models.ImportType(payload.Type),
		FileName: payload.FileName,
		Content:  file,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("type", payload.Type).Msg("failed to submit import")
		http.Error(w, "Failed to submit import", backendStatus(err))
		return
	}
	writeJSON(w, http.StatusAccepted, jobView{ImportJob: job, Progress: job.Progress()})
}

func (h *ImportHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Refresh(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("manual refresh failed")
		http.Error(w, "Failed to refresh imports", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ImportHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(mux.Vars(r)["jobID"])
	if jobID == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}
	if err := h.tracker.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			http.Error(w, "Import job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to cancel import", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ErrorReport serves the job's row errors as an XLSX workbook.
func (h *ImportHandler) ErrorReport(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(mux.Vars(r)["jobID"])
	job, err := h.tracker.Job(jobID)
	if err != nil {
		http.Error(w, "Import job not found", http.StatusNotFound)
		return
	}
	data, err := report.ImportErrorsXLSX(job)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to build error report")
		http.Error(w, "Failed to build error report", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": "import-" + jobID + "-errors.xlsx"})
	if disposition == "" {
		disposition = `attachment; filename="import-errors.xlsx"`
	}
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseTypes accepts repeated or comma separated ?type= values.
func parseTypes(r *http.Request) ([]models.ImportType, error) {
	var types []models.ImportType
	for _, raw := range r.URL.Query()["type"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := models.ParseImportType(part)
			if err != nil {
				return nil, err
			}
			types = append(types, t)
		}
	}
	return types, nil
}

func backendStatus(err error) int {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return apiErr.StatusCode
	}
	return http.StatusBadGateway
}
