package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-mirror/internal/api/middleware"
	"github.com/dvloznov/ledger-mirror/internal/jobs"
	"github.com/dvloznov/ledger-mirror/internal/logger"
	"github.com/dvloznov/ledger-mirror/internal/webhook"
)

// MaxWebhookBody caps the webhook request body.
const MaxWebhookBody = 1 << 20

// WebhookHandler receives feed-provider deliveries.
type WebhookHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(publisher jobs.Publisher, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		publisher: publisher,
		log:       log,
	}
}

// HandleWebhook handles POST /webhook. Once the body has been read the
// response is always 200 so the provider does not redeliver on our own
// failures; reconciliation runs asynchronously on the job queue.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read webhook body")
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, h.dispatch(ctx, log, body))
}

// dispatch classifies the delivery and returns the acknowledgement body.
// A panic while dispatching is reported as status "error".
func (h *WebhookHandler) dispatch(ctx context.Context, log zerolog.Logger, body []byte) (resp map[string]string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Webhook dispatch panicked")
			resp = map[string]string{"status": "error"}
		}
	}()

	ev, err := webhook.Parse(body)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring malformed webhook")
		return map[string]string{"status": "ignored"}
	}

	log = log.With().
		Str("webhook_type", ev.Payload.Type).
		Str("webhook_code", ev.Payload.Code).
		Str("item_id", ev.Payload.ItemID).
		Logger()

	switch ev.Kind {
	case webhook.KindDefaultUpdate:
		job := &jobs.ReconcileJob{
			Trigger: jobs.TriggerWebhook,
			ItemID:  ev.Payload.ItemID,
		}
		if err := h.publisher.PublishReconcile(ctx, job); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue reconcile job")
			return map[string]string{"status": "error"}
		}
		log.Info().
			Str("job_id", job.JobID).
			Int("new_transactions", ev.Payload.NewTransactions).
			Msg("Reconcile job enqueued")
		return map[string]string{
			"status": "accepted",
			"job_id": job.JobID,
		}

	case webhook.KindError:
		e := log.Error()
		if pe := ev.Payload.Error; pe != nil {
			e = e.Str("error_type", pe.Type).Str("error_code", pe.Code).Str("error_message", pe.Message)
		}
		e.Msg("Feed provider reported an error")
		return map[string]string{"status": "logged"}
	}

	log.Debug().Msg("Ignoring webhook code")
	return map[string]string{"status": "ignored"}
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// EnqueueReconcile handles POST /api/reconcile, a manual trigger with an
// optional explicit window.
func (h *JobsHandler) EnqueueReconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}

	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if (req.StartDate == "") != (req.EndDate == "") {
		middleware.WriteError(w, http.StatusBadRequest, "start_date and end_date must be given together")
		return
	}
	if req.StartDate != "" {
		start, err := civil.ParseDate(req.StartDate)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date format")
			return
		}
		end, err := civil.ParseDate(req.EndDate)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date format")
			return
		}
		if end.Before(start) {
			middleware.WriteError(w, http.StatusBadRequest, "end_date is before start_date")
			return
		}
	}

	job := &jobs.ReconcileJob{
		Trigger:     jobs.TriggerManual,
		WindowStart: req.StartDate,
		WindowEnd:   req.EndDate,
	}
	if err := h.publisher.PublishReconcile(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue reconcile job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue reconcile job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Msg("Manual reconcile job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}
