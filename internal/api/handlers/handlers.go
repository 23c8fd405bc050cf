package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/archive"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/progress"
	"github.com/dvloznov/statement-analyzer/internal/tasks"
)

// StatementsHandler handles statement submission and task inspection.
type StatementsHandler struct {
	store     *tasks.Store
	bus       *progress.Bus
	publisher jobs.Publisher
	runner    *pipeline.Runner
	archiver  *archive.Uploader
	maxBytes  int64
	log       zerolog.Logger
}

// NewStatementsHandler creates a new statements handler. The archiver may
// be nil when no bucket is configured.
func NewStatementsHandler(store *tasks.Store, bus *progress.Bus, publisher jobs.Publisher, runner *pipeline.Runner, archiver *archive.Uploader, maxBytes int64, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{
		store:     store,
		bus:       bus,
		publisher: publisher,
		runner:    runner,
		archiver:  archiver,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// Submit handles POST /api/statements
func (h *StatementsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	document, filename, password, ok := h.readStatementForm(w, r)
	if !ok {
		return
	}

	task, err := h.store.Create(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create task")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	h.archiveDocument(r, task.ID, filename, document)

	// Open the stream now so clients can subscribe before the first
	// milestone is published.
	h.bus.Init(task.ID)

	job := &jobs.AnalyzeStatementJob{
		TaskID:   task.ID,
		Filename: filename,
		Document: document,
		Password: password,
	}
	if err := h.publisher.PublishAnalyzeStatement(ctx, job); err != nil {
		h.log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to enqueue analysis job")
		_ = h.store.Fail(task.ID, "failed to enqueue analysis job")
		// The stream is already open; close it so subscribers are not left
		// waiting on a task that will never run.
		h.bus.Publish(task.ID, progress.TerminalProgress, "Processing failed", map[string]interface{}{
			"error": "failed to enqueue analysis job",
		})
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue analysis job")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("task_id", task.ID).
		Str("filename", filename).
		Msg("Analysis job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "success",
		"message": "Statement accepted for processing",
		"data": map[string]string{
			"task_id": task.ID,
			"status":  string(task.Status),
		},
	})
}

// SubmitSync handles POST /api/statements/sync
func (h *StatementsHandler) SubmitSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	document, filename, password, ok := h.readStatementForm(w, r)
	if !ok {
		return
	}

	task, err := h.store.Create(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create task")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}

	h.archiveDocument(r, task.ID, filename, document)

	result, err := h.runner.Process(ctx, task.ID, document, password)
	if err != nil {
		h.log.Error().Err(err).Str("task_id", task.ID).Msg("Synchronous analysis failed")
		middleware.WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Analysis failed: %v", err))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("Successfully analyzed %d transactions", len(result.Transactions)),
		"data": map[string]interface{}{
			"task_id": task.ID,
			"result":  result,
		},
	})
}

// GetStatus handles GET /api/statements/{id}/status
func (h *StatementsHandler) GetStatus(w http.ResponseWriter, r *http.Request, taskID string) {
	if _, err := uuid.Parse(taskID); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid task id")
		return
	}

	task, err := h.store.Get(taskID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Task not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   task,
	})
}

// StreamEvents handles GET /api/statements/{id}/events as an SSE stream.
// The stream replays milestones already published, then follows live ones,
// and terminates after the terminal event.
func (h *StatementsHandler) StreamEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	if _, err := uuid.Parse(taskID); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid task id")
		return
	}

	events, cancel, err := h.bus.Subscribe(taskID)
	if err != nil {
		// Stream already collected; fall back to the durable task state.
		task, storeErr := h.store.Get(taskID)
		if storeErr != nil {
			middleware.WriteError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.writeTerminalSnapshot(w, task)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Progress >= progress.TerminalProgress {
				return
			}
		}
	}
}

// readStatementForm validates the multipart upload and returns the document
// bytes. It writes the error response itself when validation fails.
func (h *StatementsHandler) readStatementForm(w http.ResponseWriter, r *http.Request) (document []byte, filename, password string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return nil, "", "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "A statement file is required")
		return nil, "", "", false
	}
	defer file.Close()

	filename = filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		middleware.WriteError(w, http.StatusBadRequest, "Only PDF statements are supported")
		return nil, "", "", false
	}

	document, err = io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return nil, "", "", false
	}
	if len(document) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Uploaded file is empty")
		return nil, "", "", false
	}

	return document, filename, r.FormValue("password"), true
}

// archiveDocument stores the upload in GCS when a bucket is configured.
// Failures are logged only; archival never blocks processing.
func (h *StatementsHandler) archiveDocument(r *http.Request, taskID, filename string, document []byte) {
	if h.archiver == nil {
		return
	}
	objectName := fmt.Sprintf("statements/%s/%s/%s", time.Now().Format("2006/01/02"), taskID, filename)
	uri, err := h.archiver.Upload(r.Context(), objectName, document)
	if err != nil {
		h.log.Error().Err(err).Str("task_id", taskID).Msg("Failed to archive statement")
		return
	}
	h.log.Info().Str("task_id", taskID).Str("gcs_uri", uri).Msg("Statement archived")
}

// writeTerminalSnapshot emits a single SSE event reconstructed from the
// task store for streams that have already been collected.
func (h *StatementsHandler) writeTerminalSnapshot(w http.ResponseWriter, task *tasks.Task) {
	ev := progress.Event{Message: task.Message}
	if task.Status.Terminal() {
		ev.Progress = progress.TerminalProgress
	}
	if task.Error != "" {
		ev.Data = map[string]string{"error": task.Error}
	} else if task.Result != nil {
		ev.Data = task.Result
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_ = writeSSE(w, ev)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeSSE(w io.Writer, ev progress.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
