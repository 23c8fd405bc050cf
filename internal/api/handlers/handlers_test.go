package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/domain"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/progress"
	"github.com/dvloznov/statement-analyzer/internal/tasks"
)

// capturePublisher records publish attempts instead of running them.
type capturePublisher struct {
	mu       sync.Mutex
	jobs     []*jobs.AnalyzeStatementJob
	attempts []*jobs.AnalyzeStatementJob
	err      error
}

func (p *capturePublisher) PublishAnalyzeStatement(ctx context.Context, job *jobs.AnalyzeStatementJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, job)
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

// stubOracle and stubSource drive the synchronous endpoint.
type stubOracle struct{}

func (stubOracle) AnalyzeStructure(ctx context.Context, tables []domain.TableBlock) (*domain.StructureContext, error) {
	return &domain.StructureContext{
		Headers:     []string{"Date", "Description", "Debit", "Credit", "Balance"},
		ExampleRows: [][]string{{"2024-01-05", "SALARY", "", "50000", "61234.50"}},
		ColumnRoles: map[string]int{"date": 0, "description": 1, "debit": 2, "credit": 3, "balance": 4},
	}, nil
}

func (stubOracle) Extract(ctx context.Context, sctx *domain.StructureContext, tables []domain.TableBlock) ([]domain.Transaction, error) {
	return []domain.Transaction{
		{Date: "2024-01-05", Description: "SALARY", Credit: 50000},
	}, nil
}

func (stubOracle) Categorize(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, len(txs))
	copy(out, txs)
	for i := range out {
		out[i].Category = "income.salary"
	}
	return out, nil
}

type stubSource struct{}

func (stubSource) ExtractTables(ctx context.Context, document []byte, password string) ([]domain.TableBlock, error) {
	return []domain.TableBlock{
		{Index: 1, Rows: [][]string{{"Date"}, {"2024-01-05"}}},
	}, nil
}

func newTestHandler(t *testing.T, publisher jobs.Publisher) (*StatementsHandler, *tasks.Store, *progress.Bus) {
	t.Helper()
	store := tasks.NewStore(time.Hour, 15*time.Minute)
	t.Cleanup(store.Close)
	bus := progress.NewBus(time.Minute)

	runner := pipeline.NewRunner(stubOracle{}, stubSource{}, store, bus, pipeline.DefaultConfig(), zerolog.Nop())
	h := NewStatementsHandler(store, bus, publisher, runner, nil, 10*1024*1024, zerolog.Nop())
	return h, store, bus
}

func multipartBody(t *testing.T, filename string, content []byte, password string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("writing file part failed: %v", err)
		}
	}
	if password != "" {
		if err := writer.WriteField("password", password); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing writer failed: %v", err)
	}
	return body, writer.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return payload
}

func TestSubmit(t *testing.T) {
	publisher := &capturePublisher{}
	h, store, _ := newTestHandler(t, publisher)

	body, contentType := multipartBody(t, "statement.pdf", []byte("%PDF-1.7 content"), "secret")
	req := httptest.NewRequest(http.MethodPost, "/api/statements", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202\n%s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["status"] != "success" {
		t.Errorf("envelope status = %v", payload["status"])
	}
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("envelope data = %v", payload["data"])
	}
	taskID, _ := data["task_id"].(string)
	if taskID == "" {
		t.Fatal("no task_id in response")
	}
	if data["status"] != "queued" {
		t.Errorf("task status = %v, want queued", data["status"])
	}

	task, err := store.Get(taskID)
	if err != nil {
		t.Fatalf("task not in store: %v", err)
	}
	if task.Status != tasks.StatusQueued {
		t.Errorf("stored task status = %q", task.Status)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.jobs) != 1 {
		t.Fatalf("published %d jobs, want 1", len(publisher.jobs))
	}
	job := publisher.jobs[0]
	if job.TaskID != taskID {
		t.Errorf("job task id = %q, want %q", job.TaskID, taskID)
	}
	if job.Filename != "statement.pdf" {
		t.Errorf("job filename = %q", job.Filename)
	}
	if string(job.Document) != "%PDF-1.7 content" {
		t.Errorf("job document = %q", job.Document)
	}
	if job.Password != "secret" {
		t.Errorf("job password = %q", job.Password)
	}
	if job.MaxRetries != 0 {
		t.Errorf("job max retries = %d, want 0", job.MaxRetries)
	}
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"missing file", "", nil},
		{"wrong extension", "statement.docx", []byte("content")},
		{"empty file", "statement.pdf", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &capturePublisher{}
			h, _, _ := newTestHandler(t, publisher)

			body, contentType := multipartBody(t, tt.filename, tt.content, "")
			req := httptest.NewRequest(http.MethodPost, "/api/statements", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			h.Submit(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			payload := decodeBody(t, rec)
			if payload["status"] != "error" {
				t.Errorf("envelope status = %v", payload["status"])
			}
			publisher.mu.Lock()
			if len(publisher.jobs) != 0 {
				t.Errorf("invalid upload published %d jobs", len(publisher.jobs))
			}
			publisher.mu.Unlock()
		})
	}
}

func TestSubmit_PublishFailureFailsTask(t *testing.T) {
	publisher := &capturePublisher{err: context.DeadlineExceeded}
	h, store, bus := newTestHandler(t, publisher)

	body, contentType := multipartBody(t, "statement.pdf", []byte("content"), "")
	req := httptest.NewRequest(http.MethodPost, "/api/statements", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Submit(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["status"] != "error" {
		t.Errorf("envelope status = %v", payload["status"])
	}

	publisher.mu.Lock()
	if len(publisher.attempts) != 1 {
		publisher.mu.Unlock()
		t.Fatalf("publish attempts = %d, want 1", len(publisher.attempts))
	}
	taskID := publisher.attempts[0].TaskID
	publisher.mu.Unlock()

	task, err := store.Get(taskID)
	if err != nil {
		t.Fatalf("task not in store: %v", err)
	}
	if task.Status != tasks.StatusFailed {
		t.Errorf("task status = %q, want failed", task.Status)
	}

	// The stream opened before the enqueue attempt must close so subscribers
	// are not left waiting on a task that will never run.
	ch, _, err := bus.Subscribe(taskID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	deadline := time.After(2 * time.Second)
	var last progress.Event
	for open := true; open; {
		select {
		case ev, ok := <-ch:
			if !ok {
				open = false
				break
			}
			last = ev
		case <-deadline:
			t.Fatal("event stream never terminated")
		}
	}
	if last.Progress != progress.TerminalProgress {
		t.Errorf("last event progress = %d, want terminal", last.Progress)
	}
}

func TestGetStatus(t *testing.T) {
	h, store, _ := newTestHandler(t, &capturePublisher{})

	task, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/statements/"+task.ID+"/status", nil)
	rec := httptest.NewRecorder()
	h.GetStatus(rec, req, task.ID)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	payload := decodeBody(t, rec)
	data, _ := payload["data"].(map[string]interface{})
	if data["task_id"] != task.ID || data["status"] != "queued" {
		t.Errorf("data = %v", data)
	}
}

func TestGetStatus_InvalidAndUnknownIDs(t *testing.T) {
	h, _, _ := newTestHandler(t, &capturePublisher{})

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/statements/abc/status", nil), "abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid uuid status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	unknown := "2f0a8f66-1111-2222-3333-444455556666"
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/statements/"+unknown+"/status", nil), unknown)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["status"] != "error" {
		t.Errorf("envelope status = %v", payload["status"])
	}
}

func TestSubmitSync(t *testing.T) {
	h, store, _ := newTestHandler(t, &capturePublisher{})

	body, contentType := multipartBody(t, "statement.pdf", []byte("%PDF-1.7"), "")
	req := httptest.NewRequest(http.MethodPost, "/api/statements/sync", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.SubmitSync(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	data, _ := payload["data"].(map[string]interface{})
	result, _ := data["result"].(map[string]interface{})
	if result == nil {
		t.Fatalf("no result in response: %v", payload)
	}
	txs, _ := result["transactions"].([]interface{})
	if len(txs) != 1 {
		t.Errorf("got %d transactions, want 1", len(txs))
	}

	taskID, _ := data["task_id"].(string)
	task, err := store.Get(taskID)
	if err != nil {
		t.Fatalf("task not in store: %v", err)
	}
	if task.Status != tasks.StatusDone {
		t.Errorf("task status = %q, want done", task.Status)
	}
}

func TestStreamEvents(t *testing.T) {
	h, store, bus := newTestHandler(t, &capturePublisher{})

	task, _ := store.Create(context.Background())
	bus.Init(task.ID)
	bus.Publish(task.ID, 10, "Started statement processing...", nil)
	bus.Publish(task.ID, 40, "Extracted tables from document", nil)
	bus.Publish(task.ID, progress.TerminalProgress, "Completed all processing", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/statements/"+task.ID+"/events", nil)
	rec := httptest.NewRecorder()
	h.StreamEvents(rec, req, task.ID)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var progresses []int
	for _, line := range strings.Split(rec.Body.String(), "\n\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			Progress int    `json:"progress"`
			Message  string `json:"message"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad SSE payload %q: %v", line, err)
		}
		progresses = append(progresses, ev.Progress)
	}

	want := []int{10, 40, 100}
	if len(progresses) != len(want) {
		t.Fatalf("progresses = %v, want %v", progresses, want)
	}
	for i := range want {
		if progresses[i] != want[i] {
			t.Errorf("event %d progress = %d, want %d", i, progresses[i], want[i])
		}
	}
}

func TestStreamEvents_FallsBackToStoreSnapshot(t *testing.T) {
	h, store, _ := newTestHandler(t, &capturePublisher{})

	// Task finished long ago; its stream is gone but the store remembers.
	task, _ := store.Create(context.Background())
	if err := store.Fail(task.ID, "no tables found in the provided document"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/statements/"+task.ID+"/events", nil)
	rec := httptest.NewRecorder()
	h.StreamEvents(rec, req, task.ID)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: ") || !strings.Contains(body, "no tables found") {
		t.Errorf("snapshot body = %q", body)
	}
}

func TestStreamEvents_UnknownTask(t *testing.T) {
	h, _, _ := newTestHandler(t, &capturePublisher{})

	unknown := "2f0a8f66-1111-2222-3333-444455556666"
	req := httptest.NewRequest(http.MethodGet, "/api/statements/"+unknown+"/events", nil)
	rec := httptest.NewRecorder()
	h.StreamEvents(rec, req, unknown)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
