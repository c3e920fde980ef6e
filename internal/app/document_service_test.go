package app

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsage/internal/ingest"
	"medsage/internal/model"
)

type fakeDocStore struct {
	docs    map[uint]*model.Document
	nextID  uint
	deleted []uint
	counts  map[uint]int64
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: map[uint]*model.Document{}, counts: map[uint]int64{}}
}

func (f *fakeDocStore) PutDocument(doc *model.Document) error {
	if doc.ID == 0 {
		f.nextID++
		doc.ID = f.nextID
	}
	stored := *doc
	f.docs[doc.ID] = &stored
	return nil
}

func (f *fakeDocStore) GetDocument(userID, id uint) (*model.Document, error) {
	doc, ok := f.docs[id]
	if !ok || doc.UserID != userID {
		return nil, nil
	}
	return doc, nil
}

func (f *fakeDocStore) GetDocumentByTaskID(taskID string) (*model.Document, error) {
	for _, doc := range f.docs {
		if doc.TaskID == taskID {
			return doc, nil
		}
	}
	return nil, nil
}

func (f *fakeDocStore) ListDocuments(userID uint) ([]model.Document, error) {
	var out []model.Document
	for _, doc := range f.docs {
		if doc.UserID == userID {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (f *fakeDocStore) DeleteDocument(userID, id uint) error {
	delete(f.docs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDocStore) EmbeddingCount(documentID uint) (int64, error) {
	return f.counts[documentID], nil
}

type fakeTaskStatus struct {
	records map[string]*ingest.Status
}

func newFakeTaskStatus() *fakeTaskStatus {
	return &fakeTaskStatus{records: map[string]*ingest.Status{}}
}

func (f *fakeTaskStatus) Save(ctx context.Context, task *ingest.Task) error {
	f.records[task.ID] = &ingest.Status{
		TaskID:      task.ID,
		OwnerID:     task.OwnerID,
		DocumentID:  task.DocumentID,
		FileName:    task.FileName,
		State:       task.State,
		Progress:    task.Progress,
		FailedStage: task.FailedStage,
		Error:       task.Error,
		Committed:   task.Committed,
	}
	return nil
}

func (f *fakeTaskStatus) Get(ctx context.Context, taskID string) (*ingest.Status, error) {
	return f.records[taskID], nil
}

type fakeTaskPublisher struct {
	published []*ingest.Task
}

func (f *fakeTaskPublisher) Publish(ctx context.Context, task *ingest.Task) error {
	f.published = append(f.published, task)
	return nil
}

func uploadHeader(t *testing.T, name, content string) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["file"][0]
}

func newTestDocumentService(t *testing.T) (*DocumentService, *fakeDocStore, *fakeTaskStatus, *fakeTaskPublisher) {
	t.Helper()
	facts := newFakeDocStore()
	status := newFakeTaskStatus()
	publisher := &fakeTaskPublisher{}
	return NewDocumentService(facts, status, publisher, t.TempDir()), facts, status, publisher
}

func TestSubmitDocumentEnqueuesTask(t *testing.T) {
	svc, facts, _, publisher := newTestDocumentService(t)

	status, err := svc.SubmitDocument(context.Background(), 7, uploadHeader(t, "report.txt", "patient notes"))
	require.NoError(t, err)

	assert.Equal(t, ingest.StateQueued, status.State)
	assert.Zero(t, status.Progress)
	require.Len(t, publisher.published, 1)
	assert.NotZero(t, publisher.published[0].DocumentID)

	doc, err := facts.GetDocumentByTaskID(status.TaskID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "txt", doc.FileType)
}

func TestSubmitDocumentDefersValidationToPipeline(t *testing.T) {
	svc, _, _, publisher := newTestDocumentService(t)

	// a blocked type is not rejected here: it gets a task id and the
	// pipeline's validating stage fails it where status can observe it
	status, err := svc.SubmitDocument(context.Background(), 7, uploadHeader(t, "malware.exe", "MZ"))
	require.NoError(t, err)

	assert.Equal(t, ingest.StateQueued, status.State)
	assert.NotEmpty(t, status.TaskID)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, "exe", publisher.published[0].FileType)
}

func TestGetTaskStatusPrefersLiveRecord(t *testing.T) {
	svc, _, status, _ := newTestDocumentService(t)
	task := ingest.NewTask(7, "report.txt", "txt", "", 12)
	require.NoError(t, status.Save(context.Background(), task))

	got, err := svc.GetTaskStatus(context.Background(), 7, task.ID)
	require.NoError(t, err)
	assert.Equal(t, ingest.StateQueued, got.State)

	_, err = svc.GetTaskStatus(context.Background(), 8, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestGetTaskStatusFallbackReportsFailure(t *testing.T) {
	svc, facts, _, _ := newTestDocumentService(t)
	require.NoError(t, facts.PutDocument(&model.Document{
		UserID:      7,
		TaskID:      "task-1",
		Name:        "malware.exe",
		IngestState: string(ingest.StateFailed),
		FailedStage: string(ingest.StateValidating),
		IngestError: "validation error: file type \"exe\" not allowed",
	}))

	// the live record has expired; the row must not masquerade as success
	got, err := svc.GetTaskStatus(context.Background(), 7, "task-1")
	require.NoError(t, err)
	assert.Equal(t, ingest.StateFailed, got.State)
	assert.Equal(t, string(ingest.StateValidating), got.FailedStage)
	assert.Zero(t, got.Progress)
	assert.Contains(t, got.Error, "validation error")
	assert.False(t, got.Committed.Document)
	assert.False(t, got.Committed.Graph)
	assert.False(t, got.Committed.Vector)
}

func TestGetTaskStatusFallbackReportsCompletion(t *testing.T) {
	svc, facts, _, _ := newTestDocumentService(t)
	require.NoError(t, facts.PutDocument(&model.Document{
		UserID:         7,
		TaskID:         "task-2",
		Name:           "report.txt",
		Text:           "patient notes",
		IngestState:    string(ingest.StateCompleted),
		IngestProgress: 100,
	}))

	got, err := svc.GetTaskStatus(context.Background(), 7, "task-2")
	require.NoError(t, err)
	assert.Equal(t, ingest.StateCompleted, got.State)
	assert.Equal(t, 100, got.Progress)
	assert.True(t, got.Committed.Document)
	assert.True(t, got.Committed.Graph)
	assert.True(t, got.Committed.Vector)
}

func TestGetTaskStatusUnknownWithoutTerminalRecord(t *testing.T) {
	svc, facts, _, _ := newTestDocumentService(t)
	// row created at submit time, pipeline never reached a terminal state
	require.NoError(t, facts.PutDocument(&model.Document{
		UserID: 7,
		TaskID: "task-3",
		Name:   "report.txt",
	}))

	_, err := svc.GetTaskStatus(context.Background(), 7, "task-3")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestListDocumentsIncludesChunkCounts(t *testing.T) {
	svc, facts, _, _ := newTestDocumentService(t)
	require.NoError(t, facts.PutDocument(&model.Document{UserID: 7, TaskID: "t", Name: "report.txt"}))
	facts.counts[1] = 5

	views, err := svc.ListDocuments(7)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, int64(5), views[0].ChunkCount)
}
