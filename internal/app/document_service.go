package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"medsage/internal/ingest"
	"medsage/internal/model"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrDocNotFound  = errors.New("document not found")
)

// documentStore is the fact-store slice the service needs.
type documentStore interface {
	PutDocument(doc *model.Document) error
	GetDocument(userID, id uint) (*model.Document, error)
	GetDocumentByTaskID(taskID string) (*model.Document, error)
	ListDocuments(userID uint) ([]model.Document, error)
	DeleteDocument(userID, id uint) error
	EmbeddingCount(documentID uint) (int64, error)
}

type taskStatusStore interface {
	Save(ctx context.Context, task *ingest.Task) error
	Get(ctx context.Context, taskID string) (*ingest.Status, error)
}

type taskPublisher interface {
	Publish(ctx context.Context, task *ingest.Task) error
}

// DocumentView is a listed document plus its indexed chunk count.
type DocumentView struct {
	model.Document
	ChunkCount int64 `json:"chunk_count"`
}

// DocumentService accepts uploads, hands them to the ingestion pipeline,
// and answers status and listing queries.
type DocumentService struct {
	facts     documentStore
	status    taskStatusStore
	publisher taskPublisher
	uploadDir string
}

func NewDocumentService(
	facts documentStore,
	status taskStatusStore,
	publisher taskPublisher,
	uploadDir string,
) *DocumentService {
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	return &DocumentService{
		facts:     facts,
		status:    status,
		publisher: publisher,
		uploadDir: uploadDir,
	}
}

// SubmitDocument stages the upload on disk, creates the durable document
// row, and enqueues the ingestion task. Validation is the pipeline's
// first stage: an oversize or blocked upload still gets a task id, and
// that task fails at Validating where its status can be observed.
func (s *DocumentService) SubmitDocument(ctx context.Context, userID uint, header *multipart.FileHeader) (*ingest.Status, error) {
	if userID == 0 || header == nil {
		return nil, ErrInvalidInput
	}

	fileType := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	task := ingest.NewTask(userID, header.Filename, fileType, "", header.Size)
	stagedPath, err := s.stageFile(header, task.ID, fileType)
	if err != nil {
		return nil, err
	}
	task.FilePath = stagedPath

	doc := &model.Document{
		UserID:    userID,
		TaskID:    task.ID,
		Name:      header.Filename,
		FileType:  fileType,
		SizeBytes: header.Size,
	}
	if err := s.facts.PutDocument(doc); err != nil {
		_ = os.Remove(stagedPath)
		return nil, err
	}
	task.DocumentID = doc.ID

	if err := s.publisher.Publish(ctx, task); err != nil {
		_ = os.Remove(stagedPath)
		return nil, fmt.Errorf("enqueue ingest task failed: %w", err)
	}
	if err := s.status.Save(ctx, task); err != nil {
		return nil, err
	}
	return s.status.Get(ctx, task.ID)
}

// GetTaskStatus reads the live status record and falls back to the
// document row once the record has expired. The row carries the terminal
// outcome the pipeline stamped on it; a row without one means the task
// never finished and its live record is gone, so the task is unknown.
func (s *DocumentService) GetTaskStatus(ctx context.Context, userID uint, taskID string) (*ingest.Status, error) {
	if userID == 0 || taskID == "" {
		return nil, ErrInvalidInput
	}

	status, err := s.status.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if status != nil {
		if status.OwnerID != userID {
			return nil, ErrTaskNotFound
		}
		return status, nil
	}

	doc, err := s.facts.GetDocumentByTaskID(taskID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.UserID != userID {
		return nil, ErrTaskNotFound
	}

	switch ingest.State(doc.IngestState) {
	case ingest.StateCompleted:
		return &ingest.Status{
			TaskID:     taskID,
			OwnerID:    doc.UserID,
			DocumentID: doc.ID,
			FileName:   doc.Name,
			State:      ingest.StateCompleted,
			Progress:   100,
			Committed:  ingest.Committed{Document: true, Graph: true, Vector: true},
			CreatedAt:  doc.CreatedAt,
		}, nil
	case ingest.StateFailed:
		return &ingest.Status{
			TaskID:      taskID,
			OwnerID:     doc.UserID,
			DocumentID:  doc.ID,
			FileName:    doc.Name,
			State:       ingest.StateFailed,
			Progress:    doc.IngestProgress,
			FailedStage: doc.FailedStage,
			Error:       doc.IngestError,
			CreatedAt:   doc.CreatedAt,
		}, nil
	default:
		return nil, ErrTaskNotFound
	}
}

// ListDocuments returns the owner's documents with their indexed chunk
// counts.
func (s *DocumentService) ListDocuments(userID uint) ([]DocumentView, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	docs, err := s.facts.ListDocuments(userID)
	if err != nil {
		return nil, err
	}
	views := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		count, err := s.facts.EmbeddingCount(doc.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, DocumentView{Document: doc, ChunkCount: count})
	}
	return views, nil
}

func (s *DocumentService) DeleteDocument(userID, documentID uint) error {
	if userID == 0 || documentID == 0 {
		return ErrInvalidInput
	}
	doc, err := s.facts.GetDocument(userID, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocNotFound
	}
	return s.facts.DeleteDocument(userID, documentID)
}

func (s *DocumentService) stageFile(header *multipart.FileHeader, taskID, fileType string) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open upload failed: %w", err)
	}
	defer src.Close()

	path := filepath.Join(s.uploadDir, taskID+"."+fileType)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("stage upload failed: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write staged upload failed: %w", err)
	}
	return path, nil
}
