// Package ingest drives the asynchronous document pipeline: a task walks
// validate → extract text → extract entities → embed → persist, one stage
// per queue hop, with status persisted to the ephemeral store after every
// transition.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"medsage/internal/ai"
	"medsage/internal/model"
)

var (
	// ErrValidation marks bad input; never retried.
	ErrValidation = errors.New("validation error")
	// ErrStoreWrite marks a persist write that failed after retries. The
	// task fails but committed writes stay in place.
	ErrStoreWrite = errors.New("store write failure")
)

// FactWriter is the write slice of the fact store adapter the pipeline
// needs.
type FactWriter interface {
	PutDocument(doc *model.Document) error
	GetDocument(userID, id uint) (*model.Document, error)
	UpsertEntity(entity *model.MedicalEntity) error
	UpsertRelation(rel *model.EntityRelation) error
	UpsertEmbeddings(chunks []model.DocumentChunk) error
	CreateTimelineEvent(event *model.TimelineEvent) error
}

// TextExtractor turns raw file bytes into plain text. An empty result is
// not an error.
type TextExtractor interface {
	Extract(fileType string, data []byte) (string, error)
}

// ScanClassifier labels image-only uploads so downstream stages have some
// context to work with when there is no text layer.
type ScanClassifier interface {
	Labels(data []byte) ([]string, error)
}

// LLM is the provider slice used for entity extraction and embedding.
type LLM interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
	EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, error)
}

// StatusSink persists task status transitions.
type StatusSink interface {
	Save(ctx context.Context, task *Task) error
}

// Config carries the pipeline tunables.
type Config struct {
	MaxFileBytes   int64
	AllowedTypes   []string
	MaxRetries     int
	BackoffBase    time.Duration
	StageTimeout   time.Duration
	ChunkSize      int
	ChunkOverlap   int
	EmbeddingBatch int
	ChatCfg        ai.ChatConfig
	EmbCfg         ai.EmbeddingConfig
}

type Pipeline struct {
	facts      FactWriter
	extractor  TextExtractor
	classifier ScanClassifier
	llm        LLM
	status     StatusSink
	cfg        Config
	logger     *zap.Logger
}

func NewPipeline(
	facts FactWriter,
	extractor TextExtractor,
	classifier ScanClassifier,
	llm LLM,
	status StatusSink,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 2
	}
	if cfg.EmbeddingBatch <= 0 {
		cfg.EmbeddingBatch = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		facts:      facts,
		extractor:  extractor,
		classifier: classifier,
		llm:        llm,
		status:     status,
		cfg:        cfg,
		logger:     logger,
	}
}

// Advance executes exactly one stage for the task and reports whether the
// task reached a terminal state. The state advances only once the stage
// succeeds, so progress always reflects completed work: a task that fails
// in Validating still shows the progress it entered with. Stage failures
// drop the task to Failed; they are terminal for the task, never an error
// for the worker loop.
func (p *Pipeline) Advance(ctx context.Context, task *Task) bool {
	if task.State.Terminal() {
		return true
	}
	stage, _ := task.State.Next()
	task.begin(stage)
	p.saveStatus(ctx, task)

	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	err := p.runStage(stageCtx, stage, task)
	cancel()

	if err != nil {
		task.fail(stage, err)
		p.logger.Warn("ingest stage failed",
			zap.String("task_id", task.ID),
			zap.String("stage", string(stage)),
			zap.Error(err))
		p.recordOutcome(ctx, task)
		p.saveStatus(ctx, task)
		p.removeSource(task)
		return true
	}

	task.advance(stage)
	if stage == StatePersisting {
		task.advance(StateCompleted)
		p.recordOutcome(ctx, task)
		p.removeSource(task)
	}
	p.saveStatus(ctx, task)
	return task.State.Terminal()
}

func (p *Pipeline) runStage(ctx context.Context, stage State, task *Task) error {
	switch stage {
	case StateValidating:
		return p.validate(task)
	case StateExtractingText:
		return p.extractText(task)
	case StateExtractingEntities:
		return p.extractEntities(ctx, task)
	case StateEmbedding:
		return p.embed(ctx, task)
	case StatePersisting:
		return p.persist(ctx, task)
	}
	return nil
}

// recordOutcome stamps the terminal result onto the document row. The
// ephemeral status record expires; the row is what later status reads
// fall back to, so it must say how the task actually ended.
func (p *Pipeline) recordOutcome(ctx context.Context, task *Task) {
	if task.DocumentID == 0 {
		return
	}
	err := p.retryStore(ctx, func() error {
		doc, getErr := p.facts.GetDocument(task.OwnerID, task.DocumentID)
		if getErr != nil {
			return getErr
		}
		if doc == nil {
			return backoff.Permanent(fmt.Errorf("document %d not found for task %s", task.DocumentID, task.ID))
		}
		doc.IngestState = string(task.State)
		doc.IngestProgress = task.Progress
		doc.FailedStage = task.FailedStage
		doc.IngestError = truncate(task.Error, 500)
		return p.facts.PutDocument(doc)
	})
	if err != nil {
		p.logger.Warn("record task outcome failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

// validate checks the allow-list and size cap. A violation fails the task
// immediately with no further I/O.
func (p *Pipeline) validate(task *Task) error {
	fileType := strings.ToLower(strings.TrimPrefix(task.FileType, "."))
	allowed := false
	for _, t := range p.cfg.AllowedTypes {
		if t == fileType {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: file type %q not allowed", ErrValidation, task.FileType)
	}
	if p.cfg.MaxFileBytes > 0 && task.SizeBytes > p.cfg.MaxFileBytes {
		return fmt.Errorf("%w: file size %d exceeds cap %d", ErrValidation, task.SizeBytes, p.cfg.MaxFileBytes)
	}
	return nil
}

// extractText pulls the text layer from the upload. Image-only uploads go
// through the scan classifier instead; its labels become the only context
// downstream stages see. An empty result is recorded and the pipeline
// proceeds.
func (p *Pipeline) extractText(task *Task) error {
	data, err := os.ReadFile(task.FilePath)
	if err != nil {
		return fmt.Errorf("read source file failed: %w", err)
	}

	if isImageType(task.FileType) {
		if p.classifier != nil {
			labels, clsErr := p.classifier.Labels(data)
			if clsErr != nil {
				p.logger.Warn("scan classification failed",
					zap.String("task_id", task.ID), zap.Error(clsErr))
			}
			task.Artifacts.ScanLabels = labels
		}
		return nil
	}

	text, err := p.extractor.Extract(task.FileType, data)
	if err != nil {
		return fmt.Errorf("extract text failed: %w", err)
	}
	task.Artifacts.Text = strings.TrimSpace(text)
	return nil
}

// extractEntities asks the provider for structured entities. Transient
// provider failures retry with bounded exponential backoff before failing
// the task.
func (p *Pipeline) extractEntities(ctx context.Context, task *Task) error {
	source := task.Artifacts.Text
	if source == "" && len(task.Artifacts.ScanLabels) > 0 {
		source = "Medical scan labeled: " + strings.Join(task.Artifacts.ScanLabels, ", ")
	}
	if source == "" {
		// nothing to extract from; downstream proceeds with empty context
		return nil
	}

	prompt := []ai.ChatMessage{
		{Role: "system", Content: "You extract structured medical facts from documents."},
		{Role: "user", Content: "Extract medical entities from the following document. Reply with strict JSON only: " +
			`{"entities":[{"name":string,"category":"condition"|"medication"|"body_region"|"procedure","severity":"normal"|"mild"|"moderate"|"severe"|"critical"}],` +
			`"relations":[{"from":string,"to":string,"relation":string}]}` +
			"\n\nDocument:\n" + truncate(source, 8000)},
	}

	var raw string
	err := p.retryTransient(ctx, func() error {
		var callErr error
		raw, callErr = p.llm.Complete(ctx, p.cfg.ChatCfg, prompt)
		return callErr
	})
	if err != nil {
		return fmt.Errorf("entity extraction failed: %w", err)
	}

	var wire struct {
		Entities  []ExtractedEntity   `json:"entities"`
		Relations []ExtractedRelation `json:"relations"`
	}
	payload := extractJSONObject(raw)
	if payload == "" || json.Unmarshal([]byte(payload), &wire) != nil {
		p.logger.Warn("unparseable entity payload", zap.String("task_id", task.ID))
		return nil
	}
	task.Artifacts.Entities = normalizeEntities(wire.Entities)
	task.Artifacts.Relations = wire.Relations
	return nil
}

// embed chunks the text and embeds each chunk in provider-sized batches.
func (p *Pipeline) embed(ctx context.Context, task *Task) error {
	if task.Artifacts.Text == "" {
		return nil
	}
	chunks := chunkText(task.Artifacts.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return nil
	}

	var embeddings [][]float32
	for i := 0; i < len(chunks); i += p.cfg.EmbeddingBatch {
		end := i + p.cfg.EmbeddingBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		var vecs [][]float32
		err := p.retryTransient(ctx, func() error {
			var callErr error
			vecs, callErr = p.llm.EmbedBatch(ctx, p.cfg.EmbCfg, batch)
			return callErr
		})
		if err != nil {
			return fmt.Errorf("embedding failed: %w", err)
		}
		embeddings = append(embeddings, vecs...)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(embeddings))
	}

	task.Artifacts.Chunks = chunks
	task.Artifacts.Embeddings = embeddings
	return nil
}

// persist writes document, graph, and vector stores in sequence. Each
// write retries independently; an irrecoverable failure fails the task but
// already-committed writes stay. Consistency across the stores is
// eventual, repaired by the reconciliation read on next access.
func (p *Pipeline) persist(ctx context.Context, task *Task) error {
	if !task.Committed.Document {
		if err := p.persistDocument(ctx, task); err != nil {
			return fmt.Errorf("%w: document store: %v", ErrStoreWrite, err)
		}
		task.Committed.Document = true
		p.saveStatus(ctx, task)
	}
	if !task.Committed.Graph {
		if err := p.persistGraph(ctx, task); err != nil {
			return fmt.Errorf("%w: graph store: %v", ErrStoreWrite, err)
		}
		task.Committed.Graph = true
		p.saveStatus(ctx, task)
	}
	if !task.Committed.Vector {
		if err := p.persistVectors(ctx, task); err != nil {
			return fmt.Errorf("%w: vector index: %v", ErrStoreWrite, err)
		}
		task.Committed.Vector = true
	}
	return nil
}

func (p *Pipeline) persistDocument(ctx context.Context, task *Task) error {
	return p.retryStore(ctx, func() error {
		doc, err := p.facts.GetDocument(task.OwnerID, task.DocumentID)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document %d not found for task %s", task.DocumentID, task.ID)
		}
		doc.Text = task.Artifacts.Text
		if err := p.facts.PutDocument(doc); err != nil {
			return err
		}

		// derived timeline events share the document-store write
		for _, e := range task.Artifacts.Entities {
			if e.Category != model.EntityCondition && e.Category != model.EntityProcedure {
				continue
			}
			event := &model.TimelineEvent{
				UserID:      task.OwnerID,
				Category:    e.Category,
				Title:       e.Name,
				Description: "Derived from uploaded document " + task.FileName,
				OccurredAt:  task.CreatedAt,
				Severity:    severityOrDefault(e.Severity),
				Provenance:  task.ID,
			}
			event.SetBodyRegionTags(bodyRegionsFor(e.Name, task.Artifacts))
			if err := p.facts.CreateTimelineEvent(event); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pipeline) persistGraph(ctx context.Context, task *Task) error {
	return p.retryStore(ctx, func() error {
		byName := make(map[string]*model.MedicalEntity, len(task.Artifacts.Entities))
		for _, e := range task.Artifacts.Entities {
			entity := &model.MedicalEntity{
				UserID:   task.OwnerID,
				Name:     e.Name,
				Category: e.Category,
				Severity: severityOrDefault(e.Severity),
				Source:   task.ID,
			}
			if err := p.facts.UpsertEntity(entity); err != nil {
				return err
			}
			byName[strings.ToLower(e.Name)] = entity
		}
		for _, rel := range task.Artifacts.Relations {
			from, okFrom := byName[strings.ToLower(rel.From)]
			to, okTo := byName[strings.ToLower(rel.To)]
			if !okFrom || !okTo || rel.Relation == "" {
				continue
			}
			edge := &model.EntityRelation{
				UserID:   task.OwnerID,
				FromID:   from.ID,
				ToID:     to.ID,
				Relation: rel.Relation,
			}
			if err := p.facts.UpsertRelation(edge); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pipeline) persistVectors(ctx context.Context, task *Task) error {
	if len(task.Artifacts.Chunks) == 0 {
		return nil
	}
	return p.retryStore(ctx, func() error {
		chunks := make([]model.DocumentChunk, len(task.Artifacts.Chunks))
		for i := range task.Artifacts.Chunks {
			chunks[i] = model.DocumentChunk{
				UserID:     task.OwnerID,
				DocumentID: task.DocumentID,
				Content:    task.Artifacts.Chunks[i],
			}
			chunks[i].SetEmbedding(task.Artifacts.Embeddings[i])
		}
		return p.facts.UpsertEmbeddings(chunks)
	})
}

// retryTransient retries only provider failures marked transient.
func (p *Pipeline) retryTransient(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ai.ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, p.newBackoff(ctx))
}

// retryStore retries any store error up to the bound.
func (p *Pipeline) retryStore(ctx context.Context, op func() error) error {
	return backoff.Retry(op, p.newBackoff(ctx))
}

func (p *Pipeline) newBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.BackoffBase
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.cfg.MaxRetries)), ctx)
}

func (p *Pipeline) saveStatus(ctx context.Context, task *Task) {
	if err := p.status.Save(ctx, task); err != nil {
		p.logger.Warn("save task status failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (p *Pipeline) removeSource(task *Task) {
	if task.FilePath == "" {
		return
	}
	if err := os.Remove(task.FilePath); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("remove source file failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

// chunkText splits text into overlapping chunks by rune count.
func chunkText(text string, size, overlap int) []string {
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
		i += size - overlap
	}
	return chunks
}

func normalizeEntities(entities []ExtractedEntity) []ExtractedEntity {
	out := make([]ExtractedEntity, 0, len(entities))
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		name := strings.TrimSpace(e.Name)
		category := strings.ToLower(strings.TrimSpace(e.Category))
		if name == "" {
			continue
		}
		switch category {
		case model.EntityCondition, model.EntityMedication, model.EntityBodyRegion, model.EntityProcedure:
		default:
			continue
		}
		key := strings.ToLower(name) + "|" + category
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ExtractedEntity{Name: name, Category: category, Severity: strings.ToLower(e.Severity)})
	}
	return out
}

func bodyRegionsFor(entityName string, artifacts Artifacts) []string {
	var regions []string
	lowered := strings.ToLower(entityName)
	for _, rel := range artifacts.Relations {
		if strings.ToLower(rel.From) != lowered {
			continue
		}
		for _, e := range artifacts.Entities {
			if e.Category == model.EntityBodyRegion && strings.EqualFold(e.Name, rel.To) {
				regions = append(regions, e.Name)
			}
		}
	}
	return regions
}

func severityOrDefault(severity string) string {
	if model.SeverityRank(severity) < 0 {
		return model.SeverityNormal
	}
	return severity
}

func isImageType(fileType string) bool {
	switch strings.ToLower(strings.TrimPrefix(fileType, ".")) {
	case "png", "jpg", "jpeg":
		return true
	}
	return false
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
