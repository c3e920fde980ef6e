package ingest

import (
	"time"

	"github.com/google/uuid"
)

// Task lifecycle states. Transitions walk the stage order once; Failed is
// reachable from any non-terminal state and both terminals are final.
type State string

const (
	StateQueued             State = "queued"
	StateValidating         State = "validating"
	StateExtractingText     State = "extracting_text"
	StateExtractingEntities State = "extracting_entities"
	StateEmbedding          State = "embedding"
	StatePersisting         State = "persisting"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

var stageOrder = []State{
	StateQueued,
	StateValidating,
	StateExtractingText,
	StateExtractingEntities,
	StateEmbedding,
	StatePersisting,
	StateCompleted,
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Progress maps the reached state onto a monotone percentage.
func (s State) Progress() int {
	if s == StateCompleted {
		return 100
	}
	for i, st := range stageOrder {
		if st == s {
			return i * 100 / (len(stageOrder) - 1)
		}
	}
	return 0
}

// Next returns the state following s in the stage order; ok is false for
// terminal states.
func (s State) Next() (State, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return s, false
}

// CanTransition reports whether from→to is a legal step: the single next
// stage, or a drop to Failed from any non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

// ExtractedEntity is one structured medical entity derived from a
// document.
type ExtractedEntity struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Severity string `json:"severity,omitempty"`
}

// ExtractedRelation links two extracted entities by name.
type ExtractedRelation struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// Artifacts carries intermediate stage output through the queue. They ride
// the task message rather than a scratch store so a stage never depends on
// state outside its input.
type Artifacts struct {
	Text       string              `json:"text,omitempty"`
	ScanLabels []string            `json:"scan_labels,omitempty"`
	Entities   []ExtractedEntity   `json:"entities,omitempty"`
	Relations  []ExtractedRelation `json:"relations,omitempty"`
	Chunks     []string            `json:"chunks,omitempty"`
	Embeddings [][]float32         `json:"embeddings,omitempty"`
}

// Committed tracks which of the three persist writes have landed. On a
// partial failure the flags stay set: writes are not rolled back and the
// reconciliation read repairs discrepancies on next access.
type Committed struct {
	Document bool `json:"document"`
	Graph    bool `json:"graph"`
	Vector   bool `json:"vector"`
}

// Task is one document's asynchronous ingestion job.
type Task struct {
	ID          string    `json:"id"`
	OwnerID     uint      `json:"owner_id"`
	DocumentID  uint      `json:"document_id"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	SizeBytes   int64     `json:"size_bytes"`
	FilePath    string    `json:"file_path"`
	State       State     `json:"state"`
	Progress    int       `json:"progress"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	Committed   Committed `json:"committed"`
	Artifacts   Artifacts `json:"artifacts,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

func NewTask(ownerID uint, fileName, fileType, filePath string, sizeBytes int64) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		FileName:  fileName,
		FileType:  fileType,
		FilePath:  filePath,
		SizeBytes: sizeBytes,
		State:     StateQueued,
		Progress:  StateQueued.Progress(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// begin marks the task as executing a stage. Progress does not move:
// the percentage tracks completed stages, and a stage that fails must
// leave the task at the progress of the last stage that finished.
func (t *Task) begin(to State) {
	t.State = to
	t.UpdatedAt = time.Now()
}

// advance moves the task to the next stage state. Progress never
// decreases.
func (t *Task) advance(to State) {
	t.State = to
	if p := to.Progress(); p > t.Progress {
		t.Progress = p
	}
	t.UpdatedAt = time.Now()
	if to.Terminal() {
		t.FinishedAt = t.UpdatedAt
	}
}

// fail drops the task to the terminal Failed state, recording the stage
// that broke. Progress keeps its last value.
func (t *Task) fail(stage State, err error) {
	t.State = StateFailed
	t.FailedStage = string(stage)
	t.Error = err.Error()
	t.UpdatedAt = time.Now()
	t.FinishedAt = t.UpdatedAt
}

// EntitySummary lists extracted entity names once available.
func (t *Task) EntitySummary() []string {
	out := make([]string, 0, len(t.Artifacts.Entities))
	for _, e := range t.Artifacts.Entities {
		out = append(out, e.Name)
	}
	return out
}
