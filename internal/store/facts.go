// Package store exposes the fact store adapter: one surface over the four
// independent backing stores (document rows, entity graph, chunk vector
// index, redis ephemeral state). Callers never touch the individual store
// clients directly.
package store

import (
	"context"
	"fmt"
	"time"

	"medsage/internal/model"
	"medsage/internal/repository"
)

type Facts struct {
	docs      *repository.DocumentRepository
	chunks    *repository.ChunkRepository
	graph     *repository.GraphRepository
	timeline  *repository.TimelineRepository
	ephemeral *Ephemeral
}

func NewFacts(
	docs *repository.DocumentRepository,
	chunks *repository.ChunkRepository,
	graph *repository.GraphRepository,
	timeline *repository.TimelineRepository,
	ephemeral *Ephemeral,
) *Facts {
	return &Facts{
		docs:      docs,
		chunks:    chunks,
		graph:     graph,
		timeline:  timeline,
		ephemeral: ephemeral,
	}
}

// Document store surface.

func (f *Facts) PutDocument(doc *model.Document) error {
	if doc.ID == 0 {
		return f.docs.Create(doc)
	}
	return f.docs.Update(doc)
}

func (f *Facts) GetDocument(userID, id uint) (*model.Document, error) {
	return f.docs.GetByIDAndUserID(id, userID)
}

// GetDocumentByTaskID resolves the durable trace of an ingestion task once
// the ephemeral status record has expired.
func (f *Facts) GetDocumentByTaskID(taskID string) (*model.Document, error) {
	return f.docs.GetByTaskID(taskID)
}

func (f *Facts) ListDocuments(userID uint) ([]model.Document, error) {
	return f.docs.ListByUserID(userID)
}

// DeleteDocument removes the row and its chunks. Graph entities derived
// from the document stay; the reconciliation pass on next access handles
// any dangling provenance.
func (f *Facts) DeleteDocument(userID, id uint) error {
	doc, err := f.docs.GetByIDAndUserID(id, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	if err := f.chunks.DeleteByDocumentID(doc.ID); err != nil {
		return err
	}
	return f.docs.DeleteByIDAndUserID(id, userID)
}

// Graph store surface.

func (f *Facts) UpsertEntity(entity *model.MedicalEntity) error {
	return f.graph.UpsertEntity(entity)
}

func (f *Facts) UpsertRelation(rel *model.EntityRelation) error {
	return f.graph.UpsertRelation(rel)
}

func (f *Facts) Entities(userID uint, category string) ([]model.MedicalEntity, error) {
	return f.graph.ListEntitiesByUserID(userID, category)
}

func (f *Facts) Neighbors(userID, entityID uint) ([]model.MedicalEntity, error) {
	return f.graph.Neighbors(userID, entityID)
}

// Timeline surface (part of the document store keyspace).

func (f *Facts) CreateTimelineEvent(event *model.TimelineEvent) error {
	return f.timeline.Create(event)
}

func (f *Facts) GetTimelineEvent(userID, id uint) (*model.TimelineEvent, error) {
	return f.timeline.GetByIDAndUserID(id, userID)
}

func (f *Facts) ListTimeline(userID uint, filter repository.TimelineFilter) ([]model.TimelineEvent, error) {
	return f.timeline.ListByUserID(userID, filter)
}

func (f *Facts) UpdateTimelineEvent(event *model.TimelineEvent) error {
	return f.timeline.Update(event)
}

func (f *Facts) DeleteTimelineEvent(userID, id uint) error {
	return f.timeline.DeleteByIDAndUserID(id, userID)
}

// Vector index surface.

func (f *Facts) UpsertEmbeddings(chunks []model.DocumentChunk) error {
	return f.chunks.CreateBatch(chunks)
}

func (f *Facts) EmbeddingCount(documentID uint) (int64, error) {
	return f.chunks.CountByDocumentID(documentID)
}

// SearchSimilar scores every chunk of the owner against the query vector
// and returns the k best matches. The candidate set is owner-partitioned,
// so the scan stays small in practice.
func (f *Facts) SearchSimilar(userID uint, query []float32, k int) ([]ScoredChunk, error) {
	candidates, err := f.chunks.ListByUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("load candidate chunks failed: %w", err)
	}
	return rankByCosine(candidates, query, k), nil
}

// Ephemeral store surface. Task status records live here: they survive
// process restarts while a task runs and expire once it is terminal.

func (f *Facts) EphemeralGet(ctx context.Context, key string) (string, bool, error) {
	return f.ephemeral.Get(ctx, key)
}

// EphemeralSet writes a key with an optional TTL; zero means no expiry.
func (f *Facts) EphemeralSet(ctx context.Context, key, value string, ttl time.Duration) error {
	return f.ephemeral.Set(ctx, key, value, ttl)
}
