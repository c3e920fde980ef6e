package consult

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsage/internal/ai"
	"medsage/internal/model"
	"medsage/internal/store"
)

type scriptedLLM struct {
	reply      string
	lastPrompt []ai.ChatMessage
}

func (s *scriptedLLM) Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error) {
	s.lastPrompt = messages
	return s.reply, nil
}

type fakeFactReader struct {
	conditions []model.MedicalEntity
	neighbors  map[uint][]model.MedicalEntity
}

func (f *fakeFactReader) SearchSimilar(userID uint, query []float32, k int) ([]store.ScoredChunk, error) {
	return nil, nil
}

func (f *fakeFactReader) Entities(userID uint, category string) ([]model.MedicalEntity, error) {
	return f.conditions, nil
}

func (f *fakeFactReader) Neighbors(userID, entityID uint) ([]model.MedicalEntity, error) {
	return f.neighbors[entityID], nil
}

func newTestSpecialist(reply string) *Specialist {
	return NewSpecialist(SpecialtyCardiology, "You are a cardiologist.",
		[]string{"chest pain", "heart", "palpitation", "cardiac"},
		SpecialistDeps{LLM: &scriptedLLM{reply: reply}})
}

func TestEvaluateParsesStructuredReply(t *testing.T) {
	s := newTestSpecialist(`Sure, here is my assessment:
{"narrative":"Possible angina.","confidence":0.9,"recommendations":["See a cardiologist"],"urgency":"urgent","citations":["doc-1"]}`)

	opinion, err := s.Evaluate(context.Background(), Query{OwnerID: 1, Text: "chest pain"}, Context{})
	require.NoError(t, err)

	assert.Equal(t, SpecialtyCardiology, opinion.Reasoner)
	assert.Equal(t, "Possible angina.", opinion.Narrative)
	assert.Equal(t, UrgencyUrgent, opinion.Urgency)
	assert.Equal(t, []string{"See a cardiologist"}, opinion.Recommendations)
	assert.Equal(t, []string{"doc-1"}, opinion.Citations)

	// blend of keyword baseline (1/4 hits -> 0.4625) and provider 0.9
	assert.InDelta(t, 0.68125, opinion.Confidence, 1e-9)
}

func TestEvaluateFallsBackToRawNarrative(t *testing.T) {
	s := newTestSpecialist("I cannot answer in JSON, but this sounds cardiac.")

	opinion, err := s.Evaluate(context.Background(), Query{OwnerID: 1, Text: "heart flutter"}, Context{})
	require.NoError(t, err)

	assert.Equal(t, "I cannot answer in JSON, but this sounds cardiac.", opinion.Narrative)
	assert.Equal(t, UrgencyRoutine, opinion.Urgency)
	// pure baseline: 0.35 + 0.45 * 1/4
	assert.InDelta(t, 0.4625, opinion.Confidence, 1e-9)
}

func TestBaselineConfidenceDeterministic(t *testing.T) {
	s := newTestSpecialist("")

	first := s.baselineConfidence("chest pain and palpitation")
	second := s.baselineConfidence("chest pain and palpitation")
	assert.Equal(t, first, second)

	// general physician variant has no keywords
	general := NewSpecialist(SpecialtyGeneral, "persona", nil, SpecialistDeps{LLM: &scriptedLLM{}})
	assert.Equal(t, 0.5, general.baselineConfidence("anything"))
}

func TestEvaluateWeavesGraphNeighborsIntoPrompt(t *testing.T) {
	llm := &scriptedLLM{reply: `{"narrative":"ok","confidence":0.5,"urgency":"routine"}`}
	facts := &fakeFactReader{
		conditions: []model.MedicalEntity{{ID: 1, Name: "Hypertension", Category: model.EntityCondition}},
		neighbors: map[uint][]model.MedicalEntity{
			1: {
				{ID: 2, Name: "Chest", Category: model.EntityBodyRegion},
				{ID: 3, Name: "Lisinopril", Category: model.EntityMedication},
			},
		},
	}
	s := NewSpecialist(SpecialtyCardiology, "You are a cardiologist.",
		[]string{"chest pain", "heart"},
		SpecialistDeps{LLM: llm, Facts: facts})

	_, err := s.Evaluate(context.Background(), Query{OwnerID: 1, Text: "chest pain"}, Context{})
	require.NoError(t, err)

	require.Len(t, llm.lastPrompt, 2)
	assert.Contains(t, llm.lastPrompt[1].Content, "Hypertension (related: Chest, Lisinopril)")
}

func TestEvaluateCapsRelatedEntities(t *testing.T) {
	neighbors := make([]model.MedicalEntity, 0, 6)
	for _, name := range []string{"A", "B", "C", "D", "E", "F"} {
		neighbors = append(neighbors, model.MedicalEntity{Name: name})
	}
	facts := &fakeFactReader{
		conditions: []model.MedicalEntity{{ID: 1, Name: "Hypertension"}},
		neighbors:  map[uint][]model.MedicalEntity{1: neighbors},
	}
	s := NewSpecialist(SpecialtyCardiology, "persona", nil, SpecialistDeps{LLM: &scriptedLLM{}, Facts: facts})

	conditions := s.knownConditions(1)
	require.Len(t, conditions, 1)
	assert.Equal(t, "Hypertension (related: A, B, C, D)", conditions[0])
}
