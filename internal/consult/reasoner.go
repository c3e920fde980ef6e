package consult

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"medsage/internal/ai"
	"medsage/internal/model"
	"medsage/internal/store"
)

// Reasoner produces one opinion for a query. Implementations must be safe
// to invoke concurrently against the same query; they share no mutable
// state.
type Reasoner interface {
	Name() string
	Evaluate(ctx context.Context, query Query, convCtx Context) (*Opinion, error)
}

// CompletionClient is the slice of the provider client a reasoner needs.
type CompletionClient interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

type EmbeddingClient interface {
	Embed(ctx context.Context, cfg ai.EmbeddingConfig, text string) ([]float32, error)
}

// FactReader is the read-only slice of the fact store adapter reasoners
// use: vector similarity over prior documents and the known-entity graph.
type FactReader interface {
	SearchSimilar(userID uint, query []float32, k int) ([]store.ScoredChunk, error)
	Entities(userID uint, category string) ([]model.MedicalEntity, error)
	Neighbors(userID, entityID uint) ([]model.MedicalEntity, error)
}

// maxRelatedEntities caps the graph neighbors woven into a prompt per
// condition.
const maxRelatedEntities = 4

// Specialist is a prompt-configured reasoner variant. The persona text is
// configuration injected at construction, not behavior.
type Specialist struct {
	name     string
	persona  string
	keywords []string
	llm      CompletionClient
	embedder EmbeddingClient
	facts    FactReader
	chatCfg  ai.ChatConfig
	embCfg   ai.EmbeddingConfig
	topK     int
}

// SpecialistDeps bundles the collaborators shared by all variants.
type SpecialistDeps struct {
	LLM      CompletionClient
	Embedder EmbeddingClient
	Facts    FactReader
	ChatCfg  ai.ChatConfig
	EmbCfg   ai.EmbeddingConfig
	TopK     int
}

func NewSpecialist(name, persona string, keywords []string, deps SpecialistDeps) *Specialist {
	topK := deps.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Specialist{
		name:     name,
		persona:  persona,
		keywords: keywords,
		llm:      deps.LLM,
		embedder: deps.Embedder,
		facts:    deps.Facts,
		chatCfg:  deps.ChatCfg,
		embCfg:   deps.EmbCfg,
		topK:     topK,
	}
}

// NewSpecialistSet builds the standard variants keyed by specialty name.
func NewSpecialistSet(deps SpecialistDeps) map[string]Reasoner {
	router := NewRouter()
	return map[string]Reasoner{
		SpecialtyCardiology: NewSpecialist(SpecialtyCardiology,
			"You are a cardiologist. Assess the patient's description for cardiovascular causes. Be specific about warning signs that require urgent care.",
			router.taxonomy[SpecialtyCardiology], deps),
		SpecialtyNeurology: NewSpecialist(SpecialtyNeurology,
			"You are a neurologist. Assess the patient's description for neurological causes and note any red-flag symptoms.",
			router.taxonomy[SpecialtyNeurology], deps),
		SpecialtyOrthopedics: NewSpecialist(SpecialtyOrthopedics,
			"You are an orthopedic specialist. Assess the patient's description for musculoskeletal causes.",
			router.taxonomy[SpecialtyOrthopedics], deps),
		SpecialtyGeneral: NewSpecialist(SpecialtyGeneral,
			"You are a general physician. Give a broad differential assessment of the patient's description and practical next steps.",
			nil, deps),
	}
}

func (s *Specialist) Name() string { return s.name }

// Evaluate consults the fact store for related documents and known
// conditions, then asks the provider for a structured opinion. Retrieval
// is best effort: a store miss degrades the context, never the call.
func (s *Specialist) Evaluate(ctx context.Context, query Query, convCtx Context) (*Opinion, error) {
	excerpts := s.relatedExcerpts(ctx, query)
	conditions := s.knownConditions(query.OwnerID)

	raw, err := s.llm.Complete(ctx, s.chatCfg, s.buildPrompt(query, convCtx, excerpts, conditions))
	if err != nil {
		return nil, fmt.Errorf("reasoner %s completion failed: %w", s.name, err)
	}

	opinion := s.parseOpinion(raw, query.Text)
	return opinion, nil
}

func (s *Specialist) relatedExcerpts(ctx context.Context, query Query) []string {
	if s.embedder == nil || s.facts == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, s.embCfg, query.Text)
	if err != nil || len(vec) == 0 {
		return nil
	}
	scored, err := s.facts.SearchSimilar(query.OwnerID, vec, s.topK)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(scored))
	for _, sc := range scored {
		out = append(out, sc.Chunk.Content)
	}
	return out
}

// knownConditions lists the owner's condition entities, each annotated
// with its graph neighbors (affected regions, linked medications) so
// the prompt carries the surrounding context, not just the label.
func (s *Specialist) knownConditions(ownerID uint) []string {
	if s.facts == nil {
		return nil
	}
	entities, err := s.facts.Entities(ownerID, model.EntityCondition)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		label := e.Name
		if related := s.relatedNames(ownerID, e); len(related) > 0 {
			label += " (related: " + strings.Join(related, ", ") + ")"
		}
		out = append(out, label)
	}
	return out
}

func (s *Specialist) relatedNames(ownerID uint, entity model.MedicalEntity) []string {
	neighbors, err := s.facts.Neighbors(ownerID, entity.ID)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if strings.EqualFold(n.Name, entity.Name) {
			continue
		}
		names = append(names, n.Name)
		if len(names) == maxRelatedEntities {
			break
		}
	}
	return names
}

func (s *Specialist) buildPrompt(query Query, convCtx Context, excerpts, conditions []string) []ai.ChatMessage {
	var b strings.Builder
	for _, t := range convCtx.History {
		b.WriteString(t.Role + ": " + t.Content + "\n")
	}
	for _, t := range convCtx.Recent {
		b.WriteString(t.Role + ": " + t.Content + "\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}

	b.WriteString("Patient says: " + query.Text + "\n")
	if len(query.Symptoms) > 0 {
		b.WriteString("Reported symptoms: " + strings.Join(query.Symptoms, ", ") + "\n")
	}
	if query.Duration != "" {
		b.WriteString("Duration: " + query.Duration + "\n")
	}
	if len(conditions) > 0 {
		b.WriteString("Known conditions on record: " + strings.Join(conditions, ", ") + "\n")
	}
	for _, ex := range excerpts {
		b.WriteString("\nRelevant document excerpt:\n" + ex + "\n")
	}

	b.WriteString("\nReply with strict JSON only: " +
		`{"narrative": string, "confidence": number between 0 and 1, ` +
		`"recommendations": [string], "urgency": "routine"|"moderate"|"urgent", ` +
		`"citations": [string]}`)

	return []ai.ChatMessage{
		{Role: "system", Content: s.persona},
		{Role: "user", Content: b.String()},
	}
}

// parseOpinion decodes the provider reply, falling back to the raw text
// with the deterministic baseline confidence when the JSON is unusable.
func (s *Specialist) parseOpinion(raw, queryText string) *Opinion {
	base := s.baselineConfidence(queryText)

	var wire struct {
		Narrative       string   `json:"narrative"`
		Confidence      float64  `json:"confidence"`
		Recommendations []string `json:"recommendations"`
		Urgency         string   `json:"urgency"`
		Citations       []string `json:"citations"`
	}
	payload := extractJSONObject(raw)
	if payload == "" || json.Unmarshal([]byte(payload), &wire) != nil || strings.TrimSpace(wire.Narrative) == "" {
		return &Opinion{
			Reasoner:   s.name,
			Narrative:  strings.TrimSpace(raw),
			Confidence: base,
			Urgency:    UrgencyRoutine,
		}
	}

	confidence := base
	if wire.Confidence > 0 {
		confidence = clamp01(0.5*base + 0.5*clamp01(wire.Confidence))
	}

	urgency := UrgencyRoutine
	switch Urgency(strings.ToLower(strings.TrimSpace(wire.Urgency))) {
	case UrgencyModerate:
		urgency = UrgencyModerate
	case UrgencyUrgent:
		urgency = UrgencyUrgent
	}

	return &Opinion{
		Reasoner:        s.name,
		Narrative:       strings.TrimSpace(wire.Narrative),
		Confidence:      confidence,
		Recommendations: wire.Recommendations,
		Urgency:         urgency,
		Citations:       wire.Citations,
	}
}

// baselineConfidence derives deterministically from keyword affinity, so a
// replay without provider drift yields the same base score.
func (s *Specialist) baselineConfidence(queryText string) float64 {
	if len(s.keywords) == 0 {
		return 0.5 // general physician
	}
	lowered := strings.ToLower(queryText)
	hits := 0
	for _, kw := range s.keywords {
		if strings.Contains(lowered, kw) {
			hits++
		}
	}
	return clamp01(0.35 + 0.45*float64(hits)/float64(len(s.keywords)))
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
