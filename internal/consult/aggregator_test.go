package consult

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeSingleOpinionKeepsConfidence(t *testing.T) {
	answer := Merge([]Opinion{{
		Reasoner:   SpecialtyGeneral,
		Narrative:  "Likely a tension headache.",
		Confidence: 0.62,
		Urgency:    UrgencyRoutine,
	}}, DefaultWeights())

	assert.Equal(t, "Likely a tension headache.", answer.Narrative)
	assert.InDelta(t, 0.62, answer.Confidence, 1e-9)
	assert.Equal(t, []string{SpecialtyGeneral}, answer.Reasoners)
	assert.Equal(t, UrgencyRoutine, answer.Urgency)
}

func TestMergeIsOrderIndependent(t *testing.T) {
	a := Opinion{Reasoner: SpecialtyCardiology, Narrative: "Cardiac angle.", Confidence: 0.8, Urgency: UrgencyModerate}
	b := Opinion{Reasoner: SpecialtyGeneral, Narrative: "General angle.", Confidence: 0.5, Urgency: UrgencyRoutine}
	c := Opinion{Reasoner: SpecialtyNeurology, Narrative: "Neuro angle.", Confidence: 0.6, Urgency: UrgencyUrgent}

	first := Merge([]Opinion{a, b, c}, DefaultWeights())
	second := Merge([]Opinion{c, a, b}, DefaultWeights())

	assert.Equal(t, first, second)
}

func TestMergeUrgencyIsMaxNeverAveraged(t *testing.T) {
	answer := Merge([]Opinion{
		{Reasoner: "a", Narrative: "x", Confidence: 0.9, Urgency: UrgencyRoutine},
		{Reasoner: "b", Narrative: "y", Confidence: 0.1, Urgency: UrgencyUrgent},
	}, DefaultWeights())

	assert.Equal(t, UrgencyUrgent, answer.Urgency)
}

func TestMergeConfidenceSelfWeighted(t *testing.T) {
	answer := Merge([]Opinion{
		{Reasoner: "a", Narrative: "x", Confidence: 0.9},
		{Reasoner: "b", Narrative: "y", Confidence: 0.3},
	}, DefaultWeights())

	// sum(c^2)/sum(c) = (0.81 + 0.09) / 1.2
	assert.InDelta(t, 0.75, answer.Confidence, 1e-9)
}

func TestMergeRecommendationsDedupedAndWeighted(t *testing.T) {
	answer := Merge([]Opinion{
		{Reasoner: "a", Narrative: "x", Confidence: 0.6, Recommendations: []string{"Rest and hydrate.", "See a doctor"}},
		{Reasoner: "b", Narrative: "y", Confidence: 0.5, Recommendations: []string{"rest  and hydrate"}},
	}, DefaultWeights())

	require.Len(t, answer.Recommendations, 2)
	// "rest and hydrate" gathers weight from both contributors and wins
	assert.Equal(t, "Rest and hydrate.", answer.Recommendations[0])
	assert.Equal(t, "See a doctor", answer.Recommendations[1])
}

func TestMergeNarrativeProminence(t *testing.T) {
	near := Merge([]Opinion{
		{Reasoner: "a", Narrative: "Top view.", Confidence: 0.7},
		{Reasoner: "b", Narrative: "Close second. More detail.", Confidence: 0.6},
	}, DefaultWeights())
	assert.Contains(t, near.Narrative, "Close second. More detail.")
	assert.NotContains(t, near.Narrative, "Note from")

	far := Merge([]Opinion{
		{Reasoner: "a", Narrative: "Top view.", Confidence: 0.9},
		{Reasoner: "b", Narrative: "Distant second. More detail.", Confidence: 0.3},
	}, DefaultWeights())
	assert.Contains(t, far.Narrative, "Note from b: Distant second.")
	assert.NotContains(t, far.Narrative, "More detail.")
}

func TestMergeContributorsSortedAlphabetically(t *testing.T) {
	answer := Merge([]Opinion{
		{Reasoner: SpecialtyNeurology, Narrative: "n", Confidence: 0.9},
		{Reasoner: SpecialtyCardiology, Narrative: "c", Confidence: 0.4},
	}, DefaultWeights())

	assert.Equal(t, []string{SpecialtyCardiology, SpecialtyNeurology}, answer.Reasoners)
}
