package consult

import (
	"sort"
	"strings"
)

// Weights are the tunable aggregation parameters. The defaults reflect a
// 0.15 prominence gap: secondary opinions within the gap are woven into
// the narrative in full, opinions beyond it are reduced to a short note.
type Weights struct {
	ProminenceThreshold float64
}

func DefaultWeights() Weights {
	return Weights{ProminenceThreshold: 0.15}
}

// Merge folds opinions into one answer. It is a pure function of its
// input: no store access, no randomness, stable ordering regardless of the
// input order. The caller guarantees a non-empty list.
func Merge(opinions []Opinion, weights Weights) Answer {
	if len(opinions) == 0 {
		return Answer{}
	}
	if weights.ProminenceThreshold <= 0 {
		weights = DefaultWeights()
	}

	sorted := make([]Opinion, len(opinions))
	copy(sorted, opinions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Confidence != sorted[j].Confidence {
			return sorted[i].Confidence > sorted[j].Confidence
		}
		return sorted[i].Reasoner < sorted[j].Reasoner
	})

	return Answer{
		Narrative:       mergeNarratives(sorted, weights.ProminenceThreshold),
		Confidence:      selfWeightedConfidence(sorted),
		Recommendations: mergeRecommendations(sorted),
		Reasoners:       contributorNames(sorted),
		Urgency:         mergedUrgency(sorted),
	}
}

func mergeNarratives(sorted []Opinion, threshold float64) string {
	var b strings.Builder
	top := sorted[0]
	b.WriteString(top.Narrative)

	for _, o := range sorted[1:] {
		if strings.TrimSpace(o.Narrative) == "" {
			continue
		}
		if top.Confidence-o.Confidence <= threshold {
			// comparable confidence: weave the full narrative in
			b.WriteString("\n\n")
			b.WriteString(o.Narrative)
		} else {
			b.WriteString("\n\nNote from ")
			b.WriteString(o.Reasoner)
			b.WriteString(": ")
			b.WriteString(firstSentence(o.Narrative))
		}
	}
	return b.String()
}

// selfWeightedConfidence weights each contribution by its own confidence,
// which down-ranks low-confidence contributors: sum(c^2)/sum(c). A single
// opinion yields exactly its own confidence.
func selfWeightedConfidence(opinions []Opinion) float64 {
	var num, den float64
	for _, o := range opinions {
		num += o.Confidence * o.Confidence
		den += o.Confidence
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func mergeRecommendations(sorted []Opinion) []string {
	type rec struct {
		text   string
		weight float64
	}
	byKey := make(map[string]*rec)
	var order []string

	for _, o := range sorted {
		for _, raw := range o.Recommendations {
			key := normalizeRecommendation(raw)
			if key == "" {
				continue
			}
			if existing, ok := byKey[key]; ok {
				existing.weight += o.Confidence
				continue
			}
			byKey[key] = &rec{text: strings.TrimSpace(raw), weight: o.Confidence}
			order = append(order, key)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if byKey[order[i]].weight != byKey[order[j]].weight {
			return byKey[order[i]].weight > byKey[order[j]].weight
		}
		return order[i] < order[j]
	})

	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key].text)
	}
	return out
}

func contributorNames(sorted []Opinion) []string {
	names := make([]string, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, o := range sorted {
		if !seen[o.Reasoner] {
			seen[o.Reasoner] = true
			names = append(names, o.Reasoner)
		}
	}
	sort.Strings(names)
	return names
}

// A single urgent flag must never be diluted: the merged urgency is the
// maximum across contributors.
func mergedUrgency(opinions []Opinion) Urgency {
	out := UrgencyRoutine
	for _, o := range opinions {
		out = maxUrgency(out, o.Urgency)
	}
	return out
}

func normalizeRecommendation(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimRight(s, ".!")
	return strings.Join(strings.Fields(s), " ")
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?"); idx > 0 && idx < len(text)-1 {
		return text[:idx+1]
	}
	return text
}
