package consult

import "strings"

// Specialty names double as reasoner identifiers.
const (
	SpecialtyCardiology  = "cardiology"
	SpecialtyNeurology   = "neurology"
	SpecialtyOrthopedics = "orthopedics"
	SpecialtyGeneral     = "general-physician"
)

// Match is one routed specialty with its keyword affinity in [0,1].
type Match struct {
	Specialty string
	Affinity  float64
}

// Router classifies query text against a keyword taxonomy. The general
// physician is always consulted, so every query yields at least one match.
type Router struct {
	taxonomy map[string][]string
}

func NewRouter() *Router {
	return &Router{taxonomy: map[string][]string{
		SpecialtyCardiology: {
			"chest pain", "heart", "palpitation", "shortness of breath",
			"blood pressure", "hypertension", "cardiac", "arrhythmia",
		},
		SpecialtyNeurology: {
			"headache", "migraine", "dizziness", "dizzy", "numbness",
			"seizure", "tingling", "memory", "vision loss", "tremor",
		},
		SpecialtyOrthopedics: {
			"joint", "knee", "shoulder", "back pain", "fracture", "bone",
			"sprain", "hip", "ankle", "swelling",
		},
	}}
}

// Route returns the matched specialists plus the general physician. Only
// the general physician is returned when nothing matches.
func (r *Router) Route(text string) []Match {
	lowered := strings.ToLower(text)

	var matches []Match
	for _, specialty := range []string{SpecialtyCardiology, SpecialtyNeurology, SpecialtyOrthopedics} {
		keywords := r.taxonomy[specialty]
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lowered, kw) {
				hits++
			}
		}
		if hits > 0 {
			affinity := float64(hits) / float64(len(keywords))
			if affinity > 1 {
				affinity = 1
			}
			matches = append(matches, Match{Specialty: specialty, Affinity: affinity})
		}
	}

	matches = append(matches, Match{Specialty: SpecialtyGeneral, Affinity: generalAffinity(len(matches))})
	return matches
}

// The general physician carries more weight when no specialist matched.
func generalAffinity(specialistMatches int) float64 {
	if specialistMatches == 0 {
		return 0.5
	}
	return 0.25
}
