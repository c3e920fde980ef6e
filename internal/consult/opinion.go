package consult

// Urgency tiers for opinions and answers. Aggregation always takes the
// maximum across contributors, never an average.
type Urgency string

const (
	UrgencyRoutine  Urgency = "routine"
	UrgencyModerate Urgency = "moderate"
	UrgencyUrgent   Urgency = "urgent"
)

func (u Urgency) Rank() int {
	switch u {
	case UrgencyModerate:
		return 1
	case UrgencyUrgent:
		return 2
	default:
		return 0
	}
}

func maxUrgency(a, b Urgency) Urgency {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Query is one immutable consultation request. OwnerID is the opaque,
// already-validated caller identity.
type Query struct {
	OwnerID   uint
	SessionID uint
	Text      string
	Symptoms  []string
	Duration  string
	Metadata  map[string]string
}

// Turn is a prior conversation entry handed to reasoners as context.
type Turn struct {
	Role    string
	Content string
}

// Context is the conversation window supplied by the session manager:
// Recent is the short-term slice, History the optional long-term one.
type Context struct {
	Recent  []Turn
	History []Turn
}

// Opinion is one reasoner's output. Created once per invocation and never
// mutated; the aggregator owns it until merged.
type Opinion struct {
	Reasoner        string   `json:"reasoner"`
	Narrative       string   `json:"narrative"`
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations"`
	Urgency         Urgency  `json:"urgency"`
	Citations       []string `json:"citations,omitempty"`
}

// Answer is the merged, caller-facing result of one consultation.
type Answer struct {
	Narrative       string   `json:"narrative"`
	Confidence      float64  `json:"confidence"`
	Recommendations []string `json:"recommendations"`
	Reasoners       []string `json:"reasoners"`
	Urgency         Urgency  `json:"urgency"`
}
