package consult

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubReasoner struct {
	name    string
	opinion *Opinion
	err     error
	delay   time.Duration
}

func (s *stubReasoner) Name() string { return s.name }

func (s *stubReasoner) Evaluate(ctx context.Context, query Query, convCtx Context) (*Opinion, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.opinion, nil
}

func newTestOrchestrator(reasoners map[string]Reasoner, reasonerTimeout time.Duration) *Orchestrator {
	return NewOrchestrator(reasoners, OrchestratorConfig{
		ReasonerTimeout: reasonerTimeout,
		RequestTimeout:  5 * time.Second,
		Weights:         DefaultWeights(),
	}, zap.NewNop())
}

func TestConsultMergesAllOpinions(t *testing.T) {
	o := newTestOrchestrator(map[string]Reasoner{
		SpecialtyCardiology: &stubReasoner{name: SpecialtyCardiology, opinion: &Opinion{
			Reasoner: SpecialtyCardiology, Narrative: "Cardiac view.", Confidence: 0.8, Urgency: UrgencyModerate,
		}},
		SpecialtyGeneral: &stubReasoner{name: SpecialtyGeneral, opinion: &Opinion{
			Reasoner: SpecialtyGeneral, Narrative: "General view.", Confidence: 0.5, Urgency: UrgencyRoutine,
		}},
	}, time.Second)

	answer, err := o.Consult(context.Background(), Query{OwnerID: 1, Text: "chest pain"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{SpecialtyCardiology, SpecialtyGeneral}, answer.Reasoners)
	assert.Equal(t, UrgencyModerate, answer.Urgency)
}

func TestConsultSwallowsPartialFailures(t *testing.T) {
	o := newTestOrchestrator(map[string]Reasoner{
		SpecialtyCardiology: &stubReasoner{name: SpecialtyCardiology, err: errors.New("provider down")},
		SpecialtyGeneral: &stubReasoner{name: SpecialtyGeneral, opinion: &Opinion{
			Reasoner: SpecialtyGeneral, Narrative: "Still here.", Confidence: 0.5, Urgency: UrgencyRoutine,
		}},
	}, time.Second)

	answer, err := o.Consult(context.Background(), Query{OwnerID: 1, Text: "chest pain"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{SpecialtyGeneral}, answer.Reasoners)
	assert.Equal(t, "Still here.", answer.Narrative)
}

func TestConsultAllFailed(t *testing.T) {
	o := newTestOrchestrator(map[string]Reasoner{
		SpecialtyGeneral: &stubReasoner{name: SpecialtyGeneral, err: errors.New("provider down")},
	}, time.Second)

	answer, err := o.Consult(context.Background(), Query{OwnerID: 1, Text: "hello"}, Context{})
	assert.Nil(t, answer)
	assert.ErrorIs(t, err, ErrAllReasonersFailed)
}

func TestConsultExcludesTimedOutReasoner(t *testing.T) {
	o := newTestOrchestrator(map[string]Reasoner{
		SpecialtyCardiology: &stubReasoner{name: SpecialtyCardiology, delay: 500 * time.Millisecond, opinion: &Opinion{
			Reasoner: SpecialtyCardiology, Narrative: "Too slow.", Confidence: 0.9,
		}},
		SpecialtyGeneral: &stubReasoner{name: SpecialtyGeneral, opinion: &Opinion{
			Reasoner: SpecialtyGeneral, Narrative: "On time.", Confidence: 0.5, Urgency: UrgencyRoutine,
		}},
	}, 50*time.Millisecond)

	answer, err := o.Consult(context.Background(), Query{OwnerID: 1, Text: "chest pain"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{SpecialtyGeneral}, answer.Reasoners)
}

func TestConsultStreamEventOrder(t *testing.T) {
	o := newTestOrchestrator(map[string]Reasoner{
		SpecialtyGeneral: &stubReasoner{name: SpecialtyGeneral, opinion: &Opinion{
			Reasoner: SpecialtyGeneral, Narrative: "View.", Confidence: 0.5, Urgency: UrgencyRoutine,
		}},
	}, time.Second)

	var events []EventType
	_, err := o.ConsultStream(context.Background(), Query{OwnerID: 1, Text: "hello"}, Context{}, func(e Event) error {
		events = append(events, e.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventRoutingDecided, EventPartialOpinion, EventFinalAnswer}, events)
}

func TestConsultStreamErrorEventOnTotalFailure(t *testing.T) {
	o := newTestOrchestrator(map[string]Reasoner{
		SpecialtyGeneral: &stubReasoner{name: SpecialtyGeneral, err: errors.New("provider down")},
	}, time.Second)

	var events []EventType
	_, err := o.ConsultStream(context.Background(), Query{OwnerID: 1, Text: "hello"}, Context{}, func(e Event) error {
		events = append(events, e.Type)
		return nil
	})
	assert.ErrorIs(t, err, ErrAllReasonersFailed)
	assert.Equal(t, []EventType{EventRoutingDecided, EventError}, events)
}

func TestConsultStreamSinkErrorCancels(t *testing.T) {
	o := newTestOrchestrator(map[string]Reasoner{
		SpecialtyGeneral: &stubReasoner{name: SpecialtyGeneral, opinion: &Opinion{
			Reasoner: SpecialtyGeneral, Narrative: "View.", Confidence: 0.5,
		}},
	}, time.Second)

	sinkErr := errors.New("client went away")
	_, err := o.ConsultStream(context.Background(), Query{OwnerID: 1, Text: "hello"}, Context{}, func(e Event) error {
		return sinkErr
	})
	assert.ErrorIs(t, err, sinkErr)
}
