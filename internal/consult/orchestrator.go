package consult

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrAllReasonersFailed is the hard failure for one consult call: every
// dispatched reasoner failed or timed out, so no answer can be produced.
var ErrAllReasonersFailed = errors.New("all reasoners failed")

// Stream event types, emitted in order before the terminal event.
type EventType string

const (
	EventRoutingDecided EventType = "routing-decided"
	EventPartialOpinion EventType = "partial-opinion"
	EventFinalAnswer    EventType = "final-answer"
	EventError          EventType = "error"
)

type Event struct {
	Type      EventType `json:"type"`
	Reasoners []string  `json:"reasoners,omitempty"`
	Opinion   *Opinion  `json:"opinion,omitempty"`
	Answer    *Answer   `json:"answer,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EventSink receives ordered progress events. A non-nil return cancels the
// consultation.
type EventSink func(Event) error

// Orchestrator routes a query to a reasoner subset, fans out concurrently
// under a shared per-reasoner deadline, and merges whatever survives.
type Orchestrator struct {
	router          *Router
	reasoners       map[string]Reasoner
	weights         Weights
	reasonerTimeout time.Duration
	requestTimeout  time.Duration
	logger          *zap.Logger
}

type OrchestratorConfig struct {
	ReasonerTimeout time.Duration
	RequestTimeout  time.Duration
	Weights         Weights
}

func NewOrchestrator(reasoners map[string]Reasoner, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if cfg.ReasonerTimeout <= 0 {
		cfg.ReasonerTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		router:          NewRouter(),
		reasoners:       reasoners,
		weights:         cfg.Weights,
		reasonerTimeout: cfg.ReasonerTimeout,
		requestTimeout:  cfg.RequestTimeout,
		logger:          logger,
	}
}

// Consult runs the synchronous path: either a populated answer or an
// explicit error, never an empty success.
func (o *Orchestrator) Consult(ctx context.Context, query Query, convCtx Context) (*Answer, error) {
	return o.consult(ctx, query, convCtx, nil)
}

// ConsultStream runs the same state machine, observed incrementally
// through the sink. Cancelling ctx cancels every in-flight reasoner.
func (o *Orchestrator) ConsultStream(ctx context.Context, query Query, convCtx Context, sink EventSink) (*Answer, error) {
	return o.consult(ctx, query, convCtx, sink)
}

type reasonerResult struct {
	name    string
	opinion *Opinion
	err     error
	elapsed time.Duration
}

func (o *Orchestrator) consult(ctx context.Context, query Query, convCtx Context, sink EventSink) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	matches := o.router.Route(query.Text)
	selected := make([]Reasoner, 0, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		r, ok := o.reasoners[m.Specialty]
		if !ok {
			continue
		}
		selected = append(selected, r)
		names = append(names, m.Specialty)
	}
	if len(selected) == 0 {
		// routing always yields the general physician; missing it means a
		// misconfigured reasoner set
		return nil, ErrAllReasonersFailed
	}

	if err := o.emit(sink, Event{Type: EventRoutingDecided, Reasoners: names}); err != nil {
		return nil, err
	}

	results := make(chan reasonerResult, len(selected))
	for _, r := range selected {
		go func(r Reasoner) {
			started := time.Now()
			rctx, rcancel := context.WithTimeout(ctx, o.reasonerTimeout)
			defer rcancel()
			opinion, err := r.Evaluate(rctx, query, convCtx)
			results <- reasonerResult{name: r.Name(), opinion: opinion, err: err, elapsed: time.Since(started)}
		}(r)
	}

	// Fan-in: wait for every dispatched reasoner or the outer deadline,
	// whichever comes first. Individual failures are swallowed and logged.
	var opinions []Opinion
	pending := len(selected)
	for pending > 0 {
		select {
		case res := <-results:
			pending--
			if res.err != nil {
				o.logger.Warn("reasoner failed",
					zap.String("reasoner", res.name),
					zap.Duration("elapsed", res.elapsed),
					zap.Bool("deadline_exceeded", errors.Is(res.err, context.DeadlineExceeded)),
					zap.Error(res.err))
				continue
			}
			opinions = append(opinions, *res.opinion)
			if err := o.emit(sink, Event{Type: EventPartialOpinion, Opinion: res.opinion}); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			o.logger.Warn("consult deadline elapsed with reasoners outstanding",
				zap.Int("outstanding", pending))
			pending = 0
		}
	}

	if len(opinions) == 0 {
		_ = o.emit(sink, Event{Type: EventError, Error: ErrAllReasonersFailed.Error()})
		return nil, ErrAllReasonersFailed
	}

	answer := Merge(opinions, o.weights)
	if err := o.emit(sink, Event{Type: EventFinalAnswer, Answer: &answer}); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (o *Orchestrator) emit(sink EventSink, event Event) error {
	if sink == nil {
		return nil
	}
	return sink(event)
}
