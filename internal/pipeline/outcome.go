package pipeline

import (
	"context"
	"sync"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/reputation"
	"github.com/mikey/mail-triage/internal/signals"
)

// Outcome is what a tier decided: either a result, or pass to the next tier
type Outcome struct {
	result *core.ClassificationResult
}

// Resolve ends the pipeline with result
func Resolve(result *core.ClassificationResult) Outcome {
	return Outcome{result: result}
}

// Pass hands the message to the next tier
func Pass() Outcome {
	return Outcome{}
}

// Resolved returns the result if the tier resolved
func (o Outcome) Resolved() (*core.ClassificationResult, bool) {
	return o.result, o.result != nil
}

// Tier is one step of the decision pipeline
type Tier interface {
	Name() string
	Evaluate(ctx context.Context, ev *Evaluation) Outcome
}

// Ensemble is the statistical classifier the pipeline consults
type Ensemble interface {
	Predict(ctx context.Context, set *signals.SignalSet) ensemble.Result
}

// DomainValidator scores how trustworthy a sender is
type DomainValidator interface {
	Validate(ctx context.Context, req reputation.Request) reputation.Verdict
}

// Evaluation is the state of one message going through the tiers
type Evaluation struct {
	Message *core.Message
	Signals *signals.SignalSet
	// Verdict is set once the domain validator has been consulted
	Verdict *reputation.Verdict

	predictor Ensemble

	mu       sync.Mutex
	ensemble *ensemble.Result
}

// NewEvaluation prepares msg for evaluation
func NewEvaluation(msg *core.Message, set *signals.SignalSet, predictor Ensemble) *Evaluation {
	return &Evaluation{Message: msg, Signals: set, predictor: predictor}
}

// Ensemble runs the ensemble on first use and returns the cached result
// after. Concurrent callers share one run.
func (ev *Evaluation) Ensemble(ctx context.Context) *ensemble.Result {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.ensemble == nil {
		res := ev.predictor.Predict(ctx, ev.Signals)
		ev.ensemble = &res
	}
	return ev.ensemble
}

// EnsembleComputed reports whether the ensemble has run
func (ev *Evaluation) EnsembleComputed() bool {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.ensemble != nil
}
