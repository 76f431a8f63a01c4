// Package service is the entry point of the classifier: it classifies
// messages and takes human feedback on the results by message id.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/feedback"
	"github.com/mikey/mail-triage/internal/pipeline"
)

// ErrUnknownMessage is returned for feedback on a message the service has
// not classified recently
var ErrUnknownMessage = errors.New("unknown message")

// Classifier runs messages through the tiers
type Classifier interface {
	Evaluate(ctx context.Context, msg *core.Message) (*core.ClassificationResult, *pipeline.Evaluation)
	EvaluateBatch(ctx context.Context, msgs []*core.Message) ([]*core.ClassificationResult, []*pipeline.Evaluation, error)
}

// Config holds service settings
type Config struct {
	// MemorySize bounds how many classified messages can still receive
	// feedback. The oldest are forgotten first.
	MemorySize int
}

// DefaultConfig returns the standard settings
func DefaultConfig() Config {
	return Config{MemorySize: 10000}
}

// Option configures a Service
type Option func(*Service)

// WithRecorder sends every classification result to r
func WithRecorder(r core.EventRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

type remembered struct {
	result *core.ClassificationResult
	eval   *pipeline.Evaluation
}

// Service classifies messages and handles feedback
type Service struct {
	classifier Classifier
	feedback   *feedback.Engine
	recorder   core.EventRecorder
	logger     *zap.Logger
	size       int

	mu     sync.Mutex
	memory map[string]remembered
	order  []string
}

// New creates a service
func New(classifier Classifier, engine *feedback.Engine, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	size := cfg.MemorySize
	if size <= 0 {
		size = DefaultConfig().MemorySize
	}
	s := &Service{
		classifier: classifier,
		feedback:   engine,
		logger:     logger,
		size:       size,
		memory:     make(map[string]remembered),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classify classifies one message
func (s *Service) Classify(ctx context.Context, msg *core.Message) *core.ClassificationResult {
	result, eval := s.classifier.Evaluate(ctx, msg)
	s.finish(ctx, result, eval)
	return result
}

// ClassifyBatch classifies msgs concurrently. Results are in input order;
// on cancellation the unfinished entries are nil and ctx.Err() is returned.
func (s *Service) ClassifyBatch(ctx context.Context, msgs []*core.Message) ([]*core.ClassificationResult, error) {
	results, evals, err := s.classifier.EvaluateBatch(ctx, msgs)
	for i, r := range results {
		if r != nil {
			s.finish(ctx, r, evals[i])
		}
	}
	if err != nil {
		s.logger.Warn("Batch interrupted",
			zap.Int("messages", len(msgs)),
			zap.Error(err))
	}
	return results, err
}

func (s *Service) finish(ctx context.Context, result *core.ClassificationResult, eval *pipeline.Evaluation) {
	s.remember(result, eval)
	if s.recorder == nil {
		return
	}
	// The caller's cancellation does not discard a result already decided.
	if err := s.recorder.RecordResult(context.WithoutCancel(ctx), result); err != nil {
		s.logger.Warn("Failed to record classification",
			zap.String("message_id", result.MessageID),
			zap.Error(err))
	}
}

// Reject tells the service that rejected is wrong for a message and returns
// the next alternative
func (s *Service) Reject(ctx context.Context, messageID string, rejected core.Category) (*core.ClassificationResult, error) {
	ev := s.evidence(ctx, messageID)
	result, err := s.feedback.Reject(ctx, messageID, ev, rejected)
	if errors.Is(err, feedback.ErrNoEvidence) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	return result, err
}

// AcceptSession ends feedback for a message, keeping the last offered
// category
func (s *Service) AcceptSession(ctx context.Context, messageID string) error {
	accepted := s.feedback.Accept(ctx, messageID)
	if !s.forget(messageID) && !accepted {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	return nil
}

// evidence builds the feedback evidence of a remembered message. The
// ensemble is run now if no tier needed it during classification.
func (s *Service) evidence(ctx context.Context, messageID string) *feedback.Evidence {
	s.mu.Lock()
	m, ok := s.memory[messageID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	ev := &feedback.Evidence{Original: m.result}
	if m.eval != nil {
		ev.Signals = m.eval.Signals
		ev.Ensemble = m.eval.Ensemble(ctx)
	}
	return ev
}

func (s *Service) remember(result *core.ClassificationResult, eval *pipeline.Evaluation) {
	id := result.MessageID
	if id == "" {
		return
	}
	var evicted []string
	s.mu.Lock()
	if _, ok := s.memory[id]; !ok {
		s.order = append(s.order, id)
	}
	s.memory[id] = remembered{result: result, eval: eval}
	for len(s.order) > s.size {
		evicted = append(evicted, s.order[0])
		delete(s.memory, s.order[0])
		s.order = s.order[1:]
	}
	s.mu.Unlock()

	// A forgotten message takes its feedback session with it.
	for _, old := range evicted {
		s.feedback.Forget(old)
	}
}

func (s *Service) forget(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memory[messageID]; !ok {
		return false
	}
	delete(s.memory, messageID)
	for i, id := range s.order {
		if id == messageID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Remembered returns how many messages can currently receive feedback
func (s *Service) Remembered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memory)
}
