// Package pipeline runs messages through the ordered classification tiers.
package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/metrics"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/taxonomy"
)

// Config holds the tier thresholds
type Config struct {
	InstantRuleConfidence float64
	GibberishConfidence   float64
	EnsembleConfidence    float64
	AuthMinEnsemble       float64
	AuthMechanisms        []string
	DomainBandLow         float64
	DomainBandHigh        float64
	DomainWeight          float64
	DomainMinConfidence   float64
	FallbackConfidence    float64
	Concurrency           int
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		InstantRuleConfidence: 0.90,
		GibberishConfidence:   0.95,
		EnsembleConfidence:    0.90,
		AuthMinEnsemble:       0.40,
		AuthMechanisms:        []string{"spf", "dkim", "dmarc"},
		DomainBandLow:         0.40,
		DomainBandHigh:        0.90,
		DomainWeight:          0.5,
		DomainMinConfidence:   0.5,
		FallbackConfidence:    0,
		Concurrency:           8,
	}
}

// Option configures a Classifier
type Option func(*Classifier)

// WithTiers replaces the default tier list
func WithTiers(tiers ...Tier) Option {
	return func(c *Classifier) {
		c.tiers = tiers
	}
}

// WithMetrics counts resolutions per tier
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Classifier) {
		c.metrics = m
	}
}

// Classifier decides a category for each message
type Classifier struct {
	extractor *signals.Extractor
	ensemble  Ensemble
	tiers     []Tier
	tax       *taxonomy.Taxonomy
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewClassifier creates a classifier with the default tiers. validator may
// be nil, in which case the domain-reputation tier always passes.
func NewClassifier(extractor *signals.Extractor, ens Ensemble, validator DomainValidator, tax *taxonomy.Taxonomy, cfg Config, logger *zap.Logger, opts ...Option) *Classifier {
	c := &Classifier{
		extractor: extractor,
		ensemble:  ens,
		tax:       tax,
		cfg:       cfg,
		logger:    logger,
	}
	c.tiers = DefaultTiers(cfg, tax, validator)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tiers returns the tiers in evaluation order
func (c *Classifier) Tiers() []Tier {
	return c.tiers
}

// Classify runs msg through the tiers. It always returns a result.
func (c *Classifier) Classify(ctx context.Context, msg *core.Message) *core.ClassificationResult {
	result, _ := c.Evaluate(ctx, msg)
	return result
}

// Evaluate is Classify that also returns the evaluation state, for callers
// that need the signals and ensemble result afterwards
func (c *Classifier) Evaluate(ctx context.Context, msg *core.Message) (*core.ClassificationResult, *Evaluation) {
	if msg == nil {
		msg = &core.Message{}
	}
	ev := NewEvaluation(msg, c.extractor.Extract(msg), c.ensemble)

	var result *core.ClassificationResult
	for _, tier := range c.tiers {
		if r, ok := tier.Evaluate(ctx, ev).Resolved(); ok {
			result = r
			break
		}
	}
	if result == nil {
		// Only reachable with a custom tier list lacking a fallback tier.
		result = (&fallbackTier{cfg: c.cfg, tax: c.tax}).Evaluate(ctx, ev).result
	}

	if ev.EnsembleComputed() && ev.ensemble.Degraded {
		result.Degraded = true
		c.metrics.EnsembleDegraded()
	}
	c.metrics.TierResolved(result.DecidingTier, string(result.Category))

	c.logger.Debug("Message classified",
		zap.String("message_id", msg.ID),
		zap.String("tier", result.DecidingTier),
		zap.String("category", string(result.Category)),
		zap.String("subcategory", result.Subcategory),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("degraded", result.Degraded))

	return result, ev
}

// ClassifyBatch classifies msgs concurrently, bounded by the configured
// concurrency. Results are in input order. If ctx is cancelled, messages
// not yet classified are left nil and ctx.Err() is returned alongside the
// results that did finish.
func (c *Classifier) ClassifyBatch(ctx context.Context, msgs []*core.Message) ([]*core.ClassificationResult, error) {
	results, _, err := c.EvaluateBatch(ctx, msgs)
	return results, err
}

// EvaluateBatch is ClassifyBatch that also returns each evaluation
func (c *Classifier) EvaluateBatch(ctx context.Context, msgs []*core.Message) ([]*core.ClassificationResult, []*Evaluation, error) {
	results := make([]*core.ClassificationResult, len(msgs))
	evals := make([]*Evaluation, len(msgs))
	c.forEach(ctx, len(msgs), func(i int) {
		results[i], evals[i] = c.Evaluate(ctx, msgs[i])
	})
	return results, evals, ctx.Err()
}

// forEach runs fn for every index in [0,n) on the worker pool, skipping
// indices not started before ctx is done
func (c *Classifier) forEach(ctx context.Context, n int, fn func(i int)) {
	var g errgroup.Group
	limit := c.cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(i)
			return nil
		})
	}
	g.Wait()
}
