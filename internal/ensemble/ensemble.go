// Package ensemble combines independent category predictors by weighted
// voting.
package ensemble

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/taxonomy"
)

// Prediction is a single predictor's answer
type Prediction struct {
	Category   core.Category
	Confidence float64
}

// Predictor is anything that can label a signal set. Implementations must
// be safe for concurrent use.
type Predictor interface {
	Name() string
	Predict(ctx context.Context, set *signals.SignalSet) (Prediction, error)
}

// Slot binds a predictor to its voting weight. A slot whose predictor is nil
// or whose model failed to load (LoadErr) is unavailable.
type Slot struct {
	Name      string
	Predictor Predictor
	Weight    float64
	LoadErr   error
}

func (s Slot) name() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Predictor != nil {
		return s.Predictor.Name()
	}
	return "unnamed"
}

// Vote is one predictor's contribution to a result
type Vote struct {
	Predictor  string
	Category   core.Category
	Confidence float64
	Weight     float64
}

// CategoryScore is an accumulated weighted confidence
type CategoryScore struct {
	Category core.Category
	Score    float64
}

// Result is the combined answer of the ensemble
type Result struct {
	Category    core.Category
	Confidence  float64
	Ranking     []CategoryScore
	Votes       []Vote
	Degraded    bool
	Unavailable []string
}

// Alternatives returns up to n runner-up categories scoring at least floor,
// in rank order
func (r *Result) Alternatives(n int, floor float64) []CategoryScore {
	var out []CategoryScore
	for _, cs := range r.Ranking {
		if len(out) == n {
			break
		}
		if cs.Category == r.Category || cs.Score < floor {
			continue
		}
		out = append(out, cs)
	}
	return out
}

// Evidence returns one key per vote, in slot order
func (r *Result) Evidence() []string {
	keys := make([]string, 0, len(r.Votes)+1)
	for _, v := range r.Votes {
		keys = append(keys, "ensemble:"+v.Predictor+"="+string(v.Category))
	}
	if r.Degraded {
		keys = append(keys, "ensemble:degraded")
	}
	return keys
}

// Option configures an Ensemble
type Option func(*Ensemble)

// WithTieMargin sets how close two scores must be for severity to decide
func WithTieMargin(margin float64) Option {
	return func(e *Ensemble) {
		e.tieMargin = margin
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Ensemble) {
		e.logger = logger
	}
}

// Ensemble runs its slots and merges their answers
type Ensemble struct {
	slots     []Slot
	tax       *taxonomy.Taxonomy
	tieMargin float64
	logger    *zap.Logger
}

// DefaultTieMargin is the score gap under which severity breaks ties
const DefaultTieMargin = 0.01

// New creates an ensemble over slots
func New(slots []Slot, tax *taxonomy.Taxonomy, opts ...Option) *Ensemble {
	e := &Ensemble{
		slots:     slots,
		tax:       tax,
		tieMargin: DefaultTieMargin,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, s := range slots {
		if s.LoadErr != nil {
			e.logger.Warn("Ensemble slot unavailable, its weight will be redistributed",
				zap.String("slot", s.name()),
				zap.Error(s.LoadErr))
		}
	}
	return e
}

// Slots returns the configured slots
func (e *Ensemble) Slots() []Slot {
	return e.slots
}

// Predict runs every available slot and combines the answers. It never
// fails: unavailable or failing slots give up their weight to the others
// and the result is marked degraded.
func (e *Ensemble) Predict(ctx context.Context, set *signals.SignalSet) Result {
	var res Result
	var total float64

	for _, s := range e.slots {
		if s.Weight <= 0 {
			continue
		}
		if s.Predictor == nil || s.LoadErr != nil {
			res.Unavailable = append(res.Unavailable, s.name())
			continue
		}
		p, err := s.Predictor.Predict(ctx, set)
		if err != nil {
			e.logger.Warn("Predictor failed",
				zap.String("slot", s.name()),
				zap.String("message_id", set.MessageID),
				zap.Error(err))
			res.Unavailable = append(res.Unavailable, s.name())
			continue
		}
		res.Votes = append(res.Votes, Vote{
			Predictor:  s.name(),
			Category:   p.Category,
			Confidence: clamp01(p.Confidence),
			Weight:     s.Weight,
		})
		total += s.Weight
	}
	res.Degraded = len(res.Unavailable) > 0

	if total == 0 {
		res.Category = core.CategoryNeedsReview
		res.Degraded = true
		return res
	}

	acc := make(map[core.Category]float64)
	for i := range res.Votes {
		v := &res.Votes[i]
		v.Weight /= total
		acc[v.Category] += v.Weight * v.Confidence
	}
	for c, score := range acc {
		res.Ranking = append(res.Ranking, CategoryScore{Category: c, Score: score})
	}
	sort.Slice(res.Ranking, func(i, j int) bool {
		a, b := res.Ranking[i], res.Ranking[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return e.less(b.Category, a.Category)
	})

	winner := res.Ranking[0]
	for _, cs := range res.Ranking[1:] {
		if res.Ranking[0].Score-cs.Score > e.tieMargin+1e-12 {
			break
		}
		if e.tax.Severity(cs.Category) > e.tax.Severity(winner.Category) {
			winner = cs
		}
	}
	res.Category = winner.Category
	res.Confidence = clamp01(winner.Score)
	return res
}

// less orders categories by severity, then by name
func (e *Ensemble) less(a, b core.Category) bool {
	sa, sb := e.tax.Severity(a), e.tax.Severity(b)
	if sa != sb {
		return sa < sb
	}
	return a > b
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

// ParseCategory maps free-form labels (as produced by remote models) onto
// a top-level category
func ParseCategory(label string) (core.Category, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	switch {
	case l == "":
		return "", false
	case strings.Contains(l, "danger"), strings.Contains(l, "phish"), strings.Contains(l, "malware"):
		return core.CategoryDangerous, true
	case strings.Contains(l, "fraud"), strings.Contains(l, "scam"):
		return core.CategoryFraudScam, true
	case strings.Contains(l, "commercial"), strings.Contains(l, "bulk"), strings.Contains(l, "marketing"), strings.Contains(l, "spam"):
		return core.CategoryCommercialBulk, true
	case strings.Contains(l, "legit"), strings.Contains(l, "ham"):
		return core.CategoryLegitimate, true
	case strings.Contains(l, "review"):
		return core.CategoryNeedsReview, true
	}
	return "", false
}
