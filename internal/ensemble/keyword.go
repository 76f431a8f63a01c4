package ensemble

import (
	"context"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/taxonomy"
)

// NeutralConfidence is what the keyword predictor reports for mail with no
// matching phrase at all
const NeutralConfidence = 0.5

// KeywordPredictor votes for the category whose matched phrases are the
// strongest, combining several matches of one category by noisy-OR
type KeywordPredictor struct {
	tax *taxonomy.Taxonomy
}

// NewKeywordPredictor creates a keyword predictor
func NewKeywordPredictor(tax *taxonomy.Taxonomy) *KeywordPredictor {
	return &KeywordPredictor{tax: tax}
}

// Name implements Predictor
func (p *KeywordPredictor) Name() string {
	return "keyword"
}

// Predict implements Predictor
func (p *KeywordPredictor) Predict(_ context.Context, set *signals.SignalSet) (Prediction, error) {
	matches := set.Keywords
	if set.Transactional != nil {
		matches = append(matches[:len(matches):len(matches)], *set.Transactional)
	}
	if set.SubscriptionWarning != nil {
		matches = append(matches[:len(matches):len(matches)], *set.SubscriptionWarning)
	}
	if len(matches) == 0 {
		return Prediction{Category: core.CategoryLegitimate, Confidence: NeutralConfidence}, nil
	}

	miss := make(map[core.Category]float64)
	for _, m := range matches {
		if _, ok := miss[m.Category]; !ok {
			miss[m.Category] = 1
		}
		miss[m.Category] *= 1 - m.Confidence
	}

	var best core.Category
	bestScore := -1.0
	for _, c := range p.tax.BySeverity() {
		rest, ok := miss[c]
		if !ok {
			continue
		}
		if score := 1 - rest; score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == "" {
		return Prediction{Category: core.CategoryLegitimate, Confidence: NeutralConfidence}, nil
	}
	return Prediction{Category: best, Confidence: bestScore}, nil
}
