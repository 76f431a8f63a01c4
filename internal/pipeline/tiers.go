package pipeline

import (
	"context"
	"fmt"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/reputation"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/taxonomy"
)

// Tier names, as reported in ClassificationResult.DecidingTier
const (
	TierBusinessOverride = "business-override"
	TierInstantRule      = "instant-rule"
	TierEnsemble         = "ensemble"
	TierAuthentication   = "authentication"
	TierDomainReputation = "domain-reputation"
	TierFallback         = "fallback"
)

// DefaultTiers returns the standard tier order, cheapest first
func DefaultTiers(cfg Config, tax *taxonomy.Taxonomy, validator DomainValidator) []Tier {
	return []Tier{
		&businessOverrideTier{cfg: cfg, tax: tax},
		&instantRuleTier{cfg: cfg, tax: tax},
		&ensembleTier{cfg: cfg, tax: tax},
		&authenticationTier{cfg: cfg, tax: tax},
		&domainReputationTier{cfg: cfg, tax: tax, validator: validator},
		&fallbackTier{cfg: cfg, tax: tax},
	}
}

func newResult(ev *Evaluation, tax *taxonomy.Taxonomy, tier string, c core.Category, sub string, conf float64, evidence []string) *core.ClassificationResult {
	return &core.ClassificationResult{
		MessageID:    ev.Message.ID,
		Category:     c,
		Subcategory:  sub,
		Confidence:   max(0, min(1, conf)),
		DecidingTier: tier,
		Evidence:     evidence,
		Disposition:  tax.Disposition(c),
	}
}

// signalKeys returns the evidence keys of the named signals, in extraction
// order
func signalKeys(set *signals.SignalSet, names ...string) []string {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var keys []string
	for _, sig := range set.Signals() {
		if _, ok := want[sig.Name]; ok {
			keys = append(keys, sig.Key())
		}
	}
	return keys
}

// subcategoryFor picks the tag of the best keyword of c, if any
func subcategoryFor(set *signals.SignalSet, c core.Category) string {
	if m, ok := set.BestKeywordFor(c); ok {
		return m.Subcategory
	}
	return ""
}

// businessOverrideTier protects transactional mail that authenticates
type businessOverrideTier struct {
	cfg Config
	tax *taxonomy.Taxonomy
}

func (t *businessOverrideTier) Name() string { return TierBusinessOverride }

func (t *businessOverrideTier) Evaluate(_ context.Context, ev *Evaluation) Outcome {
	set := ev.Signals
	if set.Transactional == nil || set.Auth.AnyFail() {
		return Pass()
	}
	m := set.Transactional
	conf := max(m.Confidence, t.tax.Floor(core.CategoryLegitimate))
	evidence := signalKeys(set, signals.SigTransactional, signals.SigAuthAllPass)
	return Resolve(newResult(ev, t.tax, t.Name(), core.CategoryLegitimate, m.Subcategory, conf, evidence))
}

// instantRuleTier resolves on signals strong enough on their own
type instantRuleTier struct {
	cfg Config
	tax *taxonomy.Taxonomy
}

func (t *instantRuleTier) Name() string { return TierInstantRule }

func (t *instantRuleTier) Evaluate(_ context.Context, ev *Evaluation) Outcome {
	set := ev.Signals
	if set.GibberishDomain {
		evidence := signalKeys(set, signals.SigGibberishDomain)
		return Resolve(newResult(ev, t.tax, t.Name(), core.CategoryDangerous, taxonomy.TagGibberishDomain,
			t.cfg.GibberishConfidence, evidence))
	}
	for _, m := range set.Keywords {
		if m.Subcategory != taxonomy.TagPhishing && m.Subcategory != taxonomy.TagAdult {
			continue
		}
		if m.Confidence >= t.cfg.InstantRuleConfidence {
			evidence := []string{signals.SigKeyword + ":" + m.Phrase}
			return Resolve(newResult(ev, t.tax, t.Name(), m.Category, m.Subcategory, m.Confidence, evidence))
		}
	}
	return Pass()
}

// ensembleTier resolves when the statistical ensemble is confident
type ensembleTier struct {
	cfg Config
	tax *taxonomy.Taxonomy
}

func (t *ensembleTier) Name() string { return TierEnsemble }

func (t *ensembleTier) Evaluate(ctx context.Context, ev *Evaluation) Outcome {
	res := ev.Ensemble(ctx)
	if res.Category == core.CategoryNeedsReview || res.Confidence < t.cfg.EnsembleConfidence {
		return Pass()
	}
	return Resolve(newResult(ev, t.tax, t.Name(), res.Category, subcategoryFor(ev.Signals, res.Category),
		res.Confidence, res.Evidence()))
}

// authenticationTier flags mail failing every authentication check
type authenticationTier struct {
	cfg Config
	tax *taxonomy.Taxonomy
}

func (t *authenticationTier) Name() string { return TierAuthentication }

func (t *authenticationTier) Evaluate(ctx context.Context, ev *Evaluation) Outcome {
	set := ev.Signals
	if !set.Auth.AllFail(t.cfg.AuthMechanisms) {
		return Pass()
	}
	res := ev.Ensemble(ctx)
	if res.Confidence < t.cfg.AuthMinEnsemble {
		return Pass()
	}
	conf := max(res.Confidence, t.tax.Floor(core.CategoryFraudScam))
	evidence := append(signalKeys(set, signals.SigAuthSPF, signals.SigAuthDKIM, signals.SigAuthDMARC), res.Evidence()...)
	return Resolve(newResult(ev, t.tax, t.Name(), core.CategoryFraudScam, taxonomy.TagSpoofing, conf, evidence))
}

// domainReputationTier weighs the ensemble against sender trust for the
// uncertain band
type domainReputationTier struct {
	cfg       Config
	tax       *taxonomy.Taxonomy
	validator DomainValidator
}

func (t *domainReputationTier) Name() string { return TierDomainReputation }

func (t *domainReputationTier) Evaluate(ctx context.Context, ev *Evaluation) Outcome {
	if t.validator == nil {
		return Pass()
	}
	res := ev.Ensemble(ctx)
	if res.Category == core.CategoryNeedsReview ||
		res.Confidence < t.cfg.DomainBandLow || res.Confidence >= t.cfg.DomainBandHigh {
		return Pass()
	}

	set := ev.Signals
	verdict := t.validator.Validate(ctx, reputation.Request{
		Domain:    set.Domain,
		LocalPart: set.LocalPart,
		Auth:      set.Auth,
	})
	ev.Verdict = &verdict

	w := t.cfg.DomainWeight
	support := verdict.TrustScore
	if t.tax.Harmful(res.Category) {
		support = 1 - verdict.TrustScore
	}
	combined := (1-w)*res.Confidence + w*support
	if combined < t.cfg.DomainMinConfidence {
		return Pass()
	}

	evidence := append(res.Evidence(), fmt.Sprintf("domain_trust:%.2f", verdict.TrustScore))
	if verdict.Source == core.SourceFallback {
		evidence = append(evidence, "domain_source:fallback")
	}
	result := newResult(ev, t.tax, t.Name(), res.Category, subcategoryFor(set, res.Category), combined, evidence)
	result.FallbackValidated = verdict.Source == core.SourceFallback
	return Resolve(result)
}

// fallbackTier sends whatever is left to a human
type fallbackTier struct {
	cfg Config
	tax *taxonomy.Taxonomy
}

func (t *fallbackTier) Name() string { return TierFallback }

func (t *fallbackTier) Evaluate(_ context.Context, ev *Evaluation) Outcome {
	var evidence []string
	if ev.EnsembleComputed() {
		evidence = ev.ensemble.Evidence()
	}
	result := newResult(ev, t.tax, t.Name(), core.CategoryNeedsReview, taxonomy.TagManualReview,
		t.cfg.FallbackConfidence, evidence)
	if ev.Verdict != nil {
		result.FallbackValidated = ev.Verdict.Source == core.SourceFallback
	}
	return Resolve(result)
}
