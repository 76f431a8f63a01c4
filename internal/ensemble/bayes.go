package ensemble

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/utils"
)

// BayesModel is a multinomial naive Bayes model over word tokens. All
// probabilities are natural logs.
type BayesModel struct {
	Categories  []core.Category                      `json:"categories"`
	Priors      map[core.Category]float64            `json:"priors"`
	Likelihoods map[core.Category]map[string]float64 `json:"likelihoods"`
	Unseen      map[core.Category]float64            `json:"unseen"`
}

// Validate checks the model has what Predict needs
func (m *BayesModel) Validate() error {
	if len(m.Categories) == 0 {
		return fmt.Errorf("bayes model has no categories")
	}
	for _, c := range m.Categories {
		if _, ok := m.Priors[c]; !ok {
			return fmt.Errorf("bayes model has no prior for %q", c)
		}
		if _, ok := m.Unseen[c]; !ok {
			return fmt.Errorf("bayes model has no unseen-token probability for %q", c)
		}
	}
	return nil
}

// LoadBayesModel reads a model from a JSON file
func LoadBayesModel(path string) (*BayesModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bayes model: %w", err)
	}
	var m BayesModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse bayes model %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bayes model %s: %w", path, err)
	}
	return &m, nil
}

// TrainBayes fits a model on labelled documents with additive smoothing
func TrainBayes(corpus map[core.Category][]string, alpha float64) *BayesModel {
	if alpha <= 0 {
		alpha = 1
	}
	m := &BayesModel{
		Priors:      make(map[core.Category]float64),
		Likelihoods: make(map[core.Category]map[string]float64),
		Unseen:      make(map[core.Category]float64),
	}
	for c := range corpus {
		m.Categories = append(m.Categories, c)
	}
	sort.Slice(m.Categories, func(i, j int) bool { return m.Categories[i] < m.Categories[j] })

	counts := make(map[core.Category]map[string]float64)
	totals := make(map[core.Category]float64)
	vocab := make(map[string]struct{})
	docs := 0
	for _, c := range m.Categories {
		counts[c] = make(map[string]float64)
		for _, doc := range corpus[c] {
			docs++
			for _, tok := range utils.Tokenize(utils.Normalize(doc)) {
				counts[c][tok]++
				totals[c]++
				vocab[tok] = struct{}{}
			}
		}
	}

	v := float64(len(vocab))
	for _, c := range m.Categories {
		m.Priors[c] = math.Log(float64(len(corpus[c])) / float64(docs))
		denom := totals[c] + alpha*v
		ll := make(map[string]float64, len(counts[c]))
		for tok, n := range counts[c] {
			ll[tok] = math.Log((n + alpha) / denom)
		}
		m.Likelihoods[c] = ll
		m.Unseen[c] = math.Log(alpha / denom)
	}
	return m
}

// BayesPredictor is the probabilistic bag-of-words predictor
type BayesPredictor struct {
	model     *BayesModel
	maxTokens int
}

// NewBayesPredictor creates a predictor. maxTokens bounds the work per
// message; 0 means no bound.
func NewBayesPredictor(model *BayesModel, maxTokens int) *BayesPredictor {
	return &BayesPredictor{model: model, maxTokens: maxTokens}
}

// Name implements Predictor
func (p *BayesPredictor) Name() string {
	return "bayes"
}

// Predict implements Predictor. Tokens unknown to every category are
// ignored so they do not bias towards the category with the smallest
// vocabulary.
func (p *BayesPredictor) Predict(_ context.Context, set *signals.SignalSet) (Prediction, error) {
	tokens := set.Tokens
	if p.maxTokens > 0 && len(tokens) > p.maxTokens {
		tokens = tokens[:p.maxTokens]
	}

	scores := make([]float64, len(p.model.Categories))
	for i, c := range p.model.Categories {
		scores[i] = p.model.Priors[c]
	}
	for _, tok := range tokens {
		if !p.known(tok) {
			continue
		}
		for i, c := range p.model.Categories {
			if ll, ok := p.model.Likelihoods[c][tok]; ok {
				scores[i] += ll
			} else {
				scores[i] += p.model.Unseen[c]
			}
		}
	}

	i, prob := softmaxArgmax(scores)
	return Prediction{Category: p.model.Categories[i], Confidence: prob}, nil
}

func (p *BayesPredictor) known(tok string) bool {
	for _, ll := range p.model.Likelihoods {
		if _, ok := ll[tok]; ok {
			return true
		}
	}
	return false
}

// DefaultBayesModel trains the built-in model on the seed corpus
func DefaultBayesModel() *BayesModel {
	return TrainBayes(seedCorpus, 1)
}

var seedCorpus = map[core.Category][]string{
	core.CategoryDangerous: {
		"your account has been suspended verify your identity immediately",
		"unusual sign in activity detected confirm your password now",
		"click the link below to restore access to your mailbox",
		"open the attached invoice and enable macros to view the document",
		"security alert your password expires today login to keep your account",
		"hot singles in your area want to meet tonight",
		"adult dating explicit videos free access",
	},
	core.CategoryFraudScam: {
		"i am the beneficiary of the fund and need your help with a wire transfer",
		"congratulations you have won the lottery claim your prize now",
		"kindly send your bank details to receive your inheritance funds",
		"double your bitcoin with guaranteed returns risk free investment",
		"your subscription has expired update your payment method to avoid interruption",
		"payment declined your card was declined renew your subscription",
		"buy gift cards and send me the codes urgently",
	},
	core.CategoryCommercialBulk: {
		"limited time offer save up to 50 percent shop now",
		"flash sale free shipping on all orders this weekend",
		"our weekly newsletter with the latest deals and products",
		"you are receiving this email because you signed up unsubscribe here",
		"exclusive deal for members discount code inside",
		"new arrivals just for you view in browser manage your preferences",
		"don't miss out act now special offer ends soon",
	},
	core.CategoryLegitimate: {
		"your order confirmation and receipt for your purchase",
		"your package has shipped tracking number attached",
		"reminder your appointment is scheduled for tomorrow at 10am",
		"hi can we move the meeting agenda to thursday thanks",
		"please review the attached draft and let me know what you think",
		"minutes from the meeting and project update for the team",
		"thanks for your help yesterday see you tomorrow",
	},
}
