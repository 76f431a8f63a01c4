package ensemble

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/signals"
)

// TreeNode is a split or a leaf of a decision tree. Values below Threshold
// go Left, others go Right. Leaves carry per-category scores.
type TreeNode struct {
	Feature   string                    `json:"feature,omitempty"`
	Threshold float64                   `json:"threshold,omitempty"`
	Left      *TreeNode                 `json:"left,omitempty"`
	Right     *TreeNode                 `json:"right,omitempty"`
	Leaf      map[core.Category]float64 `json:"leaf,omitempty"`
}

func (n *TreeNode) isLeaf() bool {
	return n.Left == nil && n.Right == nil
}

func (n *TreeNode) validate(depth int) error {
	if depth > 32 {
		return fmt.Errorf("tree deeper than 32 levels")
	}
	if n.isLeaf() {
		return nil
	}
	if n.Feature == "" || n.Left == nil || n.Right == nil {
		return fmt.Errorf("split node needs a feature and two children")
	}
	if err := n.Left.validate(depth + 1); err != nil {
		return err
	}
	return n.Right.validate(depth + 1)
}

func (n *TreeNode) eval(set *signals.SignalSet) map[core.Category]float64 {
	for !n.isLeaf() {
		if set.Feature(n.Feature) < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Leaf
}

// Forest is an additive tree ensemble: leaf scores of every tree are summed
// per category and turned into probabilities with a softmax
type Forest struct {
	Categories []core.Category `json:"categories"`
	Trees      []*TreeNode     `json:"trees"`
}

// Validate checks the forest structure
func (f *Forest) Validate() error {
	if len(f.Categories) == 0 {
		return fmt.Errorf("forest has no categories")
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for i, t := range f.Trees {
		if t == nil {
			return fmt.Errorf("tree %d is empty", i)
		}
		if err := t.validate(0); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// LoadForest reads a forest from a JSON file
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree model: %w", err)
	}
	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tree model %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tree model %s: %w", path, err)
	}
	return &f, nil
}

// TreePredictor labels signal sets with a Forest
type TreePredictor struct {
	forest *Forest
}

// NewTreePredictor creates a predictor over forest
func NewTreePredictor(forest *Forest) *TreePredictor {
	return &TreePredictor{forest: forest}
}

// Name implements Predictor
func (p *TreePredictor) Name() string {
	return "tree"
}

// Predict implements Predictor
func (p *TreePredictor) Predict(_ context.Context, set *signals.SignalSet) (Prediction, error) {
	scores := make([]float64, len(p.forest.Categories))
	for _, t := range p.forest.Trees {
		votes := t.eval(set)
		for i, c := range p.forest.Categories {
			scores[i] += votes[c]
		}
	}
	i, prob := softmaxArgmax(scores)
	return Prediction{Category: p.forest.Categories[i], Confidence: prob}, nil
}

// softmaxArgmax returns the index of the largest score and its softmax
// probability. Ties go to the lower index.
func softmaxArgmax(scores []float64) (int, float64) {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - scores[best])
	}
	return best, 1 / sum
}

func split(feature string, threshold float64, left, right *TreeNode) *TreeNode {
	return &TreeNode{Feature: feature, Threshold: threshold, Left: left, Right: right}
}

func leaf(scores map[core.Category]float64) *TreeNode {
	return &TreeNode{Leaf: scores}
}

// DefaultForest returns a small hand-tuned forest over the extractor's
// features
func DefaultForest() *Forest {
	d, f, c, l := core.CategoryDangerous, core.CategoryFraudScam, core.CategoryCommercialBulk, core.CategoryLegitimate
	none := leaf(nil)

	return &Forest{
		Categories: []core.Category{d, f, c, l},
		Trees: []*TreeNode{
			split("keyword_dangerous", 0.5, leaf(map[core.Category]float64{l: 0.3}),
				split("keyword_dangerous", 0.85, leaf(map[core.Category]float64{d: 1.5}), leaf(map[core.Category]float64{d: 2.5}))),
			split("keyword_fraud", 0.5, leaf(map[core.Category]float64{l: 0.3}),
				split("keyword_fraud", 0.85, leaf(map[core.Category]float64{f: 1.5}), leaf(map[core.Category]float64{f: 2.5}))),
			split("keyword_commercial", 0.5, leaf(map[core.Category]float64{l: 0.3}), leaf(map[core.Category]float64{c: 1.5})),
			split("keyword_legitimate", 0.5, none, leaf(map[core.Category]float64{l: 1.5})),
			split(signals.SigGibberishDomain, 0.5,
				split(signals.SigBrandImpersonation, 0.5, none, leaf(map[core.Category]float64{d: 1.0, f: 1.5})),
				leaf(map[core.Category]float64{d: 2.5})),
			split("auth_fail_count", 2,
				split("auth_pass_count", 3, none, leaf(map[core.Category]float64{l: 0.8})),
				leaf(map[core.Category]float64{f: 1.2, d: 0.5})),
			split(signals.SigTransactional, 0.5, none, leaf(map[core.Category]float64{l: 1.2})),
			split(signals.SigSubscriptionWarning, 0.5, none, leaf(map[core.Category]float64{f: 1.5})),
			split(signals.SigDomainMismatch, 0.5, none, leaf(map[core.Category]float64{f: 0.6})),
			split(signals.SigURLCount, 5, none, leaf(map[core.Category]float64{c: 0.6, d: 0.3})),
			split(signals.SigCapsRatio, 0.6, none,
				split(signals.SigExclamations, 3, leaf(map[core.Category]float64{c: 0.4}), leaf(map[core.Category]float64{c: 0.8, f: 0.5}))),
			split(signals.SigRecognizedDomain, 0.5, none, leaf(map[core.Category]float64{l: 0.8})),
		},
	}
}
