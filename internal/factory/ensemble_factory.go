package factory

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/taxonomy"
	"github.com/mikey/mail-triage/internal/utils"
)

// Ensemble slot names
const (
	SlotTree    = "tree"
	SlotText    = "text"
	SlotKeyword = "keyword"
)

// EnsembleFactory assembles the voting ensemble. A slot whose model cannot
// be loaded is kept but marked unavailable so classification carries on
// with the remaining voters.
type EnsembleFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
	closers       []io.Closer
}

// NewEnsembleFactory creates a new ensemble factory
func NewEnsembleFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *EnsembleFactory {
	return &EnsembleFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateEnsemble creates the ensemble over the given taxonomy
func (f *EnsembleFactory) CreateEnsemble(ctx context.Context, tax *taxonomy.Taxonomy) *ensemble.Ensemble {
	ensCfg := f.cfg.GetEnsemble()

	slots := []ensemble.Slot{
		f.treeSlot(ensCfg),
		f.textSlot(ctx, ensCfg),
		{Name: SlotKeyword, Predictor: ensemble.NewKeywordPredictor(tax), Weight: ensCfg.KeywordWeight},
	}
	opts := []ensemble.Option{ensemble.WithLogger(f.logger)}
	if ensCfg.TieMargin > 0 {
		opts = append(opts, ensemble.WithTieMargin(ensCfg.TieMargin))
	}
	return ensemble.New(slots, tax, opts...)
}

func (f *EnsembleFactory) treeSlot(ensCfg config.EnsembleConfig) ensemble.Slot {
	slot := ensemble.Slot{Name: SlotTree, Weight: ensCfg.TreeWeight}
	if ensCfg.TreeModelPath == "" {
		slot.Predictor = ensemble.NewTreePredictor(ensemble.DefaultForest())
		return slot
	}
	forest, err := ensemble.LoadForest(ensCfg.TreeModelPath)
	if err != nil {
		slot.LoadErr = err
		return slot
	}
	slot.Predictor = ensemble.NewTreePredictor(forest)
	return slot
}

func (f *EnsembleFactory) textSlot(ctx context.Context, ensCfg config.EnsembleConfig) ensemble.Slot {
	slot := ensemble.Slot{Name: SlotText, Weight: ensCfg.BayesWeight}

	switch ensCfg.TextModel {
	case "", config.TextModelBayes:
		model := ensemble.DefaultBayesModel()
		if ensCfg.BayesModelPath != "" {
			loaded, err := ensemble.LoadBayesModel(ensCfg.BayesModelPath)
			if err != nil {
				slot.LoadErr = err
				return slot
			}
			model = loaded
		}
		slot.Predictor = ensemble.NewBayesPredictor(model, ensCfg.BayesMaxTokens)
	default:
		p, err := NewLLMFactory(f.cfg, f.logger, f.textProcessor).CreatePredictor(ctx, ensCfg.TextModel)
		if err != nil {
			slot.LoadErr = err
			return slot
		}
		if c, ok := p.(io.Closer); ok {
			f.closers = append(f.closers, c)
		}
		slot.Predictor = p
	}
	return slot
}

// Close releases remote model clients
func (f *EnsembleFactory) Close() error {
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c.Close())
	}
	f.closers = nil
	return errors.Join(errs...)
}
