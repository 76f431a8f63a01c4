package factory

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/taxonomy"
	"github.com/mikey/mail-triage/internal/whitelist"
)

// SignalsFactory creates the taxonomy and the signal extractor
type SignalsFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewSignalsFactory creates a new signals factory
func NewSignalsFactory(cfg *config.Config, logger *zap.Logger) *SignalsFactory {
	return &SignalsFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateTaxonomy returns the default taxonomy extended with the configured
// subcategories
func (f *SignalsFactory) CreateTaxonomy() (*taxonomy.Taxonomy, error) {
	tax := taxonomy.Default()

	extra := f.cfg.GetSignals().ExtraSubcategories
	parents := make([]string, 0, len(extra))
	for p := range extra {
		parents = append(parents, p)
	}
	sort.Strings(parents)

	for _, p := range parents {
		parent, ok := ensemble.ParseCategory(p)
		if !ok {
			return nil, fmt.Errorf("taxonomy: unknown category %q", p)
		}
		for _, tag := range extra[p] {
			if err := tax.AddSubcategory(parent, strings.TrimSpace(tag)); err != nil {
				return nil, fmt.Errorf("taxonomy: %w", err)
			}
		}
		f.logger.Debug("Extended taxonomy", zap.String("category", string(parent)), zap.Strings("tags", extra[p]))
	}

	return tax, nil
}

// CreateExtractor creates the signal extractor. A configured lexicon that
// fails to load is an error; no path means the built-in lexicon.
func (f *SignalsFactory) CreateExtractor() (*signals.Extractor, error) {
	sigCfg := f.cfg.GetSignals()

	var lex *signals.Lexicon
	if sigCfg.LexiconPath != "" {
		var err error
		lex, err = signals.LoadLexicon(sigCfg.LexiconPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load lexicon: %w", err)
		}
		f.logger.Info("Loaded lexicon", zap.String("path", sigCfg.LexiconPath))
	}

	opts := signals.DefaultOptions()
	if sigCfg.EntropyThreshold > 0 {
		opts.EntropyThreshold = sigCfg.EntropyThreshold
	}
	if sigCfg.MaxTextBytes > 0 {
		opts.MaxTextBytes = sigCfg.MaxTextBytes
	}
	if len(sigCfg.RecognizedDomains) > 0 {
		opts.Recognized = whitelist.NewChecker(sigCfg.RecognizedDomains, f.logger)
	}

	return signals.NewExtractor(lex, opts), nil
}
