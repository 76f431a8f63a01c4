package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/utils"
)

// LLMFactory creates the hosted model predictors
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreatePredictor creates the predictor of a hosted model provider
func (f *LLMFactory) CreatePredictor(ctx context.Context, provider string) (ensemble.Predictor, error) {
	switch provider {
	case config.TextModelOpenAI:
		return NewOpenAIFactory(f.cfg, f.logger, f.textProcessor).CreatePredictor()
	case config.TextModelBedrock:
		return NewBedrockFactory(f.cfg, f.logger, f.textProcessor).CreatePredictor(ctx)
	case config.TextModelGemini:
		return NewGeminiFactory(f.cfg, f.logger, f.textProcessor).CreatePredictor(ctx)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}
