package factory

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/gemini"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/utils"
)

// GeminiFactory creates Gemini predictors
type GeminiFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewGeminiFactory creates a new Gemini factory
func NewGeminiFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *GeminiFactory {
	return &GeminiFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreatePredictor creates a Gemini predictor. The caller closes it.
func (f *GeminiFactory) CreatePredictor(ctx context.Context) (ensemble.Predictor, error) {
	geminiCfg := f.cfg.GetGemini()
	if geminiCfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	predictor, err := gemini.New(ctx, gemini.Config{
		APIKey:      geminiCfg.APIKey,
		ModelName:   geminiCfg.ModelName,
		MaxTokens:   geminiCfg.MaxTokens,
		Temperature: geminiCfg.Temperature,
		TopP:        geminiCfg.TopP,
		MaxTextSize: geminiCfg.MaxBodySize,
		Timeout:     geminiCfg.Timeout,
	}, f.logger, f.textProcessor)
	if err != nil {
		return nil, err
	}
	return predictor, nil
}
