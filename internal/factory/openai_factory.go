package factory

import (
	"errors"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/openai"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/utils"
)

// OpenAIFactory creates OpenAI predictors
type OpenAIFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIFactory creates a new OpenAI factory
func NewOpenAIFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *OpenAIFactory {
	return &OpenAIFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreatePredictor creates an OpenAI predictor
func (f *OpenAIFactory) CreatePredictor() (ensemble.Predictor, error) {
	openaiCfg := f.cfg.GetOpenAI()
	if openaiCfg.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}

	clientCfg := goopenai.DefaultConfig(openaiCfg.APIKey)
	if openaiCfg.BaseURL != "" {
		clientCfg.BaseURL = openaiCfg.BaseURL
	}

	return openai.NewPredictor(goopenai.NewClientWithConfig(clientCfg), openai.Config{
		ModelName:   openaiCfg.ModelName,
		MaxTokens:   openaiCfg.MaxTokens,
		Temperature: openaiCfg.Temperature,
		TopP:        openaiCfg.TopP,
		MaxTextSize: openaiCfg.MaxBodySize,
		Timeout:     openaiCfg.Timeout,
	}, f.logger, f.textProcessor), nil
}
