package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/bedrock"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/utils"
)

// BedrockFactory creates Bedrock predictors
type BedrockFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewBedrockFactory creates a new Bedrock factory
func NewBedrockFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *BedrockFactory {
	return &BedrockFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreatePredictor creates a Bedrock predictor using the default AWS
// credential chain
func (f *BedrockFactory) CreatePredictor(ctx context.Context) (ensemble.Predictor, error) {
	bedrockCfg := f.cfg.GetBedrock()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(bedrockCfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return bedrock.NewPredictor(bedrockruntime.NewFromConfig(awsCfg), bedrock.Config{
		ModelID:     bedrockCfg.ModelID,
		MaxTokens:   bedrockCfg.MaxTokens,
		Temperature: bedrockCfg.Temperature,
		TopP:        bedrockCfg.TopP,
		MaxTextSize: bedrockCfg.MaxBodySize,
		Timeout:     bedrockCfg.Timeout,
	}, f.logger, f.textProcessor), nil
}
