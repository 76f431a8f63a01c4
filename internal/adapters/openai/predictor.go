// Package openai backs an ensemble slot with an OpenAI chat model
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/llm"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/utils"
)

// Config holds the model settings
type Config struct {
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxTextSize int
	Timeout     time.Duration
}

// Predictor asks an OpenAI model for a category
type Predictor struct {
	client        *openai.Client
	cfg           Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewPredictor creates a predictor on client
func NewPredictor(client *openai.Client, cfg Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *Predictor {
	return &Predictor{
		client:        client,
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Name implements ensemble.Predictor
func (p *Predictor) Name() string {
	return "openai"
}

// Predict implements ensemble.Predictor
func (p *Predictor) Predict(ctx context.Context, set *signals.SignalSet) (ensemble.Prediction, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: p.cfg.ModelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: llm.SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: llm.BuildPrompt(set, p.textProcessor, p.cfg.MaxTextSize),
			},
		},
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		TopP:        p.cfg.TopP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return ensemble.Prediction{}, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ensemble.Prediction{}, errors.New("empty response from OpenAI")
	}

	pred, err := llm.ParsePrediction(resp.Choices[0].Message.Content)
	if err != nil {
		return ensemble.Prediction{}, err
	}
	p.logger.Debug("OpenAI prediction",
		zap.String("message_id", set.MessageID),
		zap.String("model", p.cfg.ModelName),
		zap.String("request_id", resp.ID),
		zap.String("category", string(pred.Category)),
		zap.Float64("confidence", pred.Confidence))
	return pred, nil
}

var _ ensemble.Predictor = (*Predictor)(nil)
