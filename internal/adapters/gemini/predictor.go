// Package gemini backs an ensemble slot with a Google Gemini model
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mikey/mail-triage/internal/adapters/llm"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/utils"
)

// Generator is the part of *genai.GenerativeModel the predictor uses
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Config holds the model settings
type Config struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxTextSize int
	Timeout     time.Duration
}

// Predictor asks a Gemini model for a category
type Predictor struct {
	client        *genai.Client
	model         Generator
	cfg           Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// New connects to Gemini and creates a predictor. Close releases the
// connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger, textProcessor *utils.TextProcessor) (*Predictor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.SetTemperature(cfg.Temperature)
	model.SetTopP(cfg.TopP)
	model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(llm.SystemPrompt))

	p := NewPredictor(model, cfg, logger, textProcessor)
	p.client = client
	return p, nil
}

// NewPredictor creates a predictor on an existing model
func NewPredictor(model Generator, cfg Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *Predictor {
	return &Predictor{
		model:         model,
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Close closes the Gemini client
func (p *Predictor) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Name implements ensemble.Predictor
func (p *Predictor) Name() string {
	return "gemini"
}

// Predict implements ensemble.Predictor
func (p *Predictor) Predict(ctx context.Context, set *signals.SignalSet) (ensemble.Prediction, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	prompt := llm.BuildPrompt(set, p.textProcessor, p.cfg.MaxTextSize)
	resp, err := p.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return ensemble.Prediction{}, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ensemble.Prediction{}, errors.New("empty response from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	pred, err := llm.ParsePrediction(sb.String())
	if err != nil {
		return ensemble.Prediction{}, err
	}
	p.logger.Debug("Gemini prediction",
		zap.String("message_id", set.MessageID),
		zap.String("model", p.cfg.ModelName),
		zap.String("category", string(pred.Category)),
		zap.Float64("confidence", pred.Confidence))
	return pred, nil
}

var _ ensemble.Predictor = (*Predictor)(nil)
