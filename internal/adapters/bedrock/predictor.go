// Package bedrock backs an ensemble slot with a model hosted on Amazon
// Bedrock
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/llm"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/utils"
)

// InvokeModelAPI is the part of the Bedrock runtime client the predictor
// uses
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config holds the model settings
type Config struct {
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxTextSize int
	Timeout     time.Duration
}

// Predictor asks a Bedrock model for a category
type Predictor struct {
	client        InvokeModelAPI
	cfg           Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewPredictor creates a predictor on client, usually a
// *bedrockruntime.Client
func NewPredictor(client InvokeModelAPI, cfg Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *Predictor {
	return &Predictor{
		client:        client,
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Name implements ensemble.Predictor
func (p *Predictor) Name() string {
	return "bedrock"
}

// Predict implements ensemble.Predictor
func (p *Predictor) Predict(ctx context.Context, set *signals.SignalSet) (ensemble.Prediction, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	prompt := llm.BuildPrompt(set, p.textProcessor, p.cfg.MaxTextSize)
	payload, err := p.payload(prompt)
	if err != nil {
		return ensemble.Prediction{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.cfg.ModelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return ensemble.Prediction{}, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	text, err := p.responseText(resp.Body)
	if err != nil {
		return ensemble.Prediction{}, err
	}
	pred, err := llm.ParsePrediction(text)
	if err != nil {
		return ensemble.Prediction{}, err
	}
	p.logger.Debug("Bedrock prediction",
		zap.String("message_id", set.MessageID),
		zap.String("model", p.cfg.ModelID),
		zap.String("category", string(pred.Category)),
		zap.Float64("confidence", pred.Confidence))
	return pred, nil
}

// payload shapes the request body for the model family
func (p *Predictor) payload(prompt string) ([]byte, error) {
	switch {
	case p.isAnthropicModel():
		return json.Marshal(map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"system":            llm.SystemPrompt,
			"max_tokens":        p.cfg.MaxTokens,
			"temperature":       p.cfg.Temperature,
			"top_p":             p.cfg.TopP,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		})
	case p.isAmazonTitanModel():
		return json.Marshal(map[string]any{
			"inputText": prompt,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": p.cfg.MaxTokens,
				"temperature":   p.cfg.Temperature,
				"topP":          p.cfg.TopP,
			},
		})
	default:
		return json.Marshal(map[string]any{
			"prompt":      prompt,
			"max_tokens":  p.cfg.MaxTokens,
			"temperature": p.cfg.Temperature,
			"top_p":       p.cfg.TopP,
		})
	}
}

// responseText pulls the generated text out of the model family's response
func (p *Predictor) responseText(body []byte) (string, error) {
	switch {
	case p.isAnthropicModel():
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Anthropic response: %w", err)
		}
		var sb strings.Builder
		for _, c := range resp.Content {
			if c.Type == "text" {
				sb.WriteString(c.Text)
			}
		}
		if sb.Len() == 0 {
			return "", errors.New("empty response from Anthropic model")
		}
		return sb.String(), nil
	case p.isAmazonTitanModel():
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", errors.New("empty response from Titan model")
		}
		return resp.Results[0].OutputText, nil
	default:
		var resp struct {
			Output   string `json:"output"`
			Text     string `json:"text"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
		}
		for _, s := range []string{resp.Output, resp.Text, resp.Response} {
			if s != "" {
				return s, nil
			}
		}
		return string(body), nil
	}
}

func (p *Predictor) isAnthropicModel() bool {
	return strings.HasPrefix(p.cfg.ModelID, "anthropic.")
}

func (p *Predictor) isAmazonTitanModel() bool {
	return strings.HasPrefix(p.cfg.ModelID, "amazon.titan")
}

var _ ensemble.Predictor = (*Predictor)(nil)
