package bedrock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/utils"
)

type fakeRuntime struct {
	input    *bedrockruntime.InvokeModelInput
	body     string
	err      error
	deadline bool
}

func (f *fakeRuntime) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func newPredictor(rt *fakeRuntime, model string) *Predictor {
	return NewPredictor(rt, Config{ModelID: model, MaxTokens: 64, MaxTextSize: 1024, Timeout: time.Second},
		zap.NewNop(), utils.NewTextProcessor(zap.NewNop()))
}

var set = &signals.SignalSet{MessageID: "m1", Domain: "example.com", Text: "claim your prize now"}

func TestPredictModelFamilies(t *testing.T) {
	answer := `{"category":"Fraud/Scam","confidence":0.7}`
	quoted, _ := json.Marshal(answer)

	tests := []struct {
		model   string
		body    string
		reqKey  string
		comment string
	}{
		{"anthropic.claude-3-haiku-20240307-v1:0", `{"content":[{"type":"text","text":` + string(quoted) + `}]}`, "messages", "messages api"},
		{"amazon.titan-text-express-v1", `{"results":[{"outputText":` + string(quoted) + `}]}`, "inputText", "titan"},
		{"meta.llama3-8b-instruct-v1:0", `{"output":` + string(quoted) + `}`, "prompt", "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.comment, func(t *testing.T) {
			rt := &fakeRuntime{body: tt.body}
			pred, err := newPredictor(rt, tt.model).Predict(context.Background(), set)
			require.NoError(t, err)
			assert.Equal(t, core.CategoryFraudScam, pred.Category)
			assert.InDelta(t, 0.7, pred.Confidence, 1e-9)

			require.NotNil(t, rt.input)
			assert.Equal(t, tt.model, *rt.input.ModelId)
			assert.True(t, rt.deadline)
			var req map[string]any
			require.NoError(t, json.Unmarshal(rt.input.Body, &req))
			assert.Contains(t, req, tt.reqKey)
		})
	}
}

func TestPredictInvokeError(t *testing.T) {
	rt := &fakeRuntime{err: errors.New("throttled")}
	_, err := newPredictor(rt, "amazon.titan-text-express-v1").Predict(context.Background(), set)
	assert.ErrorContains(t, err, "throttled")
}

func TestPredictEmptyTitan(t *testing.T) {
	rt := &fakeRuntime{body: `{"results":[]}`}
	_, err := newPredictor(rt, "amazon.titan-text-express-v1").Predict(context.Background(), set)
	assert.ErrorContains(t, err, "empty response")
}
