package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/utils"
)

type fakeModel struct {
	parts    []genai.Part
	err      error
	prompt   string
	deadline bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	_, f.deadline = ctx.Deadline()
	if len(parts) > 0 {
		if text, ok := parts[0].(genai.Text); ok {
			f.prompt = string(text)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.parts == nil {
		return &genai.GenerateContentResponse{}, nil
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: f.parts}}},
	}, nil
}

func newPredictor(m *fakeModel) *Predictor {
	return NewPredictor(m, Config{ModelName: "gemini-test", MaxTextSize: 1024, Timeout: time.Second},
		zap.NewNop(), utils.NewTextProcessor(zap.NewNop()))
}

var set = &signals.SignalSet{MessageID: "m1", Domain: "example.com", LocalPart: "jane", Text: "see you tomorrow at the meeting"}

func TestPredict(t *testing.T) {
	m := &fakeModel{parts: []genai.Part{genai.Text(`{"category":"Legitimate",`), genai.Text(`"confidence":0.66}`)}}
	p := newPredictor(m)

	pred, err := p.Predict(context.Background(), set)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryLegitimate, pred.Category)
	assert.InDelta(t, 0.66, pred.Confidence, 1e-9)
	assert.Contains(t, m.prompt, "From: jane@example.com")
	assert.True(t, m.deadline)
	assert.NoError(t, p.Close())
}

func TestPredictErrors(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		want  string
	}{
		{"api error", &fakeModel{err: errors.New("quota exceeded")}, "quota exceeded"},
		{"no candidates", &fakeModel{}, "empty response"},
		{"not json", &fakeModel{parts: []genai.Part{genai.Text("no idea")}}, "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newPredictor(tt.model).Predict(context.Background(), set)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
