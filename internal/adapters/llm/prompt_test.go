package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/utils"
)

func TestParsePrediction(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    core.Category
		conf    float64
		wantErr error
	}{
		{"plain json", `{"category":"Fraud/Scam","confidence":0.8,"reason":"prize"}`, core.CategoryFraudScam, 0.8, nil},
		{"wrapped in prose", "Sure! Here you go:\n```json\n{\"category\": \"phishing\", \"confidence\": 0.93}\n```", core.CategoryDangerous, 0.93, nil},
		{"confidence clamped", `{"category":"Legitimate","confidence":1.7}`, core.CategoryLegitimate, 1, nil},
		{"unknown label", `{"category":"lunch","confidence":0.5}`, "", 0, ErrUnknownCategory},
		{"review is not a vote", `{"category":"Needs Review","confidence":0.5}`, "", 0, ErrUnknownCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePrediction(tt.text)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Category)
			assert.InDelta(t, tt.conf, p.Confidence, 1e-9)
		})
	}
}

func TestParsePredictionGarbage(t *testing.T) {
	_, err := ParsePrediction("I cannot help with that.")
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	set := &signals.SignalSet{
		Domain:    "example.com",
		LocalPart: "billing",
		Auth:      core.AuthResults{SPF: core.AuthPass, DKIM: core.AuthFail},
		Text:      "your invoice is attached and overdue",
	}
	prompt := BuildPrompt(set, utils.NewTextProcessor(zap.NewNop()), 12)

	assert.Contains(t, prompt, "From: billing@example.com")
	assert.Contains(t, prompt, "spf=pass dkim=fail dmarc=none")
	assert.Contains(t, prompt, "your invoice")
	assert.NotContains(t, prompt, "overdue")
}
