// Package llm holds what the hosted language model predictors share: the
// prompt and the parsing of the model's answer.
package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/utils"
)

// SystemPrompt is sent as the system role where the API has one
const SystemPrompt = "You are an email triage system. Respond only with JSON."

const promptFormat = `Classify the following email into exactly one category:
- Dangerous: phishing, malware, adult content
- Fraud/Scam: advance-fee, prizes, investment schemes, subscription traps, spoofed senders
- Commercial/Bulk: promotions, newsletters, marketing, automated notifications
- Legitimate: transactional mail, appointments, personal or work correspondence

Respond with a JSON object containing:
- category: string (one of the category names above)
- confidence: number between 0 and 1 (how confident you are)
- reason: string (one short sentence)

Email:
From: %s
Authentication: spf=%s dkim=%s dmarc=%s
Text:
%s

Respond only with the JSON object and nothing else.`

// ErrUnknownCategory is returned when the model answers with a label that
// maps to no category
var ErrUnknownCategory = errors.New("unknown category in model response")

// Response is the JSON object the model is asked for
type Response struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// BuildPrompt renders the prompt for set, truncating the message text to
// maxText bytes
func BuildPrompt(set *signals.SignalSet, tp *utils.TextProcessor, maxText int) string {
	from := set.Domain
	if set.LocalPart != "" {
		from = set.LocalPart + "@" + set.Domain
	}
	return fmt.Sprintf(promptFormat, from,
		verdict(set.Auth.SPF), verdict(set.Auth.DKIM), verdict(set.Auth.DMARC),
		tp.ProcessText(set.Text, maxText))
}

func verdict(v core.AuthVerdict) string {
	if v == "" {
		return string(core.AuthNone)
	}
	return string(v)
}

// ParsePrediction reads the model's answer. Prose around the JSON object is
// tolerated.
func ParsePrediction(text string) (ensemble.Prediction, error) {
	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		if err := json.Unmarshal([]byte(utils.ExtractJSONObject(text)), &resp); err != nil {
			return ensemble.Prediction{}, fmt.Errorf("failed to parse model response as JSON: %w", err)
		}
	}
	c, ok := ensemble.ParseCategory(resp.Category)
	if !ok || c == core.CategoryNeedsReview {
		return ensemble.Prediction{}, fmt.Errorf("%w: %q", ErrUnknownCategory, strings.TrimSpace(resp.Category))
	}
	return ensemble.Prediction{Category: c, Confidence: max(0, min(1, resp.Confidence))}, nil
}
