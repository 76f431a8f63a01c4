package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/feedback"
	"github.com/mikey/mail-triage/internal/pipeline"
	"github.com/mikey/mail-triage/internal/service"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/taxonomy"
)

func newService() *service.Service {
	tax := taxonomy.Default()
	ens := ensemble.New([]ensemble.Slot{
		{Name: "tree", Predictor: ensemble.NewTreePredictor(ensemble.DefaultForest()), Weight: 0.4},
		{Name: "text", Predictor: ensemble.NewBayesPredictor(ensemble.DefaultBayesModel(), 512), Weight: 0.3},
		{Name: "keyword", Predictor: ensemble.NewKeywordPredictor(tax), Weight: 0.3},
	}, tax)
	classifier := pipeline.NewClassifier(signals.NewExtractor(nil, signals.DefaultOptions()), ens, nil,
		tax, pipeline.DefaultConfig(), zap.NewNop())
	engine := feedback.NewEngine(tax, feedback.DefaultConfig(), zap.NewNop())
	return service.New(classifier, engine, service.DefaultConfig(), zap.NewNop())
}

func decodeLines[T any](t *testing.T, out string) []T {
	t.Helper()
	var items []T
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var v T
		require.NoError(t, json.Unmarshal([]byte(line), &v))
		items = append(items, v)
	}
	return items
}

func TestClassifyStream(t *testing.T) {
	in := strings.Join([]string{
		`{"id":"m1","sender":"receipts@knownretailer.com","subject":"Your order confirmation","auth":{"spf":"pass","dkim":"pass","dmarc":"pass"}}`,
		``,
		`{"id":`,
		`{"id":"m2","sender":"hello@shopfront.com","subject":"A few things for you","body":"Have a look at what we picked this week."}`,
		`{"id":"m3","sender":"deals@shopfront.com","subject":"Weekend sale"}`,
	}, "\n")

	var out bytes.Buffer
	n, err := classifyStream(context.Background(), newService(), strings.NewReader(in), &out, 2, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results := decodeLines[core.ClassificationResult](t, out.String())
	require.Len(t, results, 3)
	assert.Equal(t, "m1", results[0].MessageID)
	assert.Equal(t, "m2", results[1].MessageID)
	assert.Equal(t, "m3", results[2].MessageID)
	assert.Equal(t, core.CategoryLegitimate, results[0].Category)
}

func TestClassifyStreamCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := classifyStream(ctx, newService(), strings.NewReader(`{"id":"m1"}`), &out, 4, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSession(t *testing.T) {
	in := strings.Join([]string{
		`{"op":"classify","message":{"id":"m1","sender":"receipts@knownretailer.com","subject":"Your order confirmation","auth":{"spf":"pass","dkim":"pass","dmarc":"pass"}}}`,
		`{"op":"reject","message_id":"m1","category":"Legitimate"}`,
		`{"op":"accept","message_id":"m1"}`,
		`{"op":"reject","message_id":"m1","category":"Legitimate"}`,
		`{"op":"reject","message_id":"m9","category":"nonsense"}`,
		`{"op":"shred","message_id":"m1"}`,
		`not json`,
		`{"op":"classify"}`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, runSession(context.Background(), newService(), strings.NewReader(in), &out, zap.NewNop()))

	resp := decodeLines[sessionResponse](t, out.String())
	require.Len(t, resp, 8)

	require.NotNil(t, resp[0].Result)
	assert.Equal(t, core.CategoryLegitimate, resp[0].Result.Category)
	assert.Equal(t, "m1", resp[0].MessageID)

	require.NotNil(t, resp[1].Result, resp[1].Error)
	assert.NotEqual(t, core.CategoryLegitimate, resp[1].Result.Category)
	assert.Equal(t, feedback.TierFeedback, resp[1].Result.DecidingTier)

	assert.True(t, resp[2].Accepted)
	assert.Contains(t, resp[3].Error, "unknown message")
	assert.Contains(t, resp[4].Error, "unknown category")
	assert.Contains(t, resp[5].Error, "unknown op")
	assert.Contains(t, resp[6].Error, "malformed request")
	assert.Equal(t, "missing message", resp[7].Error)
}
