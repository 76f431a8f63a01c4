package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/feedback"
	"github.com/mikey/mail-triage/internal/pipeline"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/taxonomy"
)

type fakeEnsemble struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEnsemble) Predict(context.Context, *signals.SignalSet) ensemble.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return ensemble.Result{
		Category:   core.CategoryCommercialBulk,
		Confidence: 0.6,
		Ranking: []ensemble.CategoryScore{
			{Category: core.CategoryCommercialBulk, Score: 0.6},
			{Category: core.CategoryLegitimate, Score: 0.35},
		},
	}
}

func (f *fakeEnsemble) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []*core.ClassificationResult
}

func (f *fakeRecorder) RecordResult(_ context.Context, r *core.ClassificationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

func (f *fakeRecorder) RecordFeedback(context.Context, *core.FeedbackEvent) error { return nil }

func (f *fakeRecorder) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type fixture struct {
	svc      *Service
	engine   *feedback.Engine
	ensemble *fakeEnsemble
	recorder *fakeRecorder
}

func newFixture(cfg Config) *fixture {
	tax := taxonomy.Default()
	ens := &fakeEnsemble{}
	rec := &fakeRecorder{}
	classifier := pipeline.NewClassifier(signals.NewExtractor(nil, signals.DefaultOptions()), ens, nil,
		tax, pipeline.DefaultConfig(), zap.NewNop())
	engine := feedback.NewEngine(tax, feedback.DefaultConfig(), zap.NewNop())
	return &fixture{
		svc:      New(classifier, engine, cfg, zap.NewNop(), WithRecorder(rec)),
		engine:   engine,
		ensemble: ens,
		recorder: rec,
	}
}

func plain(id string) *core.Message {
	return &core.Message{
		ID:      id,
		Sender:  "hello@shopfront.com",
		Subject: "A few things for you",
		Body:    "Have a look at what we picked this week.",
	}
}

func receipt(id string) *core.Message {
	return &core.Message{
		ID:      id,
		Sender:  "receipts@knownretailer.com",
		Subject: "Your order confirmation",
		Auth:    core.AuthResults{SPF: core.AuthPass, DKIM: core.AuthPass, DMARC: core.AuthPass},
	}
}

func TestClassifyRecordsAndRemembers(t *testing.T) {
	f := newFixture(DefaultConfig())

	res := f.svc.Classify(context.Background(), plain("m1"))
	assert.Equal(t, core.CategoryNeedsReview, res.Category)
	assert.Equal(t, pipeline.TierFallback, res.DecidingTier)
	assert.Equal(t, 1, f.recorder.Len())
	assert.Equal(t, 1, f.svc.Remembered())
}

func TestRejectUnknownMessage(t *testing.T) {
	f := newFixture(DefaultConfig())

	_, err := f.svc.Reject(context.Background(), "nope", core.CategoryLegitimate)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestRejectUsesRememberedEvidence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())
	f.svc.Classify(ctx, plain("m1"))

	next, err := f.svc.Reject(ctx, "m1", core.CategoryNeedsReview)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryLegitimate, next.Category)
	assert.Equal(t, feedback.TierFeedback, next.DecidingTier)
	assert.Contains(t, next.Evidence, "feedback:ensemble")

	next, err = f.svc.Reject(ctx, "m1", core.CategoryLegitimate)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryCommercialBulk, next.Category)

	_, err = f.svc.Reject(ctx, "m1", core.CategoryCommercialBulk)
	assert.ErrorIs(t, err, feedback.ErrSessionExhausted)
}

func TestRejectRunsEnsembleOnDemand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())

	res := f.svc.Classify(ctx, receipt("m1"))
	require.Equal(t, pipeline.TierBusinessOverride, res.DecidingTier)
	assert.Equal(t, 0, f.ensemble.Calls())

	next, err := f.svc.Reject(ctx, "m1", core.CategoryLegitimate)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryCommercialBulk, next.Category)
	assert.Equal(t, 1, f.ensemble.Calls())
}

func TestMemoryIsBoundedFIFO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{MemorySize: 2})

	f.svc.Classify(ctx, plain("m1"))
	f.svc.Classify(ctx, plain("m2"))
	f.svc.Classify(ctx, plain("m2"))
	assert.Equal(t, 2, f.svc.Remembered())

	f.svc.Classify(ctx, plain("m3"))
	assert.Equal(t, 2, f.svc.Remembered())

	_, err := f.svc.Reject(ctx, "m1", core.CategoryNeedsReview)
	assert.ErrorIs(t, err, ErrUnknownMessage)
	_, err = f.svc.Reject(ctx, "m2", core.CategoryNeedsReview)
	assert.NoError(t, err)
	_, err = f.svc.Reject(ctx, "m3", core.CategoryNeedsReview)
	assert.NoError(t, err)
}

func TestEvictionClosesFeedbackSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{MemorySize: 2})

	f.svc.Classify(ctx, plain("m1"))
	f.svc.Classify(ctx, plain("m2"))
	for _, id := range []string{"m1", "m2"} {
		_, err := f.svc.Reject(ctx, id, core.CategoryNeedsReview)
		require.NoError(t, err)
	}
	require.Equal(t, 2, f.engine.Sessions())

	f.svc.Classify(ctx, plain("m3"))
	assert.Equal(t, 1, f.engine.Sessions())
	_, ok := f.engine.Session("m1")
	assert.False(t, ok)

	f.svc.Classify(ctx, plain("m4"))
	assert.Equal(t, 0, f.engine.Sessions())

	_, err := f.svc.Reject(ctx, "m1", core.CategoryLegitimate)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestConcurrentRejectsShareEnsembleRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())
	f.svc.Classify(ctx, receipt("m1"))
	require.Zero(t, f.ensemble.Calls())

	var wg sync.WaitGroup
	for _, c := range []core.Category{core.CategoryNeedsReview, core.CategoryLegitimate, core.CategoryFraudScam} {
		wg.Add(1)
		go func(c core.Category) {
			defer wg.Done()
			_, _ = f.svc.Reject(ctx, "m1", c)
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, f.ensemble.Calls())
	_, ok := f.engine.Session("m1")
	assert.True(t, ok)
}

func TestMessagesWithoutIDAreNotRemembered(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.svc.Classify(context.Background(), plain(""))
	assert.Equal(t, 0, f.svc.Remembered())
	assert.Equal(t, 1, f.recorder.Len())
}

func TestAcceptSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())

	assert.ErrorIs(t, f.svc.AcceptSession(ctx, "m1"), ErrUnknownMessage)

	f.svc.Classify(ctx, plain("m1"))
	_, err := f.svc.Reject(ctx, "m1", core.CategoryNeedsReview)
	require.NoError(t, err)
	require.NoError(t, f.svc.AcceptSession(ctx, "m1"))

	_, err = f.svc.Reject(ctx, "m1", core.CategoryLegitimate)
	assert.ErrorIs(t, err, ErrUnknownMessage)
	assert.ErrorIs(t, f.svc.AcceptSession(ctx, "m1"), ErrUnknownMessage)

	// accepting the original result without any rejection
	f.svc.Classify(ctx, plain("m2"))
	assert.NoError(t, f.svc.AcceptSession(ctx, "m2"))
	assert.Equal(t, 0, f.svc.Remembered())
}

func TestClassifyBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(DefaultConfig())

	msgs := make([]*core.Message, 5)
	for i := range msgs {
		msgs[i] = plain(fmt.Sprintf("m%d", i))
	}
	results, err := f.svc.ClassifyBatch(ctx, msgs)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, msgs[i].ID, r.MessageID)
	}
	assert.Equal(t, 5, f.recorder.Len())
	assert.Equal(t, 5, f.svc.Remembered())
}

func TestClassifyBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(DefaultConfig())

	results, err := f.svc.ClassifyBatch(ctx, []*core.Message{plain("m1"), plain("m2")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []*core.ClassificationResult{nil, nil}, results)
	assert.Equal(t, 0, f.recorder.Len())
	assert.Equal(t, 0, f.svc.Remembered())
}
