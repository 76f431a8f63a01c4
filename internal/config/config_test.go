package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/mail-triage/internal/feedback"
	"github.com/mikey/mail-triage/internal/pipeline"
	"github.com/mikey/mail-triage/internal/reputation"
)

func TestDefaultsMatchComponents(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	assert.Equal(t, pipeline.DefaultConfig(), cfg.GetPipeline())
	assert.Equal(t, reputation.DefaultConfig(), cfg.GetReputation())
	assert.Equal(t, feedback.DefaultConfig(), cfg.GetFeedback())
	assert.Equal(t, 10000, cfg.GetService().MemorySize)

	ens := cfg.GetEnsemble()
	assert.InDelta(t, 1.0, ens.TreeWeight+ens.BayesWeight+ens.KeywordWeight, 1e-9)
	assert.Equal(t, TextModelBayes, ens.TextModel)

	assert.Equal(t, StoreNone, cfg.GetStore().Type)
	assert.Equal(t, time.Hour, cfg.GetCache().CleanupFrequency)
	assert.Equal(t, 2*time.Second, cfg.GetRDAP().Timeout)
	assert.Equal(t, uint32(5), cfg.GetRDAP().MaxFailures)
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  concurrency: 2
  domain_weight: 0.6
reputation:
  lookup_timeout: 500ms
  fallback_ttl: not-a-duration
  generic_local_parts: [billing, accounts]
store:
  type: sqlite
  sqlite_path: /tmp/triage.db
taxonomy:
  extra_subcategories:
    Commercial/Bulk: [coupon, survey]
ensemble:
  text_model: openai
`), 0o600))

	cfg, err := NewWithFile(path)
	require.NoError(t, err)

	p := cfg.GetPipeline()
	assert.Equal(t, 2, p.Concurrency)
	assert.InDelta(t, 0.6, p.DomainWeight, 1e-9)
	assert.InDelta(t, 0.90, p.EnsembleConfidence, 1e-9)

	r := cfg.GetReputation()
	assert.Equal(t, 500*time.Millisecond, r.LookupTimeout)
	assert.Equal(t, 5*time.Minute, r.FallbackTTL, "malformed durations fall back to the default")
	assert.Equal(t, []string{"billing", "accounts"}, r.GenericLocalParts)

	s := cfg.GetStore()
	assert.Equal(t, StoreSQLite, s.Type)
	assert.Equal(t, "/tmp/triage.db", s.SQLitePath)

	assert.Equal(t, []string{"coupon", "survey"}, cfg.GetSignals().ExtraSubcategories["commercial/bulk"])
	assert.Equal(t, TextModelOpenAI, cfg.GetEnsemble().TextModel)
}

func TestNewWithFileMissing(t *testing.T) {
	_, err := NewWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MAIL_TRIAGE_STORE_TYPE", "redis")
	t.Setenv("MAIL_TRIAGE_PIPELINE_CONCURRENCY", "3")
	t.Setenv("MAIL_TRIAGE_OPENAI_TIMEOUT", "750ms")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.GetStore().Type)
	assert.Equal(t, 3, cfg.GetPipeline().Concurrency)
	assert.Equal(t, 750*time.Millisecond, cfg.GetOpenAI().Timeout)
}

func TestGetDuration(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())
	d, err := cfg.GetDuration("cache.cleanup_frequency")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	cfg.Set("cache.cleanup_frequency", "soon")
	_, err = cfg.GetDuration("cache.cleanup_frequency")
	assert.ErrorContains(t, err, "cache.cleanup_frequency")
}
