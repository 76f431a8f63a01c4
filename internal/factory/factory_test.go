package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/utils"
)

func newConfig() *config.Config {
	return config.NewFromViper(config.NewEmptyViper())
}

func TestCreateTaxonomy(t *testing.T) {
	cfg := newConfig()
	cfg.Set("taxonomy.extra_subcategories", map[string][]string{
		"fraud/scam": {"lottery", " crypto "},
	})

	tax, err := NewSignalsFactory(cfg, zap.NewNop()).CreateTaxonomy()
	require.NoError(t, err)
	assert.True(t, tax.HasSubcategory(core.CategoryFraudScam, "lottery"))
	assert.True(t, tax.HasSubcategory(core.CategoryFraudScam, "crypto"))
	assert.False(t, tax.HasSubcategory(core.CategoryLegitimate, "lottery"))
}

func TestCreateTaxonomyUnknownParent(t *testing.T) {
	cfg := newConfig()
	cfg.Set("taxonomy.extra_subcategories", map[string][]string{
		"newsletters": {"weekly"},
	})

	_, err := NewSignalsFactory(cfg, zap.NewNop()).CreateTaxonomy()
	assert.ErrorContains(t, err, "newsletters")
}

func TestCreateExtractor(t *testing.T) {
	cfg := newConfig()
	f := NewSignalsFactory(cfg, zap.NewNop())

	ex, err := f.CreateExtractor()
	require.NoError(t, err)
	assert.NotNil(t, ex)

	cfg.Set("signals.lexicon_path", filepath.Join(t.TempDir(), "missing.json"))
	_, err = f.CreateExtractor()
	assert.ErrorContains(t, err, "lexicon")
}

func TestCreateEnsemble(t *testing.T) {
	tests := []struct {
		name        string
		settings    map[string]any
		unavailable []string
	}{
		{
			name: "built-in models",
		},
		{
			name:        "missing tree model",
			settings:    map[string]any{"ensemble.tree_model_path": "/nonexistent/forest.json"},
			unavailable: []string{SlotTree},
		},
		{
			name:        "missing bayes model",
			settings:    map[string]any{"ensemble.bayes_model_path": "/nonexistent/bayes.json"},
			unavailable: []string{SlotText},
		},
		{
			name:        "openai without key",
			settings:    map[string]any{"ensemble.text_model": config.TextModelOpenAI},
			unavailable: []string{SlotText},
		},
		{
			name:        "gemini without key",
			settings:    map[string]any{"ensemble.text_model": config.TextModelGemini},
			unavailable: []string{SlotText},
		},
		{
			name:        "unknown provider",
			settings:    map[string]any{"ensemble.text_model": "oracle"},
			unavailable: []string{SlotText},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig()
			for k, v := range tt.settings {
				cfg.Set(k, v)
			}
			tax, err := NewSignalsFactory(cfg, zap.NewNop()).CreateTaxonomy()
			require.NoError(t, err)

			f := NewEnsembleFactory(cfg, zap.NewNop(), utils.NewTextProcessor(zap.NewNop()))
			ens := f.CreateEnsemble(context.Background(), tax)
			defer f.Close()

			var names, unavailable []string
			for _, s := range ens.Slots() {
				names = append(names, s.Name)
				if s.LoadErr != nil || s.Predictor == nil {
					unavailable = append(unavailable, s.Name)
				}
			}
			assert.Equal(t, []string{SlotTree, SlotText, SlotKeyword}, names)
			assert.Equal(t, tt.unavailable, unavailable)
		})
	}
}

func TestCreateEnsembleWarnsOncePerSlot(t *testing.T) {
	cfg := newConfig()
	cfg.Set("ensemble.tree_model_path", "/nonexistent/forest.json")
	cfg.Set("ensemble.text_model", config.TextModelGemini)

	tax, err := NewSignalsFactory(cfg, zap.NewNop()).CreateTaxonomy()
	require.NoError(t, err)

	obs, logs := observer.New(zapcore.WarnLevel)
	f := NewEnsembleFactory(cfg, zap.New(obs), utils.NewTextProcessor(zap.NewNop()))
	f.CreateEnsemble(context.Background(), tax)

	warned := map[string]int{}
	for _, entry := range logs.FilterFieldKey("slot").All() {
		slot, _ := entry.ContextMap()["slot"].(string)
		warned[slot]++
	}
	assert.Equal(t, map[string]int{SlotTree: 1, SlotText: 1}, warned)
}

func TestCreateOpenAIPredictor(t *testing.T) {
	cfg := newConfig()
	cfg.Set("openai.api_key", "sk-test")
	cfg.Set("openai.base_url", "http://127.0.0.1:1/v1")

	p, err := NewLLMFactory(cfg, zap.NewNop(), utils.NewTextProcessor(zap.NewNop())).
		CreatePredictor(context.Background(), config.TextModelOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestCreateStore(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		s, err := NewCacheFactory(newConfig(), zap.NewNop()).CreateStore(ctx)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := newConfig()
		cfg.Set("store.type", config.StoreSQLite)
		cfg.Set("store.sqlite_path", filepath.Join(t.TempDir(), "nested", "triage.db"))

		s, err := NewCacheFactory(cfg, zap.NewNop()).CreateStore(ctx)
		require.NoError(t, err)
		require.NotNil(t, s)
		defer s.Close()

		records, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("mysql without dsn", func(t *testing.T) {
		cfg := newConfig()
		cfg.Set("store.type", config.StoreMySQL)
		cfg.Set("store.mysql_dsn", "")

		s, err := NewCacheFactory(cfg, zap.NewNop()).CreateStore(ctx)
		assert.Error(t, err)
		assert.Nil(t, s)
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := newConfig()
		cfg.Set("store.type", "etcd")

		_, err := NewCacheFactory(cfg, zap.NewNop()).CreateStore(ctx)
		assert.ErrorContains(t, err, "etcd")
	})
}

func TestCreateDomainCache(t *testing.T) {
	c := NewCacheFactory(newConfig(), zap.NewNop()).CreateDomainCache()
	defer c.Stop()

	c.Set(&core.DomainRecord{Domain: "example.com"})
	assert.Equal(t, 1, c.Len())
}
