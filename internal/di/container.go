// Package di wires the classifier together with dig.
package di

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/cache"
	"github.com/mikey/mail-triage/internal/adapters/rdap"
	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/feedback"
	"github.com/mikey/mail-triage/internal/metrics"
	"github.com/mikey/mail-triage/internal/pipeline"
	"github.com/mikey/mail-triage/internal/reputation"
	"github.com/mikey/mail-triage/internal/service"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/taxonomy"
	"github.com/mikey/mail-triage/internal/utils"
)

// BuildContainer creates and configures a dependency injection container.
// Components are built lazily on the first Invoke that needs them.
func BuildContainer(ctx context.Context, flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	providers := []interface{}{
		func() *CLIFlags { return flags },
		func(flags *CLIFlags) (*config.Config, error) { return flags.LoadConfig() },
		func(flags *CLIFlags, cfg *config.Config) (*zap.Logger, error) { return flags.Logger(cfg) },

		// Metrics
		prometheus.NewRegistry,
		func(reg *prometheus.Registry) *metrics.Metrics { return metrics.New(reg) },

		utils.NewTextProcessor,

		// Factories
		factory.NewSignalsFactory,
		factory.NewEnsembleFactory,
		factory.NewCacheFactory,

		func(f *factory.SignalsFactory) (*taxonomy.Taxonomy, error) { return f.CreateTaxonomy() },
		func(f *factory.SignalsFactory) (*signals.Extractor, error) { return f.CreateExtractor() },
		func(f *factory.EnsembleFactory, tax *taxonomy.Taxonomy) *ensemble.Ensemble {
			return f.CreateEnsemble(ctx, tax)
		},

		// Domain reputation
		func(f *factory.CacheFactory) *cache.MemoryCache { return f.CreateDomainCache() },
		func(f *factory.CacheFactory) (store.Store, error) { return f.CreateStore(ctx) },
		func(f *factory.CacheFactory) *rdap.Client { return f.CreateLookup() },
		func(cfg *config.Config, c *cache.MemoryCache, lookup *rdap.Client, st store.Store, m *metrics.Metrics, logger *zap.Logger) *reputation.Validator {
			return reputation.New(c, lookup, cfg.GetReputation(), logger,
				reputation.WithStore(st),
				reputation.WithMetrics(m))
		},

		// Classification
		func(cfg *config.Config, ex *signals.Extractor, ens *ensemble.Ensemble, v *reputation.Validator, tax *taxonomy.Taxonomy, m *metrics.Metrics, logger *zap.Logger) *pipeline.Classifier {
			return pipeline.NewClassifier(ex, ens, v, tax, cfg.GetPipeline(), logger, pipeline.WithMetrics(m))
		},
		func(cfg *config.Config, tax *taxonomy.Taxonomy, v *reputation.Validator, st store.Store, m *metrics.Metrics, logger *zap.Logger) *feedback.Engine {
			opts := []feedback.Option{
				feedback.WithMetrics(m),
				feedback.WithGenericSender(v.IsGenericLocalPart),
			}
			if st != nil && cfg.GetStore().RecordHistory {
				opts = append(opts, feedback.WithRecorder(st))
			}
			return feedback.NewEngine(tax, cfg.GetFeedback(), logger, opts...)
		},
		func(cfg *config.Config, c *pipeline.Classifier, engine *feedback.Engine, st store.Store, logger *zap.Logger) *service.Service {
			var opts []service.Option
			if st != nil && cfg.GetStore().RecordHistory {
				opts = append(opts, service.WithRecorder(st))
			}
			return service.New(c, engine, cfg.GetService(), logger, opts...)
		},
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return nil, err
		}
	}
	return container, nil
}
