package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/cache"
	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/di"
	"github.com/mikey/mail-triage/internal/factory"
	"github.com/mikey/mail-triage/internal/reputation"
	"github.com/mikey/mail-triage/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(ctx).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(ctx context.Context) *cobra.Command {
	flags := &di.CLIFlags{}

	root := &cobra.Command{
		Use:          "mail-triage",
		Short:        "Classify email into triage categories",
		SilenceUsage: true,
	}
	flags.BindFlags(root)

	root.AddCommand(
		newClassifyCmd(ctx, flags),
		newSessionCmd(ctx, flags),
		newCacheCmd(ctx, flags),
	)
	return root
}

// withContainer builds the container, runs fn against it and releases
// resources afterwards
func withContainer(ctx context.Context, flags *di.CLIFlags, fn interface{}) error {
	container, err := di.BuildContainer(ctx, flags)
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	defer shutdown(container)

	return container.Invoke(fn)
}

// shutdown stops the background cleanup, closes model clients and the store,
// and writes the metrics textfile when one is configured
func shutdown(container *dig.Container) {
	_ = container.Invoke(func(logger *zap.Logger, cfg *config.Config, reg *prometheus.Registry, c *cache.MemoryCache, st store.Store, ef *factory.EnsembleFactory) {
		c.Stop()
		if err := ef.Close(); err != nil {
			logger.Warn("Failed to close model clients", zap.Error(err))
		}
		if st != nil {
			if err := st.Close(); err != nil {
				logger.Warn("Failed to close store", zap.Error(err))
			}
		}
		if path := cfg.GetString("metrics.textfile"); path != "" {
			if err := prometheus.WriteToTextfile(path, reg); err != nil {
				logger.Warn("Failed to write metrics", zap.String("path", path), zap.Error(err))
			}
		}
		logger.Sync()
	})
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newClassifyCmd(ctx context.Context, flags *di.CLIFlags) *cobra.Command {
	var input, output string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify JSONL messages and print JSONL results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(ctx, flags, func(svc *service.Service, v *reputation.Validator, logger *zap.Logger) error {
				if _, err := v.Warm(ctx); err != nil {
					logger.Warn("Continuing with a cold domain cache", zap.Error(err))
				}

				in, err := openInput(input)
				if err != nil {
					return err
				}
				defer in.Close()
				out, err := openOutput(output)
				if err != nil {
					return err
				}
				defer out.Close()

				n, err := classifyStream(ctx, svc, in, out, batchSize, logger)
				logger.Info("Classification finished", zap.Int("messages", n))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input JSONL file of messages (stdin if not specified)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output JSONL file of results (stdout if not specified)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 64, "Messages classified concurrently")
	return cmd
}

func newSessionCmd(ctx context.Context, flags *di.CLIFlags) *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run classify, reject and accept requests read as JSONL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(ctx, flags, func(svc *service.Service, v *reputation.Validator, logger *zap.Logger) error {
				if _, err := v.Warm(ctx); err != nil {
					logger.Warn("Continuing with a cold domain cache", zap.Error(err))
				}

				in, err := openInput(input)
				if err != nil {
					return err
				}
				defer in.Close()
				out, err := openOutput(output)
				if err != nil {
					return err
				}
				defer out.Close()

				return runSession(ctx, svc, in, out, logger)
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input JSONL file of requests (stdin if not specified)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output JSONL file of responses (stdout if not specified)")
	return cmd
}

func newCacheCmd(ctx context.Context, flags *di.CLIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the persisted domain reputation records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired domain records from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(ctx, flags, func(st store.Store, logger *zap.Logger) error {
				if st == nil {
					return fmt.Errorf("no persistent store configured")
				}
				removed, err := st.Cleanup(ctx)
				if err != nil {
					return err
				}
				logger.Info("Removed expired domain records", zap.Int64("removed", removed))
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", removed)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "warm",
		Short: "Load persisted domain records and report how many are live",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(ctx, flags, func(v *reputation.Validator) error {
				n, err := v.Warm(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", n)
				return nil
			})
		},
	})

	return cmd
}
