package di

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/config"
	"github.com/mikey/mail-triage/internal/logging"
)

// CLIFlags contains the persistent command line flags shared by every
// subcommand
type CLIFlags struct {
	ConfigFile string
	Verbose    bool
	JSONLog    bool
	TextModel  string
	StoreType  string
}

// BindFlags registers the persistent flags on cmd
func (f *CLIFlags) BindFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.ConfigFile, "config", "c", "", "Path to config file")
	pf.BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose logging")
	pf.BoolVar(&f.JSONLog, "json-log", false, "Output logs in JSON format")
	pf.StringVar(&f.TextModel, "text-model", "", "Text model for the ensemble (bayes, openai, bedrock, gemini)")
	pf.StringVar(&f.StoreType, "store", "", "Persistent store (none, sqlite, mysql, redis)")
}

// LoadConfig loads the configuration and applies flag overrides
func (f *CLIFlags) LoadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.ConfigFile != "" {
		cfg, err = config.NewWithFile(f.ConfigFile)
	} else {
		cfg, err = config.New()
	}
	if err != nil {
		return nil, err
	}

	if f.TextModel != "" {
		cfg.Set("ensemble.text_model", f.TextModel)
	}
	if f.StoreType != "" {
		cfg.Set("store.type", f.StoreType)
	}
	if f.Verbose {
		cfg.Set("logging.level", "debug")
	}
	if f.JSONLog {
		cfg.Set("logging.format", "json")
	}
	return cfg, nil
}

// Logger builds the logger and reports which config file was used
func (f *CLIFlags) Logger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.InitLogger(cfg)
	if err != nil {
		return nil, err
	}
	if used := cfg.GetViper().ConfigFileUsed(); used != "" {
		logger.Info("Loaded configuration from file", zap.String("file", used))
	}
	return logger, nil
}
