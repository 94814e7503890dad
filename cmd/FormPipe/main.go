// Command formpipe runs a conversational questionnaire over Telegram or WhatsApp and
// records each completed submission to the configured sinks.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	// Until flags are parsed the logger runs at info level.
	if err := initializeLogger(""); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	config := loadEnvironmentConfig()
	if err := newRootCmd(&config).Execute(); err != nil {
		slog.Error("FormPipe failed", "error", err)
		os.Exit(1)
	}
}

// initializeLogger sets up structured logging at level (debug, info, warn or error).
func initializeLogger(level string) error {
	var lvl slog.Level
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return nil
}

// newRootCmd builds the command tree. Flags default to the values already in config, so a
// flag given on the command line overrides the matching environment variable.
func newRootCmd(config *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "formpipe",
		Short:         "FormPipe collects questionnaire answers through chat",
		Long:          `FormPipe walks users through a question catalog over Telegram or WhatsApp and appends every completed submission to SQL, CSV or Google Sheets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeLogger(config.LogLevel); err != nil {
				return err
			}
			config.applyDefaults()
			slog.Debug("Final configuration",
				"state_dir", config.StateDir,
				"catalog", config.CatalogPath,
				"channel", config.Channel,
				"sinks", config.Sinks,
				"api_addr", config.APIAddr)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $FORMPIPE_LOG_LEVEL)")
	pf.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for FormPipe data (overrides $FORMPIPE_STATE_DIR)")
	pf.StringVar(&config.CatalogPath, "catalog", config.CatalogPath, "question catalog, JSON or YAML (overrides $FORMPIPE_CATALOG)")

	root.AddCommand(newRunCmd(config), newValidateCmd(config), newQuestionsCmd(config), newTryCmd(config))
	return root
}
