// lexveil CLI: detect and anonymize personal data in Brazilian legal documents.
//
// Commands:
//
//	lexveil detect <file|->          List personal data found in a document
//	lexveil anonymize <file|->       Print the anonymized document
//	lexveil batch <files...>         Anonymize many documents in parallel
//	lexveil serve                    Start the HTTP API
//	lexveil history list|get         Inspect the processing history
//	lexveil ask <file> <question>    Ask a model about the anonymized document
//	lexveil version                  Show version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vurakit/lexveil/internal/config"
	"github.com/vurakit/lexveil/internal/logging"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lexveil",
		Short: "Anonymize personal data in Brazilian legal documents",
		Long: `lexveil finds CPFs, CNPJs, names, phones and e-mails in contracts and
court documents and replaces them with masks, pseudonyms or synthetic values.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: lexveil.yaml in ., ./configs, /etc/lexveil)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newDetectCmd(),
		newAnonymizeCmd(),
		newBatchCmd(),
		newServeCmd(),
		newHistoryCmd(),
		newKeysCmd(),
		newAskCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "lexveil version %s\n", version)
			},
		},
	)
	return root
}

// setup loads the configuration and a logger writing to stderr. Commands
// other than serve default to warn so stdout and stderr stay readable.
func setup(defaultLevel string) (*config.Manager, *slog.Logger, error) {
	mgr, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := logLevel
	if level == "" {
		level = defaultLevel
	}
	if level == "" {
		level = mgr.Config().Logging.Level
	}
	return mgr, logging.Setup(level, os.Stderr), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
