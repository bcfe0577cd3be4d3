package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vurakit/lexveil/internal/app"
	"github.com/vurakit/lexveil/internal/assistant"
	"github.com/vurakit/lexveil/internal/history"
	"github.com/vurakit/lexveil/internal/processor"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				os.Setenv("LEXVEIL_SERVER_ADDR", addr)
			}
			mgr, logger, err := setup("")
			if err != nil {
				return err
			}
			logger.Info("starting lexveil", "version", version, "config", mgr.File())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, mgr, logger)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the processing history",
	}

	var limit int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent processing runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No history records.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tFILE\tSIZE\tPATTERNS")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID,
					units.HumanDuration(time.Since(r.CreatedAt))+" ago",
					r.Status,
					r.Filename,
					units.HumanSize(float64(r.FileSize)),
					strconv.Itoa(r.TotalPatterns),
				)
			}
			return tw.Flush()
		},
	}
	list.Flags().Int64VarP(&limit, "limit", "n", 20, "maximum records to show")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one processing run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func openHistory(ctx context.Context) (*history.Store, error) {
	client, err := openRedis(ctx)
	if err != nil {
		return nil, err
	}
	return history.NewWithClient(client), nil
}

// openRedis connects to the configured Redis and checks it is reachable.
func openRedis(ctx context.Context) (*redis.Client, error) {
	mgr, _, err := setup("warn")
	if err != nil {
		return nil, err
	}
	cfg := mgr.Config()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

func newAskCmd() *cobra.Command {
	var (
		df detectFlags
		tf techniqueFlags
	)
	cmd := &cobra.Command{
		Use:   "ask <file|-> <question>",
		Short: "Ask a model about the anonymized document",
		Long: `ask anonymizes the document locally and sends only the anonymized text
to the configured OpenAI-compatible endpoint (assistant.base_url).`,
		Example: `  LEXVEIL_ASSISTANT_API_KEY=sk-... lexveil ask contrato.pdf "Qual o prazo de vigência?"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, logger, err := setup("warn")
			if err != nil {
				return err
			}
			cfg := mgr.Config()

			client, err := assistant.New(assistant.Config{
				BaseURL: cfg.Assistant.BaseURL,
				APIKey:  cfg.Assistant.APIKey,
				Model:   cfg.Assistant.Model,
				Timeout: cfg.Assistant.Timeout,
			})
			if err != nil {
				return fmt.Errorf("%w (set assistant.api_key or LEXVEIL_ASSISTANT_API_KEY)", err)
			}

			det, err := df.detector(cfg)
			if err != nil {
				return err
			}
			opts, err := tf.options(cfg.Anonymization)
			if err != nil {
				return err
			}
			text, err := readInput(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}

			p := processor.New(det, processor.WithLogger(logger), processor.WithSource("assistant"))
			res, err := p.Process(cmd.Context(), text, opts)
			if err != nil {
				return exitError(err)
			}

			answer, err := client.Ask(cmd.Context(), res, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	df.register(cmd)
	tf.register(cmd)
	return cmd
}
