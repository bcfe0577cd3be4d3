package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vurakit/lexveil/internal/auth"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys for the HTTP API",
		Long: `keys manages the API keys checked when auth.enabled is true. Only a
hash of each key is stored; the key itself is printed once, on create.`,
	}

	var role, label string
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create an API key",
		Example: `  lexveil keys create --role operator --label "escritorio-sp"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			client, err := openRedis(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			plaintext, key, err := auth.NewManager(client).GenerateKey(cmd.Context(), r, label)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			fmt.Fprintf(cmd.ErrOrStderr(), "created key %s (%s); it will not be shown again\n", key.ID, key.Role)
			return nil
		},
	}
	create.Flags().StringVar(&role, "role", string(auth.RoleOperator), "admin, operator or viewer")
	create.Flags().StringVar(&label, "label", "", "free-form description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openRedis(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			keys, err := auth.NewManager(client).List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tROLE\tACTIVE\tCREATED\tLABEL")
			for _, k := range keys {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", k.ID, k.Role, k.Active, k.CreatedAt.Format("2006-01-02"), k.Label)
			}
			return tw.Flush()
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openRedis(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			if err := auth.NewManager(client).RevokeByID(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}
