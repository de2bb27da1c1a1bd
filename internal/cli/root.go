// Package cli implements the prdgen command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahidDesigner/ai-prd-creator/internal/version"
)

func Run(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "prdgen",
		Short:         "AI product requirements document generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newKeysCmd(),
		newTokenCmd(),
		newCryptoCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), info.String())
				return nil
			}
			out, err := info.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
