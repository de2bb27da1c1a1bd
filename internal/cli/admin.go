package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/NahidDesigner/ai-prd-creator/internal/auth"
	"github.com/NahidDesigner/ai-prd-creator/internal/credentials"
	"github.com/NahidDesigner/ai-prd-creator/internal/crypto"
)

// cliActor is recorded in the audit log for changes made from the shell.
const cliActor = "cli"

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			d.logger.Info().Str("driver", d.cfg.DB.Driver).Msg("migrations applied")
			return nil
		},
	}
}

type keyScope struct {
	user   string
	global bool
}

func (s *keyScope) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.user, "user", "", "owner ID of a user key")
	cmd.Flags().BoolVar(&s.global, "global", false, "operate on the admin-global key")
}

func (s keyScope) validate() error {
	user := strings.TrimSpace(s.user)
	if (user == "") == !s.global {
		return errors.New("exactly one of --user or --global is required")
	}
	return nil
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored provider API keys",
	}
	cmd.AddCommand(newKeysSetCmd(), newKeysListCmd(), newKeysDeleteCmd())
	return cmd
}

func newKeysSetCmd() *cobra.Command {
	var scope keyScope
	var key string
	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store an API key (reads stdin when --key is empty)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := scope.validate(); err != nil {
				return err
			}
			if strings.TrimSpace(key) == "" {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				key = line
			}

			d, err := openDeps(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer d.Close()

			var info credentials.KeyInfo
			if scope.global {
				info, err = d.keys.SaveGlobalKey(cmd.Context(), cliActor, args[0], key)
			} else {
				info, err = d.keys.SaveUserKey(cmd.Context(), strings.TrimSpace(scope.user), args[0], key)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s key %s\n", info.Provider, info.Hint)
			return nil
		},
	}
	scope.bind(cmd)
	cmd.Flags().StringVar(&key, "key", "", "API key value")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	var scope keyScope
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored keys with masked hints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := scope.validate(); err != nil {
				return err
			}
			d, err := openDeps(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer d.Close()

			var infos []credentials.KeyInfo
			if scope.global {
				infos, err = d.keys.ListGlobalKeys(cmd.Context())
			} else {
				infos, err = d.keys.ListUserKeys(cmd.Context(), strings.TrimSpace(scope.user))
			}
			if err != nil {
				return err
			}
			return printKeys(cmd.OutOrStdout(), infos)
		},
	}
	scope.bind(cmd)
	return cmd
}

func newKeysDeleteCmd() *cobra.Command {
	var scope keyScope
	cmd := &cobra.Command{
		Use:   "delete <provider>",
		Short: "Delete a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := scope.validate(); err != nil {
				return err
			}
			d, err := openDeps(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer d.Close()

			if scope.global {
				err = d.keys.DeleteGlobalKey(cmd.Context(), cliActor, args[0])
			} else {
				err = d.keys.DeleteUserKey(cmd.Context(), strings.TrimSpace(scope.user), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s key\n", strings.ToLower(args[0]))
			return nil
		},
	}
	scope.bind(cmd)
	return cmd
}

func printKeys(w io.Writer, infos []credentials.KeyInfo) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "no keys stored")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tHINT\tUPDATED")
	for _, k := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Provider, k.Hint, k.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API access tokens",
	}
	cmd.AddCommand(newTokenCreateCmd())
	return cmd
}

func newTokenCreateCmd() *cobra.Command {
	var user, label string
	var admin bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(user) == "" {
				return errors.New("--user is required")
			}
			d, err := openDeps(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer d.Close()

			token, err := auth.NewAuthenticator(d.store).Issue(cmd.Context(), strings.TrimSpace(user), label, admin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID the token acts as")
	cmd.Flags().StringVar(&label, "label", "", "free-form note stored with the token")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin access")
	return cmd
}

func newCryptoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crypto",
		Short: "Key ring helpers",
	}
	cmd.AddCommand(newGenMasterKeyCmd(), newRotateKeysCmd())
	return cmd
}

func newGenMasterKeyCmd() *cobra.Command {
	var exportLine bool
	cmd := &cobra.Command{
		Use:   "gen-master-key",
		Short: "Generate a random MASTER_KEY_CURRENT value",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			if exportLine {
				fmt.Fprintf(cmd.OutOrStdout(), "export MASTER_KEY_CURRENT=%s\n", key)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&exportLine, "export", false, "print as a shell export line")
	return cmd
}

func newRotateKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt stored API keys with the current master key",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer d.Close()
			n, err := d.keys.RotateAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-encrypted %d keys with %s\n", n, d.keyring.CurrentID())
			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read key from stdin: %w", err)
		}
		return "", errors.New("missing key: pass --key or pipe it on stdin")
	}
	return strings.TrimSpace(sc.Text()), nil
}
