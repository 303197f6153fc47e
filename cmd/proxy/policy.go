package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/itshen/AI-message-hook/internal/admin"
	"github.com/itshen/AI-message-hook/internal/policy"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Read or change the proxy policy",
		Long:  `Inspect and update the running proxy's policy through the management API.`,
	}
	cmd.PersistentFlags().String("management-token", "", "Management token (overrides MANAGEMENT_TOKEN)")

	cmd.AddCommand(newPolicyShowCmd(), newPolicySetCmd(), newHashTokenCmd())
	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current policy (credential masked)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := managementClient(cmd)
			if err != nil {
				return err
			}
			cfg, err := client.GetPolicy(cmd.Context())
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			return printPolicy(cmd, cfg, jsonOut)
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func newPolicySetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one or more policy fields",
		Long:  `Send a partial policy update. Only the flags given on the command line are changed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			update, err := updateFromFlags(cmd)
			if err != nil {
				return err
			}
			if update.IsEmpty() {
				return fmt.Errorf("nothing to change: pass at least one of --base-url, --credential, --model, --credential-mode, --model-mode, --auto-credential, --auto-model")
			}

			client, err := managementClient(cmd)
			if err != nil {
				return err
			}
			cfg, err := client.UpdatePolicy(cmd.Context(), update)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			return printPolicy(cmd, cfg, jsonOut)
		},
	}

	f := cmd.Flags()
	f.String("base-url", "", "Upstream base URL")
	f.String("credential", "", "Upstream credential")
	f.String("model", "", "Default model")
	f.String("credential-mode", "", "Credential replace mode: force or fill_if_missing")
	f.String("model-mode", "", "Model replace mode: force or fill_if_missing")
	f.Bool("auto-credential", true, "Enable credential substitution")
	f.Bool("auto-model", true, "Enable model substitution")
	f.Bool("json", false, "Output as JSON")
	return cmd
}

// updateFromFlags builds an Update containing only the flags that were set explicitly,
// so an empty string can still clear a field.
func updateFromFlags(cmd *cobra.Command) (policy.Update, error) {
	var u policy.Update
	f := cmd.Flags()

	str := func(name string) *string {
		if !f.Changed(name) {
			return nil
		}
		v, _ := f.GetString(name)
		return &v
	}
	mode := func(name string) (*policy.ReplaceMode, error) {
		s := str(name)
		if s == nil {
			return nil, nil
		}
		m, err := policy.ParseReplaceMode(*s)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", name, err)
		}
		return &m, nil
	}
	boolean := func(name string) *bool {
		if !f.Changed(name) {
			return nil
		}
		v, _ := f.GetBool(name)
		return &v
	}

	u.UpstreamBaseURL = str("base-url")
	u.Credential = str("credential")
	u.DefaultModel = str("model")
	u.AutoReplaceCredential = boolean("auto-credential")
	u.AutoReplaceModel = boolean("auto-model")

	var err error
	if u.CredentialReplaceMode, err = mode("credential-mode"); err != nil {
		return policy.Update{}, err
	}
	if u.ModelReplaceMode, err = mode("model-mode"); err != nil {
		return policy.Update{}, err
	}
	return u, nil
}

func newHashTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print a bcrypt hash for MANAGEMENT_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, _ := cmd.Flags().GetInt("cost")
			hash, err := admin.HashToken(args[0], cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().Int("cost", admin.DefaultBcryptCost, "bcrypt cost")
	return cmd
}

// managementClient resolves the API base URL and token: flag > env (.env is loaded if present).
func managementClient(cmd *cobra.Command) (*admin.APIClient, error) {
	_ = godotenv.Load()

	token, _ := cmd.Flags().GetString("management-token")
	if token == "" {
		token = os.Getenv("MANAGEMENT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("management token is required (set MANAGEMENT_TOKEN env or use --management-token)")
	}
	baseURL, _ := cmd.Flags().GetString("manage-api-base-url")
	return admin.NewAPIClient(baseURL, token), nil
}

func printPolicy(cmd *cobra.Command, cfg *policy.Config, jsonOut bool) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
