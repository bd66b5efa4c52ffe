package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mywio/voice-pool/pkg/core"
	"github.com/mywio/voice-pool/pkg/voicepool"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print the effective settings",
		Long: `validate loads the config file and environment the same way the
controller does, compiles every group pattern and exits non-zero on error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgMap, err := loadSettings(configPath, logLevel)
			if err != nil {
				return err
			}
			registry, err := voicepool.NewRegistry(cfg.Patterns)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			patterns := make([]string, 0, len(registry.Groups()))
			for _, g := range registry.Groups() {
				patterns = append(patterns, g.Pattern())
			}
			token := core.NewSecret(cfg.Token)
			fmt.Fprintf(out, "config:     %s\n", configPath)
			fmt.Fprintf(out, "token:      %s\n", tokenSource(token, cfg.TokenSecret))
			fmt.Fprintf(out, "groups:     %s\n", strings.Join(patterns, ", "))
			if len(cfg.Guilds) > 0 {
				fmt.Fprintf(out, "guilds:     %s\n", strings.Join(cfg.Guilds, ", "))
			}
			fmt.Fprintf(out, "dry_run:    %t\n", cfg.DryRun)
			fmt.Fprintf(out, "http_addr:  %s\n", cfgMap["core"]["http_addr"])
			fmt.Fprintln(out, "configuration OK")
			return nil
		},
	}
}

func tokenSource(token core.Secret, secret string) string {
	if !token.IsZero() {
		return token.Redacted()
	}
	return "secret " + secret
}
