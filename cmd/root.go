package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigFile = "config.yaml"

var (
	configPath string
	logLevel   string
)

// rootCmd runs the voice pool controller when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "voice-pool",
	Short: "Keep Discord voice channel pools sized to demand",
	Long: `voice-pool watches voice channel membership and keeps exactly one empty
instance of every configured channel group, creating, deleting and renumbering
instances ("Gaming", "Gaming 2", ...) as members join and leave.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by --version and the version command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "voice-pool version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		return v
	}
	return defaultConfigFile
}

func init() {
	// RunE is assigned here rather than in the rootCmd literal because
	// runServe refers to rootCmd, which would be an initialization cycle.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configPath, logLevel, cmd.ErrOrStderr())
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the YAML config file (env CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())
}
