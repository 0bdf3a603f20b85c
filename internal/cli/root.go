package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentic",
	Short: "Agentic - agent turn execution engine",
	Long: `Agentic runs conversational agents turn by turn. Each turn interleaves
model inference, tool execution and safety shields, and streams its progress
as events. Serve the engine over JSON-RPC or chat with an agent locally.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: checkGlobalFlags,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.agentic/agentic.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// checkGlobalFlags rejects a bad --log-level before any config is loaded
func checkGlobalFlags(cmd *cobra.Command, args []string) error {
	if logLevel == "" {
		return nil
	}
	if _, err := zerolog.ParseLevel(logLevel); err != nil {
		return fmt.Errorf("invalid --log-level %q: want debug, info, warn or error", logLevel)
	}
	return nil
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
