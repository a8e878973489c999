// Command metexpatch replaces textures in Mass Effect packages.
package main

import (
	"fmt"
	"os"

	"github.com/goopsie/metexpatch/internal/config"
	"github.com/goopsie/metexpatch/internal/logging"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

var (
	gameFlag     string
	gamePathFlag string
	logLevel     string
	rootCmd      *cobra.Command
	logger       hclog.Logger = hclog.NewNullLogger()
)

func init() {
	rootCmd = &cobra.Command{
		Use:           "metexpatch",
		Short:         "Replace textures in Mass Effect packages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logLevel
			if level == "" {
				level = logging.GetLogLevel()
			}
			logger = logging.NewLogger("metexpatch", level, os.Stderr)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&gameFlag, "game", "g", "", "Game: 1, 2 or 3 (default $"+config.EnvGame+")")
	flags.StringVarP(&gamePathFlag, "game-path", "p", "", "Game installation directory (default $"+config.EnvGamePath+")")
	flags.StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newReplaceCmd(),
		newListCmd(),
		newExtractCmd(),
		newTOCCmd(),
		newRollbackCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(gameFlag, gamePathFlag)
}
