package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/eduscribe/eduscribe/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	// Global configuration
	globalConfig *cli.Config

	styles = cli.NewStyles(cli.DefaultTheme)
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eduscribe",
	Short: "Real-time lecture transcription and note synthesis",
	Long: `eduscribe - Turn live lecture audio into structured study notes.

The server accepts audio over websocket or HTTP, transcribes it,
scores each chunk for importance, augments it with course documents,
and periodically synthesizes structured notes that stream back to the
client as they are produced.

Examples:
  # Run the server on the default port
  eduscribe serve

  # Run on a custom address with verbose logging
  eduscribe -v serve --listen :9000

  # Add reference material for a lecture
  eduscribe ingest --lecture cs101 --source slides.txt notes/slides.txt
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.eduscribe/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	globalConfig, err = cli.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("config:"), err)
		globalConfig = &cli.Config{Listen: ":8080"}
	}
}

// getConfig returns the global configuration
func getConfig() *cli.Config {
	return globalConfig
}
