// Command chunkindex ingests documents into a hierarchical parent/child
// chunk index and searches it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nevindra/chunkindex/internal/config"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "chunkindex",
	Short: "Hierarchical parent/child chunk index",
	Long: `chunkindex splits documents into large parent chunks and small child
chunks, embeds the children, and answers searches with deduplicated parents.

Settings come from chunkindex.toml and CHUNKINDEX_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default chunkindex.toml, or $CHUNKINDEX_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
}

// newLogger writes text logs to stderr, at debug level with --verbose.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the config path from --config, then $CHUNKINDEX_CONFIG.
func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CHUNKINDEX_CONFIG")
	}
	return config.Load(path)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
