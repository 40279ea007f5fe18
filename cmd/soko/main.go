package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/internal/app"
	"github.com/seanblong/soko/internal/config"
	"github.com/spf13/cobra"
)

var cfg config.Specification

var rootCmd = &cobra.Command{
	Use:   "soko",
	Short: "Ask questions about a folder of documents",
	Long: `soko ingests text, markdown, PDF, code, CSV and JSON files into a vector
store and answers questions from them using hybrid (vector + BM25) retrieval.

Configuration is read from config/soko.yaml (or --config), SOKO_* environment
variables and flags, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load("", cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		return app.SetupLogging(cfg.LogLevel, cmd.ErrOrStderr(), true)
	},
}

func init() {
	config.BindFlags(rootCmd.PersistentFlags())
}

// newApp builds the pipeline for the loaded configuration. CLI runs keep
// their metrics in a private registry; only the API server exports them.
func newApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfg, prometheus.NewRegistry())
}

func main() {
	// A local .env may carry provider keys; real environment variables win.
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
