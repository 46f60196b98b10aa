package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"certextract/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "certextract",
	Short: "certextract - certificate OCR and metadata extraction",
	Long: `certextract reads academic certificates (images or PDFs), recognizes
their text with an OCR engine and asks a generative AI provider for the
structured fields printed on them: student, university, degree, grade,
certificate and registration numbers, date of issue.

Run it as an HTTP service with "serve", process a single file locally with
"extract", or test a running service with "check".`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Debug().
			Str("version", version).
			Msg("certextract executed without a command")

		_ = cmd.Help()
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
