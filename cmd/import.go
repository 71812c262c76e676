package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import propositions and authors from the Câmara open-data exports",
	Long:  "Loads proposicoes-YYYY.json and proposicoesAutores-YYYY.json, keeps the configured types and date range, and upserts propositions with their authors.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if f, _ := cmd.Flags().GetString("propositions"); f != "" {
			cfg.Dataset.PropositionsFile = f
		}
		if f, _ := cmd.Flags().GetString("authors"); f != "" {
			cfg.Dataset.AuthorsFile = f
		}

		env, err := initPipeline(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Pipeline.Import(ctx)
		printReport(os.Stdout, report)
		return err
	},
}

func init() {
	importCmd.Flags().String("propositions", "", "propositions JSON export (overrides dataset.propositions_file)")
	importCmd.Flags().String("authors", "", "authors JSON export (overrides dataset.authors_file)")
	rootCmd.AddCommand(importCmd)
}
