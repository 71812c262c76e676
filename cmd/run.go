package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage: import, clean, enrich, classify",
	Long:  "Runs the full pipeline. The import stage runs only when dataset.propositions_file is configured.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := runOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		reports, err := env.Pipeline.Run(ctx, opts)
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(os.Stdout)
			}
			printReport(os.Stdout, r)
		}
		if err != nil {
			return err
		}
		zap.L().Info("pipeline complete", zap.Int("stages", len(reports)))
		return nil
	},
}

func init() {
	addBatchFlags(runCmd, true)
	rootCmd.AddCommand(runCmd)
}
