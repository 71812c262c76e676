package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/legis-enrich/internal/pipeline"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Download, extract, and clean proposition documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := runOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "clean")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Pipeline.Clean(ctx, opts)
		printReport(os.Stdout, report)
		return err
	},
}

func init() {
	addBatchFlags(cleanCmd, false)
	rootCmd.AddCommand(cleanCmd)
}

// runBatchStage is the shared body of the enrich and classify commands.
func runBatchStage(cmd *cobra.Command, mode string, stage func(*pipeline.Pipeline) stageFunc) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := runOptionsFromFlags(cmd)
	if err != nil {
		return err
	}

	env, err := initPipeline(ctx, mode)
	if err != nil {
		return err
	}
	defer env.Close()

	report, err := stage(env.Pipeline)(ctx, opts)
	printReport(os.Stdout, report)
	return err
}
