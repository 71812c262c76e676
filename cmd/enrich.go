package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/legis-enrich/internal/pipeline"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run structured LLM extractions over cleaned texts",
	Long:  "Runs the summary, sentiment, ideology, and named-entity extractions for every cleaned proposition. Items that already succeeded are skipped unless --force is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runBatchStage(cmd, "enrich", func(p *pipeline.Pipeline) stageFunc { return p.Enrich })
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Assign taxonomy topics to cleaned propositions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runBatchStage(cmd, "classify", func(p *pipeline.Pipeline) stageFunc { return p.Classify })
	},
}

func init() {
	addBatchFlags(enrichCmd, true)
	addBatchFlags(classifyCmd, false)
	rootCmd.AddCommand(enrichCmd, classifyCmd)
}
