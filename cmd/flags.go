package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/legis-enrich/internal/model"
	"github.com/sells-group/legis-enrich/internal/pipeline"
)

type stageFunc func(context.Context, pipeline.RunOptions) (*model.BatchReport, error)

// addBatchFlags registers the flags shared by batch commands. withKinds
// adds --kinds for commands that run extractions.
func addBatchFlags(cmd *cobra.Command, withKinds bool) {
	cmd.Flags().Bool("force", false, "reprocess items that already succeeded")
	cmd.Flags().Int("limit", 0, "maximum number of propositions to process (0 = all)")
	if withKinds {
		cmd.Flags().String("kinds", "", "comma-separated extraction kinds (summary,sentiment,ideology,named_entities)")
	}
}

func runOptionsFromFlags(cmd *cobra.Command) (pipeline.RunOptions, error) {
	var opts pipeline.RunOptions
	opts.Force, _ = cmd.Flags().GetBool("force")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	if opts.Limit < 0 {
		return opts, eris.New("--limit must be >= 0")
	}
	if cmd.Flags().Lookup("kinds") != nil {
		raw, _ := cmd.Flags().GetString("kinds")
		kinds, err := parseKinds(raw)
		if err != nil {
			return opts, err
		}
		opts.Kinds = kinds
	}
	return opts, nil
}

// parseKinds parses a comma-separated kind list. Empty input selects every
// kind.
func parseKinds(raw string) ([]model.ExtractionKind, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	seen := make(map[model.ExtractionKind]bool)
	var kinds []model.ExtractionKind
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := model.ParseKind(part)
		if err != nil {
			return nil, eris.Wrap(err, "parse --kinds")
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}
