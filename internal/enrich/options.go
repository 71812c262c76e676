package enrich

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/legis-enrich/internal/config"
	"github.com/sells-group/legis-enrich/internal/model"
	"github.com/sells-group/legis-enrich/internal/resilience"
)

// Options configures the orchestrator and the classifier.
type Options struct {
	Model     string
	MaxTokens int64

	// Kinds restricts the orchestrator to a subset of extraction kinds.
	// Empty means all kinds.
	Kinds []model.ExtractionKind

	Retry resilience.RetryConfig

	MaxWorkers        int
	RequestsPerSecond float64
	Burst             int

	MaxInputChars int
	TailChars     int
	CallTimeout   time.Duration

	// Force re-runs items whose stored result already succeeded.
	Force bool

	// ClassifyFromSummary makes the classifier read a succeeded summary
	// instead of the cleaned text.
	ClassifyFromSummary bool

	// Limit caps the number of propositions processed per run. Zero means
	// no cap.
	Limit int
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		Retry: resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoff,
			cfg.Retry.MaxBackoff,
			cfg.Retry.Multiplier,
			cfg.Retry.JitterFraction,
		),
		MaxWorkers:          cfg.Batch.MaxWorkers,
		RequestsPerSecond:   cfg.Batch.RequestsPerSecond,
		Burst:               cfg.Batch.Burst,
		MaxInputChars:       cfg.Enrich.MaxInputChars,
		TailChars:           cfg.Enrich.TailChars,
		CallTimeout:         cfg.Enrich.CallTimeout,
		Force:               cfg.Enrich.Force,
		ClassifyFromSummary: cfg.Enrich.ClassifyFromSummary,
	}
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "claude-haiku-4-5-20251001"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	if len(o.Kinds) == 0 {
		o.Kinds = model.AllKinds()
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 4
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 90 * time.Second
	}
	if o.TailChars < 0 {
		o.TailChars = 0
	}
	return o
}

func (o Options) validate() error {
	if o.MaxInputChars > 0 && o.TailChars >= o.MaxInputChars {
		return eris.Errorf("enrich: tail_chars (%d) must be smaller than max_input_chars (%d)", o.TailChars, o.MaxInputChars)
	}
	seen := make(map[model.ExtractionKind]bool, len(o.Kinds))
	for _, k := range o.Kinds {
		if _, err := model.ParseKind(string(k)); err != nil {
			return eris.Wrap(err, "enrich: options")
		}
		if seen[k] {
			return eris.Errorf("enrich: kind %q listed twice", k)
		}
		seen[k] = true
	}
	return nil
}
