package clean

import "github.com/sells-group/legis-enrich/internal/config"

// Options tunes detection and cleaning. Components take a copy at
// construction time.
type Options struct {
	// TopFraction is the share of each page's leading and trailing
	// non-blank lines treated as its margin region.
	TopFraction float64
	// RepeatThreshold is the minimum fraction of documents (or, for the
	// within-document signal, of pages) a margin signature must recur in.
	RepeatThreshold float64
	// MinStampChars bounds the length of a stamp line, in non-space runes.
	// Zero disables the stamp rule.
	MinStampChars int
	// BannedPhrases mark a line as boilerplate wherever it appears.
	BannedPhrases []string
	// CutAnnex drops everything from a trailing "ANEXO" title page onward.
	CutAnnex bool
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		TopFraction:     0.15,
		RepeatThreshold: 0.40,
		MinStampChars:   24,
	}
}

// OptionsFromConfig builds Options from the cleaning section of the config.
func OptionsFromConfig(cfg config.CleaningConfig) Options {
	return Options{
		TopFraction:     cfg.TopFraction,
		RepeatThreshold: cfg.RepeatThreshold,
		MinStampChars:   cfg.MinStampChars,
		BannedPhrases:   cfg.BannedPhrases,
		CutAnnex:        cfg.CutAnnex,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TopFraction <= 0 {
		o.TopFraction = d.TopFraction
	}
	if o.TopFraction > 0.5 {
		o.TopFraction = 0.5
	}
	if o.RepeatThreshold <= 0 {
		o.RepeatThreshold = d.RepeatThreshold
	}
	if o.RepeatThreshold > 1 {
		o.RepeatThreshold = 1
	}
	if o.MinStampChars < 0 {
		o.MinStampChars = 0
	}
	return o
}
