package clean

import (
	"strings"
	"time"

	"github.com/sells-group/legis-enrich/internal/model"
)

// Cleaner strips boilerplate and stamp noise from a document. It is a pure
// function of its input lines and signature set, safe for concurrent use.
type Cleaner struct {
	opts  Options
	rules *Rules
}

// NewCleaner creates a Cleaner.
func NewCleaner(opts Options) *Cleaner {
	opts = opts.withDefaults()
	return &Cleaner{opts: opts, rules: NewRules(opts.BannedPhrases)}
}

// Clean returns the cleaned text of doc given its boilerplate signatures.
func (c *Cleaner) Clean(doc model.RawDocument, sigs SignatureSet) string {
	lines := doc.Lines
	if c.opts.CutAnnex {
		if at := annexStart(doc); at >= 0 {
			lines = lines[:at]
		}
	}
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return c.cleanLines(texts, sigs)
}

// CleanText re-applies cleaning to already-flattened text, one line per
// newline and no page structure.
func (c *Cleaner) CleanText(text string, sigs SignatureSet) string {
	return c.cleanLines(strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"), sigs)
}

func (c *Cleaner) cleanLines(lines []string, sigs SignatureSet) string {
	n := len(lines)
	trimmed := make([]string, n)
	dropped := make([]bool, n)

	// (1) boilerplate by signature or institutional rule
	for i, l := range lines {
		trimmed[i] = strings.TrimSpace(l)
		if trimmed[i] == "" {
			continue
		}
		if sigs.Has(Signature(l)) || c.rules.Match(l) {
			dropped[i] = true
		}
	}

	// (2) stamps: short, uppercase, repeated, and next to a dropped line
	if c.opts.MinStampChars > 0 {
		repeats := make(map[string]int)
		for _, t := range trimmed {
			if t != "" {
				repeats[t]++
			}
		}
		stamp := make([]bool, n)
		for i, t := range trimmed {
			if t == "" || dropped[i] || repeats[t] < 2 || !isStampLike(t, c.opts.MinStampChars) {
				continue
			}
			if neighborDropped(trimmed, dropped, i, -1) || neighborDropped(trimmed, dropped, i, 1) {
				stamp[i] = true
			}
		}
		for i := range stamp {
			if stamp[i] {
				dropped[i] = true
			}
		}
	}

	// (3) collapse blank runs, (4) trim
	var b strings.Builder
	blank := false
	wrote := false
	for i, t := range trimmed {
		if dropped[i] {
			continue
		}
		if t == "" {
			blank = wrote
			continue
		}
		if wrote {
			b.WriteByte('\n')
			if blank {
				b.WriteByte('\n')
			}
		}
		b.WriteString(t)
		wrote = true
		blank = false
	}
	return b.String()
}

// neighborDropped reports whether the nearest non-blank line in direction
// dir was dropped as boilerplate.
func neighborDropped(trimmed []string, dropped []bool, i, dir int) bool {
	for j := i + dir; j >= 0 && j < len(trimmed); j += dir {
		if trimmed[j] == "" {
			continue
		}
		return dropped[j]
	}
	return false
}

// CleanCorpus detects boilerplate across docs and cleans each one. Documents
// without any text are returned with status no_text.
//
// The cross-document signal only sees docs. A corpus of one document gets
// page-to-page recurrence and the institutional rules, nothing more, so a
// line that repeats across propositions but appears once in this document
// is kept.
func CleanCorpus(docs []model.RawDocument, opts Options) (*Profile, []model.CleanedText) {
	profile := NewDetector(opts).Detect(docs)
	cleaner := NewCleaner(opts)
	now := time.Now().UTC()

	out := make([]model.CleanedText, 0, len(docs))
	for _, doc := range docs {
		ct := model.CleanedText{
			PropositionID: doc.PropositionID,
			RawChars:      rawChars(doc),
			UpdatedAt:     now,
		}
		if doc.Empty() {
			ct.Status = model.TextStatusNoText
			ct.Reason = "document has no extractable text"
			out = append(out, ct)
			continue
		}
		ct.Text = cleaner.Clean(doc, profile.For(doc.PropositionID))
		ct.Status = model.TextStatusAvailable
		if ct.Text == "" {
			ct.Status = model.TextStatusNoText
			ct.Reason = "document is entirely boilerplate"
		}
		out = append(out, ct)
	}
	return profile, out
}

func rawChars(doc model.RawDocument) int {
	n := 0
	for _, l := range doc.Lines {
		n += len(l.Text)
	}
	return n
}
