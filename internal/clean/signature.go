// Package clean detects recurring boilerplate across a corpus of extracted
// PDF documents and strips it from each document's text.
package clean

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	leaderRe    = regexp.MustCompile(`[_'.·•●◦▪▫⋅∙…\-–—=~*]{3,}`)
	spaceRe     = regexp.MustCompile(`\s+`)
	leadDateRe  = regexp.MustCompile(`^\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}(?:\s+\d{1,2}:\d{2}(?::\d{2})?)?\s*[-–—,|]?\s*`)
	leadPageRe  = regexp.MustCompile(`^\d{1,4}(?:\s*/\s*\d{1,4})?\s*[-–—|:.]?\s+`)
	digitRunRe  = regexp.MustCompile(`\d+`)
	maskedRunRe = regexp.MustCompile(`#(?:[\s./:\-]*#)+`)

	// numberShapeRe matches the counters and stamps that change from page to
	// page: dates, clock times and "página N de M" style page references.
	numberShapeRe = regexp.MustCompile(`\b\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}\b` +
		`|\b\d{1,2}:\d{2}(?::\d{2})?\b` +
		`|\b(?:pagina|pag\.?|fls?\.?)\s*\d{1,4}(?:\s*(?:de|/)\s*\d{1,4})?\b`)

	// barePageRe matches a line that is nothing but a page number.
	barePageRe = regexp.MustCompile(`^\d{1,4}(?:\s*/\s*\d{1,4})?$`)
)

// Fold lowercases s with Unicode case folding and strips combining accents,
// so "Câmara" and "CAMARA" compare equal.
func Fold(s string) string {
	folded := cases.Fold().String(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, folded)
	if err != nil {
		return folded
	}
	return out
}

// Signature normalizes a line for frequency counting: dotted leaders and
// whitespace runs collapse, case and accents fold, a leading date or page
// number is stripped when more text follows, and the digits of dates, times
// and page references become "#". Other digits are kept, so body lines that
// differ only in an article number or a term never share a signature. Blank
// lines have an empty signature.
func Signature(line string) string {
	s := leaderRe.ReplaceAllString(line, " ")
	s = spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	if s == "" {
		return ""
	}
	s = Fold(s)

	if loc := leadDateRe.FindStringIndex(s); loc != nil && loc[1] < len(s) {
		s = s[loc[1]:]
	}
	if loc := leadPageRe.FindStringIndex(s); loc != nil && loc[1] < len(s) {
		s = s[loc[1]:]
	}

	if barePageRe.MatchString(s) {
		return "#"
	}
	s = numberShapeRe.ReplaceAllStringFunc(s, func(m string) string {
		return digitRunRe.ReplaceAllString(m, "#")
	})
	s = maskedRunRe.ReplaceAllString(s, "#")
	return strings.TrimSpace(s)
}

// SignatureSet is a set of line signatures.
type SignatureSet map[string]struct{}

// NewSignatureSet builds a set from the given signatures.
func NewSignatureSet(sigs ...string) SignatureSet {
	s := make(SignatureSet, len(sigs))
	for _, sig := range sigs {
		s.Add(sig)
	}
	return s
}

// Add inserts sig. Empty signatures are ignored.
func (s SignatureSet) Add(sig string) {
	if sig != "" {
		s[sig] = struct{}{}
	}
}

// Has reports whether sig is in the set. A nil set contains nothing.
func (s SignatureSet) Has(sig string) bool {
	_, ok := s[sig]
	return ok
}

// Union returns a new set holding the members of s and other.
func (s SignatureSet) Union(other SignatureSet) SignatureSet {
	out := make(SignatureSet, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}
