package clean

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/sells-group/legis-enrich/internal/model"
)

// protocolRe matches electronic protocol codes such as "*CD257150518000*".
var protocolRe = regexp.MustCompile(`(?i)(?:\*|^)\s*cd\d{6,}\s*(?:\*|$)`)

// annexRe matches an annex title such as "ANEXO II - TABELA".
var annexRe = regexp.MustCompile(`^ANEXO(?:\s+[IVXLCDM0-9]+)?(?:\s*[-–—:].*)?$`)

// Rules flags institutional boilerplate that is recognizable from a single
// line, independent of corpus frequency.
type Rules struct {
	phrases []string
}

// NewRules builds Rules from phrases. Matching ignores case and accents.
func NewRules(phrases []string) *Rules {
	r := &Rules{}
	for _, p := range phrases {
		if p = strings.TrimSpace(Fold(p)); p != "" {
			r.phrases = append(r.phrases, p)
		}
	}
	return r
}

// Match reports whether line is institutional boilerplate.
func (r *Rules) Match(line string) bool {
	if r == nil {
		return false
	}
	if protocolRe.MatchString(strings.TrimSpace(line)) {
		return true
	}
	if len(r.phrases) == 0 {
		return false
	}
	folded := Fold(line)
	for _, p := range r.phrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

// isStampLike reports whether line is short and made mostly of uppercase
// letters, digits, or punctuation.
func isStampLike(line string, maxChars int) bool {
	var chars, letters, upper int
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		chars++
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if chars == 0 || chars > maxChars {
		return false
	}
	return letters == 0 || float64(upper)/float64(letters) >= 0.8
}

// annexStart returns the index into doc.Lines where a trailing annex begins,
// or -1. Only documents of two or more pages qualify, the title must sit in
// the top 30% of a page in the second half of the document, and the last
// such title wins.
func annexStart(doc model.RawDocument) int {
	pages := doc.Pages()
	if len(pages) < 2 {
		return -1
	}

	start := -1
	offset := 0
	for pi, page := range pages {
		if pi >= len(pages)/2 {
			var nonBlank []int
			for i, l := range page {
				if strings.TrimSpace(l.Text) != "" {
					nonBlank = append(nonBlank, i)
				}
			}
			limit := int(math.Ceil(float64(len(nonBlank)) * 0.3))
			for j := 0; j < limit && j < len(nonBlank); j++ {
				if isAnnexTitle(page[nonBlank[j]].Text) {
					start = offset + nonBlank[j]
				}
			}
		}
		offset += len(page)
	}
	return start
}

func isAnnexTitle(line string) bool {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
	if s == "" || strings.HasSuffix(s, ".") {
		return false
	}
	if len(strings.Fields(s)) > 10 {
		return false
	}
	if !annexRe.MatchString(s) {
		return false
	}
	var letters, upper int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters > 0 && float64(upper)/float64(letters) >= 0.9
}
