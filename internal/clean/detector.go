package clean

import (
	"math"
	"strings"

	"github.com/sells-group/legis-enrich/internal/model"
)

// ProfileEntry holds corpus statistics for one signature.
type ProfileEntry struct {
	// Occurrences counts every line with this signature, in any position.
	Occurrences int
	// MarginDocs counts documents with the signature in a page margin.
	MarginDocs int
	// DocFraction is MarginDocs over the corpus size.
	DocFraction float64
}

// Profile is the boilerplate signal computed for one corpus. It is an
// intermediate artifact of a cleaning run and is never persisted.
type Profile struct {
	Documents int
	Entries   map[string]*ProfileEntry
	// Global holds signatures flagged by cross-document recurrence.
	Global SignatureSet
	local  map[int64]SignatureSet
}

// For returns the signatures that apply to one document: the corpus-wide
// set plus anything flagged by page-to-page recurrence inside that document.
func (p *Profile) For(propositionID int64) SignatureSet {
	if p == nil {
		return SignatureSet{}
	}
	local := p.local[propositionID]
	if len(local) == 0 {
		return p.Global
	}
	return p.Global.Union(local)
}

// Local returns the within-document signatures for one document.
func (p *Profile) Local(propositionID int64) SignatureSet {
	if p == nil {
		return nil
	}
	return p.local[propositionID]
}

// Detector finds boilerplate signatures by their recurrence in page margins.
type Detector struct {
	opts Options
}

// NewDetector creates a Detector. Zero-valued options fall back to defaults.
func NewDetector(opts Options) *Detector {
	return &Detector{opts: opts.withDefaults()}
}

// Detect computes the boilerplate profile of a corpus. It never fails: an
// empty corpus yields an empty profile.
func (d *Detector) Detect(docs []model.RawDocument) *Profile {
	p := &Profile{
		Documents: len(docs),
		Entries:   make(map[string]*ProfileEntry),
		Global:    SignatureSet{},
		local:     make(map[int64]SignatureSet),
	}
	if len(docs) == 0 {
		return p
	}

	for _, doc := range docs {
		pages := doc.Pages()
		docMargin := SignatureSet{}
		pageHits := make(map[string]int)

		for _, page := range pages {
			for _, l := range page {
				if sig := Signature(l.Text); sig != "" {
					d.entry(p, sig).Occurrences++
				}
			}
			for sig := range d.marginSignatures(page) {
				docMargin.Add(sig)
				pageHits[sig]++
			}
		}

		for sig := range docMargin {
			d.entry(p, sig).MarginDocs++
		}

		if need := d.pagesRequired(len(pages)); need > 0 {
			for sig, hits := range pageHits {
				if hits >= need {
					if p.local[doc.PropositionID] == nil {
						p.local[doc.PropositionID] = SignatureSet{}
					}
					p.local[doc.PropositionID].Add(sig)
				}
			}
		}
	}

	need := d.documentsRequired(len(docs))
	for sig, e := range p.Entries {
		e.DocFraction = float64(e.MarginDocs) / float64(len(docs))
		if need > 0 && e.MarginDocs >= need {
			p.Global.Add(sig)
		}
	}
	return p
}

func (d *Detector) entry(p *Profile, sig string) *ProfileEntry {
	e, ok := p.Entries[sig]
	if !ok {
		e = &ProfileEntry{}
		p.Entries[sig] = e
	}
	return e
}

// marginSignatures returns the signatures of the first and last
// ceil(TopFraction × n) non-blank lines of a page.
func (d *Detector) marginSignatures(page []model.Line) SignatureSet {
	var lines []string
	for _, l := range page {
		if strings.TrimSpace(l.Text) != "" {
			lines = append(lines, l.Text)
		}
	}
	out := SignatureSet{}
	n := len(lines)
	if n == 0 {
		return out
	}
	k := int(math.Ceil(d.opts.TopFraction*float64(n) - 1e-9))
	if k < 1 {
		k = 1
	}
	for i, l := range lines {
		if i < k || i >= n-k {
			out.Add(Signature(l))
		}
	}
	return out
}

// documentsRequired is the cross-document flag threshold,
// ceil(RepeatThreshold × n) but never below two. Zero disables the signal.
func (d *Detector) documentsRequired(n int) int {
	if n < 2 {
		return 0
	}
	return max(2, thresholdCount(d.opts.RepeatThreshold, n))
}

// pagesRequired is the within-document flag threshold for a document with
// the given page count. Zero disables the signal.
func (d *Detector) pagesRequired(pages int) int {
	if pages < 2 {
		return 0
	}
	return max(2, thresholdCount(d.opts.RepeatThreshold, pages))
}

func thresholdCount(fraction float64, n int) int {
	return int(math.Ceil(fraction*float64(n) - 1e-9))
}
