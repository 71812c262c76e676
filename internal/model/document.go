package model

import (
	"strings"
	"time"
)

// Line is one extracted text line with its position in the source PDF.
type Line struct {
	Page  int    `json:"page"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// RawDocument holds the ordered lines extracted from one proposition's PDF.
// It is produced once per download and never mutated afterwards.
type RawDocument struct {
	PropositionID int64  `json:"proposition_id"`
	Lines         []Line `json:"lines"`
}

// NewRawDocument builds a RawDocument from per-page text blocks, splitting
// each page on newlines.
func NewRawDocument(propositionID int64, pages []string) RawDocument {
	doc := RawDocument{PropositionID: propositionID}
	for p, text := range pages {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		for i, l := range strings.Split(text, "\n") {
			doc.Lines = append(doc.Lines, Line{Page: p, Index: i, Text: l})
		}
	}
	return doc
}

// Pages groups the document lines by page, preserving order. Pages with no
// lines are omitted.
func (d RawDocument) Pages() [][]Line {
	var pages [][]Line
	last := -1
	for _, l := range d.Lines {
		if len(pages) == 0 || l.Page != last {
			pages = append(pages, nil)
			last = l.Page
		}
		pages[len(pages)-1] = append(pages[len(pages)-1], l)
	}
	return pages
}

// PageCount returns the number of distinct pages in the document.
func (d RawDocument) PageCount() int {
	return len(d.Pages())
}

// Empty reports whether the document carries no non-blank text.
func (d RawDocument) Empty() bool {
	for _, l := range d.Lines {
		if strings.TrimSpace(l.Text) != "" {
			return false
		}
	}
	return true
}

// TextStatus describes whether cleaned text exists for a proposition.
type TextStatus string

const (
	TextStatusAvailable TextStatus = "available"
	TextStatusNoText    TextStatus = "no_text"
)

// CleanedText is the boilerplate-free text of one proposition.
type CleanedText struct {
	PropositionID int64      `json:"proposition_id"`
	Text          string     `json:"text"`
	Status        TextStatus `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	RawChars      int        `json:"raw_chars"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Available reports whether the text can be sent for enrichment.
func (c CleanedText) Available() bool {
	return c.Status == TextStatusAvailable && strings.TrimSpace(c.Text) != ""
}
