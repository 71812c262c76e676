package model

import (
	"fmt"
	"time"
)

// Proposition is a legislative proposition as published by the Câmara open-data API.
type Proposition struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	Number      int       `json:"number"`
	Year        int       `json:"year"`
	Ementa      string    `json:"ementa"`
	PresentedAt time.Time `json:"presented_at"`
	DocumentURL string    `json:"document_url"`
	Authors     []Author  `json:"authors,omitempty"`
}

// Label returns the citation form of the proposition, e.g. "PL 1234/2025".
func (p Proposition) Label() string {
	return fmt.Sprintf("%s %d/%d", p.Type, p.Number, p.Year)
}

// Author links a deputy to a proposition they signed.
type Author struct {
	PropositionID int64  `json:"proposition_id"`
	DeputyID      int64  `json:"deputy_id"`
	Name          string `json:"name"`
	Party         string `json:"party"`
	State         string `json:"state"`
	Order         int    `json:"order"`
}
