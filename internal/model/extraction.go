package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ExtractionKind names an independent structured-extraction task.
type ExtractionKind string

const (
	KindSummary       ExtractionKind = "summary"
	KindSentiment     ExtractionKind = "sentiment"
	KindIdeology      ExtractionKind = "ideology"
	KindNamedEntities ExtractionKind = "named_entities"
)

// AllKinds returns every extraction kind in a stable order.
func AllKinds() []ExtractionKind {
	return []ExtractionKind{KindSummary, KindSentiment, KindIdeology, KindNamedEntities}
}

// ParseKind converts a string into an ExtractionKind.
func ParseKind(s string) (ExtractionKind, error) {
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", eris.Errorf("model: unknown extraction kind %q", s)
}

// ExtractionStatus is the lifecycle state of an ExtractionResult.
type ExtractionStatus string

const (
	StatusPending         ExtractionStatus = "pending"
	StatusSucceeded       ExtractionStatus = "succeeded"
	StatusFailedPermanent ExtractionStatus = "failed_permanent"
)

// Terminal reports whether no further orchestration happens for this status
// within a run.
func (s ExtractionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedPermanent
}

// ExtractionResult is the persisted outcome for one (proposition, kind) pair.
// Payload holds the validated JSON of the kind's payload type and is empty
// unless Status is succeeded.
type ExtractionResult struct {
	PropositionID int64            `json:"proposition_id"`
	Kind          ExtractionKind   `json:"kind"`
	Status        ExtractionStatus `json:"status"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	Attempts      int              `json:"attempts"`
	LastError     string           `json:"last_error,omitempty"`
	Model         string           `json:"model,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Decode parses the stored payload into the kind's typed variant.
func (r ExtractionResult) Decode() (Payload, error) {
	if len(r.Payload) == 0 {
		return nil, eris.Errorf("model: %s result for %d has no payload", r.Kind, r.PropositionID)
	}
	return DecodePayload(r.Kind, r.Payload)
}
