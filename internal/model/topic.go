package model

import "time"

// TopicLabel is one taxonomy label assigned to a proposition. Rank starts
// at 1. Confidence is nil when the classifier did not report one.
type TopicLabel struct {
	Label      string   `json:"label"`
	Rank       int      `json:"rank"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TopicSource records which input the classifier read.
type TopicSource string

const (
	TopicSourceSummary TopicSource = "summary"
	TopicSourceText    TopicSource = "text"
)

// TopicAssignment is the classifier's output for one proposition. It is
// replaced wholesale on every classification run.
type TopicAssignment struct {
	PropositionID int64            `json:"proposition_id"`
	Labels        []TopicLabel     `json:"labels"`
	Status        ExtractionStatus `json:"status"`
	Attempts      int              `json:"attempts"`
	Source        TopicSource      `json:"source"`
	DroppedLabels []string         `json:"dropped_labels,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// LabelNames returns the assigned labels in rank order.
func (a TopicAssignment) LabelNames() []string {
	out := make([]string, len(a.Labels))
	for i, l := range a.Labels {
		out[i] = l.Label
	}
	return out
}

// TopicCount is the number of propositions carrying a label.
type TopicCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}
