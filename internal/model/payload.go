package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidPayload marks a structured response that does not satisfy its
// kind's schema.
var ErrInvalidPayload = eris.New("invalid payload")

// Payload is the tagged variant of an extraction response. Each kind has
// exactly one implementation.
type Payload interface {
	Kind() ExtractionKind
	Validate() error
}

// Sentiment is a seven-point polarity scale.
type Sentiment string

const (
	SentimentExtremelyNegative Sentiment = "extremely_negative"
	SentimentNegative          Sentiment = "negative"
	SentimentNegativeNeutral   Sentiment = "negative_neutral"
	SentimentNeutral           Sentiment = "neutral"
	SentimentPositiveNeutral   Sentiment = "positive_neutral"
	SentimentPositive          Sentiment = "positive"
	SentimentExtremelyPositive Sentiment = "extremely_positive"
)

// Sentiments lists the valid sentiment values from most negative to most positive.
func Sentiments() []Sentiment {
	return []Sentiment{
		SentimentExtremelyNegative, SentimentNegative, SentimentNegativeNeutral,
		SentimentNeutral,
		SentimentPositiveNeutral, SentimentPositive, SentimentExtremelyPositive,
	}
}

// Ideology is a seven-point left/right positioning.
type Ideology string

const (
	IdeologyFarLeft     Ideology = "far_left"
	IdeologyLeft        Ideology = "left"
	IdeologyCenterLeft  Ideology = "center_left"
	IdeologyCenter      Ideology = "center"
	IdeologyCenterRight Ideology = "center_right"
	IdeologyRight       Ideology = "right"
	IdeologyFarRight    Ideology = "far_right"
)

// Ideologies lists the valid ideology values from left to right.
func Ideologies() []Ideology {
	return []Ideology{
		IdeologyFarLeft, IdeologyLeft, IdeologyCenterLeft,
		IdeologyCenter,
		IdeologyCenterRight, IdeologyRight, IdeologyFarRight,
	}
}

// EntityType classifies a named entity.
type EntityType string

const (
	EntityPerson        EntityType = "person"
	EntityOrganization  EntityType = "organization"
	EntityLocation      EntityType = "location"
	EntityDate          EntityType = "date"
	EntityLegislation   EntityType = "legislation"
	EntityMonetaryValue EntityType = "monetary_value"
	EntityOther         EntityType = "other"
)

// EntityTypes lists the valid entity types.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityPerson, EntityOrganization, EntityLocation, EntityDate,
		EntityLegislation, EntityMonetaryValue, EntityOther,
	}
}

// SummaryPayload is the summary kind's response.
type SummaryPayload struct {
	Summary   string `json:"summary"`
	MainTheme string `json:"main_theme"`
}

func (SummaryPayload) Kind() ExtractionKind { return KindSummary }

func (p SummaryPayload) Validate() error {
	if strings.TrimSpace(p.Summary) == "" {
		return eris.Wrap(ErrInvalidPayload, "summary: field summary is empty")
	}
	if strings.TrimSpace(p.MainTheme) == "" {
		return eris.Wrap(ErrInvalidPayload, "summary: field main_theme is empty")
	}
	return nil
}

// SentimentPayload is the sentiment kind's response.
type SentimentPayload struct {
	Sentiment Sentiment `json:"sentiment"`
	Rationale string    `json:"rationale,omitempty"`
}

func (SentimentPayload) Kind() ExtractionKind { return KindSentiment }

func (p SentimentPayload) Validate() error {
	for _, s := range Sentiments() {
		if p.Sentiment == s {
			return nil
		}
	}
	return eris.Wrapf(ErrInvalidPayload, "sentiment: value %q not allowed", p.Sentiment)
}

// IdeologyPayload is the ideology kind's response.
type IdeologyPayload struct {
	Ideology  Ideology `json:"ideology"`
	Rationale string   `json:"rationale,omitempty"`
}

func (IdeologyPayload) Kind() ExtractionKind { return KindIdeology }

func (p IdeologyPayload) Validate() error {
	for _, i := range Ideologies() {
		if p.Ideology == i {
			return nil
		}
	}
	return eris.Wrapf(ErrInvalidPayload, "ideology: value %q not allowed", p.Ideology)
}

// Entity is one named entity mention.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
}

// EntitiesPayload is the named_entities kind's response. An empty list is
// valid; a missing list is not.
type EntitiesPayload struct {
	Entities []Entity `json:"entities"`
}

func (EntitiesPayload) Kind() ExtractionKind { return KindNamedEntities }

func (p EntitiesPayload) Validate() error {
	if p.Entities == nil {
		return eris.Wrap(ErrInvalidPayload, "named_entities: field entities is missing")
	}
	for i, e := range p.Entities {
		if strings.TrimSpace(e.Value) == "" {
			return eris.Wrapf(ErrInvalidPayload, "named_entities: entity %d has empty value", i)
		}
		valid := false
		for _, t := range EntityTypes() {
			if e.Type == t {
				valid = true
				break
			}
		}
		if !valid {
			return eris.Wrapf(ErrInvalidPayload, "named_entities: entity %d has type %q", i, e.Type)
		}
	}
	return nil
}

// Dedupe removes repeated (type, value) pairs, comparing values
// case-insensitively and keeping the first spelling.
func (p EntitiesPayload) Dedupe() EntitiesPayload {
	seen := make(map[string]bool, len(p.Entities))
	out := make([]Entity, 0, len(p.Entities))
	for _, e := range p.Entities {
		e.Value = strings.TrimSpace(e.Value)
		key := string(e.Type) + "\x00" + strings.ToLower(e.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return EntitiesPayload{Entities: out}
}

// DecodePayload parses raw JSON into the variant for kind and validates it.
// Any decode or validation failure wraps ErrInvalidPayload.
func DecodePayload(kind ExtractionKind, raw []byte) (Payload, error) {
	var p Payload
	var err error
	switch kind {
	case KindSummary:
		var v SummaryPayload
		err = decodeStrict(raw, &v)
		p = v
	case KindSentiment:
		var v SentimentPayload
		err = decodeStrict(raw, &v)
		p = v
	case KindIdeology:
		var v IdeologyPayload
		err = decodeStrict(raw, &v)
		p = v
	case KindNamedEntities:
		var v EntitiesPayload
		err = decodeStrict(raw, &v)
		p = v
	default:
		return nil, eris.Errorf("model: unknown extraction kind %q", kind)
	}
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidPayload, "%s: decode: %v", kind, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if ents, ok := p.(EntitiesPayload); ok {
		return ents.Dedupe(), nil
	}
	return p, nil
}

// decodeStrict rejects trailing data after the JSON object. Unknown fields
// are tolerated.
func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return eris.New("trailing data after object")
	}
	return nil
}
