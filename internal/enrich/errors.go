package enrich

import "github.com/rotisserie/eris"

var (
	// ErrEmptyInput marks a proposition whose cleaned text is empty or
	// unavailable. It is never retried.
	ErrEmptyInput = eris.New("enrich: empty input text")

	// ErrSchemaViolation marks a response that did not match the declared
	// output schema. It is retried by re-prompting.
	ErrSchemaViolation = eris.New("enrich: response violates schema")
)
