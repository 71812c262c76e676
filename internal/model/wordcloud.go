package model

// WordCount is one word-cloud entry for a proposition.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}
