// Package llm wraps the chat completion providers.
package llm

import "errors"

// ErrEmptyCompletion is returned when the provider answers without any text.
var ErrEmptyCompletion = errors.New("completion returned no content")

// Completion is the generated answer and the tokens the provider billed for it.
type Completion struct {
	Text       string
	TokensUsed int
}
