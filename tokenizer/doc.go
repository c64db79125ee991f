// Package tokenizer provides advisory token counting for admission
// estimates, with a tiktoken backend, a character-ratio estimator, and
// a pluggable model-aware external backend.
package tokenizer
