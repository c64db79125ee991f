// Package pricing converts token counts into dollars. It bundles a
// per-1K-token price table with alias normalization, a custom-model
// overlay that shadows bundled entries, and an optional external
// pricing source for models the table does not cover.
package pricing
