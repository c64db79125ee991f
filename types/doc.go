// Package types defines shared value types and the structured error
// taxonomy used across tether-go.
package types
