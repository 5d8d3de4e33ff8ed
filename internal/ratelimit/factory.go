package ratelimit

import "strings"

const (
	AlgorithmFixedWindow   = "fixed-window"
	AlgorithmSlidingWindow = "sliding-window"
	AlgorithmTokenBucket   = "token-bucket"
)

// NewAlgorithm maps a configured algorithm name to its implementation.
// Underscore spellings ("token_bucket") are accepted as well.
func NewAlgorithm(name string) (Algorithm, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-") {
	case AlgorithmFixedWindow, "":
		return NewFixedWindow(), nil
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(), nil
	case AlgorithmTokenBucket:
		return NewTokenBucket(), nil
	default:
		return nil, &ConfigurationError{Field: "algorithm", Reason: "unknown algorithm " + name}
	}
}
