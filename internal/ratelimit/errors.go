package ratelimit

import (
	"errors"
	"fmt"
)

var (
	// Wrapped around any backing store failure seen by the gate.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// Returned by optimistic stores when a key kept changing under the update.
	ErrConflict = errors.New("rate limit entry update conflicted")
)

// ConfigurationError reports invalid limiter settings. It is raised at setup,
// never while serving traffic.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid rate limit configuration: %s: %s", e.Field, e.Reason)
}

func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
