package models

// Tier overrides the global limits for requests whose path (and optionally method) match.
// A nil WindowMs or MaxRequests falls back to the global default.
type Tier struct {
	Path        string `json:"path"`
	Method      string `json:"method,omitempty"` // "", "ALL" or an HTTP method
	WindowMs    *int64 `json:"windowMs,omitempty"`
	MaxRequests *int   `json:"maxRequests,omitempty"`
}
