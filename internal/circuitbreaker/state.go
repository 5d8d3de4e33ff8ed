package circuitbreaker

type State int

const (
	// StateClosed passes every call through
	StateClosed State = iota

	// StateOpen fails calls immediately with ErrCircuitOpen
	StateOpen

	// StateHalfOpen lets probe calls through after the cooldown
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
