package loadbalancer

import "sync"

// LeastConnections prefers the upstream with the fewest in-flight requests.
// Callers report request start and end through Acquire and Release.
type LeastConnections struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		inFlight: make(map[string]int),
	}
}

// Next breaks ties by list order.
func (l *LeastConnections) Next(upstreams []string) string {
	if len(upstreams) == 0 {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	selected := upstreams[0]
	for _, upstream := range upstreams[1:] {
		if l.inFlight[upstream] < l.inFlight[selected] {
			selected = upstream
		}
	}
	return selected
}

func (l *LeastConnections) Acquire(upstream string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight[upstream]++
}

func (l *LeastConnections) Release(upstream string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight[upstream] > 0 {
		l.inFlight[upstream]--
	}
}

func (l *LeastConnections) Name() string {
	return StrategyLeastConnections
}

// Tracker is implemented by strategies that need to know about in-flight requests.
type Tracker interface {
	Acquire(upstream string)
	Release(upstream string)
}
