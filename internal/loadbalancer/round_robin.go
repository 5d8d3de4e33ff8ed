package loadbalancer

import "sync/atomic"

type RoundRobin struct {
	next atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Next walks the list in order. The cursor is shared across calls, so a shrinking
// list of available upstreams still rotates.
func (r *RoundRobin) Next(upstreams []string) string {
	if len(upstreams) == 0 {
		return ""
	}
	n := r.next.Add(1) - 1
	return upstreams[n%uint64(len(upstreams))]
}

func (r *RoundRobin) Name() string {
	return StrategyRoundRobin
}
