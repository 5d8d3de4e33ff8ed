package loadbalancer

import "fmt"

const (
	StrategyRoundRobin       = "round-robin"
	StrategyRandom           = "random"
	StrategyLeastConnections = "least-connections"
)

func NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyRoundRobin, "":
		return NewRoundRobin(), nil
	case StrategyRandom:
		return NewRandom(), nil
	case StrategyLeastConnections:
		return NewLeastConnections(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", name)
	}
}
