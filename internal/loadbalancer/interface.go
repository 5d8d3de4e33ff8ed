// Package loadbalancer picks which upstream receives a proxied request.
package loadbalancer

type Strategy interface {
	// Next selects one of the available upstreams, or "" when there are none
	Next(upstreams []string) string

	Name() string
}
