// Package proxy forwards admitted requests to a pool of upstream services.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/aman-churiwal/gatekeeper/internal/circuitbreaker"
	"github.com/aman-churiwal/gatekeeper/internal/loadbalancer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const UpstreamHeader = "X-Upstream"

var ErrNoUpstream = errors.New("no healthy upstream available")

type Config struct {
	Targets        []string
	Strategy       string
	CircuitBreaker circuitbreaker.Config
	Logger         *zap.Logger
}

type upstream struct {
	target  *url.URL
	proxy   *httputil.ReverseProxy
	breaker *circuitbreaker.CircuitBreaker
}

// Proxy keeps one circuit breaker per upstream and balances across the
// upstreams whose circuit is not open.
type Proxy struct {
	order     []string
	upstreams map[string]*upstream
	balancer  loadbalancer.Strategy
	logger    *zap.Logger
}

func New(cfg Config) (*Proxy, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one upstream target is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	balancer, err := loadbalancer.NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		upstreams: make(map[string]*upstream, len(cfg.Targets)),
		balancer:  balancer,
		logger:    cfg.Logger,
	}

	for _, raw := range cfg.Targets {
		target, err := ParseTarget(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := p.upstreams[raw]; dup {
			continue
		}

		breakerCfg := cfg.CircuitBreaker
		name := raw
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			p.logger.Warn("upstream circuit changed state",
				zap.String("upstream", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}

		p.order = append(p.order, raw)
		p.upstreams[raw] = &upstream{
			target:  target,
			proxy:   p.reverseProxy(target),
			breaker: circuitbreaker.New(breakerCfg),
		}
	}

	p.logger.Info("proxy initialized",
		zap.Int("upstreams", len(p.order)),
		zap.String("strategy", balancer.Name()),
	)
	return p, nil
}

// ParseTarget accepts absolute http(s) URLs only.
func ParseTarget(raw string) (*url.URL, error) {
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", raw, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: must be an absolute http or https URL", raw)
	}
	return target, nil
}

func (p *Proxy) reverseProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Warn("upstream request failed",
				zap.String("upstream", target.String()),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// Handle forwards the request with the route's "path" parameter as the
// upstream path. 5xx answers and transport errors count against the upstream.
func (p *Proxy) Handle(c *gin.Context) {
	available := p.available()
	name := p.balancer.Next(available)
	if name == "" {
		p.unavailable(c, ErrNoUpstream)
		return
	}
	up := p.upstreams[name]

	if tracker, ok := p.balancer.(loadbalancer.Tracker); ok {
		tracker.Acquire(name)
		defer tracker.Release(name)
	}

	req := c.Request.Clone(c.Request.Context())
	req.URL.Path = c.Param("path")
	if req.URL.Path == "" {
		req.URL.Path = "/"
	}
	req.URL.RawPath = ""

	err := up.breaker.Call(func() error {
		recorder := &responseRecorder{ResponseWriter: c.Writer, statusCode: http.StatusOK}
		c.Header(UpstreamHeader, name)
		up.proxy.ServeHTTP(recorder, req)

		if recorder.statusCode >= http.StatusInternalServerError {
			return fmt.Errorf("upstream %s answered %d", name, recorder.statusCode)
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		p.unavailable(c, err)
	}
}

func (p *Proxy) unavailable(c *gin.Context, err error) {
	p.logger.Warn("proxy request rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"success":    false,
		"message":    "Service temporarily unavailable",
		"statusCode": http.StatusServiceUnavailable,
	})
}

func (p *Proxy) available() []string {
	ready := make([]string, 0, len(p.order))
	for _, name := range p.order {
		if p.upstreams[name].breaker.Ready() {
			ready = append(ready, name)
		}
	}
	return ready
}

// Ping fails when every upstream circuit is open.
func (p *Proxy) Ping(_ context.Context) error {
	if len(p.available()) == 0 {
		return ErrNoUpstream
	}
	return nil
}

func (p *Proxy) States() map[string]circuitbreaker.State {
	states := make(map[string]circuitbreaker.State, len(p.order))
	for _, name := range p.order {
		states[name] = p.upstreams[name].breaker.State()
	}
	return states
}

type responseRecorder struct {
	gin.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
