package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig tunes when the breaker trips and how it recovers.
type CircuitBreakerConfig struct {
	// Name labels this breaker in metrics and logs.
	Name string

	// MaxRequests allowed through while half-open. 0 means one.
	MaxRequests uint32

	// Interval between resets of the closed-state counters. 0 keeps counts
	// for the lifetime of the closed state.
	Interval time.Duration

	// Timeout the breaker stays open before probing half-open.
	Timeout time.Duration

	// FailureRatio of failed to total requests that trips the breaker.
	FailureRatio float64

	// MinRequests observed before FailureRatio is considered at all.
	MinRequests uint32
}

// DefaultCircuitBreakerConfig trips at 50% failures over at least 5 calls
// and recovers after 30 seconds.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// FallbackFunc substitutes a response when the breaker is open. It receives
// the rejection error (ErrCircuitOpen).
type FallbackFunc func(ctx context.Context, err error) (*http.Response, error)

var (
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_fallback_invoked_total",
			Help: "Total number of times the circuit breaker fallback was invoked",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(circuitBreakerState)
	prometheus.MustRegister(circuitBreakerFallbackTotal)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// CircuitBreakerClient guards a Client with a gobreaker circuit breaker so a
// failing downstream stops absorbing retries and timeouts.
type CircuitBreakerClient struct {
	client   *Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	logger   *slog.Logger
	fallback FallbackFunc
	name     string
}

// ErrCircuitOpen is returned when the breaker rejects a request outright.
var ErrCircuitOpen = gobreaker.ErrOpenState

// NewCircuitBreakerClient wraps client with a breaker configured from cbCfg.
func NewCircuitBreakerClient(client *Client, cbCfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	settings := gobreaker.Settings{
		Name:        cbCfg.Name,
		MaxRequests: cbCfg.MaxRequests,
		Interval:    cbCfg.Interval,
		Timeout:     cbCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cbCfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cbCfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			circuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}

	circuitBreakerState.WithLabelValues(cbCfg.Name).Set(stateToFloat(gobreaker.StateClosed))

	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger:  logger,
		name:    cbCfg.Name,
	}
}

// WithFallback returns a copy whose open-circuit rejections invoke fn
// instead of surfacing ErrCircuitOpen.
func (c *CircuitBreakerClient) WithFallback(fn FallbackFunc) *CircuitBreakerClient {
	cpy := *c
	cpy.fallback = fn
	return &cpy
}

// Do sends the request through the breaker. A 5xx response counts as a
// failure so repeated server errors eventually trip the circuit.
func (c *CircuitBreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				body = nil
			}
			_ = resp.Body.Close()
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
		}
		return resp, nil
	})
	if err != nil {
		if c.fallback != nil && errors.Is(err, ErrCircuitOpen) {
			circuitBreakerFallbackTotal.WithLabelValues(c.name).Inc()
			c.logger.WarnContext(ctx, "circuit breaker open, invoking fallback",
				slog.String("breaker", c.name),
			)
			return c.fallback(ctx, err)
		}
		return nil, err
	}
	return resp, nil
}

// Get issues a GET through the breaker.
func (c *CircuitBreakerClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// Post issues a POST through the breaker.
func (c *CircuitBreakerClient) Post(ctx context.Context, url string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create POST request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(ctx, req)
}

// State exposes the breaker's current state.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}
