package shadow

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"edutrack/internal/logging"
)

// Breaker defaults: five consecutive failures trip the breaker, which
// stays open for a minute before a half-open probe.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerRecovery = 60 * time.Second
)

// ErrShadowDisabled reports that the circuit breaker is holding shadow
// execution open. The primary path continues without divergence metrics.
var ErrShadowDisabled = errors.New("shadow execution disabled by circuit breaker")

// Breaker guards shadow generation behind a three-state circuit breaker
// so a failing shadow model cannot drag down primary serving.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds the breaker. Non-positive settings take the defaults.
func NewBreaker(failureThreshold int, recovery time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultBreakerFailures
	}
	if recovery <= 0 {
		recovery = DefaultBreakerRecovery
	}

	settings := gobreaker.Settings{
		Name:        "shadow-execution",
		MaxRequests: 1, // One half-open probe
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.ShadowWarn("Circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs the shadow generation through the breaker. When the breaker
// is open the call is skipped with ErrShadowDisabled.
func (b *Breaker) Execute(fn func() (string, error)) (string, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrShadowDisabled
		}
		return "", err
	}
	return result.(string), nil
}

// State reports the breaker state as closed, half-open, or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
