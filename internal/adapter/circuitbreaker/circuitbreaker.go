package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yourorg/smartmenu-payments/internal/adapter"
)

// ErrOpen is returned by guarded adapters while a provider's circuit is open.
var ErrOpen = adapter.ErrCircuitOpen

// State represents the state of the circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

const (
	defaultFailureThreshold         = 5
	defaultOpenTimeout              = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 1
)

var circuitState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "smartmenu_provider_circuit_state",
		Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open).",
	},
	[]string{"provider"},
)

// GetCircuitState exposes the state gauge for tests.
func GetCircuitState() *prometheus.GaugeVec {
	return circuitState
}

// Config tunes the breaker. Zero fields fall back to defaults.
type Config struct {
	FailureThreshold         int
	OpenTimeout              time.Duration
	HalfOpenSuccessThreshold int
}

type providerState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int // only counted while half-open
	openUntil            time.Time
}

// CircuitBreaker is an in-memory per-provider breaker. Consecutive adapter
// failures open the circuit; after OpenTimeout one trial request is let through.
type CircuitBreaker struct {
	mu        sync.Mutex
	providers map[string]*providerState
	cfg       Config
	now       func() time.Time
}

// NewCircuitBreaker creates a CircuitBreaker from cfg.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.HalfOpenSuccessThreshold <= 0 {
		cfg.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	return &CircuitBreaker{
		providers: make(map[string]*providerState),
		cfg:       cfg,
		now:       time.Now,
	}
}

// getProviderState must be called with mu held.
func (cb *CircuitBreaker) getProviderState(provider string) *providerState {
	ps, ok := cb.providers[provider]
	if !ok {
		ps = &providerState{state: StateClosed}
		cb.providers[provider] = ps
	}
	return ps
}

func (cb *CircuitBreaker) setState(provider string, ps *providerState, s State) {
	ps.state = s
	circuitState.WithLabelValues(provider).Set(float64(s))
}

// IsHealthy reports whether a call to provider may proceed. An open circuit
// whose timeout has passed moves to half-open and allows the call.
func (cb *CircuitBreaker) IsHealthy(provider string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ps := cb.getProviderState(provider)
	switch ps.state {
	case StateOpen:
		if cb.now().Before(ps.openUntil) {
			return false
		}
		cb.setState(provider, ps, StateHalfOpen)
		ps.consecutiveFailures = 0
		ps.consecutiveSuccesses = 0
		return true
	default:
		return true
	}
}

// RecordFailure records a failed provider call.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ps := cb.getProviderState(provider)
	switch ps.state {
	case StateClosed:
		ps.consecutiveFailures++
		if ps.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.open(provider, ps)
		}
	case StateHalfOpen:
		// The trial request failed.
		ps.consecutiveFailures = cb.cfg.FailureThreshold
		cb.open(provider, ps)
	case StateOpen:
	}
}

func (cb *CircuitBreaker) open(provider string, ps *providerState) {
	cb.setState(provider, ps, StateOpen)
	ps.consecutiveSuccesses = 0
	ps.openUntil = cb.now().Add(cb.cfg.OpenTimeout)
}

// RecordSuccess records a successful provider call.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ps := cb.getProviderState(provider)
	switch ps.state {
	case StateClosed:
		ps.consecutiveFailures = 0
	case StateHalfOpen:
		ps.consecutiveSuccesses++
		if ps.consecutiveSuccesses >= cb.cfg.HalfOpenSuccessThreshold {
			cb.setState(provider, ps, StateClosed)
			ps.consecutiveFailures = 0
			ps.consecutiveSuccesses = 0
		}
	case StateOpen:
	}
}

// GetProviderStatus returns the state and consecutive failure count without
// moving an expired open circuit to half-open.
func (cb *CircuitBreaker) GetProviderStatus(provider string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	ps, ok := cb.providers[provider]
	if !ok {
		return StateClosed, 0
	}
	return ps.state, ps.consecutiveFailures
}
