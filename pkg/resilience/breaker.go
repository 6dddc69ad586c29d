package resilience

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState int

const (
	// StateClosed lets calls through and counts failures.
	StateClosed BreakerState = iota

	// StateOpen fails fast without invoking the operation.
	StateOpen

	// StateHalfOpen admits a single trial call.
	StateHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int

	// OpenTimeout is how long the breaker stays open before admitting
	// a half-open trial call.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig is the standard breaker configuration.
var DefaultBreakerConfig = BreakerConfig{
	Threshold:   5,
	OpenTimeout: 30 * time.Second,
}

// Breaker is a per-dependency circuit breaker.
//
// State transitions are atomic with respect to concurrent callers, and at
// most one trial call is admitted while half-open. Failure accounting is
// per logical call: a caller that wraps a full retry sequence in one
// Execute records a single failure when the sequence exhausts.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	trialInFlight bool

	now func() time.Time // injectable clock for tests
}

// NewBreaker creates a breaker for the named dependency.
// Zero or negative config fields fall back to DefaultBreakerConfig.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBreakerConfig.Threshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig.OpenTimeout
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
// The open->half_open transition is clock-driven, so an open breaker whose
// cooldown has elapsed reports half_open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.OpenTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Execute runs op under the breaker's admission control.
//
// Closed: op runs; a failure increments the count and opens the breaker at
// the threshold. Open: fails fast with *BreakerOpenError until OpenTimeout
// has elapsed since the last failure, then admits one trial (half-open).
// Half-open: the single trial's success closes the breaker and resets the
// count; its failure reopens it and restarts the cooldown.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	b.record(trial, opErr == nil)
	return opErr
}

// admit decides whether a call may proceed.
// Returns trial=true when the call is the half-open probe.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.OpenTimeout {
			return false, &BreakerOpenError{Dependency: b.name, RetryAfter: b.cfg.OpenTimeout - b.now().Sub(b.lastFailure)}
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return true, nil

	case StateHalfOpen:
		if b.trialInFlight {
			return false, &BreakerOpenError{Dependency: b.name}
		}
		b.trialInFlight = true
		return true, nil
	}

	return false, nil
}

// record applies the outcome of an admitted call.
func (b *Breaker) record(trial, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
	}

	if success {
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.lastFailure = b.now()
	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}

	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.state = StateOpen
	}
}

// Registry holds one breaker per downstream dependency name.
// It is safe for concurrent use and intended to be process-wide.
type Registry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewRegistry creates a registry applying cfg to new breakers.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the dependency, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// States returns a snapshot of dependency name -> breaker state.
// Used by health reporting.
func (r *Registry) States() map[string]string {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	states := make(map[string]string, len(breakers))
	for _, b := range breakers {
		states[b.Name()] = b.State().String()
	}
	return states
}
