package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	windowBuckets = 10
	defaultWindow = time.Minute
)

type bucket struct {
	start     time.Time
	successes int
	failures  int
}

// Breaker is a failure-ratio circuit breaker guarding one gateway. Outcomes are counted in
// a rolling window so failures from long ago do not keep it tripping.
type Breaker struct {
	mu           sync.Mutex
	state        State
	probing      bool
	buckets      [windowBuckets]bucket
	window       time.Duration
	minRequests  int
	failureRatio float64
	openedAt     time.Time
	openFor      time.Duration
	target       string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewBreaker constructs a breaker that opens once the window holds at least minRequests
// outcomes and the failure ratio reaches failureRatio.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		minRequests:  max(minRequests, 1),
		failureRatio: min(failureRatio, 1),
		openFor:      openFor,
		window:       defaultWindow,
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
}

// WithWindow sets the span over which outcomes are counted.
func (b *Breaker) WithWindow(window time.Duration) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if window > 0 {
		b.window = window
	}
	return b
}

// WithTarget sets the logical dependency identifier used for telemetry labels.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishState()
	return b
}

// WithLogger configures the logger used for transition events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// Allow reports whether a request may be sent. After the cool-off an open breaker
// admits exactly one probe; further requests are refused until the probe reports.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.transition(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Report records the outcome of an admitted request.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.transition(ctx, Closed)
		} else {
			b.transition(ctx, Open)
		}
		return
	}

	now := b.now()
	cur := b.current(now)
	if success {
		cur.successes++
	} else {
		cur.failures++
	}
	successes, failures := b.totals(now)
	total := successes + failures
	if total >= b.minRequests && float64(failures)/float64(total) >= b.failureRatio {
		b.transition(ctx, Open)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Target returns the telemetry label of the guarded dependency.
func (b *Breaker) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.label()
}

func (b *Breaker) bucketWidth() time.Duration {
	return max(b.window/windowBuckets, time.Millisecond)
}

// current returns the bucket for now, recycling it when it belongs to an older slot.
func (b *Breaker) current(now time.Time) *bucket {
	width := b.bucketWidth()
	start := now.Truncate(width)
	cur := &b.buckets[(start.UnixNano()/int64(width))%windowBuckets]
	if !cur.start.Equal(start) {
		*cur = bucket{start: start}
	}
	return cur
}

func (b *Breaker) totals(now time.Time) (successes, failures int) {
	horizon := now.Add(-b.window)
	for _, bk := range b.buckets {
		if bk.start.IsZero() || !bk.start.After(horizon) {
			continue
		}
		successes += bk.successes
		failures += bk.failures
	}
	return successes, failures
}

func (b *Breaker) transition(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.openedAt = time.Time{}
	if next == Open {
		b.openedAt = b.now()
	}
	b.buckets = [windowBuckets]bucket{}
	b.publishState()

	label := b.label()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	}
	logger := b.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	evt := logger.Warn()
	if next == Closed {
		evt = logger.Info()
	}
	evt = evt.Str("target", label).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishState() {
	if BreakerState != nil {
		BreakerState.WithLabelValues(b.label()).Set(float64(b.state))
	}
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}
