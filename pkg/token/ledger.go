package token

import (
	"sync"
	"time"
)

// DefaultTTL is how long an issued token stays redeemable.
const DefaultTTL = 3 * time.Minute

// Clock supplies the current time. *store.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Outcome is the result of redeeming a token.
type Outcome int

const (
	// Valid means the token was live and is now spent.
	Valid Outcome = iota
	// Unknown means the token was never issued, was already redeemed, or
	// was swept.
	Unknown
	// Expired means the token was found but had outlived the TTL. It is
	// spent all the same.
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Unknown:
		return "unknown"
	case Expired:
		return "expired"
	default:
		return "invalid"
	}
}

// Ledger records issued tokens and lets each be redeemed at most once.
// All operations take the same mutex; none of them block on I/O.
type Ledger struct {
	mu       sync.Mutex
	issued   map[string]time.Time
	ttl      time.Duration
	length   int
	clock    Clock
	generate func(int) (string, error)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTTL sets the validity window. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock sets the time source used for issuance and expiry.
func WithClock(c Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLength sets the generated token length.
func WithLength(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.length = n
		}
	}
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		issued:   make(map[string]time.Time),
		ttl:      DefaultTTL,
		length:   DefaultLength,
		clock:    systemClock{},
		generate: Generate,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TTL returns the validity window.
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// Issue generates a new token and records it. Expired entries are swept
// first so the ledger only ever holds recently issued tokens.
func (l *Ledger) Issue() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.sweepLocked(now)

	for {
		value, err := l.generate(l.length)
		if err != nil {
			return "", err
		}
		if _, taken := l.issued[value]; taken {
			continue
		}
		l.issued[value] = now
		return value, nil
	}
}

// Redeem spends a token and reports whether it was valid. A token that is
// found is removed whether or not it had expired.
func (l *Ledger) Redeem(value string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	issuedAt, ok := l.issued[value]
	if !ok {
		return Unknown
	}
	delete(l.issued, value)
	if l.clock.Now().Sub(issuedAt) >= l.ttl {
		return Expired
	}
	return Valid
}

// Consume spends a token and returns true only if it was live.
func (l *Ledger) Consume(value string) bool {
	return l.Redeem(value) == Valid
}

// Sweep removes every expired entry and returns how many were removed.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.clock.Now())
}

func (l *Ledger) sweepLocked(now time.Time) int {
	removed := 0
	for value, issuedAt := range l.issued {
		if now.Sub(issuedAt) >= l.ttl {
			delete(l.issued, value)
			removed++
		}
	}
	return removed
}

// Len returns the number of outstanding tokens, expired or not.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.issued)
}

// Reset forgets every issued token.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issued = make(map[string]time.Time)
}
