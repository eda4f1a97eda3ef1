package token

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wondertwin-ai/taskjournal/pkg/store"
)

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

func TestGenerateLengthAndAlphabet(t *testing.T) {
	for _, n := range []int{1, 8, DefaultLength, 100} {
		tok, err := Generate(n)
		if err != nil {
			t.Fatalf("generate(%d): %v", n, err)
		}
		if len(tok) != n {
			t.Errorf("expected length %d, got %d", n, len(tok))
		}
		for _, c := range tok {
			if !strings.ContainsRune(Alphabet, c) {
				t.Errorf("unexpected character %q in %s", c, tok)
			}
		}
	}
}

func TestGenerateRejectsNonPositive(t *testing.T) {
	if _, err := Generate(0); err == nil {
		t.Error("expected error for zero length")
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok, _ := Generate(DefaultLength)
		if seen[tok] {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = true
	}
}

func TestAlphabetUnambiguous(t *testing.T) {
	for _, c := range "0O1lI" {
		if strings.ContainsRune(Alphabet, c) {
			t.Errorf("alphabet must not contain %q", c)
		}
	}
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

func TestIssueAndConsumeOnce(t *testing.T) {
	l := NewLedger()
	tok, err := l.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(tok) != DefaultLength {
		t.Errorf("expected %d characters, got %d", DefaultLength, len(tok))
	}
	if !l.Consume(tok) {
		t.Fatal("expected first consume to succeed")
	}
	if l.Consume(tok) {
		t.Error("expected second consume to fail")
	}
}

func TestConsumeUnknown(t *testing.T) {
	l := NewLedger()
	if got := l.Redeem("never-issued"); got != Unknown {
		t.Errorf("expected Unknown, got %v", got)
	}
}

func TestExpiredTokenRejectedAndSpent(t *testing.T) {
	clk := store.NewClock()
	l := NewLedger(WithClock(clk))
	tok, _ := l.Issue()

	clk.Advance(DefaultTTL)
	if got := l.Redeem(tok); got != Expired {
		t.Fatalf("expected Expired, got %v", got)
	}
	// Turning the clock back does not resurrect it.
	clk.Reset()
	if got := l.Redeem(tok); got != Unknown {
		t.Errorf("expected Unknown after expiry, got %v", got)
	}
}

func TestTokenValidJustBeforeTTL(t *testing.T) {
	clk := store.NewClock()
	l := NewLedger(WithClock(clk), WithTTL(time.Hour))
	tok, _ := l.Issue()
	clk.Advance(59 * time.Minute)
	if !l.Consume(tok) {
		t.Error("expected token to be valid inside the window")
	}
}

func TestIssueSweepsExpired(t *testing.T) {
	clk := store.NewClock()
	l := NewLedger(WithClock(clk))
	for i := 0; i < 5; i++ {
		l.Issue()
	}
	if l.Len() != 5 {
		t.Fatalf("expected 5 outstanding, got %d", l.Len())
	}
	clk.Advance(DefaultTTL + time.Second)
	fresh, _ := l.Issue()
	if l.Len() != 1 {
		t.Errorf("expected only the fresh token to remain, got %d", l.Len())
	}
	if !l.Consume(fresh) {
		t.Error("expected fresh token to be valid")
	}
}

func TestSweep(t *testing.T) {
	clk := store.NewClock()
	l := NewLedger(WithClock(clk), WithTTL(time.Minute))
	l.Issue()
	l.Issue()
	clk.Advance(30 * time.Second)
	keep, _ := l.Issue()
	clk.Advance(40 * time.Second)

	if removed := l.Sweep(); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if !l.Consume(keep) {
		t.Error("expected younger token to survive the sweep")
	}
}

func TestIssueRetriesOnCollision(t *testing.T) {
	l := NewLedger()
	seq := []string{"dup", "dup", "other"}
	l.generate = func(int) (string, error) {
		v := seq[0]
		seq = seq[1:]
		return v, nil
	}
	a, _ := l.Issue()
	b, _ := l.Issue()
	if a != "dup" || b != "other" {
		t.Errorf("expected dup then other, got %s then %s", a, b)
	}
}

func TestIssueGeneratorError(t *testing.T) {
	l := NewLedger()
	boom := errors.New("entropy exhausted")
	l.generate = func(int) (string, error) { return "", boom }
	if _, err := l.Issue(); !errors.Is(err, boom) {
		t.Errorf("expected generator error, got %v", err)
	}
	if l.Len() != 0 {
		t.Error("expected nothing recorded")
	}
}

func TestOptions(t *testing.T) {
	l := NewLedger(WithTTL(time.Second), WithLength(12), WithTTL(-1), WithLength(0), WithClock(nil))
	if l.TTL() != time.Second {
		t.Errorf("expected TTL 1s, got %v", l.TTL())
	}
	tok, _ := l.Issue()
	if len(tok) != 12 {
		t.Errorf("expected 12 characters, got %d", len(tok))
	}
}

func TestReset(t *testing.T) {
	l := NewLedger()
	tok, _ := l.Issue()
	l.Reset()
	if l.Consume(tok) {
		t.Error("expected token to be forgotten after reset")
	}
}

func TestConcurrentConsumeExactlyOnce(t *testing.T) {
	l := NewLedger()
	tok, _ := l.Issue()

	const n = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Consume(tok) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one successful consume, got %d", wins)
	}
}

func TestOutcomeString(t *testing.T) {
	if Valid.String() != "valid" || Unknown.String() != "unknown" || Expired.String() != "expired" {
		t.Error("unexpected outcome names")
	}
}
