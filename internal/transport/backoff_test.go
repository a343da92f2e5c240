package transport

import (
	"testing"
	"time"
)

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	max := 1 * time.Second

	// Attempt 0: ~100ms ± 25%
	d0 := backoffWithJitter(base, max, 0)
	if d0 < 75*time.Millisecond || d0 > 125*time.Millisecond {
		t.Errorf("attempt 0: expected ~100ms, got %v", d0)
	}

	// Attempt 1: ~200ms ± 25%
	d1 := backoffWithJitter(base, max, 1)
	if d1 < 150*time.Millisecond || d1 > 250*time.Millisecond {
		t.Errorf("attempt 1: expected ~200ms, got %v", d1)
	}

	// Attempt 2: ~400ms ± 25%
	d2 := backoffWithJitter(base, max, 2)
	if d2 < 300*time.Millisecond || d2 > 500*time.Millisecond {
		t.Errorf("attempt 2: expected ~400ms, got %v", d2)
	}
}

func TestBackoffWithJitter_CapsAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	max := 200 * time.Millisecond

	for _, attempt := range []int{10, 40, 100} {
		d := backoffWithJitter(base, max, attempt)
		if d < 150*time.Millisecond || d > 250*time.Millisecond {
			t.Errorf("attempt %d: expected capped at ~200ms, got %v", attempt, d)
		}
	}
}

func TestBackoff_DefaultIsExponential(t *testing.T) {
	b := DefaultBackoff()
	if b.Policy != BackoffExponential {
		t.Errorf("expected exponential, got %q", b.Policy)
	}
	if b.Base != 3*time.Second || b.Max != 30*time.Second {
		t.Errorf("expected 3s..30s, got %v..%v", b.Base, b.Max)
	}

	first := b.Delay(1)
	if first < 2250*time.Millisecond || first > 3750*time.Millisecond {
		t.Errorf("attempt 1: expected ~3s, got %v", first)
	}
	late := b.Delay(20)
	if late < 22500*time.Millisecond || late > 37500*time.Millisecond {
		t.Errorf("attempt 20: expected ~30s, got %v", late)
	}
}

func TestBackoff_Fixed(t *testing.T) {
	b := Backoff{Policy: BackoffFixed, Base: 3 * time.Second}
	for _, attempt := range []int{1, 2, 10} {
		if d := b.Delay(attempt); d != 3*time.Second {
			t.Errorf("attempt %d: expected 3s, got %v", attempt, d)
		}
	}
}

func TestParseBackoffPolicy(t *testing.T) {
	cases := map[string]BackoffPolicy{
		"":            BackoffExponential,
		"exponential": BackoffExponential,
		"fixed":       BackoffFixed,
	}
	for in, want := range cases {
		got, err := ParseBackoffPolicy(in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("%q: expected %q, got %q", in, want, got)
		}
	}
	if _, err := ParseBackoffPolicy("linear"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
