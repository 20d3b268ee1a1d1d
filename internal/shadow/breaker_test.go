package shadow

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	for i := 0; i < 10; i++ {
		out, err := b.Execute(func() (string, error) { return "ok", nil })
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if out != "ok" {
			t.Fatalf("call %d output = %q", i, out)
		}
	}
	if b.State() != "closed" {
		t.Errorf("state = %q, want closed", b.State())
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	boom := errors.New("shadow model unavailable")

	for i := 0; i < 3; i++ {
		if _, err := b.Execute(func() (string, error) { return "", boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v, want %v", i, err, boom)
		}
	}
	if b.State() != "open" {
		t.Fatalf("state after threshold = %q, want open", b.State())
	}

	_, err := b.Execute(func() (string, error) {
		t.Fatal("fn must not run while the breaker is open")
		return "", nil
	})
	if !errors.Is(err, ErrShadowDisabled) {
		t.Errorf("open breaker err = %v, want ErrShadowDisabled", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	boom := errors.New("transient")

	for i := 0; i < 2; i++ {
		b.Execute(func() (string, error) { return "", boom })
	}
	if _, err := b.Execute(func() (string, error) { return "ok", nil }); err != nil {
		t.Fatalf("recovery call: %v", err)
	}
	for i := 0; i < 2; i++ {
		b.Execute(func() (string, error) { return "", boom })
	}
	if b.State() != "closed" {
		t.Errorf("state = %q, want closed after reset", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(2, 20*time.Millisecond)
	boom := errors.New("down")

	for i := 0; i < 2; i++ {
		b.Execute(func() (string, error) { return "", boom })
	}
	if b.State() != "open" {
		t.Fatalf("state = %q, want open", b.State())
	}

	time.Sleep(40 * time.Millisecond)

	out, err := b.Execute(func() (string, error) { return "recovered", nil })
	if err != nil {
		t.Fatalf("half-open probe: %v", err)
	}
	if out != "recovered" {
		t.Errorf("probe output = %q", out)
	}
	if b.State() != "closed" {
		t.Errorf("state after probe = %q, want closed", b.State())
	}
}

func TestBreaker_DefaultSettings(t *testing.T) {
	b := NewBreaker(0, 0)
	if b.State() != "closed" {
		t.Errorf("fresh breaker state = %q", b.State())
	}
}
