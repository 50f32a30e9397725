package circuit

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Settings{Name: "r1", FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: time.Hour})

	failErr := errors.New("upstream 503")
	for i := 0; i < 3; i++ {
		_ = b.Try(func() error { return failErr })
	}

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if b.Available() {
		t.Error("expected Available() false when open")
	}
}

func TestBreakerHalfOpenAfterTimeoutThenCloses(t *testing.T) {
	// With the single-in-flight-probe choice (MaxRequests:1), one
	// successful half-open probe closes the breaker; see the comment on
	// Settings.SuccessThreshold.
	b := New(Settings{Name: "r1", FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 10 * time.Millisecond})
	_ = b.Try(func() error { return errors.New("fail") })
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after timeout, got %v", b.State())
	}

	_ = b.Try(func() error { return nil })
	if b.State() != StateClosed {
		t.Fatalf("expected closed after the single half-open probe succeeds, got %v", b.State())
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := New(Settings{Name: "r1", FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 10 * time.Millisecond})
	_ = b.Try(func() error { return errors.New("fail") })
	time.Sleep(20 * time.Millisecond)

	_ = b.Try(func() error { return errors.New("fail again") })
	if b.State() != StateOpen {
		t.Fatalf("expected re-open on half_open failure, got %v", b.State())
	}
}
