package replica

import (
	"errors"
	"testing"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/circuit"
)

func newReplica(name string, priority int) *Replica {
	return &Replica{
		Name:     name,
		Priority: priority,
		Breaker:  circuit.New(circuit.Settings{Name: name, FailureThreshold: 1, OpenTimeout: time.Hour}),
	}
}

func TestSelectPrefersLowestPriority(t *testing.T) {
	primary := newReplica("primary", 0)
	backup := newReplica("backup", 1)
	set, err := NewSet([]*Replica{backup, primary})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	r, err := set.Select(nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if r.Name != "primary" {
		t.Errorf("selected %q, want primary", r.Name)
	}
}

func TestSelectFailsOverWhenPrimaryOpen(t *testing.T) {
	primary := newReplica("primary", 0)
	backup := newReplica("backup", 1)
	set, _ := NewSet([]*Replica{primary, backup})

	_ = primary.Breaker.Try(func() error { return errors.New("upstream 503") })
	if primary.Breaker.Available() {
		t.Fatal("expected primary breaker to be open")
	}

	r, err := set.Select(nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if r.Name != "backup" {
		t.Errorf("selected %q, want backup after primary opened", r.Name)
	}
}

func TestSelectReturnsAllUnavailableWhenEveryBreakerOpen(t *testing.T) {
	primary := newReplica("primary", 0)
	set, _ := NewSet([]*Replica{primary})
	_ = primary.Breaker.Try(func() error { return errors.New("fail") })

	_, err := set.Select(nil)
	if !errors.Is(err, ErrAllUnavailable) {
		t.Fatalf("expected ErrAllUnavailable, got %v", err)
	}
}

func TestReplicaNeverSelectedBeforeOpenTimeoutElapses(t *testing.T) {
	r := newReplica("r", 0)
	r.Breaker = circuit.New(circuit.Settings{Name: "r", FailureThreshold: 1, OpenTimeout: 50 * time.Millisecond})
	set, _ := NewSet([]*Replica{r})
	_ = r.Breaker.Try(func() error { return errors.New("fail") })

	if _, err := set.Select(nil); !errors.Is(err, ErrAllUnavailable) {
		t.Fatal("expected unavailable immediately after opening")
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := set.Select(nil); err != nil {
		t.Fatalf("expected availability after open_timeout elapsed, got %v", err)
	}
}
