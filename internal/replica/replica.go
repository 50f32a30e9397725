// Package replica implements priority-ordered upstream replica selection
// with per-replica circuit breaking, per spec §4.8.
package replica

import (
	"errors"
	"sort"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/circuit"
)

// ErrAllUnavailable is returned by Select when every replica's breaker is open.
var ErrAllUnavailable = errors.New("replica: all replicas unavailable")

// Replica is one upstream endpoint, per spec §3's Replica record.
type Replica struct {
	Name      string
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Priority  int
	Timeout   time.Duration

	Breaker *circuit.Breaker
}

// Set is a priority-ordered set of replicas for one bucket binding. Lower
// Priority wins; ties are broken by original position (spec §3 invariant).
type Set struct {
	replicas []*Replica
}

// NewSet builds a Set sorted by priority, stable so equal-priority entries
// keep their configured order.
func NewSet(replicas []*Replica) (*Set, error) {
	if len(replicas) == 0 {
		return nil, errors.New("replica: at least one replica is required")
	}
	sorted := make([]*Replica, len(replicas))
	copy(sorted, replicas)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Set{replicas: sorted}, nil
}

// Select scans the set in priority order and returns the first replica
// whose breaker is not open. Returns ErrAllUnavailable if every breaker is
// open — the pipeline maps that to 503 (spec §4.10, state SelectReplica).
func (s *Set) Select(exclude map[string]bool) (*Replica, error) {
	for _, r := range s.replicas {
		if exclude[r.Name] {
			continue
		}
		if r.Breaker.Available() {
			return r, nil
		}
	}
	return nil, ErrAllUnavailable
}

// All returns every configured replica, in priority order, for admin /ready
// reporting.
func (s *Set) All() []*Replica { return s.replicas }
