package cluster

import (
	"fmt"
	"sync/atomic"
)

// Picker selects one connection from the healthy pool. Called on every
// call issue — must be goroutine-safe.
type Picker interface {
	// Pick selects from a non-empty pool snapshot.
	Pick(conns []*Conn) (*Conn, error)

	// Name returns the policy name, matching the cluster resource's
	// policy identifier.
	Name() string
}

// NewPicker resolves a policy identifier to a picker. "" and
// "round_robin" yield the round-robin baseline.
func NewPicker(policy string) (Picker, error) {
	switch policy {
	case "", "round_robin":
		return &RoundRobin{}, nil
	default:
		return nil, fmt.Errorf("cluster: unknown selection policy %q", policy)
	}
}

// RoundRobin distributes picks evenly across the pool in a fixed
// rotation. Uses an atomic counter for lock-free operation.
type RoundRobin struct {
	counter int64
}

func (p *RoundRobin) Pick(conns []*Conn) (*Conn, error) {
	if len(conns) == 0 {
		return nil, fmt.Errorf("no connections available")
	}
	index := atomic.AddInt64(&p.counter, 1) % int64(len(conns))
	return conns[index], nil
}

func (p *RoundRobin) Name() string { return "round_robin" }
