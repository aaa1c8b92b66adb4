// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package neighbor tracks per-peer state for an IPCP instance: one
// Neighbor per adjacent IPCP, its CDAP connection, and its enrollment
// FSM.
package neighbor

import (
	"sync"
	"time"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/internal/names"
)

// Role distinguishes which side of the enrollment dialogue a Neighbor
// plays.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Neighbor is owned by an IPCP instance. Created on first flow to/from
// a peer, destroyed on flow deallocation or enrollment abort. Two
// Neighbors with equal PortID are the same neighbor.
type Neighbor struct {
	mu sync.Mutex

	Name            names.ApplicationName
	PortID          names.PortID
	Address         names.Address
	Role            Role
	Conn            *cdap.Connection
	EnrollmentState EnrollState

	timer     *time.Timer
	onTimeout func(*Neighbor)
}

// New creates a Neighbor for a freshly-allocated flow, in state NONE
// with no CDAP connection established yet.
func New(name names.ApplicationName, portID names.PortID, role Role, maxPendingInvokes int) *Neighbor {
	return &Neighbor{
		Name:            name,
		PortID:          portID,
		Role:            role,
		Conn:            cdap.NewConnection(maxPendingInvokes),
		EnrollmentState: EnrollNone,
	}
}

// ArmTimeout (re)arms the per-step enrollment timer. onExpire is called
// exactly once, from a separate goroutine, if the timer is not stopped
// or rearmed first; callers must forward it into the owning event loop
// rather than act on it directly, since Neighbor has no lock-ordering
// guarantee against the IPCP RIB.
func (n *Neighbor) ArmTimeout(d time.Duration, onExpire func(*Neighbor)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
	}
	n.onTimeout = onExpire
	n.timer = time.AfterFunc(d, func() {
		n.mu.Lock()
		cb := n.onTimeout
		n.mu.Unlock()
		if cb != nil {
			cb(n)
		}
	})
}

// CancelTimeout stops the armed timer, if any. Called on every step
// transition and on abort/destruction (no timers armed after NONE).
func (n *Neighbor) CancelTimeout() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// Abort tears the Neighbor down to enrollment NONE, releases its CDAP
// invoke-ids, and cancels any armed timer.
func (n *Neighbor) Abort() {
	n.CancelTimeout()
	n.mu.Lock()
	n.EnrollmentState = EnrollNone
	n.mu.Unlock()
	n.Conn.Abort()
}

// IsEnrolled reports whether the Neighbor has completed enrollment.
func (n *Neighbor) IsEnrolled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.EnrollmentState == Enrolled
}

// SetState updates the enrollment state under lock.
func (n *Neighbor) SetState(s EnrollState) {
	n.mu.Lock()
	n.EnrollmentState = s
	n.mu.Unlock()
}

// State reads the enrollment state under lock.
func (n *Neighbor) State() EnrollState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.EnrollmentState
}

// Registry holds all Neighbors of an IPCP instance, keyed by port-id.
type Registry struct {
	mu    sync.RWMutex
	byPID map[names.PortID]*Neighbor
}

// NewRegistry creates an empty Neighbor registry.
func NewRegistry() *Registry {
	return &Registry{byPID: make(map[names.PortID]*Neighbor)}
}

// Add inserts a Neighbor, replacing any existing entry at the same port-id.
func (r *Registry) Add(n *Neighbor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPID[n.PortID] = n
}

// Get returns the Neighbor at portID, or nil if none.
func (r *Registry) Get(portID names.PortID) *Neighbor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPID[portID]
}

// Remove deletes the Neighbor at portID, if present, after aborting it.
func (r *Registry) Remove(portID names.PortID) {
	r.mu.Lock()
	n, ok := r.byPID[portID]
	delete(r.byPID, portID)
	r.mu.Unlock()
	if ok {
		n.Abort()
	}
}

// Enrolled returns every currently-enrolled Neighbor, in no particular
// order. Used to compute the broadcast set for DFT/LFDB propagation.
func (r *Registry) Enrolled() []*Neighbor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Neighbor, 0, len(r.byPID))
	for _, n := range r.byPID {
		if n.IsEnrolled() {
			out = append(out, n)
		}
	}
	return out
}

// EnrolledExcept returns every enrolled Neighbor other than except,
// used for loop-free re-broadcast of a slice received from except.
func (r *Registry) EnrolledExcept(except *Neighbor) []*Neighbor {
	all := r.Enrolled()
	if except == nil {
		return all
	}
	out := make([]*Neighbor, 0, len(all))
	for _, n := range all {
		if n.PortID != except.PortID {
			out = append(out, n)
		}
	}
	return out
}

// All returns every Neighbor regardless of enrollment state.
func (r *Registry) All() []*Neighbor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Neighbor, 0, len(r.byPID))
	for _, n := range r.byPID {
		out = append(out, n)
	}
	return out
}
