// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package lfdb implements the Lower-Flow Database: link-state topology
// for the addresses directly reachable from this node, with aging and
// eviction of stale non-originated entries.
package lfdb

import (
	"sync"
	"time"

	"github.com/rina-project/ipcpd/internal/names"
)

// ObjName is the RIB object carrying LFDB slices between neighbors.
const ObjName = "/dif/mgmt/routing/lfdb"

// LinkState is UP or DOWN for a directed link.
type LinkState uint8

const (
	StateDown LinkState = iota
	StateUp
)

// Defaults for the aging sweep and new originated entries.
const (
	DefaultCost    = 1
	DefaultAgeMax  = 300 * time.Second
	DefaultAgeTick = 10 * time.Second
)

// Entry is one directed link (local_addr -> remote_addr). Keyed by
// (LocalAddr, RemoteAddr); at most one entry exists per pair.
type Entry struct {
	LocalAddr  names.Address `cbor:"1,keyasint"`
	RemoteAddr names.Address `cbor:"2,keyasint"`
	Cost       int           `cbor:"3,keyasint"`
	Seqnum     uint64        `cbor:"4,keyasint"`
	State      LinkState     `cbor:"5,keyasint"`
	Age        time.Duration `cbor:"6,keyasint,omitempty"`
}

type key struct {
	local, remote names.Address
}

// Slice is the wire representation of a set of LFDB entries.
type Slice []Entry

// Table is the local LFDB.
type Table struct {
	mu      sync.Mutex
	self    names.Address
	entries map[key]Entry
}

// NewTable creates an empty LFDB for a node at address self.
func NewTable(self names.Address) *Table {
	return &Table{self: self, entries: make(map[key]Entry)}
}

// Originate creates or refreshes a link this node originates
// (LocalAddr == self), bumping seqnum and resetting age. Returns the
// entry for propagation.
func (t *Table) Originate(remote names.Address, cost int, state LinkState) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{t.self, remote}
	e := t.entries[k]
	e.LocalAddr = t.self
	e.RemoteAddr = remote
	e.Cost = cost
	e.State = state
	e.Seqnum++
	e.Age = 0
	t.entries[k] = e
	return e
}

// Withdraw marks an originated link DOWN, bumping its seqnum so the
// withdrawal propagates over any stale copy a neighbor holds.
func (t *Table) Withdraw(remote names.Address) Entry {
	return t.Originate(remote, 0, StateDown)
}

// Merge applies an incoming slice. An entry this node originates is
// never overwritten by a remote copy (self is always authoritative for
// its own links). A non-originated entry is accepted only if
// incoming.Seqnum > stored.Seqnum; equal or lower seqnums are no-ops.
// Returns the accepted subset (to forward to every neighbor except the
// sender) and whether anything changed.
func (t *Table) Merge(incoming Slice) (Slice, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed Slice
	for _, e := range incoming {
		if e.LocalAddr == t.self {
			continue // never accept a remote copy of our own originated link
		}
		k := key{e.LocalAddr, e.RemoteAddr}
		cur, exists := t.entries[k]
		if !exists || e.Seqnum > cur.Seqnum {
			e.Age = 0
			t.entries[k] = e
			changed = append(changed, e)
		}
	}
	return changed, len(changed) > 0
}

// AgeSweep increments Age on every non-originated entry by tick, and
// evicts entries whose Age exceeds ageMax. Returns the set of evicted
// entries (as DOWN, for broadcast of their removal) per the periodic
// aging sweep.
func (t *Table) AgeSweep(tick, ageMax time.Duration) Slice {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted Slice
	for k, e := range t.entries {
		if e.LocalAddr == t.self {
			continue // originated entries age only via explicit Withdraw
		}
		e.Age += tick
		if e.Age > ageMax {
			delete(t.entries, k)
			e.State = StateDown
			evicted = append(evicted, e)
			continue
		}
		t.entries[k] = e
	}
	return evicted
}

// Snapshot returns every entry, for post-enrollment full-table sync.
func (t *Table) Snapshot() Slice {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(Slice, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Edges returns every UP entry, the edge set SPEngine runs Dijkstra
// over.
func (t *Table) Edges() Slice {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out Slice
	for _, e := range t.entries {
		if e.State == StateUp {
			out = append(out, e)
		}
	}
	return out
}
