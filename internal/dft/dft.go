// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package dft implements the Directory Forwarding Table: the map from
// application name to the node address currently hosting it.
package dft

import (
	"sync"

	"github.com/rina-project/ipcpd/internal/names"
)

// ObjName is the RIB object carrying DFT slices between neighbors.
const ObjName = "/dif/mgmt/fa/dft"

// Entry is one DFT record: name is reachable at Address as of
// Timestamp. Deleted marks a withdrawal (application deregistered).
type Entry struct {
	Name      names.ApplicationName `cbor:"1,keyasint"`
	Address   names.Address         `cbor:"2,keyasint"`
	Timestamp int64                 `cbor:"3,keyasint"`
	Deleted   bool                  `cbor:"4,keyasint,omitempty"`
}

// Slice is the wire representation of a set of DFT entries, carried in
// a CDAP message's obj_value as CBOR bytes.
type Slice []Entry

// Table is the local DFT, keyed by the canonical name string.
type Table struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewTable creates an empty DFT.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Lookup returns the address hosting name, or names.NullAddress if
// unknown or withdrawn. Pure lookup, no side effects.
func (t *Table) Lookup(name names.ApplicationName) names.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name.String()]
	if !ok || e.Deleted {
		return names.NullAddress
	}
	return e.Address
}

// Set performs a local administrative insert with no propagation to
// neighbors.
func (t *Table) Set(name names.ApplicationName, addr names.Address, ts int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[name.String()] = Entry{Name: name, Address: addr, Timestamp: ts}
}

// Register updates the local DFT to reflect an application
// registering or deregistering at localAddr, and returns the slice to
// emit to all enrolled neighbors (M_CREATE for register, M_DELETE for
// unregister on ObjName).
func (t *Table) Register(register bool, name names.ApplicationName, localAddr names.Address, ts int64) Slice {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := Entry{Name: name, Address: localAddr, Timestamp: ts, Deleted: !register}
	t.entries[name.String()] = e
	return Slice{e}
}

// Merge applies an incoming slice using last-writer-wins-by-timestamp
// semantics, per entry: a Deleted entry removes the name from the
// table; a live entry overwrites the stored one only if its
// Timestamp is strictly greater. It returns the subset of incoming
// entries that actually changed local state, the "surviving slice" to
// forward to every other enrolled neighbor, and whether anything
// changed at all (false means the merge was a no-op and re-broadcast
// must be suppressed to prevent loops).
func (t *Table) Merge(incoming Slice) (Slice, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed Slice
	for _, e := range incoming {
		key := e.Name.String()
		cur, exists := t.entries[key]

		if e.Deleted {
			if exists && !cur.Deleted {
				delete(t.entries, key)
				changed = append(changed, e)
			}
			continue
		}
		if !exists || e.Timestamp > cur.Timestamp {
			t.entries[key] = e
			changed = append(changed, e)
		}
	}
	return changed, len(changed) > 0
}

// Snapshot returns every live (non-deleted) entry, for post-enrollment
// full-table sync.
func (t *Table) Snapshot() Slice {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(Slice, 0, len(t.entries))
	for _, e := range t.entries {
		if !e.Deleted {
			out = append(out, e)
		}
	}
	return out
}
