// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package lfdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rina-project/ipcpd/internal/names"
)

func TestOriginateIncrementsSeqnum(t *testing.T) {
	tbl := NewTable(1)
	e1 := tbl.Originate(2, DefaultCost, StateUp)
	assert.EqualValues(t, 1, e1.Seqnum)
	e2 := tbl.Originate(2, DefaultCost, StateUp)
	assert.EqualValues(t, 2, e2.Seqnum)
}

func TestMergeHigherSeqnumWins(t *testing.T) {
	tbl := NewTable(1)
	changed, ok := tbl.Merge(Slice{{LocalAddr: 2, RemoteAddr: 1, Cost: 1, Seqnum: 1, State: StateUp}})
	assert.True(t, ok)
	assert.Len(t, changed, 1, "expected first entry accepted")

	// Equal seqnum: no-op.
	changed, ok = tbl.Merge(Slice{{LocalAddr: 2, RemoteAddr: 1, Cost: 1, Seqnum: 1, State: StateUp}})
	assert.False(t, ok)
	assert.Len(t, changed, 0, "expected equal seqnum no-op")

	// Lower seqnum: discarded.
	changed, ok = tbl.Merge(Slice{{LocalAddr: 2, RemoteAddr: 1, Cost: 1, Seqnum: 0, State: StateDown}})
	assert.False(t, ok)
	assert.Len(t, changed, 0, "expected lower seqnum discarded")

	// Higher seqnum: accepted.
	changed, ok = tbl.Merge(Slice{{LocalAddr: 2, RemoteAddr: 1, Cost: 1, Seqnum: 2, State: StateDown}})
	assert.True(t, ok)
	assert.Len(t, changed, 1, "expected higher seqnum accepted")
}

func TestMergeNeverOverwritesOwnOriginatedLink(t *testing.T) {
	tbl := NewTable(1)
	tbl.Originate(2, DefaultCost, StateUp)
	changed, ok := tbl.Merge(Slice{{LocalAddr: 1, RemoteAddr: 2, Cost: 99, Seqnum: 1000, State: StateDown}})
	assert.False(t, ok)
	assert.Len(t, changed, 0, "expected self-originated link immune to remote copy")
	edges := tbl.Edges()
	if assert.Len(t, edges, 1, "expected original entry untouched") {
		assert.Equal(t, DefaultCost, edges[0].Cost)
	}
}

func TestAgeSweepEvictsStaleNonOriginatedEntries(t *testing.T) {
	tbl := NewTable(1)
	tbl.Merge(Slice{{LocalAddr: 2, RemoteAddr: 3, Cost: 1, Seqnum: 1, State: StateUp}})

	// Sweep short of the threshold: entry survives.
	evicted := tbl.AgeSweep(DefaultAgeTick, 25*time.Second)
	assert.Len(t, evicted, 0, "expected no eviction yet")

	// Enough sweeps to cross the threshold.
	for i := 0; i < 2; i++ {
		evicted = tbl.AgeSweep(DefaultAgeTick, 25*time.Second)
	}
	if assert.Len(t, evicted, 1) {
		assert.Equal(t, StateDown, evicted[0].State)
	}
	assert.Len(t, tbl.Edges(), 0, "expected evicted entry removed from table")
}

func TestAgeSweepSkipsOriginatedEntries(t *testing.T) {
	tbl := NewTable(1)
	tbl.Originate(2, DefaultCost, StateUp)
	for i := 0; i < 100; i++ {
		tbl.AgeSweep(DefaultAgeTick, 1*time.Second)
	}
	assert.Len(t, tbl.Edges(), 1, "originated entry should never age out via AgeSweep")
}

func TestTwoNodeEnrollmentScenario(t *testing.T) {
	// S1 from the testable-properties scenarios: addr 1 and addr 2,
	// both should see a cost=1, seq=1, UP entry for the other.
	a := NewTable(names.Address(1))
	b := NewTable(names.Address(2))

	eAB := a.Originate(2, DefaultCost, StateUp)
	eBA := b.Originate(1, DefaultCost, StateUp)

	assert.EqualValues(t, 1, eAB.Seqnum)
	assert.Equal(t, DefaultCost, eAB.Cost)
	assert.Equal(t, StateUp, eAB.State)

	assert.EqualValues(t, 1, eBA.Seqnum)
	assert.Equal(t, DefaultCost, eBA.Cost)
	assert.Equal(t, StateUp, eBA.State)

	a.Merge(Slice{eBA})
	b.Merge(Slice{eAB})

	assert.Len(t, a.Edges(), 2)
	assert.Len(t, b.Edges(), 2)
}
