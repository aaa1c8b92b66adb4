// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package spengine computes the forwarding routing table from the
// link-state topology held in lfdb: a Dijkstra shortest-path run
// producing next-hop addresses, debounced so routing bursts during
// enrollment don't trigger a recomputation per mutation.
package spengine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rina-project/ipcpd/internal/lfdb"
	"github.com/rina-project/ipcpd/internal/names"
)

// RoutingTable maps destination address to the first-hop address on a
// shortest path from self.
type RoutingTable map[names.Address]names.Address

// Compute runs Dijkstra over the directed graph formed by edges (only
// UP-state LFDB entries), rooted at self. Tie-break: when two
// candidate first hops yield equal cost to a destination, the lower
// neighbor address wins.
func Compute(self names.Address, edges lfdb.Slice) RoutingTable {
	adj := make(map[names.Address][]lfdb.Entry)
	vertices := map[names.Address]struct{}{self: {}}
	for _, e := range edges {
		if e.State != lfdb.StateUp {
			continue
		}
		adj[e.LocalAddr] = append(adj[e.LocalAddr], e)
		vertices[e.LocalAddr] = struct{}{}
		vertices[e.RemoteAddr] = struct{}{}
	}

	dist := make(map[names.Address]int, len(vertices))
	firstHop := make(map[names.Address]names.Address, len(vertices))
	for v := range vertices {
		dist[v] = -1
	}
	dist[self] = 0

	pq := &priorityQueue{{addr: self, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if cur.dist > dist[cur.addr] {
			continue // stale entry
		}
		for _, e := range adj[cur.addr] {
			nd := cur.dist + e.Cost
			hop := firstHopFor(self, cur.addr, e.RemoteAddr, firstHop)
			existing, known := dist[e.RemoteAddr]
			if !known || existing == -1 || nd < existing || (nd == existing && tieBreakWins(hop, firstHop[e.RemoteAddr])) {
				dist[e.RemoteAddr] = nd
				firstHop[e.RemoteAddr] = hop
				heap.Push(pq, pqItem{addr: e.RemoteAddr, dist: nd})
			}
		}
	}

	rt := make(RoutingTable, len(firstHop))
	for dst, hop := range firstHop {
		if dst == self {
			continue
		}
		rt[dst] = hop
	}
	return rt
}

// firstHopFor determines the first-hop address on the path self -> ... -> via -> next:
// if via == self, next itself is the first hop; otherwise inherit the
// first hop already recorded for via.
func firstHopFor(self, via, next names.Address, firstHop map[names.Address]names.Address) names.Address {
	if via == self {
		return next
	}
	return firstHop[via]
}

// tieBreakWins reports whether candidate is preferred over incumbent
// under the lower-address-wins rule (incumbent's zero value, address
// 0, is never a real candidate since addresses are assigned starting
// above 0 in practice, but the comparison is still well-defined).
func tieBreakWins(candidate, incumbent names.Address) bool {
	return candidate < incumbent
}

type pqItem struct {
	addr names.Address
	dist int
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// Debouncer coalesces a burst of LFDB mutations into a single
// recomputation: each Mark rearms a deadline delay in the future, but
// never pushes it further than maxCoalesceDelay from the
// first Mark in the burst, so a steady trickle of changes can't starve
// recomputation indefinitely.
type Debouncer struct {
	mu          sync.Mutex
	delay       time.Duration
	maxDelay    time.Duration
	timer       *time.Timer
	firstMarked time.Time
	fire        func()
}

// NewDebouncer creates a debouncer that calls fire after delay of
// quiescence, capped at maxDelay since the first mark of a burst.
func NewDebouncer(delay, maxDelay time.Duration, fire func()) *Debouncer {
	return &Debouncer{delay: delay, maxDelay: maxDelay, fire: fire}
}

// Mark records an LFDB mutation, (re)arming the debounce timer.
func (d *Debouncer) Mark() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if d.timer == nil {
		d.firstMarked = now
	}
	wait := d.delay
	if elapsed := now.Sub(d.firstMarked); elapsed+wait > d.maxDelay {
		wait = d.maxDelay - elapsed
		if wait < 0 {
			wait = 0
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(wait, func() {
		d.mu.Lock()
		d.timer = nil
		d.mu.Unlock()
		d.fire()
	})
}

// Stop cancels any armed timer without firing.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
