// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package cdap

import (
	"sync"

	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
)

// invokeIDMax is the wrap point for locally-minted invoke-ids: 32-bit,
// wraps at 2^30, skipping 0.
const invokeIDMax = 1 << 30

// InvokeIDManager tracks outstanding invoke-ids for one CDAP
// connection, bounding concurrency at MaxPending.
type InvokeIDManager struct {
	mu         sync.Mutex
	next       uint32
	pendingLoc map[uint32]struct{}
	pendingRem map[uint32]struct{}
	maxPending int
}

// NewInvokeIDManager creates a manager bounding pending_local and
// pending_remote each at maxPending.
func NewInvokeIDManager(maxPending int) *InvokeIDManager {
	return &InvokeIDManager{
		next:       1,
		pendingLoc: make(map[uint32]struct{}),
		pendingRem: make(map[uint32]struct{}),
		maxPending: maxPending,
	}
}

// NewLocalRequest mints a fresh invoke-id for an outbound request and
// records it in pending_local. Returns KindResource if pending_local
// is already at capacity.
func (m *InvokeIDManager) NewLocalRequest() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pendingLoc) >= m.maxPending {
		return 0, ipcerrors.New(ipcerrors.KindResource, "BUSY: pending_local at capacity")
	}

	id := m.next
	m.next++
	if m.next >= invokeIDMax {
		m.next = 1
	}
	m.pendingLoc[id] = struct{}{}
	return id, nil
}

// MatchResponse clears invoke-id id from pending_local when a response
// carrying it arrives. Returns KindValidation (BAD_INVOKE_ID) if id was
// not outstanding.
func (m *InvokeIDManager) MatchResponse(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pendingLoc[id]; !ok {
		return ipcerrors.New(ipcerrors.KindValidation, "BAD_INVOKE_ID: no matching outstanding request")
	}
	delete(m.pendingLoc, id)
	return nil
}

// RecordRemoteRequest records an inbound request's invoke-id in
// pending_remote. Returns KindResource if pending_remote is full.
func (m *InvokeIDManager) RecordRemoteRequest(id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pendingRem) >= m.maxPending {
		return ipcerrors.New(ipcerrors.KindResource, "BUSY: pending_remote at capacity")
	}
	m.pendingRem[id] = struct{}{}
	return nil
}

// ClearRemoteRequest removes id from pending_remote once the matching
// outbound response has been sent.
func (m *InvokeIDManager) ClearRemoteRequest(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingRem, id)
}

// PendingLocalCount returns len(pending_local), for invariant checks.
func (m *InvokeIDManager) PendingLocalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pendingLoc)
}

// PendingRemoteCount returns len(pending_remote), for invariant checks.
func (m *InvokeIDManager) PendingRemoteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pendingRem)
}

// ReleaseAll clears both pending sets, used when a neighbor is lost:
// cancellation releases pending_local and pending_remote together.
func (m *InvokeIDManager) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingLoc = make(map[uint32]struct{})
	m.pendingRem = make(map[uint32]struct{})
}
