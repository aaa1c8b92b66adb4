// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package kernel

import (
	"context"
	"sync"

	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/names"
)

// SimKernel is a stateful in-memory Kernel for tests: it has no
// backing device files and accepts injected upcalls/SDUs directly.
type SimKernel struct {
	mu sync.RWMutex

	pduft    map[uint32]map[names.Address]names.PortID
	channels map[names.PortID]channelBinding

	upcalls chan ControlMessage
	sdus    chan ManagementSDU

	// FlushCount and WriteCount let tests observe the flush-then-install
	// sequencing of pduft_sync without inspecting pduft directly.
	FlushCount int
	WriteCount int
}

type channelBinding struct {
	ipcpID uint32
	mode   ChannelMode
}

// NewSimKernel creates an empty simulation kernel.
func NewSimKernel() *SimKernel {
	return &SimKernel{
		pduft:    make(map[uint32]map[names.Address]names.PortID),
		channels: make(map[names.PortID]channelBinding),
		upcalls:  make(chan ControlMessage, 64),
		sdus:     make(chan ManagementSDU, 64),
	}
}

// SendControl handles the few control-channel requests that carry a
// synchronous response in the simulator; everything else is a no-op
// success, matching the subset ipcpd actually round-trips on.
func (s *SimKernel) SendControl(ctx context.Context, msg ControlMessage) (ControlMessage, error) {
	switch msg.Kind {
	case MsgIPCPCreate:
		return ControlMessage{Kind: MsgIPCPCreateResp, Payload: IPCPCreateRespPayload{IPCPID: 1}}, nil
	case MsgApplRegister:
		return ControlMessage{Kind: MsgApplRegisterResp, Payload: ApplRegisterRespPayload{Response: 0}}, nil
	default:
		return ControlMessage{}, nil
	}
}

// Upcalls returns the unsolicited-message channel. Tests inject onto
// it with InjectUpcall.
func (s *SimKernel) Upcalls() <-chan ControlMessage { return s.upcalls }

// InjectUpcall pushes an unsolicited control message, simulating a
// data-plane event (IPCP_UPDATE, FA_REQ_ARRIVED, ...).
func (s *SimKernel) InjectUpcall(msg ControlMessage) { s.upcalls <- msg }

func (s *SimKernel) BindChannel(portID names.PortID, ipcpID uint32, mode ChannelMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[portID] = channelBinding{ipcpID: ipcpID, mode: mode}
	return nil
}

func (s *SimKernel) SendSDU(sdu ManagementSDU) error {
	s.mu.RLock()
	_, ok := s.channels[sdu.PortID]
	s.mu.RUnlock()
	if !ok {
		return ipcerrors.New(ipcerrors.KindTransport, "kernel: SendSDU on unbound port")
	}
	return nil
}

func (s *SimKernel) SDUs() <-chan ManagementSDU { return s.sdus }

// InjectSDU pushes an inbound management SDU, simulating a peer's
// tunneled CDAP message arriving.
func (s *SimKernel) InjectSDU(sdu ManagementSDU) { s.sdus <- sdu }

func (s *SimKernel) FlushPDUFT(ipcpID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pduft[ipcpID] = make(map[names.Address]names.PortID)
	s.FlushCount++
	return nil
}

func (s *SimKernel) WritePDUFT(ipcpID uint32, dst names.Address, portID names.PortID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.pduft[ipcpID]
	if !ok {
		tbl = make(map[names.Address]names.PortID)
		s.pduft[ipcpID] = tbl
	}
	tbl[dst] = portID
	s.WriteCount++
	return nil
}

// PDUFTSnapshot returns a copy of the installed table for ipcpID, for
// assertions in tests.
func (s *SimKernel) PDUFTSnapshot(ipcpID uint32) map[names.Address]names.PortID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[names.Address]names.PortID, len(s.pduft[ipcpID]))
	for k, v := range s.pduft[ipcpID] {
		out[k] = v
	}
	return out
}
