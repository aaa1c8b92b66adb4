// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package flowalloc implements the flow allocator: resolving a
// destination application name to an address via the DFT, requesting a
// flow across the DIF (locally, or over A-DATA to a remote IPCP), and
// completing the negotiation with the requesting application.
package flowalloc

import (
	"context"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/internal/dft"
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/kernel"
	"github.com/rina-project/ipcpd/internal/names"
	"github.com/rina-project/ipcpd/internal/neighbor"
	"github.com/rina-project/ipcpd/internal/rib"
)

// ObjFlows is the RIB object M_CREATE/M_CREATE_R flow requests target.
const ObjFlows = "/dif/ra/fa/flows"

// DefaultTimeout is the flow-allocation request deadline.
const DefaultTimeout = 5 * time.Second

// FlowRequest is the payload of an M_CREATE on ObjFlows.
type FlowRequest struct {
	LocalAppl  names.ApplicationName `cbor:"1,keyasint"`
	RemoteAppl names.ApplicationName `cbor:"2,keyasint"`
	QoS        kernel.Flowspec       `cbor:"3,keyasint"`
}

// FlowResponse is the payload of the matching M_CREATE_R.
type FlowResponse struct {
	PortID names.PortID `cbor:"1,keyasint"`
}

func encode(v interface{}) ([]byte, error) { return cbor.Marshal(v) }

// Registrar locates and completes local application flow endpoints.
// The allocator never talks to the kernel or to applications directly;
// it delegates through this interface so it stays testable without a
// live data plane.
type Registrar interface {
	// FindListener reports whether a local application is registered
	// to accept flows under name.
	FindListener(name names.ApplicationName) bool
	// AllocateUpcall asks the data plane to bind a new local port for
	// an accepted flow (incoming, or local-loopback), returning the
	// assigned port_id.
	AllocateUpcall(name names.ApplicationName, remoteAddr names.Address) (names.PortID, error)
	// CompleteOutbound hands the negotiated port_id (or failure) back
	// to the application that originated an FAReq call, identified by
	// the opaque token that caller supplied to FAReq.
	CompleteOutbound(token any, portID names.PortID, err error)
}

// Sender transmits an A-DATA-wrapped CDAP message toward dstAddr,
// using whatever Neighbor the caller's routing table names as the
// current next hop; the allocator only needs "deliver this somewhere
// that continues forwarding it towards dstAddr."
type Sender func(dstAddr names.Address, msg *cdap.Message) error

type pendingRequest struct {
	localAppl  names.ApplicationName
	remoteAppl names.ApplicationName
	dstAddr    names.Address
	token      any
	timer      *time.Timer
}

// Allocator implements fa_req and flows_handler for one IPCP instance.
type Allocator struct {
	mu sync.Mutex

	self      names.Address
	dft       *dft.Table
	registrar Registrar
	send      Sender
	invoke    *cdap.InvokeIDManager
	pending   map[uint32]*pendingRequest
	timeout   time.Duration
}

// NewAllocator creates an Allocator for a node at address self.
func NewAllocator(self names.Address, table *dft.Table, registrar Registrar, send Sender, maxPending int) *Allocator {
	return &Allocator{
		self:      self,
		dft:       table,
		registrar: registrar,
		send:      send,
		invoke:    cdap.NewInvokeIDManager(maxPending),
		pending:   make(map[uint32]*pendingRequest),
		timeout:   DefaultTimeout,
	}
}

// FAReq starts a flow-allocation request from a local application.
// dst_addr = dft_lookup(remote_appl); UNKNOWN_DESTINATION if absent.
// A destination equal to self is a local-loopback, completed
// synchronously; otherwise an M_CREATE is sent via A-DATA and the
// request is recorded under a fresh invoke-id, timing out after
// Allocator.timeout. token is opaque to the allocator and is handed
// back verbatim to Registrar.CompleteOutbound, letting the caller
// correlate the eventual completion with whatever triggered this call
// (e.g. a kernel control-channel event_id) without the allocator
// needing to know that shape.
func (a *Allocator) FAReq(localAppl, remoteAppl names.ApplicationName, qos kernel.Flowspec, token any) error {
	dstAddr := a.dft.Lookup(remoteAppl)
	if dstAddr == names.NullAddress {
		return ipcerrors.New(ipcerrors.KindResource, "UNKNOWN_DESTINATION")
	}

	if dstAddr == a.self {
		portID, err := a.registrar.AllocateUpcall(remoteAppl, a.self)
		a.registrar.CompleteOutbound(token, portID, err)
		return err
	}

	id, err := a.invoke.NewLocalRequest()
	if err != nil {
		return err
	}

	body, err := encode(FlowRequest{LocalAppl: localAppl, RemoteAppl: remoteAppl, QoS: qos})
	if err != nil {
		a.invoke.MatchResponse(id)
		return ipcerrors.Wrap(err, ipcerrors.KindInternal, "flowalloc: encode FlowRequest")
	}
	inner := &cdap.Message{OpCode: cdap.MCreate, InvokeID: id, ObjClass: ObjFlows, ObjName: ObjFlows, ObjValue: cdap.BytesValue(body)}

	a.mu.Lock()
	req := &pendingRequest{localAppl: localAppl, remoteAppl: remoteAppl, dstAddr: dstAddr, token: token}
	req.timer = time.AfterFunc(a.timeout, func() { a.onTimeout(id) })
	a.pending[id] = req
	a.mu.Unlock()

	if err := a.send(dstAddr, inner); err != nil {
		a.cancelPending(id)
		a.invoke.MatchResponse(id)
		return err
	}
	return nil
}

func (a *Allocator) onTimeout(id uint32) {
	if token, ok := a.cancelPending(id); ok {
		a.invoke.MatchResponse(id)
		a.registrar.CompleteOutbound(token, 0, ipcerrors.New(ipcerrors.KindTimeout, "TIMEOUT"))
	}
}

// FailPendingTo completes every outstanding FAReq whose destination is
// dstAddr with a PEER_LOST error, releasing their invoke-ids. Used when
// the path to dstAddr is lost (e.g. the neighbor carrying it as a
// direct flow is dropped).
func (a *Allocator) FailPendingTo(dstAddr names.Address) {
	a.mu.Lock()
	var toFail []uint32
	for id, req := range a.pending {
		if req.dstAddr == dstAddr {
			toFail = append(toFail, id)
		}
	}
	a.mu.Unlock()

	for _, id := range toFail {
		if token, ok := a.cancelPending(id); ok {
			a.invoke.MatchResponse(id)
			a.registrar.CompleteOutbound(token, 0, ipcerrors.New(ipcerrors.KindUnavailable, "PEER_LOST"))
		}
	}
}

func (a *Allocator) cancelPending(id uint32) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req, ok := a.pending[id]
	if !ok {
		return nil, false
	}
	req.timer.Stop()
	delete(a.pending, id)
	return req.token, true
}

// Handler returns the rib.Handler for ObjFlows, dispatching M_CREATE
// (flows_handler, at the destination) and M_CREATE_R (completion, at
// the initiator).
func (a *Allocator) Handler() rib.Handler {
	return func(ctx context.Context, msg *cdap.Message, neigh *neighbor.Neighbor) (*cdap.Message, error) {
		switch msg.OpCode {
		case cdap.MCreate:
			return a.handleFlowsCreate(ctx, msg)
		case cdap.MCreateR:
			return nil, a.handleFlowsCreateR(msg)
		default:
			return nil, ipcerrors.Errorf(ipcerrors.KindProtocol, "flowalloc: unexpected op %v on %s", msg.OpCode, ObjFlows)
		}
	}
}

// handleFlowsCreate is flows_handler at the destination: validates,
// finds the listening application via the registrar, issues a
// data-plane flow-allocation upcall, and replies M_CREATE_R.
func (a *Allocator) handleFlowsCreate(ctx context.Context, msg *cdap.Message) (*cdap.Message, error) {
	var req FlowRequest
	if err := cbor.Unmarshal(msg.ObjValue.Bytes, &req); err != nil {
		return nil, ipcerrors.Wrap(err, ipcerrors.KindValidation, "flowalloc: decode FlowRequest")
	}

	srcAddr, _ := rib.SourceAddr(ctx)

	if !a.registrar.FindListener(req.RemoteAppl) {
		return replyCreateR(msg, 1, "APPL_NOT_REGISTERED")
	}

	portID, err := a.registrar.AllocateUpcall(req.RemoteAppl, srcAddr)
	if err != nil {
		return replyCreateR(msg, 1, err.Error())
	}

	body, err := encode(FlowResponse{PortID: portID})
	if err != nil {
		return nil, ipcerrors.Wrap(err, ipcerrors.KindInternal, "flowalloc: encode FlowResponse")
	}
	return &cdap.Message{
		OpCode:   cdap.MCreateR,
		InvokeID: msg.InvokeID,
		ObjClass: ObjFlows,
		ObjName:  ObjFlows,
		ObjValue: cdap.BytesValue(body),
		Result:   0,
	}, nil
}

// handleFlowsCreateR completes the initiator's FAReq with the
// negotiated port_id (or the failure result).
func (a *Allocator) handleFlowsCreateR(msg *cdap.Message) error {
	token, ok := a.cancelPending(msg.InvokeID)
	if !ok {
		return nil // already timed out and released; ignore a late reply.
	}
	if err := a.invoke.MatchResponse(msg.InvokeID); err != nil {
		return err
	}

	if msg.Result != 0 {
		a.registrar.CompleteOutbound(token, 0, ipcerrors.Errorf(ipcerrors.KindSemantic, "flow allocation rejected: %s", msg.ResultReason))
		return nil
	}

	var resp FlowResponse
	if err := cbor.Unmarshal(msg.ObjValue.Bytes, &resp); err != nil {
		a.registrar.CompleteOutbound(token, 0, ipcerrors.Wrap(err, ipcerrors.KindValidation, "flowalloc: decode FlowResponse"))
		return nil
	}
	a.registrar.CompleteOutbound(token, resp.PortID, nil)
	return nil
}

func replyCreateR(req *cdap.Message, result int32, reason string) (*cdap.Message, error) {
	return &cdap.Message{
		OpCode:       cdap.MCreateR,
		InvokeID:     req.InvokeID,
		ObjClass:     ObjFlows,
		ObjName:      ObjFlows,
		Result:       result,
		ResultReason: reason,
	}, nil
}
