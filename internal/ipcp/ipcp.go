// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package ipcp assembles every control-plane component (CDAP, the
// enrollment FSM, the RIB dispatcher, the DFT, LFDB, SPEngine, PDUFT,
// and flow allocator) into one running IPC-Process instance, and runs
// the single event loop that owns its RIB for the instance's entire
// lifetime. Every other goroutine (the kernel's upcall/SDU readers,
// per-neighbor enrollment timers, the SPEngine debouncer, and the
// admin socket's RPC handlers) only ever enqueues work for that loop.
package ipcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/rina-project/ipcpd/internal/adminsock"
	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/internal/config"
	"github.com/rina-project/ipcpd/internal/dft"
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/flowalloc"
	"github.com/rina-project/ipcpd/internal/kernel"
	"github.com/rina-project/ipcpd/internal/lfdb"
	"github.com/rina-project/ipcpd/internal/logging"
	"github.com/rina-project/ipcpd/internal/metrics"
	"github.com/rina-project/ipcpd/internal/names"
	"github.com/rina-project/ipcpd/internal/neighbor"
	"github.com/rina-project/ipcpd/internal/pduft"
	"github.com/rina-project/ipcpd/internal/persist"
	"github.com/rina-project/ipcpd/internal/rib"
	"github.com/rina-project/ipcpd/internal/spengine"
)

// Defaults governing every IPCP instance's internal bookkeeping.
const (
	MaxPendingInvokes = 64
	DebounceDelay     = 200 * time.Millisecond
	DebounceMaxDelay  = 2 * time.Second
	jobQueueDepth     = 256
)

// pendingArrival tracks a flow this instance offered to a local
// application via FA_REQ_ARRIVED, awaiting the application's FA_RESP
// decision reported back on a later fa_resp upcall.
type pendingArrival struct {
	portID   names.PortID
	applName names.ApplicationName
}

// job is one piece of work handed to the event loop by a goroutine
// other than the one running it. done is nil for fire-and-forget work
// (timers, the debouncer); callers that need the outcome set it and
// block on it.
type job struct {
	fn   func(ctx context.Context) error
	done chan error
}

// IPCP is one IPC-Process instance: the single owner of its RIB,
// neighbor table, and routing state for as long as Run is executing.
type IPCP struct {
	id      uint32
	self    names.Address
	difName string
	difType string

	log    *logging.Logger
	kernel kernel.Kernel
	cfg    *config.Config
	met    *metrics.Metrics
	pst    *persist.Registry

	neighbors *neighbor.Registry
	dftTable  *dft.Table
	lfdbTable *lfdb.Table
	pduftInst *pduft.Installer
	allocator *flowalloc.Allocator
	dispatch  *rib.Dispatcher
	debouncer *spengine.Debouncer

	mu       sync.Mutex
	apps     map[string]bool
	nextPort names.PortID
	arrivals map[string]pendingArrival

	jobs chan job
}

// New assembles an IPCP instance from cfg. Run must be called to start
// servicing it.
func New(cfg *config.Config, k kernel.Kernel, log *logging.Logger, met *metrics.Metrics, pst *persist.Registry) *IPCP {
	ipcp := &IPCP{
		id:        cfg.IPCPID,
		self:      cfg.Address,
		difName:   cfg.DIFName,
		difType:   cfg.DIFType,
		log:       log.With("ipcp_id", cfg.IPCPID, "dif", cfg.DIFName),
		kernel:    k,
		cfg:       cfg,
		met:       met,
		pst:       pst,
		neighbors: neighbor.NewRegistry(),
		dftTable:  dft.NewTable(),
		lfdbTable: lfdb.NewTable(cfg.Address),
		apps:      make(map[string]bool),
		arrivals:  make(map[string]pendingArrival),
		nextPort:  1,
		jobs:      make(chan job, jobQueueDepth),
	}
	ipcp.pduftInst = pduft.NewInstaller(k, ipcp.id, ipcp.neighbors)
	ipcp.allocator = flowalloc.NewAllocator(ipcp.self, ipcp.dftTable, ipcp, ipcp.sendADATA, MaxPendingInvokes)
	ipcp.debouncer = spengine.NewDebouncer(DebounceDelay, DebounceMaxDelay, func() {
		ipcp.enqueueAsync(ipcp.recomputeRouting)
	})

	ipcp.dispatch = rib.NewDispatcher()
	ipcp.dispatch.Register(dft.ObjName, dft.Handler(ipcp.dftTable, ipcp.neighbors, ipcp.broadcast))
	ipcp.dispatch.Register(lfdb.ObjName, lfdb.Handler(ipcp.lfdbTable, ipcp.neighbors, ipcp.broadcast, ipcp.debouncer.Mark))
	ipcp.dispatch.Register(flowalloc.ObjFlows, ipcp.allocator.Handler())
	return ipcp
}

// ID returns this instance's ipcp_id.
func (ipcp *IPCP) ID() uint32 { return ipcp.id }

// enqueue hands fn to the event loop and blocks for its result,
// respecting ctx cancellation on either side of the round trip. Used
// by admin-socket requests, which must not mutate RIB state directly.
func (ipcp *IPCP) enqueue(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case ipcp.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueAsync hands fn to the event loop without waiting for it to
// run. Used by timers and the debouncer, which fire from their own
// goroutines and have no caller to report back to.
func (ipcp *IPCP) enqueueAsync(fn func(ctx context.Context) error) {
	select {
	case ipcp.jobs <- job{fn: fn}:
	default:
		ipcp.log.Warn("event loop job queue full, dropping async job")
	}
}

// Run services this instance's kernel upcalls, inbound management
// SDUs, the LFDB aging ticker, and queued admin/internal work on a
// single goroutine until ctx is cancelled. It returns nil on a clean
// cancellation and a KindFatal error if either kernel channel closes
// out from under it.
func (ipcp *IPCP) Run(ctx context.Context) error {
	ticker := time.NewTicker(ipcp.cfg.LFDBAgeTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ipcp.kernel.Upcalls():
			if !ok {
				return ipcerrors.New(ipcerrors.KindFatal, "ipcp: kernel upcall channel closed")
			}
			if err := ipcp.handleUpcall(ctx, msg); err != nil {
				if ipcp.met != nil && ipcerrors.GetKind(err) == ipcerrors.KindResource {
					ipcp.met.InvokeIDExhaustion.Inc()
				}
				ipcp.log.Warn("upcall handling failed", "kind", msg.Kind, "err", err)
			}

		case sdu, ok := <-ipcp.kernel.SDUs():
			if !ok {
				return ipcerrors.New(ipcerrors.KindFatal, "ipcp: kernel sdu channel closed")
			}
			if err := ipcp.handleSDU(ctx, sdu); err != nil {
				ipcp.log.Warn("sdu handling failed", "port", sdu.PortID, "err", err)
			}

		case <-ticker.C:
			if err := ipcp.ageLFDB(); err != nil {
				ipcp.log.Warn("lfdb age sweep failed", "err", err)
			}

		case j := <-ipcp.jobs:
			err := j.fn(ctx)
			if j.done != nil {
				j.done <- err
			} else if err != nil {
				ipcp.log.Warn("enqueued job failed", "err", err)
			}
		}
	}
}

// sendADATA implements flowalloc.Sender: it tunnels msg to a
// non-adjacent destination over A-DATA, handing the encoded envelope
// to the kernel addressed by dst_addr so the kernel resolves the next
// hop from its own mirrored PDU forwarding table.
func (ipcp *IPCP) sendADATA(dst names.Address, msg *cdap.Message) error {
	wrapped, err := cdap.WrapADATA(uint64(ipcp.self), uint64(dst), msg)
	if err != nil {
		return ipcerrors.Wrap(err, ipcerrors.KindInternal, "ipcp: wrap a_data envelope")
	}
	body, err := cdap.Encode(wrapped)
	if err != nil {
		return ipcerrors.Wrap(err, ipcerrors.KindInternal, "ipcp: encode a_data envelope")
	}
	ipcp.countSent(msg.OpCode)
	return ipcp.kernel.SendSDU(kernel.ManagementSDU{Kind: kernel.SDUOutDstAddr, RemoteAddr: dst, Payload: body})
}

// sendToNeighbor transmits msg directly to an adjacent neighbor's
// bound management port, with no A-DATA wrapping.
func (ipcp *IPCP) sendToNeighbor(n *neighbor.Neighbor, msg *cdap.Message) error {
	body, err := cdap.Encode(msg)
	if err != nil {
		return ipcerrors.Wrap(err, ipcerrors.KindInternal, "ipcp: encode cdap message")
	}
	ipcp.countSent(msg.OpCode)
	return ipcp.kernel.SendSDU(kernel.ManagementSDU{Kind: kernel.SDUOutLocalPort, PortID: n.PortID, Payload: body})
}

func (ipcp *IPCP) countSent(op cdap.OpCode) {
	if ipcp.met != nil {
		ipcp.met.CDAPMessagesSent.WithLabelValues(op.String()).Inc()
	}
}

// broadcast implements dft.Broadcaster and lfdb.Broadcaster: send msg
// to every target, logging (never failing the caller on) a per-target
// transmission error.
func (ipcp *IPCP) broadcast(targets []*neighbor.Neighbor, msg *cdap.Message) {
	for _, n := range targets {
		if err := ipcp.sendToNeighbor(n, msg); err != nil {
			ipcp.log.Warn("broadcast to neighbor failed", "neighbor", n.Name.String(), "err", err)
		}
	}
}

// recomputeRouting reruns SPEngine over the current LFDB edge set and
// mirrors the result into the data plane's PDU forwarding table. Run
// by the debouncer after a quiescent period following LFDB mutations.
func (ipcp *IPCP) recomputeRouting(ctx context.Context) error {
	edges := ipcp.lfdbTable.Edges()
	rt := spengine.Compute(ipcp.self, edges)
	if ipcp.met != nil {
		ipcp.met.SPEngineRecomputations.Inc()
		ipcp.met.RoutingTableSize.Set(float64(len(rt)))
	}

	result := ipcp.pduftInst.Sync(rt)
	if ipcp.met != nil {
		ipcp.met.PDUFTSyncs.Inc()
		ipcp.met.PDUFTWriteErrors.Add(float64(result.WriteErrors))
		ipcp.met.PDUFTInconsistencies.Set(float64(len(result.Inconsistent)))
	}
	if len(result.Inconsistent) > 0 {
		ipcp.log.Warn("pduft sync left destinations with no resolvable next hop", "count", len(result.Inconsistent))
	}
	return nil
}

// ageLFDB runs one LFDB aging tick, broadcasting the withdrawal of any
// entry that aged out.
func (ipcp *IPCP) ageLFDB() error {
	evicted := ipcp.lfdbTable.AgeSweep(ipcp.cfg.LFDBAgeTick, ipcp.cfg.LFDBAgeMax)
	if len(evicted) == 0 {
		return nil
	}
	body, err := lfdb.EncodeSlice(evicted)
	if err != nil {
		return ipcerrors.Wrap(err, ipcerrors.KindInternal, "ipcp: encode aged-out lfdb entries")
	}
	ipcp.broadcast(ipcp.neighbors.Enrolled(), &cdap.Message{
		OpCode: cdap.MDelete, ObjClass: lfdb.ObjName, ObjName: lfdb.ObjName, ObjValue: cdap.BytesValue(body),
	})
	ipcp.debouncer.Mark()
	return nil
}

// handleUpcall dispatches one unsolicited kernel control message.
func (ipcp *IPCP) handleUpcall(ctx context.Context, msg kernel.ControlMessage) error {
	switch msg.Kind {
	case kernel.MsgFAReq:
		payload, ok := msg.Payload.(kernel.FAReqPayload)
		if !ok {
			return ipcerrors.New(ipcerrors.KindProtocol, "ipcp: fa_req upcall with unexpected payload type")
		}
		return ipcp.allocator.FAReq(
			names.FromString(payload.LocalAppl),
			names.FromString(payload.RemoteAppl),
			payload.Flowspec,
			payload.EventID,
		)

	case kernel.MsgFAResp:
		payload, ok := msg.Payload.(kernel.FARespPayload)
		if !ok {
			return ipcerrors.New(ipcerrors.KindProtocol, "ipcp: fa_resp upcall with unexpected payload type")
		}
		return ipcp.handleFAResp(payload)

	case kernel.MsgFlowDeallocated:
		payload, ok := msg.Payload.(kernel.FlowDeallocatedPayload)
		if !ok {
			return ipcerrors.New(ipcerrors.KindProtocol, "ipcp: flow_deallocated upcall with unexpected payload type")
		}
		if n := ipcp.neighbors.Get(payload.PortID); n != nil {
			ipcp.dropNeighbor(n)
		}
		return nil

	case kernel.MsgIPCPUpdate:
		payload, ok := msg.Payload.(kernel.IPCPUpdatePayload)
		if !ok {
			return ipcerrors.New(ipcerrors.KindProtocol, "ipcp: ipcp_update upcall with unexpected payload type")
		}
		return ipcp.handleIPCPUpdate(payload)

	case kernel.MsgFlowFetchResp:
		payload, ok := msg.Payload.(kernel.FlowFetchRespPayload)
		if !ok {
			return ipcerrors.New(ipcerrors.KindProtocol, "ipcp: flow_fetch_resp upcall with unexpected payload type")
		}
		return ipcp.handleFlowFetchResp(payload)

	default:
		ipcp.log.Debug("ignoring unhandled upcall kind", "kind", msg.Kind)
		return nil
	}
}

// handleFAResp records the local application's accept/reject decision
// for a flow previously offered via FA_REQ_ARRIVED. The CDAP-level
// M_CREATE_R was already sent by flows_handler at arrival time (flow
// acceptance is synchronous with application registration), so a
// rejection here can only be logged, not retracted at the CDAP layer.
func (ipcp *IPCP) handleFAResp(payload kernel.FARespPayload) error {
	ipcp.mu.Lock()
	_, ok := ipcp.arrivals[payload.KEventID]
	if ok {
		delete(ipcp.arrivals, payload.KEventID)
	}
	ipcp.mu.Unlock()
	if !ok {
		return nil // late or duplicate response to an arrival we no longer track.
	}
	if payload.Response != 0 {
		ipcp.log.Warn("local application rejected an already-accepted flow arrival", "port", payload.PortID, "kevent_id", payload.KEventID)
	}
	return nil
}

// handleIPCPUpdate applies a lower-DIF topology change to the LFDB and
// broadcasts the change to every enrolled neighbor.
func (ipcp *IPCP) handleIPCPUpdate(payload kernel.IPCPUpdatePayload) error {
	var entry lfdb.Entry
	switch payload.Update {
	case kernel.UpdateAdd, kernel.UpdateUpd:
		entry = ipcp.lfdbTable.Originate(payload.Addr, payload.Depth, lfdb.StateUp)
	case kernel.UpdateDel:
		entry = ipcp.lfdbTable.Withdraw(payload.Addr)
	default:
		return ipcerrors.Errorf(ipcerrors.KindProtocol, "ipcp: unknown update_type %q", payload.Update)
	}

	body, err := lfdb.EncodeSlice(lfdb.Slice{entry})
	if err != nil {
		return ipcerrors.Wrap(err, ipcerrors.KindInternal, "ipcp: encode lfdb entry")
	}
	ipcp.broadcast(ipcp.neighbors.Enrolled(), &cdap.Message{
		OpCode: cdap.MCreate, ObjClass: lfdb.ObjName, ObjName: lfdb.ObjName, ObjValue: cdap.BytesValue(body),
	})
	ipcp.debouncer.Mark()
	return nil
}

// handleFlowFetchResp rebuilds a minimal picture of flows the kernel
// already had bound before a restart. Recovered neighbors start in
// state NONE rather than Enrolled: the daemon re-establishes CDAP
// enrollment over the recovered flow rather than trusting pre-restart
// FSM state it never itself observed.
func (ipcp *IPCP) handleFlowFetchResp(payload kernel.FlowFetchRespPayload) error {
	if payload.End {
		ipcp.debouncer.Mark()
		return nil
	}
	if ipcp.neighbors.Get(payload.LocalPort) == nil {
		n := neighbor.New(names.ApplicationName{}, payload.LocalPort, neighbor.RoleResponder, MaxPendingInvokes)
		n.Address = payload.RemoteAddr
		ipcp.neighbors.Add(n)
		ipcp.log.Info("recovered pre-existing flow from kernel", "port", payload.LocalPort, "remote_addr", payload.RemoteAddr)
	}
	return nil
}

// handleSDU decodes one inbound management SDU and either feeds it to
// the enrollment FSM (neighbor not yet Enrolled) or the RIB dispatcher
// (ordinary DFT/LFDB/flow traffic).
func (ipcp *IPCP) handleSDU(ctx context.Context, sdu kernel.ManagementSDU) error {
	msg, err := cdap.Decode(sdu.Payload)
	if err != nil {
		ipcp.log.Warn("dropping malformed management sdu", "port", sdu.PortID, "err", err)
		return nil
	}
	if ipcp.met != nil {
		ipcp.met.CDAPMessagesReceived.WithLabelValues(msg.OpCode.String()).Inc()
	}

	n := ipcp.neighbors.Get(sdu.PortID)
	if n == nil {
		n = neighbor.New(names.ApplicationName{}, sdu.PortID, neighbor.RoleResponder, MaxPendingInvokes)
		ipcp.neighbors.Add(n)
	}

	if !n.IsEnrolled() {
		return ipcp.stepEnrollment(n, msg)
	}

	if msg.OpCode == cdap.MRelease || msg.OpCode == cdap.MReleaseR {
		actions, err := n.Conn.Recv(msg)
		if err != nil {
			ipcp.log.Warn("cdap release handshake error", "neighbor", n.Name.String(), "err", err)
		}
		for _, a := range actions {
			if a.Msg != nil {
				if err := ipcp.sendToNeighbor(n, a.Msg); err != nil {
					ipcp.log.Warn("send release reply failed", "neighbor", n.Name.String(), "err", err)
				}
			}
			if a.Kind == cdap.ActionCloseFlow {
				ipcp.dropNeighbor(n)
			}
		}
		return nil
	}

	reply, err := ipcp.dispatch.Dispatch(ctx, msg, n)
	if err != nil {
		ipcp.log.Warn("rib dispatch error", "neighbor", n.Name.String(), "obj", msg.ObjName, "err", err)
		return nil
	}
	if reply != nil {
		return ipcp.sendToNeighbor(n, reply)
	}
	return nil
}

// dropNeighbor tears a neighbor down: its registry entry (which aborts
// its CDAP connection and releases its invoke-ids), its LFDB-originated
// link, and any outstanding flow-allocation requests that targeted it.
func (ipcp *IPCP) dropNeighbor(n *neighbor.Neighbor) {
	wasEnrolled := n.IsEnrolled()
	addr := n.Address
	ipcp.neighbors.Remove(n.PortID)
	if !wasEnrolled {
		return
	}
	if ipcp.met != nil {
		ipcp.met.EnrolledNeighbors.Dec()
	}
	ipcp.lfdbTable.Withdraw(addr)
	ipcp.debouncer.Mark()
	ipcp.allocator.FailPendingTo(addr)
}

// stepEnrollment advances one Neighbor through the enrollment FSM on
// msg (nil to kick off the initiator side from NONE), decoding and
// attaching the enrollment payloads the pure FSM step functions leave
// to the caller, and executing every action they request.
func (ipcp *IPCP) stepEnrollment(n *neighbor.Neighbor, msg *cdap.Message) error {
	ipcp.absorbEnrollPayload(n, msg)

	self := neighbor.StartPayload{Address: uint64(ipcp.self)}
	var (
		next    neighbor.EnrollState
		actions []neighbor.EnrollAction
		err     error
	)
	if n.Role == neighbor.RoleInitiator {
		next, actions, err = neighbor.InitiatorStep(n.State(), msg, self)
	} else {
		next, actions, err = neighbor.ResponderStep(n.State(), msg, self)
	}
	n.SetState(next)
	if ipcp.met != nil {
		ipcp.met.EnrollmentTransitions.WithLabelValues(next.String()).Inc()
	}

	n.CancelTimeout()
	if next != neighbor.Enrolled && next != neighbor.EnrollNone {
		n.ArmTimeout(neighbor.DefaultStepTimeout, func(n *neighbor.Neighbor) {
			ipcp.enqueueAsync(func(ctx context.Context) error {
				return ipcp.stepEnrollment(n, nil)
			})
		})
	}

	for _, a := range actions {
		if a.Send != nil {
			ipcp.decorateEnrollSend(n, a.Send)
			if sendErr := ipcp.sendToNeighbor(n, a.Send); sendErr != nil && err == nil {
				err = sendErr
			}
		}
		if a.SyncNow {
			ipcp.onEnrolled(n)
		}
	}

	if err != nil || next == neighbor.EnrollNone {
		ipcp.neighbors.Remove(n.PortID)
		return err
	}
	return nil
}

// absorbEnrollPayload decodes the enrollment-specific payload carried
// by msg, if any, into Neighbor state the pure FSM step functions
// never see (the peer's address and, for the responder's M_START_R,
// the LFDB snapshot to install).
func (ipcp *IPCP) absorbEnrollPayload(n *neighbor.Neighbor, msg *cdap.Message) {
	if msg == nil || len(msg.ObjValue.Bytes) == 0 {
		return
	}
	switch {
	case msg.OpCode == cdap.MStart && msg.ObjName == neighbor.ObjEnrollment:
		var payload neighbor.StartPayload
		if err := cbor.Unmarshal(msg.ObjValue.Bytes, &payload); err == nil {
			n.Address = names.Address(payload.Address)
		}
	case msg.OpCode == cdap.MStartR && msg.ObjName == neighbor.ObjEnrollment:
		var payload neighbor.StartRPayload
		if err := cbor.Unmarshal(msg.ObjValue.Bytes, &payload); err == nil {
			n.Address = names.Address(payload.Address)
			if snap, err := lfdb.DecodeSlice(payload.LFDBSnap); err == nil {
				ipcp.lfdbTable.Merge(snap)
			}
		}
	}
}

// decorateEnrollSend attaches the payload bytes an enrollment action's
// bare message needs before transmission; the FSM step functions build
// the message shape but never its obj_value.
func (ipcp *IPCP) decorateEnrollSend(n *neighbor.Neighbor, msg *cdap.Message) {
	switch {
	case msg.OpCode == cdap.MStart && msg.ObjName == neighbor.ObjEnrollment:
		body, err := cbor.Marshal(neighbor.StartPayload{Address: uint64(ipcp.self)})
		if err == nil {
			msg.ObjValue = cdap.BytesValue(body)
		}
	case msg.OpCode == cdap.MStartR && msg.ObjName == neighbor.ObjEnrollment:
		neighborNames := make([]string, 0, 8)
		for _, nb := range ipcp.neighbors.Enrolled() {
			neighborNames = append(neighborNames, nb.Name.String())
		}
		lfdbBytes, _ := lfdb.EncodeSlice(ipcp.lfdbTable.Snapshot())
		body, err := cbor.Marshal(neighbor.StartRPayload{Address: uint64(ipcp.self), Neighbors: neighborNames, LFDBSnap: lfdbBytes})
		if err == nil {
			msg.ObjValue = cdap.BytesValue(body)
		}
	}
}

// onEnrolled runs once a Neighbor reaches Enrolled: it synchronizes
// the low-level CDAP connection state to match the enrollment
// dialogue's own handshake (ordinary post-enrollment traffic uses Conn
// only for invoke-id bookkeeping and M_RELEASE, never re-running
// M_CONNECT), originates the corresponding LFDB link, and pushes a
// full DFT/LFDB snapshot to the new neighbor.
func (ipcp *IPCP) onEnrolled(n *neighbor.Neighbor) {
	n.Conn.State = cdap.StateConnected
	if ipcp.met != nil {
		ipcp.met.EnrolledNeighbors.Inc()
	}

	ipcp.lfdbTable.Originate(n.Address, lfdb.DefaultCost, lfdb.StateUp)
	ipcp.debouncer.Mark()

	if body, err := dft.EncodeSlice(ipcp.dftTable.Snapshot()); err == nil {
		ipcp.sendToNeighbor(n, &cdap.Message{OpCode: cdap.MCreate, ObjClass: dft.ObjName, ObjName: dft.ObjName, ObjValue: cdap.BytesValue(body)})
	}
	if body, err := lfdb.EncodeSlice(ipcp.lfdbTable.Snapshot()); err == nil {
		ipcp.sendToNeighbor(n, &cdap.Message{OpCode: cdap.MCreate, ObjClass: lfdb.ObjName, ObjName: lfdb.ObjName, ObjValue: cdap.BytesValue(body)})
	}
}

// startEnrollment creates a Neighbor for a flow already bound at
// portID and kicks off the initiator side of the enrollment FSM.
func (ipcp *IPCP) startEnrollment(name names.ApplicationName, portID names.PortID) error {
	if existing := ipcp.neighbors.Get(portID); existing != nil {
		return ipcerrors.Errorf(ipcerrors.KindConflict, "ipcp: port %d already has a neighbor", portID)
	}
	n := neighbor.New(name, portID, neighbor.RoleInitiator, MaxPendingInvokes)
	ipcp.neighbors.Add(n)
	return ipcp.stepEnrollment(n, nil)
}

// --- flowalloc.Registrar ---

// FindListener implements flowalloc.Registrar.
func (ipcp *IPCP) FindListener(name names.ApplicationName) bool {
	ipcp.mu.Lock()
	defer ipcp.mu.Unlock()
	return ipcp.apps[name.String()]
}

// AllocateUpcall implements flowalloc.Registrar: it mints a port_id,
// binds it in the data plane, and notifies the kernel of the accepted
// flow via FA_REQ_ARRIVED so it can forward the notification to the
// local application. Acceptance is synchronous with the application
// being registered; see handleFAResp for the asynchronous local
// accept/reject decision that later arrives out of band.
func (ipcp *IPCP) AllocateUpcall(name names.ApplicationName, remoteAddr names.Address) (names.PortID, error) {
	ipcp.mu.Lock()
	portID := ipcp.nextPort
	ipcp.nextPort++
	ipcp.mu.Unlock()

	if err := ipcp.kernel.BindChannel(portID, ipcp.id, kernel.ApplBind); err != nil {
		return 0, ipcerrors.Wrap(err, ipcerrors.KindTransport, "ipcp: bind channel for accepted flow")
	}

	kevt := fmt.Sprintf("%d-%d", ipcp.id, portID)
	ipcp.mu.Lock()
	ipcp.arrivals[kevt] = pendingArrival{portID: portID, applName: name}
	ipcp.mu.Unlock()

	if _, err := ipcp.kernel.SendControl(context.Background(), kernel.ControlMessage{
		Kind: kernel.MsgFAReqArrived,
		Payload: kernel.FAReqArrivedPayload{
			KEventID: kevt, IPCPID: ipcp.id, PortID: portID, RemoteAppl: name.String(),
		},
	}); err != nil {
		ipcp.log.Warn("fa_req_arrived notification failed", "err", err)
	}
	if ipcp.met != nil {
		ipcp.met.FlowAllocationsTotal.WithLabelValues("accepted").Inc()
	}
	return portID, nil
}

// CompleteOutbound implements flowalloc.Registrar: token is the
// kernel's original fa_req event_id (see handleUpcall), and is handed
// back verbatim in an FA_RESP_ARRIVED notification so the kernel can
// correlate this completion with the application's outstanding
// request.
func (ipcp *IPCP) CompleteOutbound(token any, portID names.PortID, err error) {
	eventID, _ := token.(string)
	response := 0
	outcome := "completed"
	if err != nil {
		response = 1
		outcome = "failed"
	}
	if ipcp.met != nil {
		ipcp.met.FlowAllocationsTotal.WithLabelValues(outcome).Inc()
	}
	if _, sErr := ipcp.kernel.SendControl(context.Background(), kernel.ControlMessage{
		Kind:    kernel.MsgFARespArrived,
		Payload: kernel.FARespArrivedPayload{EventID: eventID, PortID: portID, Response: response},
	}); sErr != nil {
		ipcp.log.Warn("fa_resp_arrived notification failed", "event_id", eventID, "err", sErr)
	}
}

// --- adminsock-driven mutations (run on the event loop) ---

// IPCPRegister implements the per-instance half of IPCP_REGISTER:
// record the local listener and broadcast the DFT change.
func (ipcp *IPCP) IPCPRegister(ctx context.Context, args adminsock.RegisterArgs) error {
	return ipcp.enqueue(ctx, func(ctx context.Context) error {
		key := args.ApplName.String()
		ipcp.mu.Lock()
		if args.Register {
			ipcp.apps[key] = true
		} else {
			delete(ipcp.apps, key)
		}
		ipcp.mu.Unlock()

		slice := ipcp.dftTable.Register(args.Register, args.ApplName, ipcp.self, time.Now().UnixNano())
		body, err := dft.EncodeSlice(slice)
		if err != nil {
			return ipcerrors.Wrap(err, ipcerrors.KindInternal, "ipcp: encode dft slice")
		}
		op := cdap.MCreate
		if !args.Register {
			op = cdap.MDelete
		}
		ipcp.broadcast(ipcp.neighbors.Enrolled(), &cdap.Message{OpCode: op, ObjClass: dft.ObjName, ObjName: dft.ObjName, ObjValue: cdap.BytesValue(body)})
		return nil
	})
}

// IPCPEnroll implements IPCP_ENROLL: start the initiator side of
// enrollment over an already-bound N-1 flow.
func (ipcp *IPCP) IPCPEnroll(ctx context.Context, args adminsock.EnrollArgs) error {
	return ipcp.enqueue(ctx, func(ctx context.Context) error {
		return ipcp.startEnrollment(args.NeighborName, args.PortID)
	})
}

// IPCPDFTSet implements IPCP_DFT_SET: a local administrative insert
// with no propagation to neighbors.
func (ipcp *IPCP) IPCPDFTSet(ctx context.Context, args adminsock.DFTSetArgs) error {
	return ipcp.enqueue(ctx, func(ctx context.Context) error {
		ipcp.dftTable.Set(args.ApplName, args.Address, time.Now().UnixNano())
		return nil
	})
}

// applyConfigDeltas applies a set of UIPCP_UPDATE configuration
// deltas to this running instance without recreating it. Only the
// LFDB aging knobs are currently adjustable; the aging ticker itself
// is created once in Run and does not pick up a changed age_tick
// until the instance is next restarted.
func (ipcp *IPCP) applyConfigDeltas(deltas map[string]string) error {
	for k, v := range deltas {
		switch k {
		case "lfdb_age_max":
			d, err := time.ParseDuration(v)
			if err != nil {
				return ipcerrors.Wrapf(err, ipcerrors.KindValidation, "ipcp: parse lfdb_age_max %q", v)
			}
			ipcp.cfg.LFDBAgeMax = d
		case "lfdb_age_tick":
			d, err := time.ParseDuration(v)
			if err != nil {
				return ipcerrors.Wrapf(err, ipcerrors.KindValidation, "ipcp: parse lfdb_age_tick %q", v)
			}
			ipcp.cfg.LFDBAgeTick = d
		default:
			ipcp.log.Warn("ignoring unknown config delta key", "key", k)
		}
	}
	return nil
}
