// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package adminsock implements the local administrative socket: a
// net/rpc server over a Unix stream socket accepting IPCP_REGISTER,
// IPCP_ENROLL, IPCP_DFT_SET, UIPCP_CREATE, UIPCP_DESTROY, and
// UIPCP_UPDATE requests, each yielding {event_id, result}.
//
// The socket's accept loop only parses and enqueues; every mutation it
// requests runs on the IPCP's own event loop through the Executor
// interface, matching the rule that the RIB is owned by one loop and
// external threads only ever enqueue work for it.
package adminsock

import (
	"context"

	"github.com/google/uuid"

	"github.com/rina-project/ipcpd/internal/names"
)

// Result is the uniform admin-socket reply: event_id correlates the
// reply with the request that produced it, result 0 means success.
type Result struct {
	EventID string
	Result  int32
	Error   string
}

func ok() Result  { return Result{EventID: uuid.NewString(), Result: 0} }
func fail(err error) Result {
	return Result{EventID: uuid.NewString(), Result: 1, Error: err.Error()}
}

// RegisterArgs is the payload of IPCP_REGISTER: register or
// deregister a local application with an IPCP instance.
type RegisterArgs struct {
	IPCPID   uint32
	ApplName names.ApplicationName
	Register bool
}

// EnrollArgs is the payload of IPCP_ENROLL: start enrollment with a
// neighbor reachable over an N-1 DIF flow already bound to PortID.
type EnrollArgs struct {
	IPCPID       uint32
	NeighborName names.ApplicationName
	PortID       names.PortID
	DIFName      string
}

// DFTSetArgs is the payload of IPCP_DFT_SET: dft_set(name, address),
// a local administrative insert with no propagation.
type DFTSetArgs struct {
	IPCPID   uint32
	ApplName names.ApplicationName
	Address  names.Address
}

// UIPCPCreateArgs is the payload of UIPCP_CREATE: instantiate a new
// IPCP joining the named DIF at the given address.
type UIPCPCreateArgs struct {
	IPCPID   uint32
	IPCPName names.ApplicationName
	DIFName  string
	DIFType  string
	Address  names.Address
}

// UIPCPDestroyArgs is the payload of UIPCP_DESTROY.
type UIPCPDestroyArgs struct {
	IPCPID uint32
}

// UIPCPUpdateArgs is the payload of UIPCP_UPDATE: apply a set of
// configuration deltas (e.g. new enrollment targets, aging knobs) to a
// running IPCP without recreating it.
type UIPCPUpdateArgs struct {
	IPCPID uint32
	Config map[string]string
}

// Executor runs admin-socket requests on the owning IPCP's event loop.
// Implementations must not mutate RIB state from any other goroutine.
type Executor interface {
	IPCPRegister(ctx context.Context, args RegisterArgs) error
	IPCPEnroll(ctx context.Context, args EnrollArgs) error
	IPCPDFTSet(ctx context.Context, args DFTSetArgs) error
	UIPCPCreate(ctx context.Context, args UIPCPCreateArgs) error
	UIPCPDestroy(ctx context.Context, args UIPCPDestroyArgs) error
	UIPCPUpdate(ctx context.Context, args UIPCPUpdateArgs) error
}
