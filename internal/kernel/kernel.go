// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package kernel defines the boundary between ipcpd and the opaque
// data-plane kernel module: the control-channel message family, the
// per-port I/O channel abstraction, and a Kernel interface with a
// real (device-file) and simulated (in-memory) implementation.
package kernel

import (
	"context"

	"github.com/rina-project/ipcpd/internal/names"
)

// MsgKind discriminates a ControlMessage's Payload.
type MsgKind string

const (
	MsgIPCPCreate       MsgKind = "ipcp_create"
	MsgIPCPCreateResp   MsgKind = "ipcp_create_resp"
	MsgIPCPDestroy      MsgKind = "ipcp_destroy"
	MsgIPCPConfig       MsgKind = "ipcp_config"
	MsgIPCPUpdate       MsgKind = "ipcp_update"
	MsgApplRegister     MsgKind = "appl_register"
	MsgApplRegisterResp MsgKind = "appl_register_resp"
	MsgFAReq            MsgKind = "fa_req"
	MsgFAReqArrived     MsgKind = "fa_req_arrived"
	MsgFAResp           MsgKind = "fa_resp"
	MsgFARespArrived    MsgKind = "fa_resp_arrived"
	MsgFlowDeallocated  MsgKind = "flow_deallocated"
	MsgFlowFetch        MsgKind = "flow_fetch"
	MsgFlowFetchResp    MsgKind = "flow_fetch_resp"
	MsgBarrier          MsgKind = "barrier"
)

// UpdateType distinguishes an IPCP_UPDATE's kind of change.
type UpdateType string

const (
	UpdateAdd UpdateType = "ADD"
	UpdateUpd UpdateType = "UPD"
	UpdateDel UpdateType = "DEL"
)

// ControlMessage is the generic length-prefixed, schema-described
// record exchanged on the control channel. Kind discriminates Payload.
type ControlMessage struct {
	Kind    MsgKind     `json:"kind"`
	EventID string      `json:"event_id,omitempty"`
	KEvtID  string      `json:"kevent_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type IPCPCreatePayload struct {
	Name    string `json:"name"`
	DIFType string `json:"dif_type"`
	DIFName string `json:"dif_name"`
}

type IPCPCreateRespPayload struct {
	IPCPID uint32 `json:"ipcp_id"`
}

type IPCPDestroyPayload struct {
	IPCPID uint32 `json:"ipcp_id"`
}

type IPCPConfigPayload struct {
	IPCPID uint32 `json:"ipcp_id"`
	Param  string `json:"param"`
	Value  string `json:"value"`
}

type IPCPUpdatePayload struct {
	Update  UpdateType    `json:"update_type"`
	IPCPID  uint32        `json:"ipcp_id"`
	Name    string        `json:"name"`
	Addr    names.Address `json:"addr"`
	Depth   int           `json:"depth"`
	DIFName string        `json:"dif_name"`
	DIFType string        `json:"dif_type"`
}

type ApplRegisterPayload struct {
	EventID  string `json:"event_id"`
	IPCPID   uint32 `json:"ipcp_id"`
	Reg      bool   `json:"reg"`
	ApplName string `json:"appl_name"`
}

type ApplRegisterRespPayload struct {
	Response int `json:"response"`
}

type Flowspec struct {
	AvgBandwidth uint64 `json:"avg_bandwidth,omitempty"`
	MaxDelayMs   uint32 `json:"max_delay_ms,omitempty"`
}

type FAReqPayload struct {
	EventID      string        `json:"event_id"`
	IPCPID       uint32        `json:"ipcp_id"`
	UpperIPCPID  uint32        `json:"upper_ipcp_id"`
	LocalAppl    string        `json:"local_appl"`
	RemoteAppl   string        `json:"remote_appl"`
	Flowspec     Flowspec      `json:"flowspec"`
}

type FAReqArrivedPayload struct {
	KEventID   string        `json:"kevent_id"`
	IPCPID     uint32        `json:"ipcp_id"`
	PortID     names.PortID  `json:"port_id"`
	RemoteAppl string        `json:"remote_appl"`
}

type FARespPayload struct {
	KEventID    string       `json:"kevent_id"`
	IPCPID      uint32       `json:"ipcp_id"`
	UpperIPCPID uint32       `json:"upper_ipcp_id"`
	PortID      names.PortID `json:"port_id"`
	Response    int          `json:"response"`
}

type FARespArrivedPayload struct {
	EventID  string       `json:"event_id"`
	PortID   names.PortID `json:"port_id"`
	Response int          `json:"response"`
}

type FlowDeallocatedPayload struct {
	PortID names.PortID `json:"port_id"`
}

type FlowFetchRespPayload struct {
	End         bool          `json:"end"`
	IPCPID      uint32        `json:"ipcp_id"`
	LocalPort   names.PortID  `json:"local_port"`
	RemotePort  names.PortID  `json:"remote_port"`
	LocalAddr   names.Address `json:"local_addr"`
	RemoteAddr  names.Address `json:"remote_addr"`
}

// ChannelMode selects how an I/O channel is bound.
type ChannelMode int

const (
	ApplBind ChannelMode = iota
	IPCPMgmt
)

// SDUKind discriminates a management SDU's direction/addressing.
type SDUKind int

const (
	SDUIn SDUKind = iota
	SDUOutLocalPort
	SDUOutDstAddr
)

// ManagementSDU is an inbound/outbound SDU on an IPCP_MGMT-bound port,
// carrying a serialized CDAP message (raw or A-DATA-wrapped).
type ManagementSDU struct {
	Kind       SDUKind
	PortID     names.PortID
	RemoteAddr names.Address
	Payload    []byte
}

// Kernel is the boundary ipcpd code calls through to reach the data
// plane. SimKernel implements it in memory for tests; a real
// implementation talks to the control/management device files.
type Kernel interface {
	// SendControl writes msg to the control channel and blocks for a
	// matching response where the message kind defines one.
	SendControl(ctx context.Context, msg ControlMessage) (ControlMessage, error)
	// Upcalls returns the channel of unsolicited control messages
	// (IPCP_UPDATE, FA_REQ_ARRIVED, FA_RESP_ARRIVED, FLOW_DEALLOCATED).
	Upcalls() <-chan ControlMessage
	// BindChannel opens the per-port I/O channel in the given mode.
	BindChannel(portID names.PortID, ipcpID uint32, mode ChannelMode) error
	// SendSDU writes a management SDU on a bound IPCP_MGMT channel.
	SendSDU(sdu ManagementSDU) error
	// SDUs returns the channel of inbound management SDUs.
	SDUs() <-chan ManagementSDU
	// FlushPDUFT clears every PDUFT entry for ipcpID in the data plane.
	FlushPDUFT(ipcpID uint32) error
	// WritePDUFT installs a single (dst_addr -> port_id) forwarding
	// entry for ipcpID.
	WritePDUFT(ipcpID uint32, dst names.Address, portID names.PortID) error
}
