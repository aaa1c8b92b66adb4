// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package neighbor

import (
	"time"

	"github.com/rina-project/ipcpd/internal/cdap"
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
)

// EnrollState is a Neighbor's position in the enrollment dialogue.
// I_ prefixes are initiator-side states, S_ prefixes responder-side.
type EnrollState int

const (
	EnrollNone EnrollState = iota
	IWaitConnectR
	IWaitStartR
	IWaitStop
	IWaitStart
	SWaitStart
	SWaitStopR
	Enrolled
)

func (s EnrollState) String() string {
	switch s {
	case EnrollNone:
		return "NONE"
	case IWaitConnectR:
		return "I_WAIT_CONNECT_R"
	case IWaitStartR:
		return "I_WAIT_START_R"
	case IWaitStop:
		return "I_WAIT_STOP"
	case IWaitStart:
		return "I_WAIT_START"
	case SWaitStart:
		return "S_WAIT_START"
	case SWaitStopR:
		return "S_WAIT_STOP_R"
	case Enrolled:
		return "ENROLLED"
	default:
		return "UNKNOWN"
	}
}

// Object names carried by enrollment messages.
const (
	ObjEnrollment       = "/enrollment"
	ObjOperationalState = "/operational_status"
)

// DefaultStepTimeout is the per-step enrollment timeout.
const DefaultStepTimeout = 10 * time.Second

// StartPayload is the content of the initiator's M_START on /enrollment:
// its current address and the lower DIFs it participates in.
type StartPayload struct {
	Address  uint64
	LowerDIF []string
}

// StartRPayload is the content of the responder's M_START_R: its
// address, neighbor list, and LFDB snapshot for the initiator to
// install.
type StartRPayload struct {
	Address   uint64
	Neighbors []string
	LFDBSnap  []byte
}

// EnrollAction mirrors cdap.Action but for the enrollment layer: either
// send a CDAP message or run the post-enrollment sync.
type EnrollAction struct {
	Send     *cdap.Message
	SyncNow  bool
	Aborted  bool
}

// InitiatorStep advances the initiator side of the enrollment FSM on an
// inbound message (or a nil message to kick off from NONE).
func InitiatorStep(state EnrollState, msg *cdap.Message, self StartPayload) (EnrollState, []EnrollAction, error) {
	switch state {
	case EnrollNone:
		connect := &cdap.Message{OpCode: cdap.MConnect}
		return IWaitConnectR, []EnrollAction{{Send: connect}}, nil

	case IWaitConnectR:
		if msg == nil || msg.OpCode != cdap.MConnectR || msg.Result != 0 {
			return abortState(), abortActions(), enrollProtoErr(state, msg)
		}
		start := &cdap.Message{OpCode: cdap.MStart, ObjClass: ObjEnrollment, ObjName: ObjEnrollment}
		return IWaitStartR, []EnrollAction{{Send: start}}, nil

	case IWaitStartR:
		if msg == nil || msg.OpCode != cdap.MStartR || msg.ObjName != ObjEnrollment {
			return abortState(), abortActions(), enrollProtoErr(state, msg)
		}
		return IWaitStop, nil, nil

	case IWaitStop:
		if msg == nil || msg.OpCode != cdap.MStop || msg.ObjName != ObjEnrollment {
			return abortState(), abortActions(), enrollProtoErr(state, msg)
		}
		stopR := &cdap.Message{OpCode: cdap.MStopR, ObjClass: ObjEnrollment, ObjName: ObjEnrollment}
		return IWaitStart, []EnrollAction{{Send: stopR}}, nil

	case IWaitStart:
		if msg == nil || msg.OpCode != cdap.MStart || msg.ObjName != ObjOperationalState {
			return abortState(), abortActions(), enrollProtoErr(state, msg)
		}
		return Enrolled, []EnrollAction{{SyncNow: true}}, nil

	default:
		return abortState(), abortActions(), ipcerrors.Errorf(ipcerrors.KindProtocol, "neighbor: initiator step called in state %v", state)
	}
}

// ResponderStep advances the responder side of the enrollment FSM.
func ResponderStep(state EnrollState, msg *cdap.Message, self StartPayload) (EnrollState, []EnrollAction, error) {
	switch state {
	case EnrollNone:
		if msg == nil || msg.OpCode != cdap.MConnect {
			return abortState(), abortActions(), enrollProtoErr(state, msg)
		}
		connectR := &cdap.Message{OpCode: cdap.MConnectR, InvokeID: msg.InvokeID, Result: 0}
		return SWaitStart, []EnrollAction{{Send: connectR}}, nil

	case SWaitStart:
		if msg == nil || msg.OpCode != cdap.MStart || msg.ObjName != ObjEnrollment {
			return abortState(), abortActions(), enrollProtoErr(state, msg)
		}
		startR := &cdap.Message{OpCode: cdap.MStartR, InvokeID: msg.InvokeID, ObjClass: ObjEnrollment, ObjName: ObjEnrollment}
		stop := &cdap.Message{OpCode: cdap.MStop, ObjClass: ObjEnrollment, ObjName: ObjEnrollment}
		return SWaitStopR, []EnrollAction{{Send: startR}, {Send: stop}}, nil

	case SWaitStopR:
		if msg == nil || msg.OpCode != cdap.MStopR || msg.ObjName != ObjEnrollment {
			return abortState(), abortActions(), enrollProtoErr(state, msg)
		}
		opStart := &cdap.Message{OpCode: cdap.MStart, ObjClass: ObjOperationalState, ObjName: ObjOperationalState}
		return Enrolled, []EnrollAction{{Send: opStart}, {SyncNow: true}}, nil

	default:
		return abortState(), abortActions(), ipcerrors.Errorf(ipcerrors.KindProtocol, "neighbor: responder step called in state %v", state)
	}
}

func abortState() EnrollState { return EnrollNone }

func abortActions() []EnrollAction { return []EnrollAction{{Aborted: true}} }

func enrollProtoErr(state EnrollState, msg *cdap.Message) error {
	if msg == nil {
		return ipcerrors.Errorf(ipcerrors.KindTimeout, "neighbor: step timeout in state %v", state)
	}
	return ipcerrors.Errorf(ipcerrors.KindProtocol, "neighbor: unexpected %v/%s/%s in state %v", msg.OpCode, msg.ObjClass, msg.ObjName, state)
}
