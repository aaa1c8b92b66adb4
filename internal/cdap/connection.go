// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package cdap

import (
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
)

// ConnState is a CDAP connection's state.
type ConnState int

const (
	StateNone ConnState = iota
	StateAwaitConnect
	StateConnected
	StateAwaitClose
)

func (s ConnState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateAwaitConnect:
		return "AWAIT_CON"
	case StateConnected:
		return "CONNECTED"
	case StateAwaitClose:
		return "AWAIT_CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Direction distinguishes an outbound message (about to be sent) from
// an inbound one (just received), since the FSM table treats send and
// recv of the same op-code differently in some states.
type Direction int

const (
	DirSend Direction = iota
	DirRecv
)

// ActionKind enumerates the side effects the event loop must perform
// after a Step call.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionEnqueueSend
	ActionCloseFlow
)

// Action is one side effect requested by Step.
type Action struct {
	Kind ActionKind
	Msg  *Message // set when Kind == ActionEnqueueSend
}

// Step computes the next connection state and the actions the caller
// must perform, given the current state, whether msg is being sent or
// received, and the message itself. It is a pure function: it does not
// touch invoke-ids or sockets, keeping side effects out of the state
// logic so the transition table stays testable in isolation.
func Step(state ConnState, dir Direction, msg *Message) (ConnState, []Action, error) {
	switch state {
	case StateNone:
		switch {
		case dir == DirSend && msg.OpCode == MConnect:
			return StateAwaitConnect, nil, nil
		case dir == DirRecv && msg.OpCode == MConnect:
			reply := &Message{OpCode: MConnectR, InvokeID: msg.InvokeID, Result: 0}
			return StateConnected, []Action{{Kind: ActionEnqueueSend, Msg: reply}}, nil
		default:
			return StateNone, []Action{{Kind: ActionCloseFlow}}, protocolError(state, dir, msg)
		}

	case StateAwaitConnect:
		switch {
		case dir == DirRecv && msg.OpCode == MConnectR && msg.Result == 0:
			return StateConnected, nil, nil
		case dir == DirRecv && msg.OpCode == MConnectR && msg.Result != 0:
			return StateNone, []Action{{Kind: ActionCloseFlow}}, nil
		default:
			return StateNone, []Action{{Kind: ActionCloseFlow}}, protocolError(state, dir, msg)
		}

	case StateConnected:
		switch {
		case dir == DirSend && msg.OpCode == MRelease:
			return StateAwaitClose, nil, nil
		case dir == DirRecv && msg.OpCode == MRelease:
			reply := &Message{OpCode: MReleaseR, InvokeID: msg.InvokeID, Result: 0}
			return StateNone, []Action{{Kind: ActionEnqueueSend, Msg: reply}, {Kind: ActionCloseFlow}}, nil
		default:
			// Any other send/recv op-code is ordinary CDAP traffic;
			// invoke-id bookkeeping is handled by Connection, not here.
			return StateConnected, nil, nil
		}

	case StateAwaitClose:
		switch {
		case dir == DirRecv && msg.OpCode == MReleaseR:
			return StateNone, []Action{{Kind: ActionCloseFlow}}, nil
		default:
			return StateNone, []Action{{Kind: ActionCloseFlow}}, protocolError(state, dir, msg)
		}

	default:
		return StateNone, []Action{{Kind: ActionCloseFlow}}, ipcerrors.Errorf(ipcerrors.KindProtocol, "cdap: unknown state %v", state)
	}
}

func protocolError(state ConnState, dir Direction, msg *Message) error {
	verb := "send"
	if dir == DirRecv {
		verb = "recv"
	}
	return ipcerrors.Errorf(ipcerrors.KindProtocol, "cdap: unexpected %s of %v in state %v", verb, msg.OpCode, state)
}

// Connection is the stateful half of the CDAP layer: one per Neighbor.
// It owns the FSM state and the invoke-id bookkeeping that Step
// deliberately leaves out.
type Connection struct {
	State     ConnState
	InvokeIDs *InvokeIDManager
}

// NewConnection creates a connection in state NONE with the given
// max_pending bound on concurrent outstanding operations.
func NewConnection(maxPending int) *Connection {
	return &Connection{
		State:     StateNone,
		InvokeIDs: NewInvokeIDManager(maxPending),
	}
}

// Send advances the connection for an outbound message, performing
// invoke-id bookkeeping for requests, and returns the actions the
// caller (the Neighbor/event loop) must perform.
func (c *Connection) Send(msg *Message) ([]Action, error) {
	if c.State == StateConnected && !msg.OpCode.IsResponse() && msg.OpCode != MRelease {
		id, err := c.InvokeIDs.NewLocalRequest()
		if err != nil {
			return nil, err
		}
		msg.InvokeID = id
	}
	next, actions, err := Step(c.State, DirSend, msg)
	c.State = next
	return actions, err
}

// Recv advances the connection for an inbound message, performing
// invoke-id bookkeeping, and returns the actions the caller must
// perform (e.g. enqueue an M_CONNECT_R, tear down the flow).
func (c *Connection) Recv(msg *Message) ([]Action, error) {
	// Invoke-id bookkeeping happens regardless of FSM acceptance so
	// that a protocol violation still clears the relevant id before
	// the connection is abandoned.
	if c.State == StateConnected {
		if msg.OpCode.IsResponse() {
			if err := c.InvokeIDs.MatchResponse(msg.InvokeID); err != nil {
				return nil, err
			}
		} else if msg.OpCode != MRelease {
			if err := c.InvokeIDs.RecordRemoteRequest(msg.InvokeID); err != nil {
				return nil, err
			}
		}
	}

	next, actions, err := Step(c.State, DirRecv, msg)
	c.State = next
	if err != nil {
		c.InvokeIDs.ReleaseAll()
	}
	return actions, err
}

// ReplyTo clears msg's invoke-id from pending_remote once the handler
// has sent the matching response.
func (c *Connection) ReplyTo(msg *Message) {
	c.InvokeIDs.ClearRemoteRequest(msg.InvokeID)
}

// Abort forces the connection to NONE and releases all invoke-ids: after
// any enrollment abort, no invoke-ids should remain outstanding.
func (c *Connection) Abort() {
	c.State = StateNone
	c.InvokeIDs.ReleaseAll()
}
