// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package cdap implements the Common Distributed Application Protocol
// layer: stateless message framing, the A-DATA envelope, invoke-id
// management, and the per-connection state machine.
package cdap

import "fmt"

// OpCode identifies a CDAP operation. Responses are always odd-valued
// (request+1); op is a *response* iff OpCode()%2 == 1.
type OpCode uint8

const (
	MConnect   OpCode = 10
	MConnectR  OpCode = 11
	MRelease   OpCode = 20
	MReleaseR  OpCode = 21
	MCreate    OpCode = 30
	MCreateR   OpCode = 31
	MDelete    OpCode = 40
	MDeleteR   OpCode = 41
	MRead      OpCode = 50
	MReadR     OpCode = 51
	MWrite     OpCode = 60
	MWriteR    OpCode = 61
	MStart     OpCode = 70
	MStartR    OpCode = 71
	MStop      OpCode = 80
	MStopR     OpCode = 81
)

// IsResponse reports whether op is a response op-code.
func (op OpCode) IsResponse() bool { return op%2 == 1 }

func (op OpCode) String() string {
	switch op {
	case MConnect:
		return "M_CONNECT"
	case MConnectR:
		return "M_CONNECT_R"
	case MRelease:
		return "M_RELEASE"
	case MReleaseR:
		return "M_RELEASE_R"
	case MCreate:
		return "M_CREATE"
	case MCreateR:
		return "M_CREATE_R"
	case MDelete:
		return "M_DELETE"
	case MDeleteR:
		return "M_DELETE_R"
	case MRead:
		return "M_READ"
	case MReadR:
		return "M_READ_R"
	case MWrite:
		return "M_WRITE"
	case MWriteR:
		return "M_WRITE_R"
	case MStart:
		return "M_START"
	case MStartR:
		return "M_START_R"
	case MStop:
		return "M_STOP"
	case MStopR:
		return "M_STOP_R"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(op))
	}
}

// ValueKind discriminates the ObjectValue sum type.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueI32
	ValueI64
	ValueF32
	ValueF64
	ValueBool
	ValueString
	ValueBytes
)

// ObjectValue is the tagged union carried in a message's obj_value
// field. Exactly one field is meaningful, selected by Kind.
type ObjectValue struct {
	Kind   ValueKind `cbor:"1,keyasint"`
	I32    int32     `cbor:"2,keyasint,omitempty"`
	I64    int64     `cbor:"3,keyasint,omitempty"`
	F32    float32   `cbor:"4,keyasint,omitempty"`
	F64    float64   `cbor:"5,keyasint,omitempty"`
	Bool   bool      `cbor:"6,keyasint,omitempty"`
	Str    string    `cbor:"7,keyasint,omitempty"`
	Bytes  []byte    `cbor:"8,keyasint,omitempty"`
}

func NoneValue() ObjectValue              { return ObjectValue{Kind: ValueNone} }
func BytesValue(b []byte) ObjectValue     { return ObjectValue{Kind: ValueBytes, Bytes: b} }
func StringValue(s string) ObjectValue    { return ObjectValue{Kind: ValueString, Str: s} }
func I64Value(v int64) ObjectValue        { return ObjectValue{Kind: ValueI64, I64: v} }
func BoolValue(v bool) ObjectValue        { return ObjectValue{Kind: ValueBool, Bool: v} }

// Message is a single CDAP message.
type Message struct {
	AbsSyntax    int64       `cbor:"1,keyasint,omitempty"`
	OpCode       OpCode      `cbor:"2,keyasint"`
	InvokeID     uint32      `cbor:"3,keyasint"`
	Flags        uint32      `cbor:"4,keyasint,omitempty"`
	ObjClass     string      `cbor:"5,keyasint,omitempty"`
	ObjName      string      `cbor:"6,keyasint,omitempty"`
	ObjInst      int64       `cbor:"7,keyasint,omitempty"`
	ObjValue     ObjectValue `cbor:"8,keyasint"`
	Result       int32       `cbor:"9,keyasint,omitempty"`
	ResultReason string      `cbor:"10,keyasint,omitempty"`
	Scope        int32       `cbor:"11,keyasint,omitempty"`
	Filter       string      `cbor:"12,keyasint,omitempty"`
	AuthMech     string      `cbor:"13,keyasint,omitempty"`
	AuthValue    []byte      `cbor:"14,keyasint,omitempty"`
	SrcAppl      string      `cbor:"15,keyasint,omitempty"`
	DstAppl      string      `cbor:"16,keyasint,omitempty"`
	Version      int64       `cbor:"17,keyasint,omitempty"`
}

// IsResponse reports whether this message is a response (odd op-code).
func (m *Message) IsResponse() bool { return m.OpCode.IsResponse() }

// ADataEnvelope tunnels a CDAP message between non-adjacent IPCPs.
type ADataEnvelope struct {
	SrcAddr       uint64 `cbor:"1,keyasint"`
	DstAddr       uint64 `cbor:"2,keyasint"`
	InnerCDAPData []byte `cbor:"3,keyasint"`
}

// ADataObjClass and ADataObjName identify an A-DATA message on the
// wire: obj_class == obj_name == "a_data".
const (
	ADataObjClass = "a_data"
	ADataObjName  = "a_data"
)
