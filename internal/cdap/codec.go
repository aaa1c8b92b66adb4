// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package cdap

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode is the deterministic CBOR encoding mode used for every CDAP
// wire artifact, so that two equal messages always serialize to the
// same bytes (useful for HMAC signing of A-DATA payloads later, and
// for reproducible tests).
var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Encode serializes a CDAP message to bytes using a deterministic,
// schema-driven wire codec.
func Encode(msg *Message) ([]byte, error) {
	return encMode.Marshal(msg)
}

// Decode deserializes bytes produced by Encode back into a Message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeADATA serializes an A-DATA envelope.
func EncodeADATA(env *ADataEnvelope) ([]byte, error) {
	return encMode.Marshal(env)
}

// DecodeADATA deserializes an A-DATA envelope.
func DecodeADATA(data []byte) (*ADataEnvelope, error) {
	var env ADataEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// WrapADATA builds an A-DATA envelope carrying an encoded inner
// message, and the outer message that tunnels it.
func WrapADATA(srcAddr, dstAddr uint64, inner *Message) (*Message, error) {
	innerBytes, err := Encode(inner)
	if err != nil {
		return nil, err
	}
	env := &ADataEnvelope{SrcAddr: srcAddr, DstAddr: dstAddr, InnerCDAPData: innerBytes}
	envBytes, err := EncodeADATA(env)
	if err != nil {
		return nil, err
	}
	return &Message{
		OpCode:   MWrite,
		ObjClass: ADataObjClass,
		ObjName:  ADataObjName,
		ObjValue: BytesValue(envBytes),
	}, nil
}

// UnwrapADATA extracts the A-DATA envelope and decodes its inner
// message from an outer message produced by WrapADATA.
func UnwrapADATA(outer *Message) (*ADataEnvelope, *Message, error) {
	env, err := DecodeADATA(outer.ObjValue.Bytes)
	if err != nil {
		return nil, nil, err
	}
	inner, err := Decode(env.InnerCDAPData)
	if err != nil {
		return nil, nil, err
	}
	return env, inner, nil
}
