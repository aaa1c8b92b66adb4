// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package rib implements the object-name dispatcher that routes CDAP
// messages to the handler owning the target RIB object.
package rib

import (
	"context"
	"strings"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/internal/names"
	"github.com/rina-project/ipcpd/internal/neighbor"
)

// Handler processes a CDAP message addressed to an object this RIB
// owns. neigh is nil when the message arrived via an A-DATA tunnel
// rather than directly from an adjacent neighbor; in that case the
// message's true origin address is available via SourceAddr(ctx).
type Handler func(ctx context.Context, msg *cdap.Message, neigh *neighbor.Neighbor) (*cdap.Message, error)

type adataSourceKey struct{}

// SourceAddr returns the originating address of msg when it arrived
// tunneled over A-DATA (neigh == nil in the handler), or
// (names.NullAddress, false) for a message received directly from an
// adjacent neighbor.
func SourceAddr(ctx context.Context) (names.Address, bool) {
	addr, ok := ctx.Value(adataSourceKey{}).(names.Address)
	return addr, ok
}

// Dispatcher holds the obj_name -> Handler table for one IPCP's RIB.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds a handler to an exact object name.
func (d *Dispatcher) Register(objName string, h Handler) {
	d.handlers[objName] = h
}

// Dispatch routes msg to the handler for its obj_name. It tries an
// exact match first; failing that, it strips the last path segment and
// retries once (container-object fallback). A-DATA messages
// (obj_class == obj_name == "a_data") are unwrapped and re-dispatched
// with neigh set to nil and the envelope's source address attached to
// ctx, since the inner message is addressed from the source address
// rather than from the adjacent neighbor.
//
// If no handler accepts the message: requests get an OBJECT_NOT_FOUND
// reply; responses are logged by the caller and dropped (Dispatch
// returns a nil reply and a nil error in that case).
func (d *Dispatcher) Dispatch(ctx context.Context, msg *cdap.Message, neigh *neighbor.Neighbor) (*cdap.Message, error) {
	if msg.ObjClass == cdap.ADataObjClass && msg.ObjName == cdap.ADataObjName {
		env, inner, err := cdap.UnwrapADATA(msg)
		if err != nil {
			return nil, err
		}
		innerCtx := context.WithValue(ctx, adataSourceKey{}, names.Address(env.SrcAddr))
		return d.Dispatch(innerCtx, inner, nil)
	}

	if h, ok := d.handlers[msg.ObjName]; ok {
		return h(ctx, msg, neigh)
	}

	if parent, ok := containerOf(msg.ObjName); ok {
		if h, ok := d.handlers[parent]; ok {
			return h(ctx, msg, neigh)
		}
	}

	if msg.IsResponse() {
		return nil, nil
	}
	return notFoundReply(msg), nil
}

// containerOf strips the last '/'-delimited path segment from name,
// e.g. "/dif/mgmt/fa/dft/entry1" -> "/dif/mgmt/fa/dft". Returns false
// if name has no parent (root or empty).
func containerOf(name string) (string, bool) {
	trimmed := strings.TrimSuffix(name, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return "", false
	}
	return trimmed[:idx], true
}

func notFoundReply(req *cdap.Message) *cdap.Message {
	return &cdap.Message{
		OpCode:       req.OpCode + 1,
		InvokeID:     req.InvokeID,
		ObjClass:     req.ObjClass,
		ObjName:      req.ObjName,
		Result:       1,
		ResultReason: "OBJECT_NOT_FOUND",
	}
}
