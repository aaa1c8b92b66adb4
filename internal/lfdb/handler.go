// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package lfdb

import (
	"context"

	"github.com/fxamacker/cbor/v2"

	"github.com/rina-project/ipcpd/internal/cdap"
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/neighbor"
)

func EncodeSlice(s Slice) ([]byte, error) { return cbor.Marshal(s) }

func DecodeSlice(b []byte) (Slice, error) {
	var s Slice
	if err := cbor.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Broadcaster sends msg to every target neighbor.
type Broadcaster func(targets []*neighbor.Neighbor, msg *cdap.Message)

// Handler builds a rib.Handler-shaped closure. onChanged is invoked
// once per accepted mutation, after the forward broadcast, so the
// caller can schedule (or rearm) a debounced SPEngine recomputation.
func Handler(table *Table, reg *neighbor.Registry, broadcast Broadcaster, onChanged func()) func(context.Context, *cdap.Message, *neighbor.Neighbor) (*cdap.Message, error) {
	return func(ctx context.Context, msg *cdap.Message, sender *neighbor.Neighbor) (*cdap.Message, error) {
		incoming, err := DecodeSlice(msg.ObjValue.Bytes)
		if err != nil {
			return nil, nil // malformed slice: dropped without a log entry, sender not penalized.
		}

		switch msg.OpCode {
		case cdap.MCreate, cdap.MDelete:
			changed, ok := table.Merge(incoming)
			if !ok {
				return nil, nil
			}
			body, err := EncodeSlice(changed)
			if err != nil {
				return nil, ipcerrors.Wrap(err, ipcerrors.KindInternal, "lfdb: encode forwarded slice")
			}
			fwd := &cdap.Message{
				OpCode:   msg.OpCode,
				ObjClass: ObjName,
				ObjName:  ObjName,
				ObjValue: cdap.BytesValue(body),
			}
			broadcast(reg.EnrolledExcept(sender), fwd)
			if onChanged != nil {
				onChanged()
			}
			return nil, nil
		default:
			return nil, ipcerrors.Errorf(ipcerrors.KindProtocol, "lfdb: unexpected op %v on %s", msg.OpCode, msg.ObjName)
		}
	}
}
