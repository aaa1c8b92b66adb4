// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package dft

import (
	"context"

	"github.com/fxamacker/cbor/v2"

	"github.com/rina-project/ipcpd/internal/cdap"
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/neighbor"
)

// EncodeSlice and DecodeSlice (de)serialize a Slice for an obj_value.
func EncodeSlice(s Slice) ([]byte, error) { return cbor.Marshal(s) }

func DecodeSlice(b []byte) (Slice, error) {
	var s Slice
	if err := cbor.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Broadcaster abstracts "send this message to these neighbors" so the
// handler can be unit tested without a live CDAP connection.
type Broadcaster func(targets []*neighbor.Neighbor, msg *cdap.Message)

// Handler builds a rib.Handler-shaped closure bound to table, the
// neighbor registry, and a broadcaster used to forward surviving
// slices to every enrolled neighbor except the sender.
func Handler(table *Table, reg *neighbor.Registry, broadcast Broadcaster) func(context.Context, *cdap.Message, *neighbor.Neighbor) (*cdap.Message, error) {
	return func(ctx context.Context, msg *cdap.Message, sender *neighbor.Neighbor) (*cdap.Message, error) {
		incoming, err := DecodeSlice(msg.ObjValue.Bytes)
		if err != nil {
			// Malformed slice: dropped with no reply and no error, so
			// nothing logs it; the sender is not penalized.
			return nil, nil
		}

		switch msg.OpCode {
		case cdap.MCreate, cdap.MDelete:
			changed, ok := table.Merge(incoming)
			if !ok {
				return nil, nil // no-op merge: loop prevention, no re-broadcast.
			}
			body, err := EncodeSlice(changed)
			if err != nil {
				return nil, ipcerrors.Wrap(err, ipcerrors.KindInternal, "dft: encode forwarded slice")
			}
			fwd := &cdap.Message{
				OpCode:   msg.OpCode,
				ObjClass: ObjName,
				ObjName:  ObjName,
				ObjValue: cdap.BytesValue(body),
			}
			broadcast(reg.EnrolledExcept(sender), fwd)
			return nil, nil
		default:
			return nil, ipcerrors.Errorf(ipcerrors.KindProtocol, "dft: unexpected op %v on %s", msg.OpCode, msg.ObjName)
		}
	}
}
