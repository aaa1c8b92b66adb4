// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package flowalloc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/internal/dft"
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/kernel"
	"github.com/rina-project/ipcpd/internal/names"
)

type fakeRegistrar struct {
	mu        sync.Mutex
	listeners map[names.ApplicationName]bool
	nextPort  names.PortID
	completed []completion
}

type completion struct {
	token  any
	portID names.PortID
	err    error
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{listeners: make(map[names.ApplicationName]bool), nextPort: 1}
}

func (f *fakeRegistrar) FindListener(name names.ApplicationName) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listeners[name]
}

func (f *fakeRegistrar) AllocateUpcall(name names.ApplicationName, remoteAddr names.Address) (names.PortID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.nextPort
	f.nextPort++
	return p, nil
}

func (f *fakeRegistrar) CompleteOutbound(token any, portID names.PortID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, completion{token, portID, err})
}

func (f *fakeRegistrar) last() (completion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.completed) == 0 {
		return completion{}, false
	}
	return f.completed[len(f.completed)-1], true
}

func appl(proc string) names.ApplicationName {
	return names.ApplicationName{ProcessName: proc}
}

func TestFAReqUnknownDestination(t *testing.T) {
	table := dft.NewTable()
	reg := newFakeRegistrar()
	a := NewAllocator(1, table, reg, nil, 8)

	err := a.FAReq(appl("client"), appl("server"), kernel.Flowspec{}, "test-event")
	require.Error(t, err)
	assert.Equal(t, ipcerrors.KindResource, ipcerrors.GetKind(err), "expected UNKNOWN_DESTINATION resource error")
}

func TestFAReqLocalLoopback(t *testing.T) {
	table := dft.NewTable()
	table.Set(appl("server"), 1, 1)
	reg := newFakeRegistrar()
	a := NewAllocator(1, table, reg, nil, 8)

	require.NoError(t, a.FAReq(appl("client"), appl("server"), kernel.Flowspec{}, "test-event"))
	c, ok := reg.last()
	require.True(t, ok, "expected a completion")
	assert.NoError(t, c.err)
	assert.NotZero(t, c.portID)
}

func TestFAReqRemoteRoundTrip(t *testing.T) {
	table := dft.NewTable()
	table.Set(appl("server"), 2, 1)
	reg := newFakeRegistrar()

	var sent *cdap.Message
	var sentDst names.Address
	send := func(dst names.Address, msg *cdap.Message) error {
		sentDst = dst
		sent = msg
		return nil
	}
	a := NewAllocator(1, table, reg, send, 8)

	require.NoError(t, a.FAReq(appl("client"), appl("server"), kernel.Flowspec{}, "test-event"))
	require.NotNil(t, sent, "expected a message to be sent")
	assert.Equal(t, names.Address(2), sentDst)
	assert.Equal(t, cdap.MCreate, sent.OpCode)
	assert.Equal(t, ObjFlows, sent.ObjName)

	// Destination-side handling of the request.
	destTable := dft.NewTable()
	destReg := newFakeRegistrar()
	destReg.listeners[appl("server")] = true
	destAllocator := NewAllocator(2, destTable, destReg, nil, 8)

	envelope, err := cdap.WrapADATA(1, 2, sent)
	require.NoError(t, err)
	// The RIB dispatcher unwraps A-DATA before the flows handler sees it.
	_, inner, err := cdap.UnwrapADATA(envelope)
	require.NoError(t, err)
	reply, err := destAllocator.Handler()(context.Background(), inner, nil)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, cdap.MCreateR, reply.OpCode)
	assert.Zero(t, reply.Result)

	// Deliver the M_CREATE_R back to the initiator.
	_, err = a.Handler()(context.Background(), reply, nil)
	require.NoError(t, err)
	c, ok := reg.last()
	require.True(t, ok)
	assert.NoError(t, c.err)
	assert.NotZero(t, c.portID)
}

func TestFlowsHandlerRejectsUnregisteredApplication(t *testing.T) {
	table := dft.NewTable()
	reg := newFakeRegistrar()
	a := NewAllocator(2, table, reg, nil, 8)

	body, err := encode(FlowRequest{LocalAppl: appl("client"), RemoteAppl: appl("server")})
	require.NoError(t, err)
	req := &cdap.Message{OpCode: cdap.MCreate, InvokeID: 5, ObjClass: ObjFlows, ObjName: ObjFlows, ObjValue: cdap.BytesValue(body)}

	reply, err := a.Handler()(context.Background(), req, nil)
	require.NoError(t, err)
	assert.NotZero(t, reply.Result)
	assert.Equal(t, "APPL_NOT_REGISTERED", reply.ResultReason)
}

func TestFAReqTimeoutReleasesInvokeID(t *testing.T) {
	table := dft.NewTable()
	table.Set(appl("server"), 2, 1)
	reg := newFakeRegistrar()
	send := func(dst names.Address, msg *cdap.Message) error { return nil }
	a := NewAllocator(1, table, reg, send, 8)
	a.timeout = 20 * time.Millisecond

	require.NoError(t, a.FAReq(appl("client"), appl("server"), kernel.Flowspec{}, "test-event"))
	assert.Equal(t, 1, a.invoke.PendingLocalCount(), "expected one pending invoke-id")

	deadline := time.After(2 * time.Second)
	for {
		if c, ok := reg.last(); ok {
			assert.Equal(t, ipcerrors.KindTimeout, ipcerrors.GetKind(c.err), "expected TIMEOUT completion")
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for FAReq timeout completion")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Equal(t, 0, a.invoke.PendingLocalCount(), "expected invoke-id released after timeout")
}

func TestFAReqSendFailureReleasesInvokeID(t *testing.T) {
	table := dft.NewTable()
	table.Set(appl("server"), 2, 1)
	reg := newFakeRegistrar()
	send := func(dst names.Address, msg *cdap.Message) error {
		return ipcerrors.New(ipcerrors.KindTransport, "no route")
	}
	a := NewAllocator(1, table, reg, send, 8)

	err := a.FAReq(appl("client"), appl("server"), kernel.Flowspec{}, "test-event")
	assert.Error(t, err, "expected send failure to propagate")
	assert.Equal(t, 0, a.invoke.PendingLocalCount(), "expected invoke-id released on send failure")
}
