// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/names"
)

func TestSimKernelIPCPCreateRoundTrip(t *testing.T) {
	k := NewSimKernel()
	resp, err := k.SendControl(context.Background(), ControlMessage{Kind: MsgIPCPCreate})
	require.NoError(t, err)
	assert.Equal(t, MsgIPCPCreateResp, resp.Kind)
}

func TestSimKernelPDUFTFlushThenInstall(t *testing.T) {
	k := NewSimKernel()
	require.NoError(t, k.WritePDUFT(1, 2, 100))
	assert.Len(t, k.PDUFTSnapshot(1), 1, "expected one entry before flush")
	require.NoError(t, k.FlushPDUFT(1))
	assert.Len(t, k.PDUFTSnapshot(1), 0, "expected table empty after flush")
	assert.Equal(t, 1, k.FlushCount)
	assert.Equal(t, 1, k.WriteCount)
}

func TestSimKernelSendSDURequiresBoundPort(t *testing.T) {
	k := NewSimKernel()
	err := k.SendSDU(ManagementSDU{PortID: names.PortID(5)})
	assert.Error(t, err, "expected error for unbound port")

	require.NoError(t, k.BindChannel(5, 1, IPCPMgmt))
	assert.NoError(t, k.SendSDU(ManagementSDU{PortID: names.PortID(5)}))
}

func TestSimKernelUpcallInjection(t *testing.T) {
	k := NewSimKernel()
	k.InjectUpcall(ControlMessage{Kind: MsgFlowDeallocated, Payload: FlowDeallocatedPayload{PortID: 9}})
	msg := <-k.Upcalls()
	assert.Equal(t, MsgFlowDeallocated, msg.Kind)
}
