// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package ipcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/adminsock"
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/kernel"
	"github.com/rina-project/ipcpd/internal/logging"
	"github.com/rina-project/ipcpd/internal/metrics"
	"github.com/rina-project/ipcpd/internal/names"
)

func newTestManager() (*Manager, *kernel.SimKernel) {
	k := kernel.NewSimKernel()
	m := NewManager(logging.Default(), k, metrics.NewMetrics(), nil)
	return m, k
}

func TestBootstrapStartsRunningInstance(t *testing.T) {
	m, _ := newTestManager()
	cfg := testConfig(1, 1)

	ip, err := m.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ip.ID())

	_, err = m.Instance(1)
	require.NoError(t, err, "expected instance 1 registered")

	defer m.Shutdown()
}

func TestUIPCPCreateRejectsDuplicateID(t *testing.T) {
	m, _ := newTestManager()
	args := adminsock.UIPCPCreateArgs{
		IPCPID: 3, IPCPName: names.ApplicationName{ProcessName: "dup"}, DIFName: "x.DIF", DIFType: "normal", Address: 3,
	}
	require.NoError(t, m.UIPCPCreate(context.Background(), args))
	defer m.Shutdown()

	err := m.UIPCPCreate(context.Background(), args)
	require.Error(t, err)
	assert.Equal(t, ipcerrors.KindConflict, ipcerrors.GetKind(err), "expected conflict on duplicate ipcp_id")
}

func TestUIPCPDestroyStopsInstanceAndClearsRegistration(t *testing.T) {
	m, _ := newTestManager()
	args := adminsock.UIPCPCreateArgs{
		IPCPID: 4, IPCPName: names.ApplicationName{ProcessName: "gone"}, DIFName: "x.DIF", DIFType: "normal", Address: 4,
	}
	require.NoError(t, m.UIPCPCreate(context.Background(), args))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.UIPCPDestroy(ctx, adminsock.UIPCPDestroyArgs{IPCPID: 4}))

	_, err := m.Instance(4)
	assert.Error(t, err, "expected instance removed after destroy")
}

func TestIPCPRegisterDelegatesToNamedInstance(t *testing.T) {
	m, _ := newTestManager()
	cfg := testConfig(1, 1)
	_, err := m.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer m.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	args := adminsock.RegisterArgs{IPCPID: 1, ApplName: names.ApplicationName{ProcessName: "server"}, Register: true}
	require.NoError(t, m.IPCPRegister(ctx, args))

	ip, err := m.Instance(1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ip.dftTable.Lookup(args.ApplName), "expected dft entry for server -> addr 1")
}

func TestIPCPRegisterUnknownInstanceReturnsNotFound(t *testing.T) {
	m, _ := newTestManager()
	err := m.IPCPRegister(context.Background(), adminsock.RegisterArgs{IPCPID: 99})
	require.Error(t, err)
	assert.Equal(t, ipcerrors.KindNotFound, ipcerrors.GetKind(err), "expected not-found error for unknown instance")
}

func TestUIPCPUpdateAppliesConfigDeltas(t *testing.T) {
	m, _ := newTestManager()
	cfg := testConfig(1, 1)
	_, err := m.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer m.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = m.UIPCPUpdate(ctx, adminsock.UIPCPUpdateArgs{IPCPID: 1, Config: map[string]string{"lfdb_age_tick": "30s"}})
	require.NoError(t, err)

	ip, _ := m.Instance(1)
	assert.Equal(t, 30*time.Second, ip.cfg.LFDBAgeTick)
}
