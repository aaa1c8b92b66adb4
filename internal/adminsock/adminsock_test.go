// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package adminsock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/names"
)

type fakeExecutor struct {
	mu        sync.Mutex
	registers []RegisterArgs
	enrolls   []EnrollArgs
	dftSets   []DFTSetArgs
	creates   []UIPCPCreateArgs
	destroys  []UIPCPDestroyArgs
	updates   []UIPCPUpdateArgs
	failNext  error
}

func (f *fakeExecutor) takeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeExecutor) IPCPRegister(ctx context.Context, args RegisterArgs) error {
	if err := f.takeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	f.registers = append(f.registers, args)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) IPCPEnroll(ctx context.Context, args EnrollArgs) error {
	if err := f.takeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	f.enrolls = append(f.enrolls, args)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) IPCPDFTSet(ctx context.Context, args DFTSetArgs) error {
	if err := f.takeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	f.dftSets = append(f.dftSets, args)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) UIPCPCreate(ctx context.Context, args UIPCPCreateArgs) error {
	if err := f.takeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	f.creates = append(f.creates, args)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) UIPCPDestroy(ctx context.Context, args UIPCPDestroyArgs) error {
	if err := f.takeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	f.destroys = append(f.destroys, args)
	f.mu.Unlock()
	return nil
}

func (f *fakeExecutor) UIPCPUpdate(ctx context.Context, args UIPCPUpdateArgs) error {
	if err := f.takeErr(); err != nil {
		return err
	}
	f.mu.Lock()
	f.updates = append(f.updates, args)
	f.mu.Unlock()
	return nil
}

func startTestServer(t *testing.T, exec Executor) (*Client, func()) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "admin.sock")

	srv := NewServer(exec)
	require.NoError(t, srv.Start(sockPath))

	client, err := Dial(sockPath)
	if err != nil {
		srv.Close()
		require.NoError(t, err, "dial")
	}

	return client, func() {
		client.Close()
		srv.Close()
	}
}

func TestIPCPRegisterRoundTrip(t *testing.T) {
	exec := &fakeExecutor{}
	client, cleanup := startTestServer(t, exec)
	defer cleanup()

	args := RegisterArgs{IPCPID: 1, ApplName: names.ApplicationName{ProcessName: "echo-server"}, Register: true}
	reply, err := client.IPCPRegister(args)
	require.NoError(t, err)
	assert.Zero(t, reply.Result)
	assert.NotEmpty(t, reply.EventID)
	if assert.Len(t, exec.registers, 1) {
		assert.Equal(t, args, exec.registers[0])
	}
}

func TestEnrollAndDFTSetRoundTrip(t *testing.T) {
	exec := &fakeExecutor{}
	client, cleanup := startTestServer(t, exec)
	defer cleanup()

	enrollReply, err := client.IPCPEnroll(EnrollArgs{IPCPID: 1, NeighborName: names.ApplicationName{ProcessName: "neighbor1"}, PortID: 7, DIFName: "dif1"})
	require.NoError(t, err)
	assert.Zero(t, enrollReply.Result)

	dftReply, err := client.IPCPDFTSet(DFTSetArgs{IPCPID: 1, ApplName: names.ApplicationName{ProcessName: "server1"}, Address: 42})
	require.NoError(t, err)
	assert.Zero(t, dftReply.Result)

	assert.Len(t, exec.enrolls, 1)
	assert.Len(t, exec.dftSets, 1)
}

func TestUIPCPLifecycle(t *testing.T) {
	exec := &fakeExecutor{}
	client, cleanup := startTestServer(t, exec)
	defer cleanup()

	_, err := client.UIPCPCreate(UIPCPCreateArgs{IPCPID: 1, IPCPName: names.ApplicationName{ProcessName: "ipcp1"}, DIFName: "dif1", DIFType: "normal", Address: 1})
	require.NoError(t, err)
	_, err = client.UIPCPUpdate(UIPCPUpdateArgs{IPCPID: 1, Config: map[string]string{"lfdb_age_max": "600s"}})
	require.NoError(t, err)
	_, err = client.UIPCPDestroy(UIPCPDestroyArgs{IPCPID: 1})
	require.NoError(t, err)

	assert.Len(t, exec.creates, 1)
	assert.Len(t, exec.updates, 1)
	assert.Len(t, exec.destroys, 1)
}

func TestExecutorErrorReturnedAsFailureResult(t *testing.T) {
	exec := &fakeExecutor{failNext: errors.New("dif not found")}
	client, cleanup := startTestServer(t, exec)
	defer cleanup()

	reply, err := client.IPCPEnroll(EnrollArgs{IPCPID: 1})
	require.NoError(t, err, "transport-level error unexpected")
	assert.NotZero(t, reply.Result)
	assert.Equal(t, "dif not found", reply.Error)
}
