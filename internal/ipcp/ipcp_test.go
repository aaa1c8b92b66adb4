// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package ipcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/internal/config"
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/kernel"
	"github.com/rina-project/ipcpd/internal/logging"
	"github.com/rina-project/ipcpd/internal/metrics"
	"github.com/rina-project/ipcpd/internal/names"
	"github.com/rina-project/ipcpd/internal/neighbor"
)

func testConfig(id uint32, addr names.Address) *config.Config {
	return &config.Config{
		IPCPID:      id,
		IPCPName:    names.ApplicationName{ProcessName: "test-ipcp"},
		Address:     addr,
		DIFName:     "test.DIF",
		DIFType:     "normal",
		LFDBAgeMax:  300 * time.Second,
		LFDBAgeTick: time.Hour, // long enough that no test races the aging ticker
	}
}

func newTestIPCP(id uint32, addr names.Address) (*IPCP, *kernel.SimKernel) {
	k := kernel.NewSimKernel()
	log := logging.Default()
	met := metrics.NewMetrics()
	ip := New(testConfig(id, addr), k, log, met, nil)
	return ip, k
}

func runLoop(t *testing.T, ip *IPCP) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ip.Run(ctx) }()
	return cancel, errCh
}

// fabricateEnrolledNeighbor installs an already-Enrolled neighbor
// directly, skipping the CDAP handshake (covered separately by
// neighbor package's own FSM tests) so onEnrolled/dropNeighbor can be
// exercised in isolation.
func fabricateEnrolledNeighbor(ip *IPCP, name names.ApplicationName, portID names.PortID, addr names.Address) *neighbor.Neighbor {
	n := neighbor.New(name, portID, neighbor.RoleInitiator, MaxPendingInvokes)
	n.Address = addr
	n.SetState(neighbor.Enrolled)
	ip.neighbors.Add(n)
	ip.onEnrolled(n)
	return n
}

func TestAllocateUpcallAssignsPortAndNotifiesArrival(t *testing.T) {
	ip, _ := newTestIPCP(1, 1)

	name := names.ApplicationName{ProcessName: "server"}
	port, err := ip.AllocateUpcall(name, 2)
	require.NoError(t, err)
	assert.NotZero(t, port, "expected a nonzero port_id")

	ip.mu.Lock()
	_, tracked := ip.arrivals["1-1"]
	ip.mu.Unlock()
	assert.True(t, tracked, "expected arrival tracked under kevent_id 1-1")
}

func TestHandleFARespWarnsOnLateRejectionButDoesNotPanic(t *testing.T) {
	ip, _ := newTestIPCP(1, 1)
	name := names.ApplicationName{ProcessName: "server"}
	port, err := ip.AllocateUpcall(name, 2)
	require.NoError(t, err)

	require.NoError(t, ip.handleFAResp(kernel.FARespPayload{KEventID: "1-1", PortID: port, Response: 1}))

	ip.mu.Lock()
	_, stillTracked := ip.arrivals["1-1"]
	ip.mu.Unlock()
	assert.False(t, stillTracked, "expected arrival entry cleared after fa_resp")
}

func TestDropNeighborWithdrawsLFDBAndReleasesPort(t *testing.T) {
	ip, _ := newTestIPCP(1, 1)

	n := fabricateEnrolledNeighbor(ip, names.ApplicationName{ProcessName: "peer"}, 5, 2)
	assert.Len(t, ip.lfdbTable.Edges(), 1, "expected one originated edge after enrollment")

	ip.dropNeighbor(n)

	assert.Nil(t, ip.neighbors.Get(5), "expected neighbor removed from registry")
	assert.Len(t, ip.lfdbTable.Edges(), 0, "expected originated edge withdrawn after drop")
	// FailPendingTo's own correlation-by-destination-address behavior
	// is covered directly in the flowalloc package; here we only need
	// dropNeighbor to reach it without panicking when nothing is
	// pending.
}

func TestRecomputeRoutingInstallsPDUFTAfterEnrollment(t *testing.T) {
	ip, k := newTestIPCP(1, 1)
	fabricateEnrolledNeighbor(ip, names.ApplicationName{ProcessName: "peer"}, 5, 2)

	require.NoError(t, ip.recomputeRouting(context.Background()))

	snap := k.PDUFTSnapshot(1)
	got, ok := snap[2]
	require.True(t, ok)
	assert.EqualValues(t, 5, got, "expected pduft entry for addr 2 -> port 5")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ip, _ := newTestIPCP(1, 1)
	cancel, errCh := runLoop(t, ip)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err, "expected clean shutdown")
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunProcessesInjectedSDU(t *testing.T) {
	ip, k := newTestIPCP(1, 1)
	require.NoError(t, k.BindChannel(7, 1, kernel.IPCPMgmt))
	cancel, errCh := runLoop(t, ip)
	defer func() {
		cancel()
		<-errCh
	}()

	connect := &cdap.Message{OpCode: cdap.MConnect, InvokeID: 1}
	body, err := cdap.Encode(connect)
	require.NoError(t, err)
	k.InjectSDU(kernel.ManagementSDU{PortID: 7, Payload: body})

	deadline := time.After(time.Second)
	for {
		if n := ip.neighbors.Get(7); n != nil {
			if n.IsEnrolled() || n.State() != neighbor.EnrollNone {
				break
			}
		}
		select {
		case <-deadline:
			t.Fatal("neighbor never progressed past NONE from injected M_CONNECT")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestApplyConfigDeltasUpdatesAgingKnobs(t *testing.T) {
	ip, _ := newTestIPCP(1, 1)
	require.NoError(t, ip.applyConfigDeltas(map[string]string{"lfdb_age_max": "1m", "lfdb_age_tick": "5s"}))
	assert.Equal(t, time.Minute, ip.cfg.LFDBAgeMax)
	assert.Equal(t, 5*time.Second, ip.cfg.LFDBAgeTick)
}

func TestApplyConfigDeltasRejectsBadDuration(t *testing.T) {
	ip, _ := newTestIPCP(1, 1)
	err := ip.applyConfigDeltas(map[string]string{"lfdb_age_max": "not-a-duration"})
	require.Error(t, err)
	assert.Equal(t, ipcerrors.KindValidation, ipcerrors.GetKind(err))
}
