// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package ipcp

import (
	"context"
	"sync"

	"github.com/rina-project/ipcpd/internal/adminsock"
	"github.com/rina-project/ipcpd/internal/config"
	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/kernel"
	"github.com/rina-project/ipcpd/internal/lfdb"
	"github.com/rina-project/ipcpd/internal/logging"
	"github.com/rina-project/ipcpd/internal/metrics"
	"github.com/rina-project/ipcpd/internal/persist"
)

// instance ties a running IPCP to the goroutine executing its event
// loop, so Manager can cancel and wait for it on destroy/shutdown.
type instance struct {
	ipcp   *IPCP
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns every IPCP instance on this node and is the process-wide
// adminsock.Executor: it resolves each request's ipcp_id to the right
// instance's own event loop, and itself handles the daemon-wide
// UIPCP_CREATE/UIPCP_DESTROY/UIPCP_UPDATE operations that create or
// tear down instances.
type Manager struct {
	mu        sync.Mutex
	log       *logging.Logger
	kern      kernel.Kernel
	met       *metrics.Metrics
	pst       *persist.Registry
	instances map[uint32]*instance
}

// NewManager creates an empty Manager. Use Bootstrap or UIPCPCreate to
// populate it with running instances.
func NewManager(log *logging.Logger, k kernel.Kernel, met *metrics.Metrics, pst *persist.Registry) *Manager {
	return &Manager{
		log:       log,
		kern:      k,
		met:       met,
		pst:       pst,
		instances: make(map[uint32]*instance),
	}
}

func (m *Manager) get(id uint32) (*instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, ipcerrors.Errorf(ipcerrors.KindNotFound, "ipcp: no instance with ipcp_id %d", id)
	}
	return inst, nil
}

// spawn creates and starts the IPCP instance for cfg, recording it
// under cfg.IPCPID. The caller must hold no lock.
func (m *Manager) spawn(cfg *config.Config) *IPCP {
	ip := New(cfg, m.kern, m.log, m.met, m.pst)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ip.Run(ctx); err != nil {
			m.log.Error("ipcp instance terminated", "ipcp_id", cfg.IPCPID, "err", err)
		}
	}()

	m.mu.Lock()
	m.instances[cfg.IPCPID] = &instance{ipcp: ip, cancel: cancel, done: done}
	m.mu.Unlock()
	return ip
}

// Bootstrap creates and starts a single IPCP instance directly from a
// config file, bypassing the admin socket entirely, the path used by
// the daemon's own entrypoint at startup. It does not attempt to
// enroll cfg.Enroll targets automatically: this codebase has no
// modeled primitive for "allocate a flow over the lower DIF to reach
// a named neighbor," so each target's N-1 flow must already exist
// (e.g. provisioned by the data plane out of band) before an explicit
// ipcpctl enroll call can use it.
func (m *Manager) Bootstrap(ctx context.Context, cfg *config.Config) (*IPCP, error) {
	if _, err := m.kern.SendControl(ctx, kernel.ControlMessage{
		Kind: kernel.MsgIPCPCreate,
		Payload: kernel.IPCPCreatePayload{
			Name: cfg.IPCPName.String(), DIFType: cfg.DIFType, DIFName: cfg.DIFName,
		},
	}); err != nil {
		return nil, ipcerrors.Wrap(err, ipcerrors.KindTransport, "ipcp: ipcp_create")
	}

	ip := m.spawn(cfg)

	if m.pst != nil {
		if err := m.pst.Upsert(persist.Record{DIFName: cfg.DIFName, IPCPID: cfg.IPCPID, IPCPName: cfg.IPCPName}); err != nil {
			m.log.Warn("persist registration record failed", "ipcp_id", cfg.IPCPID, "err", err)
		}
	}

	if len(cfg.Enroll) > 0 {
		m.log.Info("enrollment targets configured; awaiting explicit enroll requests over established n-1 flows", "ipcp_id", cfg.IPCPID, "targets", len(cfg.Enroll))
	}
	return ip, nil
}

// IPCPRegister delegates to the named instance's own method.
func (m *Manager) IPCPRegister(ctx context.Context, args adminsock.RegisterArgs) error {
	inst, err := m.get(args.IPCPID)
	if err != nil {
		return err
	}
	return inst.ipcp.IPCPRegister(ctx, args)
}

// IPCPEnroll delegates to the named instance's own method.
func (m *Manager) IPCPEnroll(ctx context.Context, args adminsock.EnrollArgs) error {
	inst, err := m.get(args.IPCPID)
	if err != nil {
		return err
	}
	return inst.ipcp.IPCPEnroll(ctx, args)
}

// IPCPDFTSet delegates to the named instance's own method.
func (m *Manager) IPCPDFTSet(ctx context.Context, args adminsock.DFTSetArgs) error {
	inst, err := m.get(args.IPCPID)
	if err != nil {
		return err
	}
	return inst.ipcp.IPCPDFTSet(ctx, args)
}

// UIPCPCreate instantiates a new IPCP joining args.DIFName at
// args.Address, and records its membership in the registration file.
func (m *Manager) UIPCPCreate(ctx context.Context, args adminsock.UIPCPCreateArgs) error {
	m.mu.Lock()
	_, exists := m.instances[args.IPCPID]
	m.mu.Unlock()
	if exists {
		return ipcerrors.Errorf(ipcerrors.KindConflict, "ipcp: ipcp_id %d already exists", args.IPCPID)
	}

	if _, err := m.kern.SendControl(ctx, kernel.ControlMessage{
		Kind: kernel.MsgIPCPCreate,
		Payload: kernel.IPCPCreatePayload{
			Name: args.IPCPName.String(), DIFType: args.DIFType, DIFName: args.DIFName,
		},
	}); err != nil {
		return ipcerrors.Wrap(err, ipcerrors.KindTransport, "ipcp: ipcp_create")
	}

	cfg := &config.Config{
		IPCPID:      args.IPCPID,
		IPCPName:    args.IPCPName,
		Address:     args.Address,
		DIFName:     args.DIFName,
		DIFType:     args.DIFType,
		LFDBAgeMax:  lfdb.DefaultAgeMax,
		LFDBAgeTick: lfdb.DefaultAgeTick,
	}
	m.spawn(cfg)

	if m.pst != nil {
		if err := m.pst.Upsert(persist.Record{DIFName: args.DIFName, IPCPID: args.IPCPID, IPCPName: args.IPCPName}); err != nil {
			m.log.Warn("persist registration record failed", "ipcp_id", args.IPCPID, "err", err)
		}
	}
	return nil
}

// UIPCPDestroy cancels and waits for the named instance, tells the
// kernel to tear down its data-plane state, and drops its
// registration record.
func (m *Manager) UIPCPDestroy(ctx context.Context, args adminsock.UIPCPDestroyArgs) error {
	inst, err := m.get(args.IPCPID)
	if err != nil {
		return err
	}

	inst.cancel()
	select {
	case <-inst.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	delete(m.instances, args.IPCPID)
	m.mu.Unlock()

	if _, err := m.kern.SendControl(ctx, kernel.ControlMessage{
		Kind:    kernel.MsgIPCPDestroy,
		Payload: kernel.IPCPDestroyPayload{IPCPID: args.IPCPID},
	}); err != nil {
		m.log.Warn("ipcp_destroy control message failed", "ipcp_id", args.IPCPID, "err", err)
	}

	if m.pst != nil {
		if err := m.pst.Remove(args.IPCPID); err != nil {
			m.log.Warn("remove registration record failed", "ipcp_id", args.IPCPID, "err", err)
		}
	}
	return nil
}

// UIPCPUpdate applies configuration deltas to a running instance
// without recreating it.
func (m *Manager) UIPCPUpdate(ctx context.Context, args adminsock.UIPCPUpdateArgs) error {
	inst, err := m.get(args.IPCPID)
	if err != nil {
		return err
	}
	return inst.ipcp.enqueue(ctx, func(ctx context.Context) error {
		return inst.ipcp.applyConfigDeltas(args.Config)
	})
}

// Instance returns the running IPCP for id, or an error if none exists.
func (m *Manager) Instance(id uint32) (*IPCP, error) {
	inst, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return inst.ipcp, nil
}

// Shutdown cancels and waits for every running instance.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	insts := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	m.mu.Unlock()

	for _, inst := range insts {
		inst.cancel()
	}
	for _, inst := range insts {
		<-inst.done
	}
}

var _ adminsock.Executor = (*Manager)(nil)
