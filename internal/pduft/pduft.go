// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package pduft mirrors the SPEngine's routing table into the data
// plane's PDU Forwarding Table via a flush-then-install sync.
package pduft

import (
	"github.com/rina-project/ipcpd/internal/kernel"
	"github.com/rina-project/ipcpd/internal/names"
	"github.com/rina-project/ipcpd/internal/neighbor"
	"github.com/rina-project/ipcpd/internal/spengine"
)

// Entry is one locally-mirrored PDUFT record.
type Entry struct {
	DstAddr names.Address
	PortID  names.PortID
}

// SyncResult reports the outcome of one pduft_sync pass.
type SyncResult struct {
	Installed    []Entry
	Inconsistent []names.Address // destinations whose next hop has no matching Neighbor yet
	WriteErrors  int             // failed writes; counted, never fatal
}

// Installer owns the local PDUFT mirror for one IPCP instance and
// drives it into the kernel.
type Installer struct {
	kernel kernel.Kernel
	ipcpID uint32
	reg    *neighbor.Registry

	mirror map[names.Address]Entry
}

// NewInstaller creates an Installer writing into ipcpID's data-plane
// forwarding table via k, resolving next-hop addresses against reg.
func NewInstaller(k kernel.Kernel, ipcpID uint32, reg *neighbor.Registry) *Installer {
	return &Installer{kernel: k, ipcpID: ipcpID, reg: reg, mirror: make(map[names.Address]Entry)}
}

// Sync performs flush-then-install: for each next-hop address, it
// resolves the Neighbor owning that address to get its port_id (a
// next-hop with no matching Neighbor is a transient inconsistency,
// logged and skipped by the caller, retried on the next sync); it then
// flushes every PDUFT entry for this IPCP and writes the resolved set.
// Write failures are counted, never fatal, and retried on the next
// sync.
func (in *Installer) Sync(rt spengine.RoutingTable) SyncResult {
	var result SyncResult
	resolved := make(map[names.Address]names.PortID, len(rt))

	for dst, nextHop := range rt {
		n := in.findByAddress(nextHop)
		if n == nil {
			result.Inconsistent = append(result.Inconsistent, dst)
			continue
		}
		resolved[dst] = n.PortID
	}

	if err := in.kernel.FlushPDUFT(in.ipcpID); err != nil {
		result.WriteErrors++
		return result
	}
	in.mirror = make(map[names.Address]Entry)

	for dst, portID := range resolved {
		if err := in.kernel.WritePDUFT(in.ipcpID, dst, portID); err != nil {
			result.WriteErrors++
			continue
		}
		e := Entry{DstAddr: dst, PortID: portID}
		in.mirror[dst] = e
		result.Installed = append(result.Installed, e)
	}
	return result
}

func (in *Installer) findByAddress(addr names.Address) *neighbor.Neighbor {
	for _, n := range in.reg.All() {
		if n.Address == addr {
			return n
		}
	}
	return nil
}

// Lookup returns the locally-mirrored port_id for dst, or false if
// absent.
func (in *Installer) Lookup(dst names.Address) (names.PortID, bool) {
	e, ok := in.mirror[dst]
	return e.PortID, ok
}
