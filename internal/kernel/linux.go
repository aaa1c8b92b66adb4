// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

//go:build linux

package kernel

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"sync"

	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/names"
)

// LinuxKernel talks to the real data-plane kernel module over a
// control device and a set of per-port I/O devices. Records on the
// control channel are length-prefixed JSON, matching the "schema
// described" framing; the module itself defines the actual binary
// layout on real hardware, this is the user-space side of that
// contract.
type LinuxKernel struct {
	controlPath string
	mgmtDir     string

	mu      sync.Mutex
	control *os.File

	portsMu sync.Mutex
	ports   map[names.PortID]*os.File

	upcalls chan ControlMessage
	sdus    chan ManagementSDU
}

// NewLinuxKernel opens the control device at controlPath; per-port I/O
// devices under mgmtDir are opened lazily by BindChannel.
func NewLinuxKernel(controlPath, mgmtDir string) (*LinuxKernel, error) {
	f, err := os.OpenFile(controlPath, os.O_RDWR, 0)
	if err != nil {
		return nil, ipcerrors.Wrap(err, ipcerrors.KindFatal, "kernel: open control device")
	}
	k := &LinuxKernel{
		controlPath: controlPath,
		mgmtDir:     mgmtDir,
		control:     f,
		ports:       make(map[names.PortID]*os.File),
		upcalls:     make(chan ControlMessage, 64),
		sdus:        make(chan ManagementSDU, 64),
	}
	go k.readControlLoop()
	return k, nil
}

func (k *LinuxKernel) readControlLoop() {
	for {
		msg, err := readFramed[ControlMessage](k.control)
		if err != nil {
			close(k.upcalls)
			return
		}
		k.upcalls <- msg
	}
}

// SendControl writes msg to the control device and returns at once
// with an empty ControlMessage. It does not wait for a response; any
// reply the module sends arrives on Upcalls.
func (k *LinuxKernel) SendControl(ctx context.Context, msg ControlMessage) (ControlMessage, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := writeFramed(k.control, msg); err != nil {
		return ControlMessage{}, ipcerrors.Wrap(err, ipcerrors.KindTransport, "kernel: write control channel")
	}
	return ControlMessage{}, nil
}

func (k *LinuxKernel) Upcalls() <-chan ControlMessage { return k.upcalls }

func (k *LinuxKernel) BindChannel(portID names.PortID, ipcpID uint32, mode ChannelMode) error {
	path := k.mgmtDir + "/" + portFileName(portID)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return ipcerrors.Wrap(err, ipcerrors.KindTransport, "kernel: bind channel")
	}
	k.portsMu.Lock()
	k.ports[portID] = f
	k.portsMu.Unlock()
	if mode == IPCPMgmt {
		go k.readSDULoop(portID, f)
	}
	return nil
}

func (k *LinuxKernel) readSDULoop(portID names.PortID, f *os.File) {
	for {
		sdu, err := readFramed[ManagementSDU](f)
		if err != nil {
			return
		}
		sdu.PortID = portID
		k.sdus <- sdu
	}
}

func (k *LinuxKernel) SendSDU(sdu ManagementSDU) error {
	k.portsMu.Lock()
	f, ok := k.ports[sdu.PortID]
	k.portsMu.Unlock()
	if !ok {
		return ipcerrors.New(ipcerrors.KindTransport, "kernel: SendSDU on unbound port")
	}
	if err := writeFramed(f, sdu); err != nil {
		return ipcerrors.Wrap(err, ipcerrors.KindTransport, "kernel: write management SDU")
	}
	return nil
}

func (k *LinuxKernel) SDUs() <-chan ManagementSDU { return k.sdus }

func (k *LinuxKernel) FlushPDUFT(ipcpID uint32) error {
	_, err := k.SendControl(context.Background(), ControlMessage{Kind: MsgIPCPConfig, Payload: IPCPConfigPayload{IPCPID: ipcpID, Param: "pduft_flush"}})
	return err
}

func (k *LinuxKernel) WritePDUFT(ipcpID uint32, dst names.Address, portID names.PortID) error {
	_, err := k.SendControl(context.Background(), ControlMessage{
		Kind: MsgIPCPConfig,
		Payload: IPCPConfigPayload{
			IPCPID: ipcpID,
			Param:  "pduft_write",
			Value:  strconv.FormatUint(uint64(dst), 10) + " " + strconv.FormatUint(uint64(portID), 10),
		},
	})
	return err
}

func portFileName(portID names.PortID) string {
	return "port_" + strconv.FormatUint(uint64(portID), 10)
}

func writeFramed(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFramed[T any](r io.Reader) (T, error) {
	var zero T
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return zero, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return zero, err
	}
	return v, nil
}
