// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package adminsock

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"os"
)

// Server exposes an Executor over net/rpc on a Unix stream socket.
// The exported method set below is the RPC service surface; method
// names match the admin-socket request names directly.
type Server struct {
	exec     Executor
	listener net.Listener
}

// NewServer creates a Server bound to exec. Start or StartWithListener
// must be called to begin accepting connections.
func NewServer(exec Executor) *Server {
	return &Server{exec: exec}
}

// Start removes any stale socket at path, listens on it, and begins
// accepting connections in the background.
func (s *Server) Start(path string) error {
	os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("adminsock: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("adminsock: chmod %s: %w", path, err)
	}
	return s.StartWithListener(listener)
}

// StartWithListener registers the RPC service on listener and accepts
// connections until Close is called.
func (s *Server) StartWithListener(listener net.Listener) error {
	s.listener = listener
	if err := rpc.Register(s); err != nil {
		return fmt.Errorf("adminsock: register rpc service: %w", err)
	}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go rpc.ServeConn(conn)
		}
	}()
	return nil
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// IPCPRegister is the RPC entry point for IPCP_REGISTER.
func (s *Server) IPCPRegister(args *RegisterArgs, reply *Result) error {
	if err := s.exec.IPCPRegister(context.Background(), *args); err != nil {
		*reply = fail(err)
		return nil
	}
	*reply = ok()
	return nil
}

// IPCPEnroll is the RPC entry point for IPCP_ENROLL.
func (s *Server) IPCPEnroll(args *EnrollArgs, reply *Result) error {
	if err := s.exec.IPCPEnroll(context.Background(), *args); err != nil {
		*reply = fail(err)
		return nil
	}
	*reply = ok()
	return nil
}

// IPCPDFTSet is the RPC entry point for IPCP_DFT_SET.
func (s *Server) IPCPDFTSet(args *DFTSetArgs, reply *Result) error {
	if err := s.exec.IPCPDFTSet(context.Background(), *args); err != nil {
		*reply = fail(err)
		return nil
	}
	*reply = ok()
	return nil
}

// UIPCPCreate is the RPC entry point for UIPCP_CREATE.
func (s *Server) UIPCPCreate(args *UIPCPCreateArgs, reply *Result) error {
	if err := s.exec.UIPCPCreate(context.Background(), *args); err != nil {
		*reply = fail(err)
		return nil
	}
	*reply = ok()
	return nil
}

// UIPCPDestroy is the RPC entry point for UIPCP_DESTROY.
func (s *Server) UIPCPDestroy(args *UIPCPDestroyArgs, reply *Result) error {
	if err := s.exec.UIPCPDestroy(context.Background(), *args); err != nil {
		*reply = fail(err)
		return nil
	}
	*reply = ok()
	return nil
}

// UIPCPUpdate is the RPC entry point for UIPCP_UPDATE.
func (s *Server) UIPCPUpdate(args *UIPCPUpdateArgs, reply *Result) error {
	if err := s.exec.UIPCPUpdate(context.Background(), *args); err != nil {
		*reply = fail(err)
		return nil
	}
	*reply = ok()
	return nil
}
