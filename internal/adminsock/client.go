// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package adminsock

import (
	"fmt"
	"net/rpc"
	"sync"
)

// Client dials an admin socket and issues requests against it,
// reconnecting transparently if the connection drops.
type Client struct {
	path string
	mu   sync.RWMutex
	conn *rpc.Client
}

// Dial connects to the admin socket at path.
func Dial(path string) (*Client, error) {
	conn, err := rpc.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("adminsock: connect to %s: %w", path, err)
	}
	return &Client{path: path, conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(method string, args, reply any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	err := conn.Call("Server."+method, args, reply)
	if err != rpc.ErrShutdown {
		return err
	}

	// The connection died; reconnect once and retry.
	c.mu.Lock()
	newConn, dialErr := rpc.Dial("unix", c.path)
	if dialErr != nil {
		c.mu.Unlock()
		return fmt.Errorf("adminsock: reconnect to %s: %w", c.path, dialErr)
	}
	c.conn = newConn
	c.mu.Unlock()

	return newConn.Call("Server."+method, args, reply)
}

// IPCPRegister issues an IPCP_REGISTER request.
func (c *Client) IPCPRegister(args RegisterArgs) (Result, error) {
	var reply Result
	err := c.call("IPCPRegister", &args, &reply)
	return reply, err
}

// IPCPEnroll issues an IPCP_ENROLL request.
func (c *Client) IPCPEnroll(args EnrollArgs) (Result, error) {
	var reply Result
	err := c.call("IPCPEnroll", &args, &reply)
	return reply, err
}

// IPCPDFTSet issues an IPCP_DFT_SET request.
func (c *Client) IPCPDFTSet(args DFTSetArgs) (Result, error) {
	var reply Result
	err := c.call("IPCPDFTSet", &args, &reply)
	return reply, err
}

// UIPCPCreate issues a UIPCP_CREATE request.
func (c *Client) UIPCPCreate(args UIPCPCreateArgs) (Result, error) {
	var reply Result
	err := c.call("UIPCPCreate", &args, &reply)
	return reply, err
}

// UIPCPDestroy issues a UIPCP_DESTROY request.
func (c *Client) UIPCPDestroy(args UIPCPDestroyArgs) (Result, error) {
	var reply Result
	err := c.call("UIPCPDestroy", &args, &reply)
	return reply, err
}

// UIPCPUpdate issues a UIPCP_UPDATE request.
func (c *Client) UIPCPUpdate(args UIPCPUpdateArgs) (Result, error) {
	var reply Result
	err := c.call("UIPCPUpdate", &args, &reply)
	return reply, err
}
