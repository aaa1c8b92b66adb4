// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package names implements the RINA application-naming data model: the
// application name 4-tuple, 64-bit node addresses, and port-ids.
package names

import "strings"

// ApplicationName is the 4-tuple (apn, api, aen, aei) identifying an
// application instance. Equality is componentwise; empty components
// are preserved in the canonical string form.
type ApplicationName struct {
	ProcessName     string // apn
	ProcessInstance string // api
	EntityName      string // aen
	EntityInstance  string // aei
}

// Valid reports whether the name has at least a non-empty process name.
func (n ApplicationName) Valid() bool {
	return n.ProcessName != ""
}

// String renders the canonical form "apn|api|aen|aei", preserving
// empty components.
func (n ApplicationName) String() string {
	return strings.Join([]string{n.ProcessName, n.ProcessInstance, n.EntityName, n.EntityInstance}, "|")
}

// Equal reports componentwise equality.
func (n ApplicationName) Equal(o ApplicationName) bool {
	return n == o
}

// FromString parses the canonical "apn|api|aen|aei" form produced by
// String. It is the left inverse of String: FromString(n.String()) == n
// for any valid name.
func FromString(s string) ApplicationName {
	parts := strings.SplitN(s, "|", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return ApplicationName{
		ProcessName:     parts[0],
		ProcessInstance: parts[1],
		EntityName:      parts[2],
		EntityInstance:  parts[3],
	}
}

// Address is a 64-bit node address. Zero means unallocated/null.
type Address uint64

// NullAddress denotes "unallocated/null".
const NullAddress Address = 0

// DefaultRouteAddress is the reserved sentinel denoting "default route".
const DefaultRouteAddress Address = ^Address(0)

// PortID identifies a local flow endpoint, assigned by the data plane.
type PortID uint32
