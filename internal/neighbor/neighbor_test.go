// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package neighbor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rina-project/ipcpd/internal/names"
)

func TestRegistryEnrolledExcept(t *testing.T) {
	reg := NewRegistry()
	a := New(names.ApplicationName{ProcessName: "a"}, 1, RoleInitiator, 16)
	b := New(names.ApplicationName{ProcessName: "b"}, 2, RoleResponder, 16)
	c := New(names.ApplicationName{ProcessName: "c"}, 3, RoleResponder, 16)
	reg.Add(a)
	reg.Add(b)
	reg.Add(c)

	a.SetState(Enrolled)
	b.SetState(Enrolled)
	// c stays NONE.

	all := reg.Enrolled()
	assert.Len(t, all, 2)

	except := reg.EnrolledExcept(a)
	if assert.Len(t, except, 1, "expected only b") {
		assert.Equal(t, b.PortID, except[0].PortID)
	}
}

func TestRegistryRemoveAborts(t *testing.T) {
	reg := NewRegistry()
	n := New(names.ApplicationName{ProcessName: "x"}, 5, RoleInitiator, 16)
	n.SetState(IWaitConnectR)
	reg.Add(n)

	reg.Remove(5)
	assert.Nil(t, reg.Get(5), "expected neighbor removed from registry")
	assert.Equal(t, EnrollNone, n.State(), "expected state reset to NONE after removal")
}

func TestNeighborTimeoutFires(t *testing.T) {
	n := New(names.ApplicationName{ProcessName: "x"}, 7, RoleInitiator, 16)
	fired := make(chan struct{}, 1)
	n.ArmTimeout(10*time.Millisecond, func(*Neighbor) {
		fired <- struct{}{}
	})
	select {
	case <-fired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout callback did not fire")
	}
}

func TestNeighborCancelTimeoutPreventsCallback(t *testing.T) {
	n := New(names.ApplicationName{ProcessName: "x"}, 8, RoleInitiator, 16)
	fired := make(chan struct{}, 1)
	n.ArmTimeout(20*time.Millisecond, func(*Neighbor) {
		fired <- struct{}{}
	})
	n.CancelTimeout()
	select {
	case <-fired:
		t.Fatal("callback fired after cancellation")
	case <-time.After(60 * time.Millisecond):
	}
}
