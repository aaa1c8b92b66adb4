// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package neighbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/cdap"
)

func TestEnrollmentHappyPath(t *testing.T) {
	initAddr := StartPayload{Address: 1}
	respAddr := StartPayload{Address: 2}

	// Initiator kicks off from NONE.
	iState, acts, err := InitiatorStep(EnrollNone, nil, initAddr)
	require.NoError(t, err)
	require.Equal(t, IWaitConnectR, iState)
	connect := acts[0].Send

	// Responder receives M_CONNECT.
	rState, acts, err := ResponderStep(EnrollNone, connect, respAddr)
	require.NoError(t, err)
	require.Equal(t, SWaitStart, rState)
	connectR := acts[0].Send

	// Initiator receives M_CONNECT_R, sends M_START on /enrollment.
	iState, acts, err = InitiatorStep(iState, connectR, initAddr)
	require.NoError(t, err)
	require.Equal(t, IWaitStartR, iState)
	start := acts[0].Send
	assert.Equal(t, ObjEnrollment, start.ObjName)

	// Responder receives M_START, replies M_START_R then M_STOP.
	rState, acts, err = ResponderStep(rState, start, respAddr)
	require.NoError(t, err)
	require.Equal(t, SWaitStopR, rState)
	require.Len(t, acts, 2)
	startR := acts[0].Send
	stop := acts[1].Send

	// Initiator receives M_START_R.
	iState, _, err = InitiatorStep(iState, startR, initAddr)
	require.NoError(t, err)
	require.Equal(t, IWaitStop, iState)

	// Initiator receives M_STOP, replies M_STOP_R.
	iState, acts, err = InitiatorStep(iState, stop, initAddr)
	require.NoError(t, err)
	require.Equal(t, IWaitStart, iState)
	stopR := acts[0].Send

	// Responder receives M_STOP_R, sends M_START on /operational_status, ENROLLED.
	rState, acts, err = ResponderStep(rState, stopR, respAddr)
	require.NoError(t, err)
	require.Equal(t, Enrolled, rState)
	var opStart *cdap.Message
	syncSeen := false
	for _, a := range acts {
		if a.Send != nil {
			opStart = a.Send
		}
		if a.SyncNow {
			syncSeen = true
		}
	}
	require.NotNil(t, opStart)
	assert.Equal(t, ObjOperationalState, opStart.ObjName)
	assert.True(t, syncSeen)

	// Initiator receives M_START on /operational_status, ENROLLED.
	iState, acts, err = InitiatorStep(iState, opStart, initAddr)
	require.NoError(t, err)
	require.Equal(t, Enrolled, iState)
	if assert.Len(t, acts, 1, "initiator ENROLLED should trigger sync") {
		assert.True(t, acts[0].SyncNow)
	}
}

func TestEnrollmentAbortsOnUnexpectedMessage(t *testing.T) {
	_, acts, err := InitiatorStep(IWaitConnectR, &cdap.Message{OpCode: cdap.MCreate}, StartPayload{})
	assert.Error(t, err, "expected protocol error")
	if assert.Len(t, acts, 1) {
		assert.True(t, acts[0].Aborted)
	}
}

func TestEnrollmentTimeout(t *testing.T) {
	_, acts, err := InitiatorStep(IWaitStartR, nil, StartPayload{})
	assert.Error(t, err, "expected timeout error on nil message")
	if assert.Len(t, acts, 1) {
		assert.True(t, acts[0].Aborted, "expected aborted action on timeout")
	}
}
