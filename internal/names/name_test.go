// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	cases := []ApplicationName{
		{ProcessName: "app1"},
		{ProcessName: "app1", ProcessInstance: "1"},
		{ProcessName: "app1", ProcessInstance: "1", EntityName: "db", EntityInstance: "2"},
		{ProcessName: "a", ProcessInstance: "", EntityName: "b", EntityInstance: ""},
	}
	for _, n := range cases {
		got := FromString(n.String())
		assert.Equal(t, n, got)
	}
}

func TestValid(t *testing.T) {
	assert.False(t, (ApplicationName{}).Valid())
	assert.True(t, (ApplicationName{ProcessName: "x"}).Valid())
}

func TestCanonicalForm(t *testing.T) {
	n := ApplicationName{ProcessName: "app1"}
	assert.Equal(t, "app1|||", n.String())
}
