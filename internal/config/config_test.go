// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rina-project/ipcpd/internal/lfdb"
)

const minimalHCL = `
ipcp_id  = 1
ipcp_name = "ipcp1|||"
address  = 1
dif_name = "dif1"
`

func TestParseMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Parse("minimal.hcl", []byte(minimalHCL))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cfg.IPCPID)
	assert.Equal(t, "dif1", cfg.DIFName)
	assert.EqualValues(t, 1, cfg.Address)
	assert.Equal(t, DefaultDIFType, cfg.DIFType)
	assert.Equal(t, DefaultAdminSocket, cfg.AdminSocket)
	assert.Equal(t, lfdb.DefaultAgeMax, cfg.LFDBAgeMax)
	assert.Equal(t, lfdb.DefaultAgeTick, cfg.LFDBAgeTick)
}

const fullHCL = `
ipcp_id       = 2
ipcp_name     = "ipcp2|||"
address       = "0x2a"
dif_name      = "dif1"
dif_type      = "shim"
admin_socket  = "/tmp/admin.sock"
control_device = "/tmp/ctl"
management_dir = "/tmp/mgmt"

enroll "neighbor1" {
  dif = "dif0"
}

enroll "neighbor2" {}

lfdb {
  age_max  = "10m"
  age_tick = "30s"
}
`

func TestParseFullOverridesEverything(t *testing.T) {
	cfg, err := Parse("full.hcl", []byte(fullHCL))
	require.NoError(t, err)
	assert.EqualValues(t, 0x2a, cfg.Address)
	assert.Equal(t, "shim", cfg.DIFType)
	assert.Equal(t, "/tmp/admin.sock", cfg.AdminSocket)
	assert.Equal(t, "/tmp/ctl", cfg.ControlDevice)
	assert.Equal(t, "/tmp/mgmt", cfg.ManagementDir)
	require.Len(t, cfg.Enroll, 2)
	assert.Equal(t, "neighbor1", cfg.Enroll[0].Name)
	assert.Equal(t, "dif0", cfg.Enroll[0].DIFName)
	assert.Equal(t, 10*time.Minute, cfg.LFDBAgeMax)
	assert.Equal(t, 30*time.Second, cfg.LFDBAgeTick)
}

func TestParseRejectsMissingDIFName(t *testing.T) {
	src := `
ipcp_id   = 1
ipcp_name = "ipcp1|||"
address   = 1
dif_name  = ""
`
	_, err := Parse("bad.hcl", []byte(src))
	assert.Error(t, err)
}

func TestParseRejectsMalformedHexAddress(t *testing.T) {
	src := `
ipcp_id   = 1
ipcp_name = "ipcp1|||"
address   = "not-hex"
dif_name  = "dif1"
`
	_, err := Parse("bad.hcl", []byte(src))
	assert.Error(t, err)
}
