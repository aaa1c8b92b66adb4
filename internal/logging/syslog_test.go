// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

package logging

import (
	"log/syslog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 514, cfg.Port)
	assert.Equal(t, "udp", cfg.Protocol)
	assert.Equal(t, "ipcpd", cfg.Tag)
	assert.Equal(t, syslog.LOG_USER, cfg.Facility)
}

func TestNewSyslogWriter_MissingHost(t *testing.T) {
	cfg := SyslogConfig{
		Enabled: true,
		Host:    "",
	}

	_, err := NewSyslogWriter(cfg)
	assert.Error(t, err)
}

func TestNewSyslogWriter_Defaults(t *testing.T) {
	// This test would fail without a real syslog server; it only
	// exercises the config normalization logic.
	cfg := SyslogConfig{
		Host: "localhost",
	}

	if cfg.Port == 0 {
		cfg.Port = 514 // would be defaulted in NewSyslogWriter
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "ipcpd"
	}

	assert.Equal(t, 514, cfg.Port)
	assert.Equal(t, "udp", cfg.Protocol)
	assert.Equal(t, "ipcpd", cfg.Tag)
}

func TestSyslogConfig_Struct(t *testing.T) {
	cfg := SyslogConfig{
		Enabled:  true,
		Host:     "syslog.example.com",
		Port:     1514,
		Protocol: "tcp",
		Tag:      "myapp",
		Facility: syslog.LOG_DAEMON,
	}

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "syslog.example.com", cfg.Host)
	assert.Equal(t, 1514, cfg.Port)
	assert.Equal(t, "tcp", cfg.Protocol)
	assert.Equal(t, "myapp", cfg.Tag)
	assert.Equal(t, syslog.LOG_DAEMON, cfg.Facility)
}
