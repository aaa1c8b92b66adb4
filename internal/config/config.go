// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package config loads an IPCP's bootstrap configuration from an HCL
// file: its identity within a DIF, a list of enrollment targets (not
// enrolled with automatically at startup), LFDB aging knobs, and the
// local socket/device paths it talks to.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	ipcerrors "github.com/rina-project/ipcpd/internal/errors"
	"github.com/rina-project/ipcpd/internal/lfdb"
	"github.com/rina-project/ipcpd/internal/names"
)

// Defaults applied when the corresponding HCL attribute is absent.
const (
	DefaultDIFType      = "normal"
	DefaultAdminSocket  = "/run/ipcpd/admin.sock"
	DefaultControlDevice = "/dev/ipcp-ctl"
	DefaultManagementDir = "/dev/ipcp-mgmt"
)

// EnrollmentTarget names a neighbor reachable over the named
// (N-1)-DIF. Bootstrap only logs configured targets; it does not
// enroll with them, each needs an explicit enroll request.
type EnrollmentTarget struct {
	Name    string `hcl:"name,label"`
	DIFName string `hcl:"dif,optional"`
}

type lfdbBlock struct {
	AgeMax  string `hcl:"age_max,optional"`
	AgeTick string `hcl:"age_tick,optional"`
}

// rawConfig is the literal HCL schema; Address is left as an
// hcl.Expression so either a decimal number or a "0x..." hex string
// literal is accepted.
type rawConfig struct {
	IPCPID        uint32             `hcl:"ipcp_id"`
	IPCPName      string             `hcl:"ipcp_name"`
	Address       hcl.Expression     `hcl:"address"`
	DIFName       string             `hcl:"dif_name"`
	DIFType       string             `hcl:"dif_type,optional"`
	Enroll        []EnrollmentTarget `hcl:"enroll,block"`
	LFDB          *lfdbBlock         `hcl:"lfdb,block"`
	AdminSocket   string             `hcl:"admin_socket,optional"`
	ControlDevice string             `hcl:"control_device,optional"`
	ManagementDir string             `hcl:"management_dir,optional"`
}

// Config is the decoded, defaulted, and type-checked bootstrap
// configuration for one IPCP instance.
type Config struct {
	IPCPID        uint32
	IPCPName      names.ApplicationName
	Address       names.Address
	DIFName       string
	DIFType       string
	Enroll        []EnrollmentTarget
	LFDBAgeMax    time.Duration
	LFDBAgeTick   time.Duration
	AdminSocket   string
	ControlDevice string
	ManagementDir string
}

// Load parses and decodes the HCL file at path into a Config.
func Load(path string) (*Config, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, ipcerrors.Wrap(diags, ipcerrors.KindValidation, "config: parse hcl file")
	}
	return decode(f.Body)
}

// Parse decodes HCL source already read into memory (e.g. for tests).
func Parse(filename string, src []byte) (*Config, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, ipcerrors.Wrap(diags, ipcerrors.KindValidation, "config: parse hcl source")
	}
	return decode(f.Body)
}

func decode(body hcl.Body) (*Config, error) {
	var raw rawConfig
	if diags := gohcl.DecodeBody(body, nil, &raw); diags.HasErrors() {
		return nil, ipcerrors.Wrap(diags, ipcerrors.KindValidation, "config: decode hcl body")
	}

	addr, err := decodeAddress(raw.Address)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		IPCPID:        raw.IPCPID,
		IPCPName:      names.FromString(raw.IPCPName),
		Address:       addr,
		DIFName:       raw.DIFName,
		DIFType:       raw.DIFType,
		Enroll:        raw.Enroll,
		AdminSocket:   raw.AdminSocket,
		ControlDevice: raw.ControlDevice,
		ManagementDir: raw.ManagementDir,
		LFDBAgeMax:    lfdb.DefaultAgeMax,
		LFDBAgeTick:   lfdb.DefaultAgeTick,
	}

	if cfg.DIFType == "" {
		cfg.DIFType = DefaultDIFType
	}
	if cfg.AdminSocket == "" {
		cfg.AdminSocket = DefaultAdminSocket
	}
	if cfg.ControlDevice == "" {
		cfg.ControlDevice = DefaultControlDevice
	}
	if cfg.ManagementDir == "" {
		cfg.ManagementDir = DefaultManagementDir
	}

	if raw.LFDB != nil {
		if raw.LFDB.AgeMax != "" {
			d, err := time.ParseDuration(raw.LFDB.AgeMax)
			if err != nil {
				return nil, ipcerrors.Wrap(err, ipcerrors.KindValidation, "config: parse lfdb age_max")
			}
			cfg.LFDBAgeMax = d
		}
		if raw.LFDB.AgeTick != "" {
			d, err := time.ParseDuration(raw.LFDB.AgeTick)
			if err != nil {
				return nil, ipcerrors.Wrap(err, ipcerrors.KindValidation, "config: parse lfdb age_tick")
			}
			cfg.LFDBAgeTick = d
		}
	}

	if !cfg.IPCPName.Valid() {
		return nil, ipcerrors.New(ipcerrors.KindValidation, "config: ipcp_name must be non-empty")
	}
	if cfg.DIFName == "" {
		return nil, ipcerrors.New(ipcerrors.KindValidation, "config: dif_name must be non-empty")
	}

	return cfg, nil
}

// decodeAddress accepts either a plain integer literal or a quoted
// "0x..."-prefixed hex string for the address attribute.
func decodeAddress(expr hcl.Expression) (names.Address, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return 0, ipcerrors.Wrap(diags, ipcerrors.KindValidation, "config: evaluate address expression")
	}

	switch val.Type() {
	case cty.String:
		s := strings.TrimPrefix(val.AsString(), "0x")
		n, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return 0, ipcerrors.Wrap(err, ipcerrors.KindValidation, "config: parse hex address")
		}
		return names.Address(n), nil
	case cty.Number:
		var n uint64
		if err := gocty.FromCtyValue(val, &n); err != nil {
			return 0, ipcerrors.Wrap(err, ipcerrors.KindValidation, "config: convert numeric address")
		}
		return names.Address(n), nil
	default:
		return 0, ipcerrors.Errorf(ipcerrors.KindValidation, "config: address must be a number or hex string, got %s", val.Type().FriendlyName())
	}
}
