// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Command ipcpctl is the admin CLI for ipcpd: it dials the admin
// socket and issues one IPCP_* or UIPCP_* request per invocation,
// printing the resulting event_id or the failure reason.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rina-project/ipcpd/internal/adminsock"
	"github.com/rina-project/ipcpd/internal/config"
	"github.com/rina-project/ipcpd/internal/names"
)

func main() {
	socketPath := flag.String("socket", config.DefaultAdminSocket, "path to the admin socket")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, rest := args[0], args[1:]

	client, err := adminsock.Dial(*socketPath)
	if err != nil {
		fatalf("dial %s: %v", *socketPath, err)
	}
	defer client.Close()

	result, err := dispatch(client, cmd, rest)
	if err != nil {
		fatalf("%s: %v", cmd, err)
	}
	if result.Result != 0 {
		fmt.Fprintf(os.Stderr, "ipcpctl %s: %s\n", cmd, result.Error)
		os.Exit(1)
	}
	fmt.Printf("ok (event_id=%s)\n", result.EventID)
}

func dispatch(client *adminsock.Client, cmd string, args []string) (adminsock.Result, error) {
	switch cmd {
	case "register":
		return runRegister(client, args, true)
	case "deregister":
		return runRegister(client, args, false)
	case "enroll":
		return runEnroll(client, args)
	case "dft-set":
		return runDFTSet(client, args)
	case "create":
		return runCreate(client, args)
	case "destroy":
		return runDestroy(client, args)
	case "update":
		return runUpdate(client, args)
	default:
		usage()
		os.Exit(2)
		return adminsock.Result{}, nil
	}
}

func runRegister(client *adminsock.Client, args []string, register bool) (adminsock.Result, error) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	ipcpID := fs.Uint("ipcp", 0, "ipcp_id")
	appl := fs.String("appl", "", "application name: apn|api|aen|aei (trailing components optional)")
	fs.Parse(args)

	return client.IPCPRegister(adminsock.RegisterArgs{
		IPCPID:   uint32(*ipcpID),
		ApplName: names.FromString(*appl),
		Register: register,
	})
}

func runEnroll(client *adminsock.Client, args []string) (adminsock.Result, error) {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	ipcpID := fs.Uint("ipcp", 0, "ipcp_id")
	neighbor := fs.String("neighbor", "", "neighbor application name")
	port := fs.Uint("port", 0, "port_id of the already-bound N-1 flow to the neighbor")
	dif := fs.String("dif", "", "n-1 dif name the flow was allocated over")
	fs.Parse(args)

	return client.IPCPEnroll(adminsock.EnrollArgs{
		IPCPID:       uint32(*ipcpID),
		NeighborName: names.FromString(*neighbor),
		PortID:       names.PortID(*port),
		DIFName:      *dif,
	})
}

func runDFTSet(client *adminsock.Client, args []string) (adminsock.Result, error) {
	fs := flag.NewFlagSet("dft-set", flag.ExitOnError)
	ipcpID := fs.Uint("ipcp", 0, "ipcp_id")
	appl := fs.String("appl", "", "application name")
	addr := fs.Uint64("addr", 0, "address to bind appl to")
	fs.Parse(args)

	return client.IPCPDFTSet(adminsock.DFTSetArgs{
		IPCPID:   uint32(*ipcpID),
		ApplName: names.FromString(*appl),
		Address:  names.Address(*addr),
	})
}

func runCreate(client *adminsock.Client, args []string) (adminsock.Result, error) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	ipcpID := fs.Uint("ipcp", 0, "ipcp_id for the new instance")
	name := fs.String("name", "", "ipcp application name")
	dif := fs.String("dif", "", "dif to join")
	difType := fs.String("dif-type", "normal", "dif type")
	addr := fs.Uint64("addr", 0, "address within the dif")
	fs.Parse(args)

	return client.UIPCPCreate(adminsock.UIPCPCreateArgs{
		IPCPID:   uint32(*ipcpID),
		IPCPName: names.FromString(*name),
		DIFName:  *dif,
		DIFType:  *difType,
		Address:  names.Address(*addr),
	})
}

func runDestroy(client *adminsock.Client, args []string) (adminsock.Result, error) {
	fs := flag.NewFlagSet("destroy", flag.ExitOnError)
	ipcpID := fs.Uint("ipcp", 0, "ipcp_id to destroy")
	fs.Parse(args)

	return client.UIPCPDestroy(adminsock.UIPCPDestroyArgs{IPCPID: uint32(*ipcpID)})
}

func runUpdate(client *adminsock.Client, args []string) (adminsock.Result, error) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	ipcpID := fs.Uint("ipcp", 0, "ipcp_id to update")
	set := fs.String("set", "", "comma-separated key=value config deltas, e.g. lfdb_age_tick=30s")
	fs.Parse(args)

	deltas, err := parseDeltas(*set)
	if err != nil {
		return adminsock.Result{}, err
	}
	return client.UIPCPUpdate(adminsock.UIPCPUpdateArgs{IPCPID: uint32(*ipcpID), Config: deltas})
}

func parseDeltas(set string) (map[string]string, error) {
	deltas := make(map[string]string)
	if set == "" {
		return deltas, nil
	}
	for _, pair := range strings.Split(set, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed -set entry %q, want key=value", pair)
		}
		deltas[k] = v
	}
	return deltas, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ipcpctl [-socket path] <command> [flags]

commands:
  register   -ipcp N -appl NAME
  deregister -ipcp N -appl NAME
  enroll     -ipcp N -neighbor NAME -port P -dif NAME
  dft-set    -ipcp N -appl NAME -addr A
  create     -ipcp N -name NAME -dif NAME [-dif-type normal] -addr A
  destroy    -ipcp N
  update     -ipcp N -set key=value[,key=value...]`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ipcpctl: "+format+"\n", args...)
	os.Exit(1)
}
