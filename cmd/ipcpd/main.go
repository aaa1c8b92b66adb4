// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Command ipcpd is the IPC-Process daemon: it loads a bootstrap
// config, brings up one IPCP instance (plus any further instances
// created later over the admin socket), and serves the admin socket
// and the Prometheus metrics endpoint until signaled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rina-project/ipcpd/internal/adminsock"
	"github.com/rina-project/ipcpd/internal/config"
	"github.com/rina-project/ipcpd/internal/ipcp"
	"github.com/rina-project/ipcpd/internal/kernel"
	"github.com/rina-project/ipcpd/internal/logging"
	"github.com/rina-project/ipcpd/internal/metrics"
	"github.com/rina-project/ipcpd/internal/persist"
	"github.com/rina-project/ipcpd/internal/supervisor"
)

// childEnvVar marks a process as the supervised child so it runs the
// daemon directly instead of re-entering the supervision loop.
const childEnvVar = "IPCPD_SUPERVISED_CHILD"

// panicExitCode is the code a child reports after recovering a panic,
// letting the supervising parent distinguish it from an ordinary
// nonzero exit when classifying the crash.
const panicExitCode = 70

// httpShutdownTimeout bounds how long the metrics server is given to
// drain in-flight /metrics scrapes during shutdown.
const httpShutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the IPCP's HCL bootstrap config")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	stateDir := flag.String("state-dir", "/var/lib/ipcpd", "directory for the registration file and crash history")
	syslogHost := flag.String("syslog-host", "", "if set, forward logs to this syslog host in addition to stderr")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "ipcpd: -config is required")
		os.Exit(2)
	}

	if os.Getenv(childEnvVar) != "" || supervisor.ShouldSkipDetection() {
		runChild(*configPath, *metricsAddr, *stateDir, *syslogHost)
		return
	}

	runSupervised(*configPath, *metricsAddr, *stateDir)
}

// runChild runs the daemon itself, recovering a panic into a
// dedicated exit code so a supervising parent can classify it.
func runChild(configPath, metricsAddr, stateDir, syslogHost string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ipcpd: recovered panic: %v", r)
			os.Exit(panicExitCode)
		}
	}()
	if err := runDaemon(configPath, metricsAddr, stateDir, syslogHost); err != nil {
		log.Fatalf("ipcpd: %v", err)
	}
}

// runSupervised re-execs this binary as a child under crash detection,
// restarting it on a crash and refusing to keep restarting once too
// many crashes land inside the tracking window.
func runSupervised(configPath, metricsAddr, stateDir string) {
	sup := supervisor.New(stateDir, supervisor.DefaultConfig())
	sup.StartStabilityTimer()

	for {
		if sup.ShouldEnterSafeMode() {
			log.Fatalf("ipcpd: too many crashes within the tracking window; refusing to restart. See %s", filepath.Join(stateDir, supervisor.StateFileName))
		}

		cmd := exec.Command(os.Args[0], os.Args[1:]...)
		cmd.Env = append(os.Environ(), childEnvVar+"=1")
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		runErr := cmd.Run()
		exitCode, sig, wasPanic := classifyExit(runErr)
		if err := sup.RecordExit(exitCode, sig, wasPanic); err != nil {
			log.Printf("ipcpd: record crash event: %v", err)
		}
		if exitCode == 0 {
			return
		}
		sup.StartStabilityTimer()
	}
}

// classifyExit turns the error from cmd.Run into the exit code, signal,
// and panic flag that supervisor.RecordExit expects.
func classifyExit(err error) (int, syscall.Signal, bool) {
	if err == nil {
		return 0, 0, false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -1, ws.Signal(), false
		}
		code := exitErr.ExitCode()
		return code, 0, code == panicExitCode
	}
	return 1, 0, false
}

// runDaemon loads the config, wires every subsystem together through
// an ipcp.Manager, and blocks until a shutdown signal arrives.
func runDaemon(configPath, metricsAddr, stateDir, syslogHost string) error {
	logger := logging.Default()
	if syslogHost != "" {
		w, err := logging.NewSyslogWriter(logging.SyslogConfig{Enabled: true, Host: syslogHost})
		if err != nil {
			return fmt.Errorf("dial syslog: %w", err)
		}
		logger = logger.AddWriter(w, slog.LevelInfo)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("loaded config", "ipcp_id", cfg.IPCPID, "dif_name", cfg.DIFName, "address", cfg.Address)

	met := metrics.NewMetrics()
	reg := prometheus.NewRegistry()
	if err := met.RegisterOn(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	metSrv := metrics.NewServer(reg)
	if err := metSrv.Start(metricsAddr); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	logger.Info("metrics listening", "addr", metricsAddr)

	pst, err := persist.Load(stateDir)
	if err != nil {
		return fmt.Errorf("load registration file: %w", err)
	}

	k, err := kernel.NewLinuxKernel(cfg.ControlDevice, cfg.ManagementDir)
	if err != nil {
		return fmt.Errorf("open kernel devices: %w", err)
	}

	mgr := ipcp.NewManager(logger, k, met, pst)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := mgr.Bootstrap(ctx, cfg); err != nil {
		return fmt.Errorf("bootstrap ipcp: %w", err)
	}

	adminSrv := adminsock.NewServer(mgr)
	if err := adminSrv.Start(cfg.AdminSocket); err != nil {
		return fmt.Errorf("start admin socket: %w", err)
	}
	logger.Info("admin socket listening", "path", cfg.AdminSocket)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
		case <-gctx.Done():
		}
		cancel()
		return nil
	})
	_ = g.Wait()

	if err := adminSrv.Close(); err != nil {
		logger.Warn("close admin socket", "err", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer shutdownCancel()
	if err := metSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("shut down metrics server", "err", err)
	}
	mgr.Shutdown()

	logger.Info("ipcpd shutdown complete")
	return nil
}
