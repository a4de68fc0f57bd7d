// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Command roudi is the Broker CORE daemon entry point: it parses the CLI
// flags and optional config file, builds an internal/daemon.Daemon, and runs
// it until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/antimetal/agent/internal/config"
	"github.com/antimetal/agent/internal/daemon"
	"github.com/antimetal/agent/internal/registry"
	"github.com/antimetal/agent/pkg/errors"
)

const (
	exitOK int = iota
	exitConfigError
	exitRuntimeError
)

var (
	help             bool
	version          bool
	domainID         uint
	uniqueRoudiID    uint
	monitoringMode   string
	logLevel         string
	compatibility    string
	terminationDelay uint
	killDelay        uint
	configFile       string
)

func init() {
	flag.BoolVar(&help, "h", false, "Print help, exit 0")
	flag.BoolVar(&help, "help", false, "Print help, exit 0")
	flag.BoolVar(&version, "v", false, "Print version, exit 0")
	flag.BoolVar(&version, "version", false, "Print version, exit 0")
	flag.UintVar(&domainID, "d", 0, "Set domain id")
	flag.UintVar(&domainID, "domain-id", 0, "Set domain id")
	flag.UintVar(&uniqueRoudiID, "u", 0, "Set Daemon id prefix for Unique Port IDs")
	flag.UintVar(&uniqueRoudiID, "unique-roudi-id", 0, "Set Daemon id prefix for Unique Port IDs")
	flag.StringVar(&monitoringMode, "m", "on", "Enable/disable liveness monitoring (on|off)")
	flag.StringVar(&monitoringMode, "monitoring-mode", "on", "Enable/disable liveness monitoring (on|off)")
	flag.StringVar(&logLevel, "l", "info", "Set log verbosity (off|fatal|error|warning|info|debug|trace)")
	flag.StringVar(&logLevel, "log-level", "info", "Set log verbosity (off|fatal|error|warning|info|debug|trace)")
	flag.StringVar(&compatibility, "x", "off", "Client compatibility check (off|major|minor|patch|commitId|buildDate)")
	flag.StringVar(&compatibility, "compatibility", "off", "Client compatibility check (off|major|minor|patch|commitId|buildDate)")
	flag.UintVar(&terminationDelay, "t", 5, "Delay in seconds before SIGTERM to clients on shutdown")
	flag.UintVar(&terminationDelay, "termination-delay", 5, "Delay in seconds before SIGTERM to clients on shutdown")
	flag.UintVar(&killDelay, "k", 5, "Delay in seconds before SIGKILL after SIGTERM")
	flag.UintVar(&killDelay, "kill-delay", 5, "Delay in seconds before SIGKILL after SIGTERM")
	flag.StringVar(&configFile, "c", "", "Optional config file")
	flag.StringVar(&configFile, "config-file", "", "Optional config file")
}

func main() {
	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(exitOK)
	}
	if version {
		fmt.Println(registry.FormatVersionInfo(buildVersion()))
		os.Exit(exitOK)
	}

	logger := newLogger(logLevel)

	monitoring, err := parseOnOff(monitoringMode)
	if err != nil {
		logger.Error(err, "invalid -m/--monitoring-mode")
		os.Exit(exitConfigError)
	}
	level, err := registry.ParseCompatibilityLevel(compatibility)
	if err != nil {
		logger.Error(err, "invalid -x/--compatibility")
		os.Exit(exitConfigError)
	}

	var file config.File
	if configFile != "" {
		f, openErr := os.Open(configFile)
		if openErr != nil {
			logger.Error(openErr, "unable to open config file", "path", configFile)
			os.Exit(exitConfigError)
		}
		parsed, parseErr := config.Parse(f)
		f.Close()
		if parseErr != nil {
			logger.Error(parseErr, "invalid config file", "path", configFile)
			os.Exit(exitConfigError)
		}
		file = *parsed
	}

	cfg := daemon.Config{
		Domain: config.DaemonConfig{
			DomainID:         uint16(domainID),
			UniqueRoudiID:    uint16(uniqueRoudiID),
			MonitoringMode:   monitoring,
			LogLevel:         logLevel,
			Compatibility:    level,
			TerminationDelay: time.Duration(terminationDelay) * time.Second,
			KillDelay:        time.Duration(killDelay) * time.Second,
			ConfigFilePath:   configFile,
		},
		File:    file,
		Version: buildVersion(),
		Logger:  logger,
	}

	d, err := daemon.New(cfg)
	if err != nil {
		logger.Error(err, "unable to build daemon")
		// Failing to take the domain lock (another Daemon already running)
		// or to set up memory is a runtime error, not a config error.
		if kind, _ := errors.KindOf(err); kind == errors.KindEnvironment {
			os.Exit(exitRuntimeError)
		}
		os.Exit(exitConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ignoreSIGHUP(logger)

	if err := d.Start(ctx); err != nil {
		logger.Error(err, "unable to start daemon")
		os.Exit(exitRuntimeError)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-d.Done():
		logger.Info("shutdown requested via TERMINATION command")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Domain.TerminationDelay+cfg.Domain.KillDelay+10*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "error during shutdown")
		os.Exit(exitRuntimeError)
	}
}

// buildCommitID and buildDate can be set at link time via -ldflags -X; the
// numeric fields cannot be set that way and stay zero. The zero values are a
// harmless placeholder for local builds.
var (
	buildMajor, buildMinor, buildPatch uint32
	buildCommitID, buildDate           string
)

func buildVersion() registry.VersionInfo {
	return registry.VersionInfo{
		Major:     buildMajor,
		Minor:     buildMinor,
		Patch:     buildPatch,
		CommitID:  buildCommitID,
		BuildDate: buildDate,
	}
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on|off, got %q", s)
	}
}

// newLogger translates the spec's seven-level verbosity names onto zap's
// stock levels, which only has five (debug/info/warn/error/fatal) plus
// zap's negative "sugar" levels for finer verbosity. "off" discards
// entirely rather than picking a level no call site would ever reach;
// "trace" reuses zap's support for levels below Debug, one step finer.
func newLogger(level string) logr.Logger {
	if level == "off" {
		return logr.Discard()
	}

	zapLevel, ok := map[string]zapcore.Level{
		"fatal":   zapcore.FatalLevel,
		"error":   zapcore.ErrorLevel,
		"warning": zapcore.WarnLevel,
		"info":    zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"trace":   zapcore.Level(-2),
	}[level]
	if !ok {
		zapLevel = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapLog, err := zapCfg.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zapLog).WithName("roudi")
}
