// Command batchd runs the batch server.
//
// Usage:
//
//	batchd [flags]
//
// Flags:
//
//	--config string          Configuration file path (YAML)
//	--name string            Server name used in job ids
//	--listen string          TCP listen address (default ":15001")
//	--state-file string      Where jobs are saved across restarts
//	--protocol-log string    Protocol event log (CBOR, .zst to compress)
//	--metrics-listen string  Prometheus endpoint address
//	--advertise              Announce the server over mDNS
//	--interface string       Network interface for mDNS (default: all)
//	--log-level string       debug, info, warn or error (default "info")
//
// Examples:
//
//	# Start with a config file
//	batchd --config /etc/batch/server.yaml
//
//	# Start a test server with debug logging and a protocol log
//	batchd --name svr --listen 127.0.0.1:15001 --log-level debug --protocol-log svr.mlog
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/geoyin/openpbs/pkg/config"
	"github.com/geoyin/openpbs/pkg/discovery"
	"github.com/geoyin/openpbs/pkg/log"
	"github.com/geoyin/openpbs/pkg/metrics"
	"github.com/geoyin/openpbs/pkg/persistence"
	"github.com/geoyin/openpbs/pkg/server"
	"github.com/geoyin/openpbs/pkg/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "batchd: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configFile    string
	name          string
	listen        string
	stateFile     string
	protocolLog   string
	metricsListen string
	advertise     bool
	iface         string
	logLevel      string
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	var f flags
	fs := pflag.NewFlagSet("batchd", pflag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "configuration file path (YAML)")
	fs.StringVar(&f.name, "name", "", "server name used in job ids")
	fs.StringVar(&f.listen, "listen", "", "TCP listen address")
	fs.StringVar(&f.stateFile, "state-file", "", "where jobs are saved across restarts")
	fs.StringVar(&f.protocolLog, "protocol-log", "", "protocol event log (CBOR, .zst to compress)")
	fs.StringVar(&f.metricsListen, "metrics-listen", "", "Prometheus endpoint address")
	fs.BoolVar(&f.advertise, "advertise", false, "announce the server over mDNS")
	fs.StringVar(&f.iface, "interface", "", "network interface for mDNS (default: all)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return &f, fs, nil
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(f *flags, fs *pflag.FlagSet) (*config.Server, error) {
	cfg, err := config.LoadServer(f.configFile)
	if err != nil {
		return nil, err
	}
	if fs.Changed("name") {
		cfg.Name = f.name
	}
	if fs.Changed("listen") {
		cfg.Listen = f.listen
	}
	if fs.Changed("state-file") {
		cfg.StateFile = f.stateFile
	}
	if fs.Changed("protocol-log") {
		cfg.ProtocolLog = f.protocolLog
	}
	if fs.Changed("metrics-listen") {
		cfg.MetricsListen = f.metricsListen
	}
	if fs.Changed("advertise") {
		cfg.Advertise = f.advertise
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// protocolLogger writes protocol events to path, if set, and to logger
// when it has debug enabled. It returns nil when neither applies.
func protocolLogger(path string, logger *slog.Logger) (log.Logger, func(), error) {
	var (
		sinks   []log.Logger
		closeFn = func() {}
	)
	if path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("protocol log: %w", err)
		}
		closeFn = func() { _ = fl.Close() }
		sinks = append(sinks, fl)
		logger.Info("protocol logging", "path", path)
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		sinks = append(sinks, log.NewSlogAdapter(logger))
	}
	switch len(sinks) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return sinks[0], closeFn, nil
	default:
		return log.NewMultiLogger(sinks...), closeFn, nil
	}
}

func run(args []string) error {
	f, fs, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg, err := loadConfig(f, fs)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	checkProtocol(logger)

	opts := server.Options{
		Logger: logger,
		Mailer: server.LogMailer{Logger: logger},
	}
	if cfg.StateFile != "" {
		opts.Store = persistence.NewServerStateStore(cfg.StateFile)
	}
	protocol, closeProtocol, err := protocolLogger(cfg.ProtocolLog, logger)
	if err != nil {
		return err
	}
	defer closeProtocol()
	opts.ProtocolLogger = protocol

	srv, err := server.New(cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			logger.Error("stop server", "error", err)
		}
	}()

	if cfg.MetricsListen != "" {
		ms := &http.Server{Addr: cfg.MetricsListen, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint", "addr", cfg.MetricsListen, "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
		logger.Info("metrics endpoint", "addr", cfg.MetricsListen)
	}

	if cfg.Advertise {
		adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: f.iface})
		info := &discovery.ServerInfo{
			Name:         cfg.Name,
			Port:         listenPort(srv.Addr()),
			DefaultQueue: cfg.Queues[0],
		}
		if err := adv.Advertise(info); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.Stop()
			logger.Info("advertising", "service", discovery.ServiceType, "name", cfg.Name)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// checkProtocol warns when the server lacks a mandatory operation of the
// current protocol manifest.
func checkProtocol(logger *slog.Logger) {
	m, err := version.LoadCurrent()
	if err != nil {
		logger.Warn("protocol manifest unavailable", "error", err)
		return
	}
	ops := server.SupportedOperations()
	ids := make([]int, len(ops))
	for i, op := range ops {
		ids[i] = int(op)
	}
	res := version.ValidateServer(m, ids)
	for _, e := range res.Errors {
		logger.Error("protocol check", "version", m.Version, "problem", e)
	}
	for _, w := range res.Warnings {
		logger.Debug("protocol check", "version", m.Version, "note", w)
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func listenPort(addr net.Addr) uint16 {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	return 0
}
