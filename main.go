package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/thenaterhood/spudproxy/app"
	"github.com/thenaterhood/spudproxy/daemon"
	"github.com/thenaterhood/spudproxy/metrics"
	"github.com/thenaterhood/spudproxy/querylog"
	"github.com/thenaterhood/spudproxy/resolver"
	"github.com/thenaterhood/spudproxy/server"
	"github.com/thenaterhood/spudproxy/system"
)

func dropPrivileges(uid, gid int) error {
	if err := syscall.Setgid(gid); err != nil {
		return err
	}
	if err := syscall.Setuid(uid); err != nil {
		return err
	}
	return nil
}

func main() {
	conffile := "./spudproxy.json"
	args := os.Args

	if len(args) > 1 {
		conffile = args[1]
	}

	config, err := app.GetConfig(conffile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config %s not loaded: %v\n", conffile, err)
		os.Exit(1)
	}

	stdoutLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(config.LogLevel),
	}))

	metrics := metrics.GetMetrics(metrics.MetricsConfig{
		Enable: !config.DisableMetrics,
		Addr:   ":" + strconv.Itoa(config.MetricsPort),
		Logger: stdoutLogger,
	})

	state := app.NewAppState(config, stdoutLogger, metrics)

	if err := state.ReloadRecords(config); err != nil {
		state.Log.Error("failed to load records", "error", err)
		os.Exit(1)
	}

	queryLog, queryLogErr := querylog.GetQueryLog(querylog.QueryLogConfig{
		Enable: !config.DisableQueryLog,
		Window: config.GetQueryLogWindow(),
		Logger: stdoutLogger,
	})
	if queryLogErr != nil {
		stdoutLogger.Warn("failed to initialize query log - disabling query log", "err", queryLogErr)
	}
	state.QueryLog = queryLog
	defer queryLog.Close()

	if !config.DisableQueryLog {
		queryPipeline := daemon.NewQueryPipeline(state)
		if err := queryPipeline.Start(); err != nil {
			state.Log.Warn("query log failed to start", "err", err)
		} else {
			defer queryPipeline.Stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dnsServer := server.NewDnsServer(*config, state)

	if config.ForwardUnmatched {
		upstreamConfig := resolver.UpstreamConfig{
			Servers:    config.UpstreamResolvers,
			LocalAddrs: dnsServer.Addrs,
			Timeout:    config.GetForwardTimeout(),
			Logger:     stdoutLogger,
			Metrics:    metrics,
		}

		if len(config.UpstreamResolvers) < 1 && config.RespectResolveConf {
			resolvconf, err := system.NewResolvConfFromPath(config.ResolvConfPath)
			if err != nil {
				state.Log.Warn("failed to read resolvconf", "error", err)
			} else {
				upstreamConfig.ServerSource = resolvconf.Nameservers
				resolvconf.Watch(ctx, config.GetWatchInterval(), stdoutLogger)
			}
		}

		state.Forwarder = resolver.NewUpstreamForwarder(upstreamConfig)
	}

	metricsErr := state.Metrics.Start()
	if metricsErr != nil {
		state.Log.Warn("failed to start metrics", "err", metricsErr)
	}

	if err := dnsServer.Start(); err != nil {
		state.Log.Error("failed to start dns server", "error", err)
		os.Exit(1)
	}

	var statusServer *server.StatusServer
	if config.StatusEnable {
		statusServer = server.NewStatusServer(":"+strconv.Itoa(config.StatusPort), dnsServer, state)
		statusServer.Start()
	}

	if config.DropPrivileges {
		if err := dropPrivileges(65534, 65534); err != nil {
			state.Log.Warn("failed to drop privileges after initialization", "err", err)
		} else {
			state.Log.Debug("successfully dropped privileges after initialization")
		}
	}

	watcher := daemon.NewConfigWatcher(conffile, *config, state)
	if config.WatchConfig {
		stopWatcher := watcher.Start()
		defer stopWatcher()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for sig := range signals {
		if sig == syscall.SIGHUP {
			state.Log.Info("reloading records", "signal", sig.String())
			watcher.Reload()
			continue
		}

		state.Log.Info("shutting down", "signal", sig.String())
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if statusServer != nil {
		statusServer.Shutdown(shutdownCtx)
	}
	if err := state.Metrics.Shutdown(shutdownCtx); err != nil {
		state.Log.Warn("failed to stop metrics", "err", err)
	}
	if err := dnsServer.Shutdown(); err != nil {
		state.Log.Warn("failed to close dns sockets", "err", err)
	}
}
