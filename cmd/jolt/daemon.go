package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/jolt/internal/ipc"
	"codeberg.org/mutker/jolt/internal/logger"
	"codeberg.org/mutker/jolt/internal/pid"
	"codeberg.org/mutker/jolt/internal/recorder"
	"codeberg.org/mutker/jolt/internal/sensor"
	"codeberg.org/mutker/jolt/internal/store"
)

func daemonCmd(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: jolt daemon {start|stop|status}")
		return exitInvalidArgs
	}

	switch args[0] {
	case "start":
		return daemonStart(args[1:])
	case "stop":
		return daemonStop(args[1:])
	case "status":
		return daemonStatus(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown daemon subcommand: %s\n", args[0])
		return exitInvalidArgs
	}
}

func daemonStart(args []string) int {
	cfg, code := loadConfig(args)
	if code != exitOK {
		return code
	}

	if err := pid.Write(cfg.PIDPath()); err != nil {
		logger.Error().Err(err).Msg("Another daemon is already running")
		return exitCodeFor(err)
	}
	defer pid.Remove(cfg.PIDPath())

	st, err := store.Open(store.Config{Path: cfg.DatabasePath()}, logger.Default())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open history store")
		return exitCodeFor(err)
	}
	defer st.Close()

	battery := sensor.NewSysfsBattery()
	power := sensor.NewRaplPower()
	defer power.Close()
	var processes sensor.ProcessSource
	if cfg.ProcessTelemetry {
		processes = sensor.NewProcProcesses(cfg.ExcludedProcesses)
	}

	rec, err := recorder.New(recorder.Config{
		Interval:         cfg.Interval(),
		RetentionDays:    cfg.RetentionDays,
		MaxDatabaseMB:    cfg.MaxDatabaseMB,
		ProcessTelemetry: cfg.ProcessTelemetry,
	}, st, battery, power, processes, logger.Default())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize recorder")
		return exitCodeFor(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	startedAt := time.Now()
	status := func() ipc.Status {
		diag := rec.Diagnostics()
		stats, _ := st.Stats()
		size, _ := st.SizeBytes()
		schemaVersion, _ := st.SchemaVersion()

		s := ipc.Status{
			Running:             true,
			Version:             version,
			UptimeS:             int64(time.Since(startedAt).Seconds()),
			IntervalMS:          cfg.IntervalMS,
			SampleCount:         stats.SampleCount,
			NewestSample:        stats.NewestSample,
			TickCount:           diag.TickCount,
			TickMisses:          diag.TickMisses,
			DatabaseSizeBytes:   size,
			SchemaVersion:       schemaVersion,
			ProtocolVersion:     ipc.ProtocolVersion,
			MinSupportedVersion: ipc.MinSupportedVersion,
		}
		return s
	}

	server := ipc.NewServer(cfg.SocketPath(), st, status, cancel, logger.Default())
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start IPC server")
		return exitCodeFor(err)
	}
	rec.SetBroadcast(server.Broadcast)

	logger.Info().
		Str("version", version).
		Str("socket", cfg.SocketPath()).
		Int("interval_ms", cfg.IntervalMS).
		Msg("Daemon started")

	runErr := rec.Run(ctx)

	if err := server.Close(); err != nil {
		logger.Warn().Err(err).Msg("IPC server close failed")
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Recorder stopped with error")
		return exitCodeFor(runErr)
	}

	logger.Info().Msg("Daemon exited")

	return exitOK
}

func daemonStop(args []string) int {
	cfg, code := loadConfig(args)
	if code != exitOK {
		return code
	}

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "jolt: daemon is not running")
		return exitNotRunning
	}
	defer client.Close()

	resp, err := client.Call(ipc.Request{Kind: ipc.KindShutdown})
	if err != nil || resp.Kind != ipc.KindOk {
		fmt.Fprintln(os.Stderr, "jolt: shutdown request failed")
		return exitGeneral
	}

	fmt.Println("daemon stopping")

	return exitOK
}

func daemonStatus(args []string) int {
	cfg, code := loadConfig(args)
	if code != exitOK {
		return code
	}

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		fmt.Println("daemon: not running")
		return exitNotRunning
	}
	defer client.Close()

	resp, err := client.Call(ipc.Request{Kind: ipc.KindGetStatus})
	if err != nil || resp.Status == nil {
		fmt.Fprintln(os.Stderr, "jolt: status request failed")
		return exitGeneral
	}

	s := resp.Status
	fmt.Printf("daemon: running (v%s)\n", s.Version)
	fmt.Printf("  uptime:       %s\n", (time.Duration(s.UptimeS) * time.Second).String())
	fmt.Printf("  interval:     %dms\n", s.IntervalMS)
	fmt.Printf("  samples:      %d\n", s.SampleCount)
	fmt.Printf("  ticks:        %d (%d missed)\n", s.TickCount, s.TickMisses)
	fmt.Printf("  database:     %.1f MiB (schema v%d)\n", float64(s.DatabaseSizeBytes)/(1024*1024), s.SchemaVersion)
	fmt.Printf("  subscribers:  %d\n", s.SubscriberCount)
	fmt.Printf("  protocol:     v%d (min v%d)\n", s.ProtocolVersion, s.MinSupportedVersion)

	return exitOK
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
