package main

import (
	"fmt"
	"os"

	"codeberg.org/mutker/jolt/internal/config"
	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/logger"
)

const version = "0.3.0"

// Exit codes, stable for scripting.
const (
	exitOK          = 0
	exitGeneral     = 1
	exitInvalidArgs = 2
	exitPermission  = 3
	exitNotRunning  = 4
	exitConfigError = 5
)

const usage = `jolt - battery and energy telemetry

Usage:
  jolt daemon {start|stop|status} [flags]
  jolt pipe
  jolt history {summary|prune|clear} [flags]
  jolt debug

Flags (daemon start):
  --interval-ms N        sampling interval (default 1000, min 100)
  --retention-days N     days of raw samples to keep (default 30)
  --process-telemetry    record per-process energy rankings
  --log-level LEVEL      debug, info, warn, error
  --foreground           no effect; the daemon never detaches
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return exitInvalidArgs
	}

	switch args[0] {
	case "daemon":
		return daemonCmd(args[1:])
	case "pipe":
		return pipeCmd(args[1:])
	case "history":
		return historyCmd(args[1:])
	case "debug":
		return debugCmd(args[1:])
	case "version", "--version":
		fmt.Println("jolt " + version)
		return exitOK
	case "help", "--help", "-h":
		fmt.Print(usage)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", args[0], usage)
		return exitInvalidArgs
	}
}

// loadConfig loads configuration and initializes logging for a
// subcommand.
func loadConfig(args []string) (*config.Config, int) {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		switch errors.CodeOf(err) {
		case errors.ErrInvalidArgument:
			return nil, exitInvalidArgs
		default:
			return nil, exitConfigError
		}
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		return nil, exitConfigError
	}

	return cfg, exitOK
}

// exitCodeFor maps error taxonomy codes to process exit codes.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	switch errors.CodeOf(err) {
	case errors.ErrPermissionDenied:
		return exitPermission
	case errors.ErrNotRunning:
		return exitNotRunning
	case errors.ErrInvalidArgument, errors.ErrInvalidInterval:
		return exitInvalidArgs
	case errors.ErrInvalidConfig, errors.ErrReadConfig, errors.ErrInvalidLogLevel:
		return exitConfigError
	default:
		return exitGeneral
	}
}
