package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"codeberg.org/mutker/jolt/internal/aggregate"
	"codeberg.org/mutker/jolt/internal/ipc"
	"codeberg.org/mutker/jolt/internal/logger"
	"codeberg.org/mutker/jolt/internal/pid"
	"codeberg.org/mutker/jolt/internal/sensor"
	"codeberg.org/mutker/jolt/internal/store"
)

// pipeCmd subscribes to the daemon and prints one sample JSON per tick
// to stdout, for scripting and status bars.
func pipeCmd(args []string) int {
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

	if err := client.Subscribe(); err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		return exitCodeFor(err)
	}

	encoder := json.NewEncoder(os.Stdout)
	for {
		resp, err := client.Next()
		if err != nil {
			// Daemon went away; a pipe consumer treats that as EOF.
			return exitOK
		}
		switch resp.Kind {
		case ipc.KindSampleEvent:
			if resp.Sample != nil {
				if err := encoder.Encode(resp.Sample); err != nil {
					return exitGeneral
				}
			}
		case ipc.KindGoodbye:
			return exitOK
		case ipc.KindError:
			fmt.Fprintf(os.Stderr, "jolt: %s: %s\n", resp.Code, resp.Message)
			return exitGeneral
		}
	}
}

func historyCmd(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: jolt history {summary|prune|clear}")
		return exitInvalidArgs
	}

	sub := args[0]
	cfg, code := loadConfig(args[1:])
	if code != exitOK {
		return code
	}

	switch sub {
	case "summary":
		return historySummary(cfg.SocketPath(), cfg.DatabasePath())
	case "prune", "clear":
		// Destructive maintenance goes around the daemon's write
		// ownership, so the daemon must not be running.
		if running, livePID := pid.Running(cfg.PIDPath()); running {
			fmt.Fprintf(os.Stderr, "jolt: daemon is running (pid %d), stop it first\n", livePID)
			return exitGeneral
		}

		st, err := store.Open(store.Config{Path: cfg.DatabasePath()}, logger.Default())
		if err != nil {
			fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
			return exitCodeFor(err)
		}
		defer st.Close()

		if sub == "clear" {
			return historyClear(st)
		}
		return historyPrune(st, cfg.RetentionDays)
	default:
		fmt.Fprintf(os.Stderr, "unknown history subcommand: %s\n", sub)
		return exitInvalidArgs
	}
}

// historySummary prefers the running daemon; with no daemon it reads
// the store directly.
func historySummary(socketPath, dbPath string) int {
	now := time.Now()
	from := now.AddDate(0, 0, -7).UnixMilli()

	if client, err := ipc.Dial(socketPath); err == nil {
		defer client.Close()
		stats, err := client.Call(ipc.Request{Kind: ipc.KindGetDailyStats, From: from, To: now.UnixMilli()})
		if err == nil && stats.Kind == ipc.KindDailyStats {
			var cycles []store.DailyCycle
			if resp, err := client.Call(ipc.Request{Kind: ipc.KindGetDailyCycles, From: from, To: now.UnixMilli()}); err == nil && resp.Kind == ipc.KindDailyCycles {
				cycles = resp.Cycles
			}
			printSummary(stats.Daily, cycles)
			return exitOK
		}
	}

	st, err := store.Open(store.Config{Path: dbPath}, logger.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		return exitCodeFor(err)
	}
	defer st.Close()

	fromDay := aggregate.DayOf(time.UnixMilli(from))
	toDay := aggregate.DayOf(now)

	stats, err := st.DailyStats(fromDay, toDay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		return exitCodeFor(err)
	}
	cycles, err := st.DailyCycles(fromDay, toDay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		return exitCodeFor(err)
	}
	printSummary(stats, cycles)

	return exitOK
}

func printSummary(stats []store.DailyStat, cycles []store.DailyCycle) {
	if len(stats) == 0 {
		fmt.Println("no history recorded yet")
		return
	}

	cyclesByDay := make(map[string]store.DailyCycle, len(cycles))
	for _, c := range cycles {
		cyclesByDay[c.Day] = c
	}

	for _, s := range stats {
		screenTime := time.Duration(s.ScreenTimeS) * time.Second
		fmt.Printf("%s  avg %.1f W  %.1f Wh  screen %s  charge %.0f-%.0f%%\n",
			s.Day, s.AvgPowerW, s.EnergyWh, screenTime, s.MinCharge, s.MaxCharge)
		if c, ok := cyclesByDay[s.Day]; ok {
			fmt.Printf("            %d charge / %d discharge sessions  %dm charging, %dm on battery  %.2f cycles\n",
				c.ChargeSessions, c.DischargeSessions, c.ChargingMins, c.DischargeMins, c.PartialCycles)
		}
	}
}

func historyPrune(st *store.Store, retentionDays int) int {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()

	deleted, err := st.PruneSamplesBefore(cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		return exitCodeFor(err)
	}
	if err := st.Vacuum(); err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("pruned %d samples older than %d days\n", deleted, retentionDays)

	return exitOK
}

func historyClear(st *store.Store) int {
	deleted, err := st.PruneSamplesBefore(time.Now().UnixMilli())
	if err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		return exitCodeFor(err)
	}
	if err := st.Vacuum(); err != nil {
		fmt.Fprintf(os.Stderr, "jolt: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("cleared %d samples\n", deleted)

	return exitOK
}

// debugCmd reads each sensor once and dumps the raw snapshots.
func debugCmd(args []string) int {
	_, code := loadConfig(args)
	if code != exitOK {
		return code
	}

	battery := sensor.NewSysfsBattery()
	power := sensor.NewRaplPower()
	defer power.Close()

	out := struct {
		Battery *sensor.BatterySnapshot `json:"battery,omitempty"`
		Power   *sensor.PowerSnapshot   `json:"power,omitempty"`
		Errors  []string                `json:"errors,omitempty"`
	}{}

	if snapshot, err := battery.Read(); err != nil {
		out.Errors = append(out.Errors, err.Error())
	} else {
		out.Battery = &snapshot
	}
	if snapshot, err := power.Read(); err != nil {
		out.Errors = append(out.Errors, err.Error())
	} else {
		out.Power = &snapshot
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		return exitGeneral
	}

	if len(out.Errors) > 0 {
		return exitGeneral
	}
	return exitOK
}
