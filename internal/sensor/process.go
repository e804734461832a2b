package sensor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/jolt/internal/errors"
)

const clockTicksPerSecond = 100

// ProcProcesses reads per-process CPU time from /proc and returns the
// CPU seconds each process consumed since the previous read. The first
// read primes the baseline and returns nothing.
type ProcProcesses struct {
	root      string
	excluded  []string
	lastTicks map[int]int64
}

func NewProcProcesses(excluded []string) *ProcProcesses {
	return &ProcProcesses{
		root:      "/proc",
		excluded:  excluded,
		lastTicks: make(map[int]int64),
	}
}

// NewProcProcessesAt roots the reader at an alternate proc tree. Used
// by tests.
func NewProcProcessesAt(root string, excluded []string) *ProcProcesses {
	return &ProcProcesses{
		root:      root,
		excluded:  excluded,
		lastTicks: make(map[int]int64),
	}
}

func (p *ProcProcesses) Read() ([]ProcessSample, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, errors.New().Wrap(ErrUnavailable, err)
	}

	var samples []ProcessSample
	seen := make(map[int]int64, len(p.lastTicks))

	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		name, ticks, ok := p.readStat(pid)
		if !ok || p.isExcluded(name) {
			continue
		}
		seen[pid] = ticks

		last, primed := p.lastTicks[pid]
		if !primed || ticks < last {
			continue
		}
		delta := ticks - last
		if delta == 0 {
			continue
		}

		samples = append(samples, ProcessSample{
			PID:        pid,
			Name:       name,
			CPUSeconds: float64(delta) / clockTicksPerSecond,
		})
	}

	p.lastTicks = seen

	return samples, nil
}

// readStat parses comm and utime+stime from /proc/<pid>/stat.
func (p *ProcProcesses) readStat(pid int) (string, int64, bool) {
	data, err := os.ReadFile(filepath.Join(p.root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return "", 0, false
	}

	// comm may contain spaces; it is delimited by parentheses.
	raw := string(data)
	open := strings.IndexByte(raw, '(')
	closed := strings.LastIndexByte(raw, ')')
	if open < 0 || closed < open {
		return "", 0, false
	}
	name := raw[open+1 : closed]

	fields := strings.Fields(raw[closed+1:])
	// utime and stime are fields 14 and 15 of stat, i.e. indexes 11
	// and 12 after comm and state.
	if len(fields) < 13 {
		return "", 0, false
	}
	utime, err1 := strconv.ParseInt(fields[11], 10, 64)
	stime, err2 := strconv.ParseInt(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return "", 0, false
	}

	return name, utime + stime, true
}

func (p *ProcProcesses) isExcluded(name string) bool {
	for _, ex := range p.excluded {
		if ex != "" && strings.Contains(name, ex) {
			return true
		}
	}
	return false
}
