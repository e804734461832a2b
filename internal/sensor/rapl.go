package sensor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RaplPower reads CPU package power from the Linux powercap (RAPL)
// interface, whole-system power from the battery rail, discrete-GPU
// power from NVML when present and the power profile over D-Bus.
//
// RAPL exposes monotonically increasing energy counters, so the first
// Read returns no CPU wattage; subsequent reads differentiate.
type RaplPower struct {
	root string

	gpu     *nvmlGPU
	profile *powerProfile

	lastEnergyUJ int64
	lastReadAt   time.Time
}

// NewRaplPower returns a PowerSource rooted at /sys with optional NVML
// and power-profile backends attached when they initialize cleanly.
func NewRaplPower() *RaplPower {
	return &RaplPower{
		root:    defaultSysfsRoot,
		gpu:     newNVMLGPU(),
		profile: newPowerProfile(),
	}
}

// NewRaplPowerAt returns a PowerSource rooted at an alternate sysfs
// tree with no GPU or profile backends. Used by tests.
func NewRaplPowerAt(root string) *RaplPower {
	return &RaplPower{root: root}
}

// Close releases the NVML handle and the bus connection.
func (r *RaplPower) Close() {
	if r.gpu != nil {
		r.gpu.close()
	}
	if r.profile != nil {
		r.profile.close()
	}
}

func (r *RaplPower) Read() (PowerSnapshot, error) {
	now := time.Now()
	snapshot := PowerSnapshot{TakenAt: now.UnixMilli()}

	if w, ok := r.cpuWatts(now); ok {
		snapshot.CPUW = &w
	}
	if r.gpu != nil {
		if w, ok := r.gpu.watts(); ok {
			snapshot.GPUW = &w
		}
	}
	if w, ok := r.systemWatts(); ok {
		snapshot.SystemW = &w
	} else if snapshot.CPUW != nil {
		// Without a battery rail the package counters are the best
		// lower bound we have.
		sum := *snapshot.CPUW
		if snapshot.GPUW != nil {
			sum += *snapshot.GPUW
		}
		snapshot.SystemW = &sum
	}
	if r.profile != nil {
		if mode, ok := r.profile.mode(); ok {
			snapshot.Mode = &mode
		}
	}

	return snapshot, nil
}

// cpuWatts differentiates the RAPL package energy counter.
func (r *RaplPower) cpuWatts(now time.Time) (float64, bool) {
	energy, ok := r.readEnergyUJ()
	if !ok {
		return 0, false
	}

	defer func() {
		r.lastEnergyUJ = energy
		r.lastReadAt = now
	}()

	if r.lastReadAt.IsZero() {
		return 0, false
	}

	elapsed := now.Sub(r.lastReadAt).Seconds()
	delta := energy - r.lastEnergyUJ
	if elapsed <= 0 || delta < 0 {
		// Counter wrapped or clock went backwards; drop this interval.
		return 0, false
	}

	return float64(delta) / 1e6 / elapsed, true
}

func (r *RaplPower) readEnergyUJ() (int64, bool) {
	matches, err := filepath.Glob(filepath.Join(r.root, "class/powercap/intel-rapl:*"))
	if err != nil || len(matches) == 0 {
		return 0, false
	}

	var total int64
	var found bool
	for _, zone := range matches {
		// Top-level package zones only; subzones repeat their parents.
		if strings.Count(filepath.Base(zone), ":") != 1 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(zone, "energy_uj"))
		if err != nil {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			continue
		}
		total += v
		found = true
	}

	return total, found
}

// systemWatts reads whole-system draw from the battery rail.
func (r *RaplPower) systemWatts() (float64, bool) {
	matches, err := filepath.Glob(filepath.Join(r.root, "class/power_supply/BAT*"))
	if err != nil || len(matches) == 0 {
		return 0, false
	}
	base := matches[0]

	if data, err := os.ReadFile(filepath.Join(base, "power_now")); err == nil {
		if uw, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil && uw > 0 {
			return float64(uw) / 1e6, true
		}
	}

	// Fall back to voltage * current.
	voltage, errV := readSysfsInt(filepath.Join(base, "voltage_now"))
	current, errC := readSysfsInt(filepath.Join(base, "current_now"))
	if errV != nil || errC != nil || voltage <= 0 || current <= 0 {
		return 0, false
	}

	return float64(voltage) / 1e6 * float64(current) / 1e6, true
}

func readSysfsInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
