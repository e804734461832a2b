package sensor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/jolt/internal/errors"
)

const defaultSysfsRoot = "/sys"

// SysfsBattery reads the battery through the Linux power_supply class.
type SysfsBattery struct {
	root string
}

// NewSysfsBattery returns a BatterySource rooted at /sys.
func NewSysfsBattery() *SysfsBattery {
	return &SysfsBattery{root: defaultSysfsRoot}
}

// NewSysfsBatteryAt returns a BatterySource rooted at an alternate
// sysfs tree. Used by tests.
func NewSysfsBatteryAt(root string) *SysfsBattery {
	return &SysfsBattery{root: root}
}

func (s *SysfsBattery) Read() (BatterySnapshot, error) {
	errFactory := errors.New()

	matches, err := filepath.Glob(filepath.Join(s.root, "class/power_supply/BAT*"))
	if err != nil || len(matches) == 0 {
		return BatterySnapshot{}, errFactory.WithMessage(ErrUnavailable, "no battery found")
	}

	data, err := os.ReadFile(filepath.Join(matches[0], "uevent"))
	if err != nil {
		if os.IsPermission(err) {
			return BatterySnapshot{}, errFactory.Wrap(ErrPermissionDenied, err)
		}
		return BatterySnapshot{}, errFactory.Wrap(ErrUnavailable, err)
	}

	snapshot := parseBatteryUevent(string(data))
	snapshot.TakenAt = time.Now().UnixMilli()
	snapshot.ExternalConnected = snapshot.State.IsPluggedIn() || s.acOnline()

	return snapshot, nil
}

// acOnline checks if any AC adapter reports online.
func (s *SysfsBattery) acOnline() bool {
	matches, err := filepath.Glob(filepath.Join(s.root, "class/power_supply/AC*/online"))
	if err != nil {
		return false
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err == nil && strings.TrimSpace(string(data)) == "1" {
			return true
		}
	}
	return false
}

func parseBatteryUevent(data string) BatterySnapshot {
	props := parseUevent(data)
	snapshot := BatterySnapshot{
		State: ParseChargeState(props["POWER_SUPPLY_STATUS"]),
	}

	if v, ok := parseInt(props, "POWER_SUPPLY_CAPACITY"); ok {
		snapshot.ChargePercent = clampPercent(float64(v))
	}
	if v, ok := parseInt(props, "POWER_SUPPLY_CYCLE_COUNT"); ok && v > 0 {
		snapshot.CycleCount = &v
	}

	// Capacities come as either energy (µWh) or charge (µAh) pairs.
	voltageDesignUV, _ := parseInt(props, "POWER_SUPPLY_VOLTAGE_MIN_DESIGN")
	if full, ok := parseInt(props, "POWER_SUPPLY_ENERGY_FULL"); ok {
		snapshot.MaxCapacityWh = float64(full) / 1e6
	} else if full, ok := parseInt(props, "POWER_SUPPLY_CHARGE_FULL"); ok {
		snapshot.MaxCapacityWh = chargeToWh(full, voltageDesignUV)
	}
	if design, ok := parseInt(props, "POWER_SUPPLY_ENERGY_FULL_DESIGN"); ok {
		snapshot.DesignCapacityWh = float64(design) / 1e6
	} else if design, ok := parseInt(props, "POWER_SUPPLY_CHARGE_FULL_DESIGN"); ok {
		snapshot.DesignCapacityWh = chargeToWh(design, voltageDesignUV)
	}

	// Firmware may report max capacity slightly above design; clamp the
	// excess at 10% so health stays a sane ratio.
	if snapshot.DesignCapacityWh > 0 && snapshot.MaxCapacityWh > snapshot.DesignCapacityWh*1.1 {
		snapshot.MaxCapacityWh = snapshot.DesignCapacityWh * 1.1
	}

	if v, ok := parseInt(props, "POWER_SUPPLY_VOLTAGE_NOW"); ok {
		mv := v / 1000
		snapshot.VoltageMV = &mv
	}
	if v, ok := parseInt(props, "POWER_SUPPLY_CURRENT_NOW"); ok {
		ma := v / 1000
		// sysfs reports magnitude; sign follows the charging state.
		if snapshot.State == StateDischarging && ma > 0 {
			ma = -ma
		}
		snapshot.CurrentMA = &ma
	}
	if v, ok := parseInt(props, "POWER_SUPPLY_TEMP"); ok {
		c := float64(v) / 10
		snapshot.TemperatureC = &c
	}
	if v, ok := parseInt(props, "POWER_SUPPLY_TIME_TO_FULL_NOW"); ok {
		snapshot.TimeToFullS = &v
	}
	if v, ok := parseInt(props, "POWER_SUPPLY_TIME_TO_EMPTY_NOW"); ok {
		snapshot.TimeToEmptyS = &v
	}

	// Charger wattage from instantaneous voltage and current while
	// charging; platforms without current_now simply omit it.
	if snapshot.State == StateCharging && snapshot.VoltageMV != nil && snapshot.CurrentMA != nil && *snapshot.CurrentMA > 0 {
		w := float64(*snapshot.VoltageMV) * float64(*snapshot.CurrentMA) / 1e6
		snapshot.ChargerW = &w
	}

	return snapshot
}

func parseUevent(data string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			props[k] = v
		}
	}
	return props
}

func parseInt(props map[string]string, key string) (int64, bool) {
	raw, ok := props[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func chargeToWh(chargeUAH, voltageUV int64) float64 {
	if voltageUV <= 0 {
		return 0
	}
	return float64(chargeUAH) / 1e6 * float64(voltageUV) / 1e6
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
