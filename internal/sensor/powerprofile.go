package sensor

import (
	"github.com/godbus/dbus/v5"

	"codeberg.org/mutker/jolt/internal/logger"
)

const (
	profilesService  = "net.hadess.PowerProfiles"
	profilesPath     = "/net/hadess/PowerProfiles"
	profilesProperty = "net.hadess.PowerProfiles.ActiveProfile"
	upowerService    = "org.freedesktop.UPower.PowerProfiles"
	upowerPath       = "/org/freedesktop/UPower/PowerProfiles"
	upowerProperty   = "org.freedesktop.UPower.PowerProfiles.ActiveProfile"
)

// powerProfile reads the active power profile from
// power-profiles-daemon over the system bus.
type powerProfile struct {
	conn *dbus.Conn
}

func newPowerProfile() *powerProfile {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Debug().Err(err).Msg("System bus unavailable, power mode disabled")
		return nil
	}
	return &powerProfile{conn: conn}
}

func (p *powerProfile) mode() (PowerMode, bool) {
	profile, ok := p.activeProfile(profilesService, profilesPath, profilesProperty)
	if !ok {
		// Newer power-profiles-daemon releases moved to the UPower name.
		profile, ok = p.activeProfile(upowerService, upowerPath, upowerProperty)
	}
	if !ok {
		return ModeUnknown, false
	}

	switch profile {
	case "power-saver":
		return ModeLowPower, true
	case "balanced":
		return ModeBalanced, true
	case "performance":
		return ModePerformance, true
	default:
		return ModeUnknown, true
	}
}

func (p *powerProfile) activeProfile(service, path, property string) (string, bool) {
	variant, err := p.conn.Object(service, dbus.ObjectPath(path)).GetProperty(property)
	if err != nil {
		return "", false
	}
	profile, ok := variant.Value().(string)
	return profile, ok
}

func (p *powerProfile) close() {
	p.conn.Close()
}
