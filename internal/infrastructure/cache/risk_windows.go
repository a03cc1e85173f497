package cache

import (
	"fmt"
	"time"

	"github.com/loyalty/points/internal/domain/points"
)

const (
	minuteWindowTTL = 2 * points.RiskWindow
	dayWindowTTL    = 48 * time.Hour
)

// riskKeys names the sorted sets one observation touches. Every set holds
// observation members scored by their occurrence time in milliseconds.
type riskKeys struct {
	minute string
	day    string
	// device and ip hold rewarded events only; empty when the event carries none
	device string
	ip     string
}

func riskKeysFor(obs points.RiskObservation) riskKeys {
	prefix := fmt.Sprintf("points:risk:%s:", obs.Scope)
	k := riskKeys{
		minute: fmt.Sprintf("%smin:%s", prefix, obs.UserID),
		day:    fmt.Sprintf("%sday:%s:%s", prefix, obs.UserID, obs.Day),
	}
	if obs.DeviceID != "" {
		k.device = fmt.Sprintf("%sdev:%s:%s", prefix, obs.DeviceID, obs.Day)
	}
	if obs.IP != "" {
		k.ip = fmt.Sprintf("%sip:%s:%s", prefix, obs.IP, obs.Day)
	}
	return k
}

// rewardedKeys lists the device and ip sets present for the observation
func (k riskKeys) rewardedKeys() []string {
	var keys []string
	if k.device != "" {
		keys = append(keys, k.device)
	}
	if k.ip != "" {
		keys = append(keys, k.ip)
	}
	return keys
}

func scoreOf(at time.Time) int64 {
	return at.UnixMilli()
}

// windowStart is the highest score that already fell out of the minute window
func windowStart(at time.Time) int64 {
	return scoreOf(at) - points.RiskWindow.Milliseconds()
}
