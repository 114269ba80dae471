package registry

import (
	"fmt"

	"github.com/bft-labs/lockstep/internal/domain"
)

// Topics maps a topic name to its nominal publish frequency in Hz.
type Topics map[string]float64

// Frequency returns the frequency of topic.
func (t Topics) Frequency(topic string) (float64, error) {
	f, ok := t[topic]
	if !ok || f <= 0 {
		return 0, fmt.Errorf("%w: no frequency for topic %q", domain.ErrConfigMismatch, topic)
	}
	return f, nil
}

// Ratio returns how many inputs on in elapse per output on out.
func (t Topics) Ratio(in, out string) (int, error) {
	fin, err := t.Frequency(in)
	if err != nil {
		return 0, err
	}
	fout, err := t.Frequency(out)
	if err != nil {
		return 0, err
	}
	return ratio(fin, fout), nil
}

// Clone returns a copy of t.
func (t Topics) Clone() Topics {
	out := make(Topics, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// BuiltinTopics returns the frequency table of the known bus topics.
func BuiltinTopics() Topics {
	return Topics{
		"can":                 100,
		"sendcan":             100,
		"controlsState":       100,
		"carState":            100,
		"carControl":          100,
		"carEvents":           1,
		"carParams":           0.02,
		"sensorEvents":        100,
		"thermal":             2,
		"health":              2,
		"frame":               20,
		"model":               20,
		"plan":                20,
		"pathPlan":            20,
		"radarState":          20,
		"liveTracks":          20,
		"liveCalibration":     4,
		"cameraOdometry":      20,
		"driverState":         5,
		"dMonitoringState":    5,
		"gpsLocation":         1,
		"gpsLocationExternal": 10,
		"liveLocationKalman":  20,
		"liveParameters":      20,
		"ubloxRaw":            20,
		"ubloxGnss":           10,
	}
}
