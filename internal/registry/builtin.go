package registry

import (
	"fmt"

	"github.com/bft-labs/lockstep/internal/domain"
)

// NumericTolerance is the comparison tolerance for services whose outputs go
// through floating point math that varies with CPU features.
const NumericTolerance = 1e-7

// radarAddresses lists, per car brand, the bus addresses of radar frames.
var radarAddresses = map[string][]uint32{
	"honda":    {0x445},
	"toyota":   {0x19f, 0x22f},
	"gm":       {0x474},
	"chrysler": {0x2d4},
}

// radarSrc is the bus number radar frames arrive on.
const radarSrc = 1

// DefaultRadarCar is the brand whose radar allow-list the builtin radard
// configuration uses.
const DefaultRadarCar = "toyota"

// RadarPolicy returns the allow-list policy for a car brand's radar.
func RadarPolicy(car string) (AllowListed, error) {
	addrs, ok := radarAddresses[car]
	if !ok {
		return AllowListed{}, fmt.Errorf("%w: no radar allow-list for car %q", domain.ErrConfigMismatch, car)
	}
	return AllowListed{
		BusTopic:  "can",
		Src:       radarSrc,
		Addresses: append([]uint32(nil), addrs...),
	}, nil
}

// UbloxRules is the class/id table deciding when a raw GNSS packet is
// translated into a downstream message.
func UbloxRules() []RawRule {
	return []RawRule{
		{Class: 0x01, ID: 0x70, Expect: true},
		{Class: 0x02, ID: 0x15, Expect: true},
		{Class: 0x02, ID: 0x13, Expect: false},
		{Class: 0x0a, ID: 0x09, Expect: true},
	}
}

// BuiltinServices returns the configurations of the known services.
func BuiltinServices() []ServiceConfig {
	radar, _ := RadarPolicy(DefaultRadarCar)
	base := []string{"logMonoTime", "valid"}
	ignore := func(extra ...string) []string {
		return append(append([]string{}, base...), extra...)
	}

	return []ServiceConfig{
		{
			Name:      "controlsd",
			Transport: InProcess,
			PubSub: map[string][]string{
				"can":     {"controlsState", "carState", "carControl", "sendcan", "carEvents", "carParams"},
				"thermal": {}, "health": {}, "liveCalibration": {}, "dMonitoringState": {}, "plan": {},
				"pathPlan": {}, "gpsLocation": {}, "liveLocationKalman": {}, "model": {}, "frame": {},
			},
			Ignore:   ignore("controlsState.startMonoTime", "controlsState.cumLagMs"),
			BusTopic: "can",
			Initializer: &Fingerprint{
				BusTopic: "can",
				Count:    DefaultFingerprintCount,
				PinTopic: "pathPlan",
			},
		},
		{
			Name:      "radard",
			Transport: InProcess,
			PubSub: map[string][]string{
				"can":            {"radarState", "liveTracks"},
				"liveParameters": {}, "controlsState": {}, "model": {},
			},
			Ignore:   ignore("radarState.cumLagMs"),
			BusTopic: "can",
			Policy:   radar,
		},
		{
			Name:      "plannerd",
			Transport: InProcess,
			PubSub: map[string][]string{
				"model": {"pathPlan"}, "radarState": {"plan"},
				"carState": {}, "controlsState": {}, "liveParameters": {},
			},
			Ignore: ignore("plan.processingDelay"),
		},
		{
			Name:      "calibrationd",
			Transport: InProcess,
			PubSub: map[string][]string{
				"carState":       {"liveCalibration"},
				"cameraOdometry": {},
			},
			Ignore: ignore(),
			Policy: Decimated{Topic: "cameraOdometry", Every: 5},
		},
		{
			Name:      "dmonitoringd",
			Transport: InProcess,
			PubSub: map[string][]string{
				"driverState":     {"dMonitoringState"},
				"liveCalibration": {}, "carState": {}, "model": {}, "gpsLocation": {},
			},
			Ignore:    ignore(),
			Tolerance: NumericTolerance,
		},
		{
			Name:      "locationd",
			Transport: InProcess,
			PubSub: map[string][]string{
				"cameraOdometry": {"liveLocationKalman"},
				"sensorEvents":   {}, "gpsLocationExternal": {}, "liveCalibration": {}, "carState": {},
			},
			Ignore:    ignore(),
			Tolerance: NumericTolerance,
		},
		{
			Name:      "paramsd",
			Transport: InProcess,
			PubSub: map[string][]string{
				"liveLocationKalman": {"liveParameters"},
				"carState":           {},
			},
			Ignore:    ignore(),
			Tolerance: NumericTolerance,
		},
		{
			Name:      "ubloxd",
			Transport: Subprocess,
			PubSub: map[string][]string{
				"ubloxRaw": {"ubloxGnss"},
			},
			Ignore:    []string{"logMonoTime"},
			Command:   []string{"./ubloxd"},
			Dir:       "selfdrive/locationd",
			Policy:    RawProtocolMatch{Rules: UbloxRules()},
			Tolerance: NumericTolerance,
		},
	}
}

// Builtin returns the registry of known services.
func Builtin() *Registry {
	r, err := New(BuiltinTopics(), BuiltinServices()...)
	if err != nil {
		panic(fmt.Sprintf("registry: builtin configuration is invalid: %v", err))
	}
	return r
}
