package decent

import (
	"time"

	"github.com/fako1024/decentscale/pkg/scale"
	"golang.org/x/mod/semver"
)

const minPowerOffFirmware = "v1.2"

// deviceState holds the latest information reported by the scale
type deviceState struct {
	weight    float64
	hasWeight bool
	weighedAt time.Time
	elapsed   *scale.ElapsedTime

	unit     scale.Unit
	battery  scale.BatteryLevel
	firmware string
}

func newDeviceState() deviceState {
	return deviceState{
		unit:    scale.UnitGrams,
		battery: scale.BatteryUnknown,
	}
}

func (d *deviceState) reset() {
	*d = newDeviceState()
}

func (d *deviceState) clearWeight() {
	d.weight, d.hasWeight, d.elapsed = 0, false, nil
	d.weighedAt = time.Time{}
}

func (d *deviceState) dataPoint() scale.DataPoint {
	return scale.DataPoint{
		TimeStamp: d.weighedAt,
		Unit:      d.unit,
		Weight:    d.weight,
		Elapsed:   d.elapsed,
	}
}

// supportsPowerOff returns if the firmware version is known to be at least 1.2
func supportsPowerOff(firmware string) bool {
	v := "v" + firmware
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare(v, minPowerOffFirmware) >= 0
}
