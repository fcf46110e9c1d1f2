package probe

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// CPUUsageProbeName is the registry key for the built-in CPU usage probe,
// feeding the payload's cpu.usage field.
const CPUUsageProbeName = "cpu.usage"

// CPUTemperatureProbeName is the registry key for the built-in CPU
// temperature probe. Optional: hosts without exposed sensors report
// ErrProbeFailed and the payload omits cpu.temperature (spec §4.5).
const CPUTemperatureProbeName = "cpu.temperature"

// cpuUsageProbe samples overall CPU utilisation as a percentage. Passing
// interval=0 to gopsutil's Percent call returns a non-blocking instantaneous
// reading, computed against the CPU times it cached on the previous call,
// rather than blocking the tick for a windowed average.
type cpuUsageProbe struct{}

func NewCPUUsageProbe() Probe { return cpuUsageProbe{} }

func (cpuUsageProbe) Name() string { return CPUUsageProbeName }

func (cpuUsageProbe) Sample(ctx context.Context) (Value, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "cpu.Percent", Cause: err}
	}
	if len(percents) == 0 {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "cpu.Percent returned no samples"}
	}
	return Value{Value: percents[0], Unit: "percent", Type: "cpu.usage"}, nil
}

// cpuTemperatureProbe reports the highest temperature among all sensors
// returned by gopsutil's host package; sensors are not filtered to CPU ones. Many hosts (containers, VMs, some laptops) expose
// no sensors at all; that is reported as a probe error, not a fatal one.
type cpuTemperatureProbe struct{}

func NewCPUTemperatureProbe() Probe { return cpuTemperatureProbe{} }

func (cpuTemperatureProbe) Name() string { return CPUTemperatureProbeName }

func (cpuTemperatureProbe) Sample(ctx context.Context) (Value, error) {
	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "host.SensorsTemperatures", Cause: err}
	}
	if len(sensors) == 0 {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "no temperature sensors reported"}
	}

	max := sensors[0].Temperature
	for _, s := range sensors[1:] {
		if s.Temperature > max {
			max = s.Temperature
		}
	}
	return Value{Value: max, Unit: "celsius", Type: "cpu.temperature"}, nil
}
