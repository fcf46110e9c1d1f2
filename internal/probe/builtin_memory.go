package probe

import (
	"context"

	"github.com/shirou/gopsutil/v4/mem"
)

// Registry keys feeding the payload's memory object.
const (
	MemoryUsageProbeName = "memory.usage"
	MemoryTotalProbeName = "memory.total"
	MemoryUsedProbeName  = "memory.used"
)

type memoryProbe struct {
	name string
	pick func(*mem.VirtualMemoryStat) any
	unit string
}

// NewMemoryUsageProbe, NewMemoryTotalProbe and NewMemoryUsedProbe each read
// one field off a single gopsutil VirtualMemory() call. They are kept as
// separate Probe values (rather than one probe emitting a struct) so the
// Registry's one-name-one-scalar contract from spec §4.5 holds uniformly
// for built-ins and custom probes alike.
func NewMemoryUsageProbe() Probe {
	return memoryProbe{
		name: MemoryUsageProbeName,
		unit: "percent",
		pick: func(v *mem.VirtualMemoryStat) any { return v.UsedPercent },
	}
}

func NewMemoryTotalProbe() Probe {
	return memoryProbe{
		name: MemoryTotalProbeName,
		unit: "bytes",
		pick: func(v *mem.VirtualMemoryStat) any { return v.Total },
	}
}

func NewMemoryUsedProbe() Probe {
	return memoryProbe{
		name: MemoryUsedProbeName,
		unit: "bytes",
		pick: func(v *mem.VirtualMemoryStat) any { return v.Used },
	}
}

func (p memoryProbe) Name() string { return p.name }

func (p memoryProbe) Sample(ctx context.Context) (Value, error) {
	stat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "mem.VirtualMemory", Cause: err}
	}
	return Value{Value: p.pick(stat), Unit: p.unit, Type: p.name}, nil
}
