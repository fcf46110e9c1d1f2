package probe

import (
	"context"

	gopsutilnet "github.com/shirou/gopsutil/v4/net"
)

// Registry keys for the raw cumulative byte counters the Scheduler turns
// into network.upload/network.download bytes/sec via monotonic deltas
// (spec §4.5 point 2). The probe layer only ever reports a cumulative
// total; rate computation is deliberately not a probe concern, since a
// probe is sampled independently and has no notion of "since last tick".
const (
	NetworkBytesSentProbeName = "network.bytes_sent"
	NetworkBytesRecvProbeName = "network.bytes_recv"
)

type networkCounterProbe struct {
	name string
	pick func(*gopsutilnet.IOCountersStat) uint64
}

func NewNetworkBytesSentProbe() Probe {
	return networkCounterProbe{
		name: NetworkBytesSentProbeName,
		pick: func(s *gopsutilnet.IOCountersStat) uint64 { return s.BytesSent },
	}
}

func NewNetworkBytesRecvProbe() Probe {
	return networkCounterProbe{
		name: NetworkBytesRecvProbeName,
		pick: func(s *gopsutilnet.IOCountersStat) uint64 { return s.BytesRecv },
	}
}

func (p networkCounterProbe) Name() string { return p.name }

func (p networkCounterProbe) Sample(ctx context.Context) (Value, error) {
	counters, err := gopsutilnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "net.IOCounters", Cause: err}
	}
	if len(counters) == 0 {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "net.IOCounters returned no interfaces"}
	}
	return Value{Value: p.pick(&counters[0]), Unit: "bytes", Type: p.name}, nil
}
