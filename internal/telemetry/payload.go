// Package telemetry assembles the JSON telemetry payload from Probe Registry
// samples and drives the periodic Scheduler that publishes it (spec §3,
// §4.5).
package telemetry

import "github.com/kelvinhq/panelmon/internal/probe"

// TimestampLayout is the layout used for the payload's timestamp field:
// local wall-clock time with no zone suffix, matching the literal canonical
// example in spec.md §6 (Open Question decision, recorded in SPEC_FULL.md).
const TimestampLayout = "2006-01-02T15:04:05"

// Payload is the JSON object published on each Scheduler tick. Field order
// and names are fixed by the wire contract; json tags are load-bearing.
type Payload struct {
	Hostname  string `json:"hostname"`
	IP        string `json:"ip"`
	Timestamp string `json:"timestamp"`

	CPU     CPU            `json:"cpu"`
	Memory  Memory         `json:"memory"`
	Storage Storage        `json:"storage"`
	Network Network        `json:"network"`
	Custom  map[string]any `json:"custom,omitempty"`
}

// CPU is the payload's cpu object. Temperature is optional per spec §3;
// Usage is also represented as a pointer so a failed probe sample omits the
// field entirely rather than publishing a misleading zero (spec §4.5:
// "the affected field is omitted").
type CPU struct {
	Usage       *float64 `json:"usage,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Memory is the payload's memory object.
type Memory struct {
	Usage       *float64 `json:"usage,omitempty"`
	Total       *uint64  `json:"total,omitempty"`
	Used        *uint64  `json:"used,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Storage is the payload's storage object.
type Storage struct {
	Capacity *uint64            `json:"capacity,omitempty"`
	Used     *uint64            `json:"used,omitempty"`
	Disks    []probe.DiskStatus `json:"disks,omitempty"`
}

// Network is the payload's network object: bytes/sec since the previous
// tick, computed from monotonic time deltas. Unlike CPU/Memory/Storage,
// both fields are always present at their computed value (0 on the very
// first tick, or if the underlying counters could not be read) rather than
// omitted, since a golden "no traffic" sample is itself meaningful.
type Network struct {
	Upload   int64 `json:"upload"`
	Download int64 `json:"download"`
}
