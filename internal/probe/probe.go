// Package probe implements the Probe Registry: a set of named sampling
// functions producing typed values, queried on demand by the Scheduler.
// Built-in probes read host metrics via gopsutil; custom probes read a file,
// run a command, or read an environment variable, each with an optional
// declared transform.
package probe

import (
	"context"
	"sync"
)

// Value is one sample taken from a Probe: a scalar plus the metadata needed
// to place it in the telemetry payload.
type Value struct {
	Value any
	Unit  string
	Type  string // "cpu.usage", "file", "command", "env", etc.
}

// Probe is a named sampling capability. Sample MUST NOT block past ctx's
// deadline; command-backed probes enforce their own per-sample timeout on
// top of whatever the caller sets.
type Probe interface {
	Name() string
	Sample(ctx context.Context) (Value, error)
}

// Result pairs a Value with the error from sampling it, so a failed probe
// never aborts the rest of a tick (spec: probe failure is never fatal).
type Result struct {
	Value Value
	Err   error
}

// Registry holds every probe the Scheduler samples on each tick, keyed by
// name. Safe for concurrent Register/SampleAll, following the Topic
// Router's RWMutex discipline: registration is rare, sampling is frequent.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe
	order  []string // preserves registration order for deterministic custom-field output
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Probe)}
}

// Register adds p, keyed by p.Name(). Re-registering the same name replaces
// the existing probe without disturbing its position in sampling order.
func (r *Registry) Register(p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.probes[name]; !exists {
		r.order = append(r.order, name)
	}
	r.probes[name] = p
}

// Sample runs the named probe, or reports it missing.
func (r *Registry) Sample(ctx context.Context, name string) (Value, error) {
	r.mu.RLock()
	p, ok := r.probes[name]
	r.mu.RUnlock()

	if !ok {
		return Value{}, &Error{Kind: ErrUnknownProbe, Message: name}
	}
	return p.Sample(ctx)
}

// SampleAll runs every registered probe, in registration order, and returns
// one Result per name, keyed by name. A probe that errors or times out still produces an
// entry; it never prevents the others from sampling.
func (r *Registry) SampleAll(ctx context.Context) map[string]Result {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	probes := make(map[string]Probe, len(r.probes))
	for k, v := range r.probes {
		probes[k] = v
	}
	r.mu.RUnlock()

	out := make(map[string]Result, len(names))
	for _, name := range names {
		v, err := probes[name].Sample(ctx)
		out[name] = Result{Value: v, Err: err}
	}
	return out
}

// Names returns every registered probe name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// RegisterBuiltins registers the full built-in CPU/memory/storage/network
// probe set (spec §4.5) under their well-known names.
func RegisterBuiltins(r *Registry) {
	r.Register(NewCPUUsageProbe())
	r.Register(NewCPUTemperatureProbe())
	r.Register(NewMemoryUsageProbe())
	r.Register(NewMemoryTotalProbe())
	r.Register(NewMemoryUsedProbe())
	r.Register(NewStorageCapacityProbe())
	r.Register(NewStorageUsedProbe())
	r.Register(NewStorageDisksProbe())
	r.Register(NewNetworkBytesSentProbe())
	r.Register(NewNetworkBytesRecvProbe())
}
