package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kelvinhq/panelmon/internal/mqttpub"
	"github.com/kelvinhq/panelmon/internal/probe"
)

// CustomFieldSpec names a registered probe that should be surfaced under
// custom.<name> in the payload, rather than folded into a built-in field.
type CustomFieldSpec struct {
	// RegistryName is the name the probe was registered under.
	RegistryName string
	// FieldName is the key under payload.custom; defaults to RegistryName.
	FieldName string
}

// Scheduler drives probe sampling at a fixed cadence, assembles the JSON
// payload, and hands it to a Publisher (spec §2 item 6, §4.5).
type Scheduler struct {
	interval  time.Duration
	registry  *probe.Registry
	publisher mqttpub.Publisher
	topic     string
	qos       uint8
	hostname  string
	ip        string
	custom    []CustomFieldSpec
	logger    *slog.Logger

	prevSent   uint64
	prevRecv   uint64
	prevTime   time.Time
	haveSample bool

	// now is the clock used for the payload timestamp and network rate
	// deltas. Defaults to time.Now; overridden in tests for determinism.
	now func() time.Time
}

// Option configures a Scheduler at construction time, following the
// teacher's functional-options idiom.
type Option func(*Scheduler)

// WithCustomFields declares which registered probes are surfaced under
// payload.custom.<name> instead of a built-in field.
func WithCustomFields(specs []CustomFieldSpec) Option {
	return func(s *Scheduler) { s.custom = specs }
}

// WithLogger overrides the Scheduler's structured logger. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New constructs a Scheduler. interval is the tick cadence (spec
// collection.interval); topic/qos are the publish target.
func New(interval time.Duration, hostname, ip string, registry *probe.Registry, publisher mqttpub.Publisher, topic string, qos uint8, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval:  interval,
		registry:  registry,
		publisher: publisher,
		topic:     topic,
		qos:       qos,
		hostname:  hostname,
		ip:        ip,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, ticking every interval until ctx is cancelled. Each tick is
// independent: a publish failure or probe error on one tick never prevents
// the next.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Tick runs a single collection-and-publish cycle synchronously. Exported
// for --test (a single cycle, printed to stdout) and for tests.
func (s *Scheduler) Tick(ctx context.Context) (Payload, error) {
	results := s.registry.SampleAll(ctx)
	return s.assemble(results), nil
}

func (s *Scheduler) tick(ctx context.Context) {
	payload, _ := s.Tick(ctx)

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal telemetry payload", "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, s.topic, data, s.qos, false); err != nil {
		s.logger.Warn("failed to publish telemetry payload", "topic", s.topic, "error", err)
	}
}

func (s *Scheduler) assemble(results map[string]probe.Result) Payload {
	now := s.now()

	payload := Payload{
		Hostname:  s.hostname,
		IP:        s.ip,
		Timestamp: now.Format(TimestampLayout),
		CPU:       s.assembleCPU(results),
		Memory:    s.assembleMemory(results),
		Storage:   s.assembleStorage(results),
		Network:   s.assembleNetwork(results, now),
	}

	if custom := s.assembleCustom(results); len(custom) > 0 {
		payload.Custom = custom
	}
	return payload
}

func (s *Scheduler) assembleCPU(results map[string]probe.Result) CPU {
	var cpu CPU
	if v, ok := floatField(results, probe.CPUUsageProbeName); ok {
		cpu.Usage = &v
	}
	if v, ok := floatField(results, probe.CPUTemperatureProbeName); ok {
		cpu.Temperature = &v
	}
	return cpu
}

func (s *Scheduler) assembleMemory(results map[string]probe.Result) Memory {
	var mem Memory
	if v, ok := floatField(results, probe.MemoryUsageProbeName); ok {
		mem.Usage = &v
	}
	if v, ok := uintField(results, probe.MemoryTotalProbeName); ok {
		mem.Total = &v
	}
	if v, ok := uintField(results, probe.MemoryUsedProbeName); ok {
		mem.Used = &v
	}
	return mem
}

func (s *Scheduler) assembleStorage(results map[string]probe.Result) Storage {
	var storage Storage
	if v, ok := uintField(results, probe.StorageCapacityProbeName); ok {
		storage.Capacity = &v
	}
	if v, ok := uintField(results, probe.StorageUsedProbeName); ok {
		storage.Used = &v
	}
	if r, ok := results[probe.StorageDisksProbeName]; ok && r.Err == nil {
		if disks, ok := r.Value.Value.([]probe.DiskStatus); ok {
			storage.Disks = disks
		}
	}
	return storage
}

// assembleNetwork computes bytes/sec since the previous tick using
// monotonic time deltas (spec §4.5 point 2). The first sample after start
// emits 0 for both fields, and so does any tick where the underlying
// counters could not be read.
func (s *Scheduler) assembleNetwork(results map[string]probe.Result, now time.Time) Network {
	sent, sentOK := uintField(results, probe.NetworkBytesSentProbeName)
	recv, recvOK := uintField(results, probe.NetworkBytesRecvProbeName)

	var net Network
	if !sentOK || !recvOK {
		s.haveSample = false
		return net
	}

	if s.haveSample {
		elapsed := now.Sub(s.prevTime).Seconds()
		if elapsed > 0 {
			if sent >= s.prevSent {
				net.Upload = int64(float64(sent-s.prevSent) / elapsed)
			}
			if recv >= s.prevRecv {
				net.Download = int64(float64(recv-s.prevRecv) / elapsed)
			}
		}
	}

	s.prevSent = sent
	s.prevRecv = recv
	s.prevTime = now
	s.haveSample = true
	return net
}

func (s *Scheduler) assembleCustom(results map[string]probe.Result) map[string]any {
	if len(s.custom) == 0 {
		return nil
	}

	custom := make(map[string]any, len(s.custom))
	for _, spec := range s.custom {
		fieldName := spec.FieldName
		if fieldName == "" {
			fieldName = spec.RegistryName
		}

		r, ok := results[spec.RegistryName]
		if !ok {
			custom[fieldName] = map[string]string{"error": "probe not registered"}
			continue
		}
		if r.Err != nil {
			custom[fieldName] = map[string]string{"error": r.Err.Error()}
			continue
		}
		custom[fieldName] = r.Value.Value
	}
	return custom
}

func floatField(results map[string]probe.Result, name string) (float64, bool) {
	r, ok := results[name]
	if !ok || r.Err != nil {
		return 0, false
	}
	switch v := r.Value.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}

func uintField(results map[string]probe.Result, name string) (uint64, bool) {
	r, ok := results[name]
	if !ok || r.Err != nil {
		return 0, false
	}
	switch v := r.Value.Value.(type) {
	case uint64:
		return v, true
	case uint32:
		return uint64(v), true
	case int64:
		return uint64(v), true
	default:
		return 0, false
	}
}
