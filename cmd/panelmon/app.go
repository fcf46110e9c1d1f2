package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kelvinhq/panelmon/config"
	"github.com/kelvinhq/panelmon/internal/broker"
	"github.com/kelvinhq/panelmon/internal/mqttpub"
	"github.com/kelvinhq/panelmon/internal/probe"
	"github.com/kelvinhq/panelmon/internal/telemetry"
)

// app holds everything built from a loaded Config, ready to run or to take
// a single --test sample.
type app struct {
	cfg       *config.Config
	registry  *probe.Registry
	publisher mqttpub.Publisher
	scheduler *telemetry.Scheduler

	broker *broker.Broker // non-nil only in builtin mode, so run() can Start/Stop it
}

// buildApp wires a Config into a running-ready app: registers built-in and
// custom probes, constructs the publisher (builtin broker or external
// client), and assembles the Scheduler.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry := probe.NewRegistry()
	probe.RegisterBuiltins(registry)

	customFields, err := registerCustomCollectors(registry, cfg.CustomCollectors)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, registry: registry}

	switch cfg.MQTT.Type {
	case config.MQTTBuiltin:
		b := broker.New(
			broker.WithLogger(logger),
			broker.WithCredentials(cfg.MQTT.Username, cfg.MQTT.Password),
		)
		a.broker = b
		a.publisher = b
	case config.MQTTExternal:
		keepAlive := 60 * time.Second
		if cfg.MQTT.KeepAlive > 0 {
			keepAlive = time.Duration(cfg.MQTT.KeepAlive) * time.Second
		}
		clientOpts := []mqttpub.ExternalOption{
			mqttpub.WithExternalKeepAlive(keepAlive),
			mqttpub.WithExternalLogger(logger),
		}
		if cfg.MQTT.Username != "" {
			clientOpts = append(clientOpts, mqttpub.WithExternalCredentials(cfg.MQTT.Username, cfg.MQTT.Password))
		}
		addr := net.JoinHostPort(cfg.MQTT.Host, strconv.Itoa(cfg.MQTT.Port))
		a.publisher = mqttpub.NewExternalPublisher(addr, cfg.MQTT.ClientID, clientOpts...)
	default:
		return nil, &config.Error{Message: fmt.Sprintf("unrecognised mqtt.type %q", cfg.MQTT.Type)}
	}

	a.scheduler = telemetry.New(
		time.Duration(cfg.Collection.IntervalSeconds)*time.Second,
		cfg.Server.Hostname, cfg.Server.IP,
		registry, a.publisher, cfg.MQTT.Topic, cfg.MQTT.QoS,
		telemetry.WithCustomFields(customFields),
		telemetry.WithLogger(logger),
	)
	return a, nil
}

// registerCustomCollectors builds and registers one probe per configured
// custom collector, returning the CustomFieldSpecs the Scheduler needs to
// surface them under payload.custom.
func registerCustomCollectors(registry *probe.Registry, collectors []config.CustomCollector) ([]telemetry.CustomFieldSpec, error) {
	specs := make([]telemetry.CustomFieldSpec, 0, len(collectors))
	for _, cc := range collectors {
		transform, err := probe.TransformSpec{Name: cc.Transform, Scale: cc.Scale, Pattern: cc.Pattern}.Build()
		if err != nil {
			return nil, &config.Error{Message: fmt.Sprintf("custom_collectors[%s]", cc.Name), Cause: err}
		}

		var p probe.Probe
		switch cc.Type {
		case config.CollectorFile:
			p = probe.NewFileProbe(cc.Name, cc.Path, cc.Unit, transform)
		case config.CollectorCommand:
			timeout := time.Duration(cc.TimeoutSeconds) * time.Second
			p = probe.NewCommandProbe(cc.Name, cc.Command, cc.Unit, timeout, transform)
		case config.CollectorEnv:
			p = probe.NewEnvProbe(cc.Name, cc.EnvVar, cc.Default, cc.Unit, transform)
		default:
			return nil, &config.Error{Message: fmt.Sprintf("custom_collectors[%s]: unrecognised type %q", cc.Name, cc.Type)}
		}

		registry.Register(p)
		specs = append(specs, telemetry.CustomFieldSpec{RegistryName: cc.Name, FieldName: cc.Name})
	}
	return specs, nil
}

// run starts the builtin broker (if configured) and the external publisher
// (if configured), then blocks the Scheduler until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	if a.broker != nil {
		addr := net.JoinHostPort(a.cfg.MQTT.Host, strconv.Itoa(a.cfg.MQTT.Port))
		if err := a.broker.Start(addr); err != nil {
			return err
		}
		defer a.broker.Stop()
	}

	if ext, ok := a.publisher.(*mqttpub.ExternalPublisher); ok {
		if err := ext.Start(ctx); err != nil {
			return err
		}
		defer ext.Stop()
	}

	return a.scheduler.Run(ctx)
}

// runTest performs a single collection cycle and prints the JSON payload to
// stdout (the --test CLI flag, spec.md §6).
func (a *app) runTest(ctx context.Context) error {
	payload, err := a.scheduler.Tick(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}
