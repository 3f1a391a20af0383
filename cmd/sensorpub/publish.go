package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/sensorpub/internal/buildinfo"
	"github.com/nugget/sensorpub/internal/config"
	"github.com/nugget/sensorpub/internal/metrics"
	"github.com/nugget/sensorpub/internal/mqtt"
	"github.com/nugget/sensorpub/internal/sensor"
)

// pushTimeout bounds the Pushgateway request made after the publish.
const pushTimeout = 5 * time.Second

// runPublish reports <topic> <field-name> <true|false>.
func runPublish(ctx context.Context, stderr io.Writer, inv *invocation, open mqtt.OpenFunc) error {
	if len(inv.positionals) != 3 {
		return fmt.Errorf("%w: expected <topic> <field-name> <true|false>, got %d argument(s)",
			sensor.ErrConfiguration, len(inv.positionals))
	}
	value, err := sensor.ParseFieldValue(inv.positionals[2])
	if err != nil {
		return err
	}

	cfg, logger, err := prepare(stderr, inv)
	if err != nil {
		return err
	}

	ev := newEvent(inv, value)
	if err := ev.Validate(); err != nil {
		return err
	}

	rec := metrics.NewRecorder()
	payload, err := sensor.BuildPayload(ev)
	if err != nil {
		rec.Observe(metrics.OutcomeSerialization, 0)
		pushMetrics(rec, cfg.Metrics, ev.Topic, logger)
		return err
	}

	msg := mqtt.Message{Topic: ev.Topic, Payload: payload, QoS: mqtt.AtLeastOnce}
	return send(ctx, cfg, logger, open, rec, msg)
}

// runDiscovery publishes the retained Home Assistant discovery config
// for <topic> <field-name>.
func runDiscovery(ctx context.Context, stderr io.Writer, inv *invocation, open mqtt.OpenFunc) error {
	if len(inv.positionals) != 2 {
		return fmt.Errorf("%w: expected discovery <topic> <field-name>, got %d argument(s)",
			sensor.ErrConfiguration, len(inv.positionals))
	}

	cfg, logger, err := prepare(stderr, inv)
	if err != nil {
		return err
	}

	ev := newEvent(inv, false)
	if err := ev.Validate(); err != nil {
		return err
	}

	d, err := sensor.BuildDiscovery(ev, inv.discoveryPrefix, inv.deviceClass)
	if err != nil {
		return err
	}
	logger.Debug("discovery config built", "topic", d.Topic, "unique_id", sensor.UniqueID(ev))

	msg := mqtt.Message{Topic: d.Topic, Payload: d.Payload, QoS: mqtt.AtLeastOnce, Retain: true}
	return send(ctx, cfg, logger, open, metrics.NewRecorder(), msg)
}

func newEvent(inv *invocation, value bool) sensor.Event {
	return sensor.Event{
		Topic:      inv.positionals[0],
		FieldName:  inv.positionals[1],
		FieldValue: value,
		Battery:    inv.battery,
		Voltage:    inv.voltage,
		SensorID:   inv.sensorID,
	}
}

// prepare loads and validates the configuration and builds the run's
// logger. Nothing here touches the network.
func prepare(stderr io.Writer, inv *invocation) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(inv.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", sensor.ErrConfiguration, err)
	}
	for _, apply := range inv.overrides {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", sensor.ErrConfiguration, err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	format, _ := config.ParseLogFormat(cfg.LogFormat)

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("generate run id: %w", err)
	}
	logger := config.NewLogger(stderr, level, format).With("run_id", runID.String())

	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	}
	logger.Debug("sensorpub starting", "version", buildinfo.Version,
		"broker", cfg.Broker.Host, "port", cfg.Broker.Port,
		"protocol", cfg.Broker.Protocol, "transport", cfg.Broker.Transport)

	return cfg, logger, nil
}

// loadConfig locates and parses the YAML configuration file. A missing
// file is fine unless explicit names it; defaults are used instead.
// Returns the parsed config and the path that was loaded, if any.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if errors.Is(err, config.ErrNotFound) {
		return config.Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// send runs a single-use publisher for msg and records the outcome.
func send(ctx context.Context, cfg *config.Config, logger *slog.Logger, open mqtt.OpenFunc, rec *metrics.Recorder, msg mqtt.Message) error {
	pub := mqtt.NewPublisher(cfg.Broker, open, logger)
	res, err := pub.Publish(ctx, msg)

	rec.Observe(outcome(err), res.Elapsed)
	pushMetrics(rec, cfg.Metrics, msg.Topic, logger)

	if err != nil {
		logger.Debug("publish failed", "topic", msg.Topic, "state", pub.State().String(), "error", err)
		return err
	}
	return nil
}

func pushMetrics(rec *metrics.Recorder, cfg config.MetricsConfig, topic string, logger *slog.Logger) {
	if cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := rec.Push(ctx, cfg, topic); err != nil {
		logger.Warn("metrics push failed", "error", err)
	}
}

// outcome names the failure class of err for metrics.
func outcome(err error) string {
	switch exitCode(err) {
	case exitOK:
		return metrics.OutcomeSuccess
	case exitConfiguration:
		return metrics.OutcomeConfiguration
	case exitConnection:
		return metrics.OutcomeConnection
	case exitPublish:
		return metrics.OutcomePublish
	case exitConfirmation:
		return metrics.OutcomeConfirmation
	case exitSerialization:
		return metrics.OutcomeSerialization
	default:
		return metrics.OutcomeError
	}
}
