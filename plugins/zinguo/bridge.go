package zinguo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/joshp123/zinguo/internal/mqtt"
)

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Broker is the part of the MQTT client the bridge needs.
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
	SetOnConnect(fn func())
}

// Topics names the MQTT topics for one device.
type Topics struct {
	Prefix string
	MAC    string
}

func (t Topics) base() string {
	return strings.TrimRight(t.Prefix, "/") + "/" + strings.ToLower(t.MAC)
}

func (t Topics) State() string        { return t.base() + "/state" }
func (t Topics) Availability() string { return t.base() + "/availability" }
func (t Topics) CommandFilter() string {
	return t.base() + "/+/set"
}

// Will marks the device offline if the daemon disappears.
func (t Topics) Will() mqtt.Will {
	return mqtt.Will{Topic: t.Availability(), Payload: availabilityOffline}
}

// parseCommandTopic extracts the switch from <prefix>/<mac>/<switch>/set.
func (t Topics) parseCommandTopic(topic string) (SwitchKey, error) {
	rest, ok := strings.CutPrefix(topic, t.base()+"/")
	if !ok {
		return "", fmt.Errorf("topic %q outside %s", topic, t.base())
	}
	name, ok := strings.CutSuffix(rest, "/set")
	if !ok || strings.Contains(name, "/") {
		return "", fmt.Errorf("topic %q is not a command topic", topic)
	}
	return ParseSwitchKey(name)
}

func parseSwitchPayload(payload []byte) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON", "1", "TRUE":
		return true, nil
	case "OFF", "0", "FALSE":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported switch payload %q", payload)
	}
}

func statePayload(outcome PollOutcome, snap *Snapshot) ([]byte, string, error) {
	availability := availabilityOffline
	if outcome.OK() && snap != nil && snap.Online {
		availability = availabilityOnline
	}
	fields := map[string]any{"available": outcome.OK()}
	if outcome.Err != nil {
		fields["error_kind"] = Kind(outcome.Err).String()
	}
	if snap != nil {
		fields["device"] = snapshotFields(*snap)
	}
	data, err := json.Marshal(fields)
	return data, availability, err
}

// Bridge mirrors coordinator outcomes to MQTT and forwards switch commands.
type Bridge struct {
	broker      Broker
	coordinator *Coordinator
	topics      Topics
	logger      *slog.Logger

	pending chan struct{}
	stop    chan struct{}
	done    chan struct{}

	unsubscribe func()
	closeOnce   sync.Once
}

func NewBridge(broker Broker, coordinator *Coordinator, topics Topics, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		broker:      broker,
		coordinator: coordinator,
		topics:      topics,
		logger:      logger.With("component", "zinguo_mqtt"),
		pending:     make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start subscribes to command topics and begins publishing state.
func (b *Bridge) Start() error {
	if err := b.broker.Subscribe(b.topics.CommandFilter(), b.handleCommand); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topics.CommandFilter(), err)
	}
	b.broker.SetOnConnect(b.notify)
	b.unsubscribe = b.coordinator.Subscribe(func(PollOutcome) { b.notify() })

	go b.run()
	b.notify()
	return nil
}

// Close stops publishing. The MQTT client itself is owned by the caller.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		close(b.stop)
		<-b.done
	})
}

// notify never blocks; bursts collapse into one publish of the latest state.
func (b *Bridge) notify() {
	select {
	case b.pending <- struct{}{}:
	default:
	}
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			return
		case <-b.pending:
			b.publishState()
		}
	}
}

func (b *Bridge) publishState() {
	outcome := b.coordinator.Outcome()
	var snap *Snapshot
	if s, ok := b.coordinator.Snapshot(); ok {
		snap = &s
	}
	payload, availability, err := statePayload(outcome, snap)
	if err != nil {
		b.logger.Error("encode state failed", "error", err)
		return
	}
	if err := b.broker.Publish(b.topics.State(), payload, true); err != nil {
		b.logger.Warn("publish state failed", "error", err)
		return
	}
	if err := b.broker.Publish(b.topics.Availability(), []byte(availability), true); err != nil {
		b.logger.Warn("publish availability failed", "error", err)
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	key, err := b.topics.parseCommandTopic(topic)
	if err != nil {
		return err
	}
	on, err := parseSwitchPayload(payload)
	if err != nil {
		return err
	}
	b.logger.Info("switch command received", "switch", string(key), "on", on)

	// Handlers run on the client's delivery goroutine; the write may take a while.
	go func() {
		if err := b.coordinator.Send(context.Background(), ControlRequest{Key: key, On: on}); err != nil {
			b.logger.Warn("switch command failed", "switch", string(key), "error", err)
		}
	}()
	return nil
}
