// Package mqttbridge exposes thermostats over MQTT: retained state topics
// out, set topics in, with an ack topic per command.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joshp123/gohome-flair/internal/config"
	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
	"github.com/joshp123/gohome-flair/internal/thermostat"
)

const (
	publishTimeout = 5 * time.Second
	commandTimeout = 60 * time.Second

	fieldMode        = "mode"
	fieldTemperature = "temperature"
)

var ErrNotConnected = errors.New("mqtt not connected")

// Ack is published to <prefix>/<device>/ack/<field> after every command.
type Ack struct {
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

type Bridge struct {
	client    mqtt.Client
	prefix    string
	qos       byte
	commander thermostat.Commander
	log       *logging.Logger
	send      func(topic string, retained bool, payload []byte) error
}

func newBridge(prefix string, qos byte, commander thermostat.Commander, log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.Nop()
	}
	return &Bridge{
		prefix:    strings.Trim(prefix, "/"),
		qos:       qos,
		commander: commander,
		log:       log.Named("mqtt"),
	}
}

// Connect dials the broker, subscribes to set topics (again on every
// reconnect) and marks the bridge online. The will marks it offline.
func Connect(cfg config.MQTTConfig, commander thermostat.Commander, log *logging.Logger) (*Bridge, error) {
	b := newBridge(cfg.TopicPrefix, byte(cfg.QoS), commander, log)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(b.statusTopic(), "offline", b.qos, true)
	opts.OnConnect = func(c mqtt.Client) {
		topic := b.prefix + "/+/set/+"
		if token := c.Subscribe(topic, b.qos, b.onMessage); token.WaitTimeout(publishTimeout) && token.Error() != nil {
			b.log.Errorw("subscribe failed", "topic", topic, "err", token.Error())
			return
		}
		if err := b.send(b.statusTopic(), true, []byte("online")); err != nil {
			b.log.Warnw("status publish failed", "err", err)
		}
		b.log.Infow("connected", "broker", cfg.Broker, "prefix", b.prefix)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.log.Warnw("connection lost", "err", err)
	}

	client := mqtt.NewClient(opts)
	b.client = client
	b.send = b.publishPaho
	if token := client.Connect(); token.WaitTimeout(15*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, token.Error())
	}
	return b, nil
}

// Publish writes the update as retained JSON to <prefix>/<device>/state.
func (b *Bridge) Publish(ctx context.Context, u thermostat.StateUpdate) {
	payload, err := json.Marshal(u)
	if err != nil {
		b.log.Errorw("encode state failed", "device_id", u.DeviceID, "err", err)
		return
	}
	if err := b.send(b.stateTopic(u.DeviceID), true, payload); err != nil {
		b.log.Warnw("state publish failed", "device_id", u.DeviceID, "err", err)
	}
}

// Close publishes offline and disconnects.
func (b *Bridge) Close() {
	if b.client == nil {
		return
	}
	_ = b.send(b.statusTopic(), true, []byte("offline"))
	b.client.Disconnect(250)
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic, payload := msg.Topic(), append([]byte(nil), msg.Payload()...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := b.HandleCommand(ctx, topic, payload); err != nil {
			b.log.Warnw("command failed", "topic", topic, "err", err)
		}
	}()
}

// HandleCommand executes a set command and publishes its ack.
func (b *Bridge) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	deviceID, field, err := b.parseSetTopic(topic)
	if err != nil {
		return err
	}

	var ack Ack
	var cmdErr error
	switch field {
	case fieldMode:
		var desired model.TargetState
		desired, cmdErr = parseMode(payload)
		if cmdErr == nil {
			var got model.TargetState
			got, cmdErr = b.commander.SetTargetMode(ctx, deviceID, desired)
			ack.Value = got
		}
	case fieldTemperature:
		var celsius float64
		celsius, cmdErr = parseTemperature(payload)
		if cmdErr == nil {
			var got float64
			got, cmdErr = b.commander.SetTargetTemperature(ctx, deviceID, celsius)
			ack.Value = got
		}
	default:
		cmdErr = fmt.Errorf("unknown field %q", field)
	}
	if cmdErr != nil {
		ack = Ack{Error: cmdErr.Error()}
	}

	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	if err := b.send(b.ackTopic(deviceID, field), false, data); err != nil {
		return fmt.Errorf("publish ack: %w", err)
	}
	return cmdErr
}

func (b *Bridge) parseSetTopic(topic string) (deviceID, field string, err error) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return "", "", fmt.Errorf("topic %q outside prefix %q", topic, b.prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" {
		return "", "", fmt.Errorf("topic %q is not <prefix>/<device>/set/<field>", topic)
	}
	return parts[0], parts[2], nil
}

// parseMode accepts a bare state name or {"mode": "..."}.
func parseMode(payload []byte) (model.TargetState, error) {
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", fmt.Errorf("decode mode payload: %w", err)
		}
		raw = body.Mode
	}
	return model.ParseTargetState(strings.Trim(raw, `"`))
}

// parseTemperature accepts a bare Celsius number or {"celsius": n}.
func parseTemperature(payload []byte) (float64, error) {
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var body struct {
			Celsius *float64 `json:"celsius"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return 0, fmt.Errorf("decode temperature payload: %w", err)
		}
		if body.Celsius == nil {
			return 0, fmt.Errorf("temperature payload missing celsius")
		}
		return *body.Celsius, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse temperature %q: %w", raw, err)
	}
	return v, nil
}

func (b *Bridge) publishPaho(topic string, retained bool, payload []byte) error {
	if b.client == nil || !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := b.client.Publish(topic, b.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}

func (b *Bridge) stateTopic(deviceID string) string {
	return b.prefix + "/" + deviceID + "/state"
}

func (b *Bridge) ackTopic(deviceID, field string) string {
	return b.prefix + "/" + deviceID + "/ack/" + field
}

func (b *Bridge) statusTopic() string {
	return b.prefix + "/status"
}
