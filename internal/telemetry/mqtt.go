// Package telemetry publishes routing, peer and battle events to an MQTT
// broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/config"
	"github.com/critterbox/battlewire/internal/events"
	"github.com/critterbox/battlewire/internal/util"
)

// Topic suffixes below <prefix>/<node>.
const (
	TopicRoute  = "route"
	TopicPeer   = "peer"
	TopicBattle = "battle"
	TopicHealth = "health"
	TopicStatus = "status"
)

const (
	subscriberName = "mqtt"
	statusInterval = 30 * time.Second
)

// StatusFunc returns the payload of the periodic status message.
type StatusFunc func() interface{}

type publishFunc func(topic string, data []byte)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	node     string
	eventBus *events.EventBus
	client   mqtt.Client
	publishF publishFunc
	status   StatusFunc

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler for the named node.
func NewMQTTHandler(cfg config.MQTTConfig, node, role string, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"node":      node,
		"role":      role,
		"hostname":  sysInfo.Hostname,
		"os":        sysInfo.OS,
		"cpu_cores": sysInfo.CPUCores,
	}

	h := newHandler(cfg, node, eventBus, metadata, nil)

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("battlewire-%s-%s", node, sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetWill(h.topic(TopicStatus), `{"online":false}`, 1, true)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.publishF = h.publishMQTT

	return h, nil
}

func newHandler(cfg config.MQTTConfig, node string, bus *events.EventBus, metadata map[string]interface{}, pub publishFunc) *MQTTHandler {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "battlewire"
	}
	return &MQTTHandler{
		cfg:      cfg,
		node:     node,
		eventBus: bus,
		publishF: pub,
		metadata: metadata,
	}
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in MQTT CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS: load client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// SetStatusFunc sets the source of the periodic status message.
func (h *MQTTHandler) SetStatusFunc(fn StatusFunc) {
	h.status = fn
}

// Start connects to the MQTT broker, subscribes to events and publishes
// status until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	h.publishStatus()
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.PublishShutdown()
			h.client.Disconnect(5000)
			log.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			h.publishStatus()
		}
	}
}

func (h *MQTTHandler) subscribeEvents() {
	for _, t := range events.RouteEventTypes {
		h.eventBus.Subscribe(t, subscriberName, h.onRoute)
	}
	h.eventBus.Subscribe(events.EventPeerJoined, subscriberName, h.onPeer)
	h.eventBus.Subscribe(events.EventPeerLeft, subscriberName, h.onPeer)
	h.eventBus.Subscribe(events.EventBattleStarted, subscriberName, h.onBattle)
	h.eventBus.Subscribe(events.EventBattleEnded, subscriberName, h.onBattle)
	h.eventBus.Subscribe(events.EventHealthChanged, subscriberName, h.onHealth)
}

func (h *MQTTHandler) unsubscribeEvents() {
	for _, t := range events.RouteEventTypes {
		h.eventBus.Unsubscribe(t, subscriberName)
	}
	h.eventBus.Unsubscribe(events.EventPeerJoined, subscriberName)
	h.eventBus.Unsubscribe(events.EventPeerLeft, subscriberName)
	h.eventBus.Unsubscribe(events.EventBattleStarted, subscriberName)
	h.eventBus.Unsubscribe(events.EventBattleEnded, subscriberName)
	h.eventBus.Unsubscribe(events.EventHealthChanged, subscriberName)
}

// topic joins the prefix, node name and the given parts.
func (h *MQTTHandler) topic(parts ...string) string {
	return strings.Join(append([]string{h.cfg.TopicPrefix, h.node}, parts...), "/")
}

func (h *MQTTHandler) publish(topic string, event events.Event) {
	data, err := json.Marshal(h.buildMessage(string(event.Type), event.At, event.Payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}
	h.publishF(topic, data)
}

func (h *MQTTHandler) publishMQTT(topic string, data []byte) {
	if !h.client.IsConnected() {
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(event string, at time.Time, payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	if at.IsZero() {
		at = time.Now()
	}
	msg["event"] = event
	msg["payload"] = payload
	msg["timestamp"] = at.UTC().Format(time.RFC3339Nano)
	return msg
}

func (h *MQTTHandler) onRoute(_ context.Context, event events.Event) error {
	p, ok := event.Payload.(events.RoutePayload)
	if !ok {
		return fmt.Errorf("mqtt: unexpected route payload %T", event.Payload)
	}
	h.publish(h.topic(TopicRoute, string(p.Action)), event)
	return nil
}

func (h *MQTTHandler) onPeer(_ context.Context, event events.Event) error {
	h.publish(h.topic(TopicPeer), event)
	return nil
}

func (h *MQTTHandler) onBattle(_ context.Context, event events.Event) error {
	h.publish(h.topic(TopicBattle), event)
	return nil
}

func (h *MQTTHandler) onHealth(_ context.Context, event events.Event) error {
	h.publish(h.topic(TopicHealth), event)
	return nil
}

func (h *MQTTHandler) publishStatus() {
	payload := map[string]interface{}{"online": true}
	if h.status != nil {
		payload["status"] = h.status()
	}
	h.publish(h.topic(TopicStatus), events.Event{Type: "status", Payload: payload})
}

// PublishShutdown sends an offline status message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.topic(TopicStatus), events.Event{Type: events.EventShutdown, Payload: map[string]interface{}{"online": false}})
}
