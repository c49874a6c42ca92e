// Package telemetry publishes session activity to an MQTT broker.
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

	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/events"
	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/util"
)

// Topic suffixes below <prefix>/<name>/.
const (
	TopicSession = "session"
	TopicConsole = "console"
	TopicAdmin   = "admin"
)

// publisher is the part of mqtt.Client the handler needs.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler publishes session events and host heartbeats.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	pub      publisher
	base     string

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler for the local side called name.
func NewMQTTHandler(cfg config.MQTTConfig, name string, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker_url is empty")
	}

	sysInfo := util.GetSystemInfo()
	handler := newHandler(cfg, name, eventBus, sysInfo)

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("zily-%s-%s", name, sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

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

	handler.client = mqtt.NewClient(opts)
	handler.pub = handler.client
	return handler, nil
}

func newHandler(cfg config.MQTTConfig, name string, eventBus *events.EventBus, sysInfo util.SystemInfo) *MQTTHandler {
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "zily"
	}
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		base:     prefix + "/" + name,
		metadata: map[string]interface{}{
			"hostname":     sysInfo.Hostname,
			"os":           sysInfo.OS,
			"cpu_cores":    sysInfo.CPUCores,
			"memory_mb":    sysInfo.TotalMemory,
			"side":         name,
			"side_version": protocol.APIVersion.String(),
		},
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
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Topic returns the full topic for a suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return h.base + "/" + suffix
}

// Start connects to the broker, subscribes to session events and blocks
// until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Subscribe()
	h.publishAdmin("startup", nil)

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// Subscribe registers the handler on the event bus.
func (h *MQTTHandler) Subscribe() {
	h.eventBus.SubscribeSessions("mqtt", h.onSessionEvent)
}

func (h *MQTTHandler) onSessionEvent(_ context.Context, event events.Event) error {
	ev, ok := event.SessionEvent()
	if !ok {
		return nil
	}

	switch event.Type {
	case events.EventSessionOnline, events.EventSessionOffline, events.EventSessionRejected:
		h.publish(TopicSession, ev)
	case events.EventConsoleWrite, events.EventRemoteWarning:
		h.publish(TopicConsole, ev)
	}
	return nil
}

// PublishHeartbeat reports the live session count and process usage.
func (h *MQTTHandler) PublishHeartbeat(sessions int) {
	h.publishAdmin("heartbeat", map[string]interface{}{
		"sessions": sessions,
		"usage":    util.GetResourceUsage(),
	})
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publishAdmin("shutdown", nil)
}

func (h *MQTTHandler) publishAdmin(event string, details map[string]interface{}) {
	payload := map[string]interface{}{"event": event}
	for k, v := range details {
		payload[k] = v
	}
	h.publish(TopicAdmin, payload)
}

// publish sends a JSON message to <prefix>/<name>/<suffix>.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if h.pub == nil || !h.pub.IsConnected() {
		return
	}

	topic := h.Topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
