// Package telemetry publishes session events to MQTT and exposes them as
// prometheus metrics.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/util"
)

// MQTT topic suffixes, appended to the configured prefix.
const (
	TopicAdmin     = "admin"
	TopicStatus    = "server/status"
	TopicSessions  = "server/sessions"
	TopicDownloads = "server/downloads"
	TopicSecurity  = "server/security"
)

// MQTTHandler manages the MQTT connection and publishes session events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler. It does not
// connect; Start does.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"os":          sysInfo.OS,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": version,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("%s-%s", util.AppName, sysInfo.Hostname))
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

	return handler, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS: client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
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

	return tlsConfig, nil
}

// Start connects to the MQTT broker, publishes bus events until ctx is
// cancelled and then disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.eventBus.SubscribeAll("mqtt", h.onEvent)

	<-ctx.Done()

	h.eventBus.UnsubscribeAll("mqtt")
	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// Topic returns the full topic for a suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

// topicFor routes an event type to its topic suffix.
func topicFor(t events.EventType) string {
	switch t {
	case events.EventSessionConnected, events.EventSessionPrimed,
		events.EventSessionSpawned, events.EventSessionDropped:
		return TopicSessions
	case events.EventDownloadStarted, events.EventDownloadFinished, events.EventDownloadDenied:
		return TopicDownloads
	case events.EventChallengeIssued, events.EventReconnectVerified, events.EventFilterMatched:
		return TopicSecurity
	default:
		return TopicAdmin
	}
}

func (h *MQTTHandler) onEvent(ctx context.Context, event events.Event) error {
	if event.Type == events.EventShutdown {
		// PublishShutdown covers it
		return nil
	}
	h.publish(h.Topic(topicFor(event.Type)), map[string]interface{}{
		"event":   event.Type,
		"payload": event.Payload,
	})
	return nil
}

// PublishStatus sends a periodic status snapshot.
func (h *MQTTHandler) PublishStatus(status interface{}) {
	h.publish(h.Topic(TopicStatus), status)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
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

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.Topic(TopicAdmin), map[string]interface{}{
		"event": events.EventShutdown,
	})
}
