package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/config"
	"github.com/landrop-server/landrop-server/internal/events"
)

// Forwarder pushes transfer lifecycle events to external systems: a NATS
// subject per event type, an MQTT topic per event type, and an HTTP
// webhook. Each backend is independent and optional.
type Forwarder struct {
	cfg config.IntegrationsConfig

	nc         *nats.Conn
	mqttClient mqtt.Client
	httpClient *http.Client

	source <-chan events.Event
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewForwarder creates a forwarder consuming the given event stream.
func NewForwarder(cfg config.IntegrationsConfig, source <-chan events.Event) *Forwarder {
	return &Forwarder{
		cfg:    cfg,
		source: source,
		httpClient: &http.Client{
			Timeout: cfg.Webhook.Timeout,
		},
	}
}

// Enabled reports whether any backend is configured.
func (f *Forwarder) Enabled() bool {
	return f.cfg.NATS.URL != "" || f.cfg.MQTT.Broker != "" || f.cfg.Webhook.URL != ""
}

// Start connects the configured backends and begins forwarding. A backend
// that fails to connect is logged and skipped; the others keep working.
func (f *Forwarder) Start(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)

	if f.cfg.NATS.URL != "" {
		nc, err := nats.Connect(f.cfg.NATS.URL,
			nats.MaxReconnects(f.cfg.NATS.MaxReconnects),
			nats.ReconnectWait(f.cfg.NATS.ReconnectInterval),
		)
		if err != nil {
			log.Error().Err(err).Str("url", f.cfg.NATS.URL).Msg("Failed to connect to NATS")
		} else {
			f.nc = nc
			log.Info().Str("url", f.cfg.NATS.URL).Msg("Connected to NATS")
		}
	}

	if f.cfg.MQTT.Broker != "" {
		opts := mqtt.NewClientOptions().
			AddBroker(f.cfg.MQTT.Broker).
			SetClientID(f.cfg.MQTT.ClientID).
			SetAutoReconnect(true).
			SetConnectTimeout(10 * time.Second)
		if f.cfg.MQTT.Username != "" {
			opts.SetUsername(f.cfg.MQTT.Username)
			opts.SetPassword(f.cfg.MQTT.Password)
		}

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() == nil {
			f.mqttClient = client
			log.Info().Str("broker", f.cfg.MQTT.Broker).Msg("Connected to MQTT broker")
		} else {
			log.Error().Err(token.Error()).Str("broker", f.cfg.MQTT.Broker).Msg("Failed to connect to MQTT broker")
		}
	}

	f.wg.Add(1)
	go f.forwardLoop(ctx)

	log.Info().Msg("Integration forwarder started")
	return nil
}

// Stop drains the loop and closes the connections.
func (f *Forwarder) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()

	if f.nc != nil {
		f.nc.Close()
	}
	if f.mqttClient != nil {
		f.mqttClient.Disconnect(250)
	}
}

func (f *Forwarder) forwardLoop(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.source:
			if !ok {
				return
			}
			f.forward(ctx, ev)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	if f.nc != nil {
		subject := fmt.Sprintf("%s.%s", f.cfg.NATS.SubjectPrefix, ev.Type)
		if err := f.nc.Publish(subject, payload); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("NATS publish failed")
		}
	}

	if f.mqttClient != nil && f.mqttClient.IsConnected() {
		topic := fmt.Sprintf("%s/%s", f.cfg.MQTT.TopicPrefix, ev.Type)
		token := f.mqttClient.Publish(topic, 0, false, payload)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}

	if f.cfg.Webhook.URL != "" {
		f.postWebhook(ctx, payload)
	}
}

func (f *Forwarder) postWebhook(ctx context.Context, payload []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Webhook.URL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", f.cfg.Webhook.URL).Msg("Webhook delivery failed")
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Str("url", f.cfg.Webhook.URL).Msg("Webhook rejected event")
	}
}
