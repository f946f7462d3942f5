// Package relay bridges the HTTP side to the device pub/sub transport.
// Outbound it publishes operator commands on per-robot topics; inbound it
// subscribes an explicit routing table of topic handlers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"poolbot-server/internal/observability"
)

// StatusTopic is the shared channel every robot reports state on.
const StatusTopic = "/robot/updatestatus"

const defaultPublishTimeout = 5 * time.Second

// Handler processes one inbound message. Paho delivers messages for a
// subscription in order on a single goroutine, so handlers run sequentially
// per connection.
type Handler func(ctx context.Context, payload []byte)

// Routes maps topic to handler. The table is built once during bootstrap and
// handed to New; there is no ambient registry to mutate later.
type Routes map[string]Handler

type Config struct {
	BrokerURL      string
	ClientID       string
	PublishTimeout time.Duration
}

type Relay struct {
	client         mqtt.Client
	logger         *observability.Logger
	routes         Routes
	publishTimeout time.Duration
}

// CommandTopic names the device-addressed command channel for one robot.
func CommandTopic(robotID string) string {
	return "/robot/" + robotID + "/command"
}

type commandMessage struct {
	Status string `json:"status"`
}

func New(cfg Config, logger *observability.Logger, routes Routes) (*Relay, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "poolbot-server"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	r := &Relay{
		logger:         logger,
		routes:         routes,
		publishTimeout: cfg.PublishTimeout,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second)

	// Subscriptions are re-established from the connect hook so they
	// survive broker reconnects.
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("mqtt_connected", map[string]any{"broker": cfg.BrokerURL})
		r.subscribeRoutes(client)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error("mqtt_connection_lost", map[string]any{"error": err.Error()})
	})

	r.client = mqtt.NewClient(opts)

	token := r.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timeout", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.BrokerURL, err)
	}

	return r, nil
}

func (r *Relay) subscribeRoutes(client mqtt.Client) {
	for topic, handler := range r.routes {
		handler := handler
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			handler(context.Background(), msg.Payload())
		})
		if token.WaitTimeout(r.publishTimeout) && token.Error() == nil {
			r.logger.Info("mqtt_subscribed", map[string]any{"topic": topic})
			continue
		}

		fields := map[string]any{"topic": topic}
		if err := token.Error(); err != nil {
			fields["error"] = err.Error()
		}
		r.logger.Error("mqtt_subscribe_failed", fields)
	}
}

// PublishCommand sends {"status": ...} on the robot's command topic with a
// bounded wait. At-most-once: no acknowledgment channel exists, so a timeout
// or error is reported to the caller and never retried here.
func (r *Relay) PublishCommand(robotID, status string) error {
	payload, err := json.Marshal(commandMessage{Status: status})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	topic := CommandTopic(robotID)
	token := r.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(r.publishTimeout) {
		return fmt.Errorf("publish to %s: timeout after %s", topic, r.publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	return nil
}

func (r *Relay) Close() {
	r.client.Disconnect(250)
}
