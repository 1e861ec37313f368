package kafka

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"callpipe/config"
)

// eventHubKafkaPort is the Kafka endpoint port of an Event Hubs namespace.
const eventHubKafkaPort = "9093"

// EventHub is a parsed Event Hubs connection string.
type EventHub struct {
	Host       string
	KeyName    string
	EntityPath string
	raw        string
}

// ParseConnectionString parses
// Endpoint=sb://<ns>.servicebus.windows.net/;SharedAccessKeyName=..;SharedAccessKey=..[;EntityPath=..]
func ParseConnectionString(cs string) (EventHub, error) {
	hub := EventHub{raw: strings.TrimSpace(cs)}
	var hasKey bool
	for _, part := range strings.Split(hub.raw, ";") {
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return EventHub{}, fmt.Errorf("malformed connection string segment %q", part)
		}
		switch strings.ToLower(k) {
		case "endpoint":
			host := strings.TrimPrefix(v, "sb://")
			hub.Host = strings.TrimSuffix(host, "/")
		case "sharedaccesskeyname":
			hub.KeyName = v
		case "sharedaccesskey":
			hasKey = v != ""
		case "entitypath":
			hub.EntityPath = v
		}
	}
	if hub.Host == "" {
		return EventHub{}, errors.New("connection string has no Endpoint")
	}
	if hub.KeyName == "" || !hasKey {
		return EventHub{}, errors.New("connection string has no shared access key")
	}
	return hub, nil
}

// Broker returns the namespace's Kafka bootstrap address.
func (h EventHub) Broker() string { return h.Host + ":" + eventHubKafkaPort }

// Settings carries what producers and consumers need to reach the brokers.
type Settings struct {
	Brokers   []string
	Dialer    *kafka.Dialer
	Transport *kafka.Transport
}

// NewSettings derives connection settings. An Event Hubs connection string
// takes precedence over the plain broker address.
func NewSettings(cfg config.KafkaConfig) (Settings, error) {
	if cfg.EventHubConnectionString == "" {
		if cfg.Broker == "" {
			return Settings{}, errors.New("kafka broker not configured")
		}
		return Settings{Brokers: strings.Split(cfg.Broker, ",")}, nil
	}
	hub, err := ParseConnectionString(cfg.EventHubConnectionString)
	if err != nil {
		return Settings{}, fmt.Errorf("event hub: %w", err)
	}
	mechanism := plain.Mechanism{Username: "$ConnectionString", Password: hub.raw}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hub.Host}
	return Settings{
		Brokers: []string{hub.Broker()},
		Dialer: &kafka.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			SASLMechanism: mechanism,
			TLS:           tlsConfig,
		},
		Transport: &kafka.Transport{
			SASL: mechanism,
			TLS:  tlsConfig,
		},
	}, nil
}
