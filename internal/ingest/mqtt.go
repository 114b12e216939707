// Package ingest adapts external telemetry transports into the
// observation queue. Transport failures are retried here and are
// invisible to the engine, which simply sees no new observations.
package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/shelfi/shelfd/internal/config"
	"github.com/shelfi/shelfd/internal/obs"
	"github.com/shelfi/shelfd/internal/queue"
)

// MQTTSource subscribes to the broker topic carrying shelf weight
// readings and enqueues every well-formed record. Malformed payloads are
// dropped and logged; one bad record never halts the feed.
type MQTTSource struct {
	cfg    config.MQTT
	q      *queue.Queue
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	received  uint64
	dropped   uint64
}

// NewMQTTSource creates a source for the given broker settings.
func NewMQTTSource(cfg config.MQTT, q *queue.Queue) *MQTTSource {
	return &MQTTSource{cfg: cfg, q: q}
}

// Connect establishes the broker connection and subscribes. Reconnects
// are automatic with a capped retry interval; the subscription is
// re-established on every reconnect.
func (s *MQTTSource) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	tlsCfg, err := s.tlsConfig()
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		scheme = "ssl"
		opts.SetTLSConfig(tlsCfg)
	}
	opts.AddBroker(fmt.Sprintf("%s://%s", scheme, s.cfg.Broker))
	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = "shelfd"
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		obs.Logger.Info("mqtt connection established",
			"broker", s.cfg.Broker,
			"client_id", clientID,
			"topic", s.cfg.Topic)
		token := c.Subscribe(s.cfg.Topic, 1, s.handleMessage)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			obs.Logger.Error("mqtt subscribe failed", "topic", s.cfg.Topic, "error", token.Error())
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		obs.Logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", s.cfg.Broker)
	}

	s.client = mqtt.NewClient(opts)

	obs.Logger.Info("connecting to mqtt broker", "broker", s.cfg.Broker)
	token := s.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// handleMessage parses one telemetry payload and enqueues it.
func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	o, err := ParsePayload(msg.Payload(), time.Now().UTC())
	if err != nil {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		obs.Logger.Warn("telemetry payload dropped", "error", err, "size", len(msg.Payload()))
		return
	}
	s.mu.Lock()
	s.received++
	s.mu.Unlock()
	if !s.q.Enqueue(o) {
		obs.Logger.Warn("observation rejected, intake closed", "ts", o.TS)
	}
}

// Disconnect closes the broker connection.
func (s *MQTTSource) Disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		obs.Logger.Info("mqtt disconnected")
	}
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// Stats contains source counters.
type Stats struct {
	Connected bool
	Received  uint64
	Dropped   uint64
}

// SourceStats returns current counters.
func (s *MQTTSource) SourceStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Connected: s.connected, Received: s.received, Dropped: s.dropped}
}

// tlsConfig builds the TLS configuration when cert material is set.
func (s *MQTTSource) tlsConfig() (*tls.Config, error) {
	if s.cfg.CAFile == "" && s.cfg.CertFile == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.cfg.CAFile != "" {
		ca, err := os.ReadFile(s.cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("parse ca cert %s", s.cfg.CAFile)
		}
		cfg.RootCAs = pool
	}
	if s.cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
