// Package mqtt receives camera commands from an MQTT topic.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"joyptz/internal/input"
)

// Config for the MQTT subscriber.
type Config struct {
	Broker   string
	Port     int
	Topic    string
	ClientID string
	Username string
	Password string
	// Certificate is a CA bundle; when set the connection uses TLS.
	Certificate string
	KeepAlive   time.Duration
	// Protocol is the MQTT protocol level, 4 (3.1.1) when zero.
	Protocol int
}

// BrokerURL returns the paho broker URL for cfg.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	port := c.Port
	if c.Certificate != "" {
		scheme = "ssl"
		if port == 0 {
			port = 8883
		}
	}
	if port == 0 {
		port = 1883
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker, port)
}

// Source is an input.Source fed by MQTT messages such as "ptz left" or
// "preset 3".
type Source struct {
	client mqtt.Client
	logger *slog.Logger
	events chan input.Event

	mu     sync.Mutex
	parser *input.Parser

	done chan struct{}
	once sync.Once
}

// New connects to the broker and subscribes to cfg.Topic. The subscription
// is renewed on every reconnect.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.New("mqtt broker and topic are required")
	}

	s := newSource(logger)

	opts, err := s.clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	s.client = mqtt.NewClient(opts)

	logger.Info("connecting to MQTT broker", "broker", cfg.BrokerURL(), "topic", cfg.Topic)
	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.BrokerURL())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.BrokerURL(), err)
	}
	return s, nil
}

func newSource(logger *slog.Logger) *Source {
	return &Source{
		logger: logger,
		events: make(chan input.Event, 32),
		parser: input.NewParser(),
		done:   make(chan struct{}),
	}
}

func (s *Source) clientOptions(cfg Config) (*mqtt.ClientOptions, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "joyptz-" + uuid.NewString()
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	protocol := cfg.Protocol
	if protocol == 0 {
		protocol = 4
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(clientID)
	opts.SetProtocolVersion(uint(protocol))
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.Certificate != "" {
		tlsCfg, err := loadTLS(cfg.Certificate)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	topic := cfg.Topic
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.logger.Info("connected to MQTT broker")
		if token := c.Subscribe(topic, 0, s.onMessage); token.Wait() && token.Error() != nil {
			s.logger.Error("failed to subscribe", "topic", topic, "error", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", "error", err)
	})
	return opts, nil
}

func loadTLS(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (s *Source) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.logger.Info("mqtt message", "topic", msg.Topic(), "payload", string(msg.Payload()))
	s.handle(msg.Payload())
}

// handle parses one payload and enqueues the resulting events.
func (s *Source) handle(payload []byte) {
	s.mu.Lock()
	evs, err := s.parser.Parse(string(payload))
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("ignoring mqtt message", "error", err)
		return
	}
	for _, ev := range evs {
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

// Events returns the event channel. It is never closed by the broker
// connection; reconnects are handled internally.
func (s *Source) Events() <-chan input.Event {
	return s.events
}

// Close disconnects from the broker.
func (s *Source) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.client != nil {
			s.client.Disconnect(250)
		}
	})
	return nil
}
