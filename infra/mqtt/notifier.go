// Package mqtt delivers notifications over an MQTT broker using
// Eclipse Paho. Each recipient has a topic under the configured prefix;
// mobile and web frontends subscribe to their own topic.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/foodbridge/relay/core/notify"
	"github.com/foodbridge/relay/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled     bool            `json:"enabled"`
	Broker      string          `json:"broker"`
	ClientID    string          `json:"client_id"`
	Username    string          `json:"username"`
	Password    string          `json:"password"`
	TopicPrefix string          `json:"topic_prefix"`
	UseTLS      bool            `json:"use_tls"`
	ClientCert  string          `json:"client_cert"`
	ClientKey   string          `json:"client_key"`
	CABundle    string          `json:"ca_bundle"`
	QoS         map[string]byte `json:"qos"`
	MaxRetries  int             `json:"max_retries"`
	BackoffMS   int             `json:"backoff_ms"`
	TLSConfig   *tls.Config     `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "relay-notifier"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "relay/notify"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks the config for a usable broker setup.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("notifier: broker is required")
	}
	if c.UseTLS && c.TLSConfig == nil {
		if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
			return fmt.Errorf("notifier: tls requires client_cert, client_key and ca_bundle")
		}
	}
	return nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Notifier publishes notifications to per-recipient topics. It
// implements notify.Dispatcher.
type Notifier struct {
	cli     pahoClient
	prefix  string
	qos     map[string]byte
	retries int
	backoff time.Duration
	logger  logger.Logger
}

// NewNotifier connects to the MQTT broker.
func NewNotifier(cfg Config) (*Notifier, error) {
	cfg.SetDefaults()
	opts, err := newClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_notifier")
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Notifier{
		cli:     c,
		prefix:  cfg.TopicPrefix,
		qos:     cfg.QoS,
		retries: cfg.MaxRetries,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
		logger:  log,
	}, nil
}

func newClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// Send publishes the message to the recipient's topic with retries and
// exponential backoff.
func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s", n.prefix, msg.Recipient)
	qos := byte(0)
	if q, ok := n.qos[string(msg.Priority)]; ok {
		qos = q
	}
	var publishErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		token := n.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			n.logger.Debugf("sent %s to %s", msg.Type, topic)
			return nil
		}
		n.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.backoff * time.Duration(1<<attempt)):
		}
	}
	return publishErr
}

// Close gracefully disconnects from the broker.
func (n *Notifier) Close() {
	if n.cli != nil && n.cli.IsConnected() {
		n.cli.Disconnect(250)
	}
}
