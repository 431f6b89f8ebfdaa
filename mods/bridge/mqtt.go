// Package bridge connects the in-process event bus to the swarm transport.
// The Mqtt client keeps a supervised connection to the broker; Link moves
// formation events between bus topics and wire topics as JSON.
package bridge

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/flocklab/flockd/mods/logging"
)

// MqttConfig is the broker connection configuration.
type MqttConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientId"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	KeepAlive    time.Duration `yaml:"keepAlive"`
	CleanSession bool          `yaml:"cleanSession"`
	CertPath     string        `yaml:"cert"`
	KeyPath      string        `yaml:"key"`
	CaCertPath   string        `yaml:"caCert"`
}

func DefaultMqttConfig() MqttConfig {
	return MqttConfig{
		KeepAlive:    30 * time.Second,
		CleanSession: true,
	}
}

type Mqtt struct {
	log  logging.Log
	conf MqttConfig

	client     paho.Client
	clientOpts *paho.ClientOptions
	alive      bool
	stopSig    chan bool

	connectListeners    []func()
	disconnectListeners []func()

	reconnectMaxWait   time.Duration
	connectTimeout     time.Duration
	subscribeTimeout   time.Duration
	unsubscribeTimeout time.Duration
	publishTimeout     time.Duration

	inMsgs   uint64
	outMsgs  uint64
	inBytes  uint64
	outBytes uint64
}

func NewMqtt(conf MqttConfig) *Mqtt {
	return &Mqtt{
		log:     logging.GetLog("mqtt"),
		conf:    conf,
		stopSig: make(chan bool),

		reconnectMaxWait:   10 * time.Second,
		connectTimeout:     5 * time.Second,
		subscribeTimeout:   3 * time.Second,
		unsubscribeTimeout: 3 * time.Second,
		publishTimeout:     3 * time.Second,
	}
}

// Start builds the client options and launches the connection supervisor.
func (c *Mqtt) Start() error {
	cfg := paho.NewClientOptions()
	cfg.SetProtocolVersion(4)
	cfg.SetConnectRetry(false)
	cfg.SetAutoReconnect(false)
	cfg.SetCleanSession(c.conf.CleanSession)
	if len(c.conf.Username) > 0 {
		cfg.SetUsername(c.conf.Username)
	}
	if len(c.conf.Password) > 0 {
		cfg.SetPassword(c.conf.Password)
	}
	if c.conf.KeepAlive >= 1*time.Second {
		cfg.SetKeepAlive(c.conf.KeepAlive)
	}
	for _, addr := range c.conf.Brokers {
		cfg.AddBroker(addr)
	}
	if len(c.conf.ClientID) > 0 {
		cfg.SetClientID(c.conf.ClientID)
	}
	if len(c.conf.KeyPath) > 0 && len(c.conf.CertPath) > 0 && len(c.conf.CaCertPath) > 0 {
		rootCAs := x509.NewCertPool()
		ca, err := os.ReadFile(c.conf.CaCertPath)
		if err != nil {
			return err
		}
		rootCAs.AppendCertsFromPEM(ca)

		tlsCert, err := tls.LoadX509KeyPair(c.conf.CertPath, c.conf.KeyPath)
		if err != nil {
			return err
		}
		cfg.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: true,
			RootCAs:            rootCAs,
			ClientAuth:         tls.NoClientCert,
			Certificates:       []tls.Certificate{tlsCert},
		})
	}

	c.clientOpts = cfg
	if len(c.conf.Brokers) == 0 {
		return fmt.Errorf("mqtt: no broker address")
	}
	go c.run()
	return nil
}

func (c *Mqtt) Stop() {
	if c.alive {
		c.stopSig <- true
	}
}

func (c *Mqtt) IsConnected() bool {
	if !c.alive || c.client == nil || !c.client.IsConnected() {
		return false
	}
	return true
}

func (c *Mqtt) run() {
	var fallbackWait = 1 * time.Second
	ticker := time.NewTicker(1 * time.Second)
	c.alive = true
	for c.alive {
		select {
		case <-ticker.C:
			if c.client == nil || !c.client.IsConnected() {
				c.log.Tracef("connecting... %v", c.clientOpts.Servers)
				c.client = paho.NewClient(c.clientOpts)
				clientToken := c.client.Connect()
				if beforeTimedout := clientToken.WaitTimeout(c.connectTimeout); c.client.IsConnected() {
					c.log.Trace("connected.")
					go c.notifyConnectListeners()
					ticker.Reset(10 * time.Second)
					fallbackWait = 1 * time.Second
				} else {
					if beforeTimedout {
						c.log.Trace("connect rejected")
					} else {
						c.log.Trace("connect timed out")
					}
					c.log.Tracef("connecting fallback wait %s.", fallbackWait)
					go c.notifyDisconnectListeners()
					ticker.Reset(fallbackWait)
					fallbackWait *= 2
					if fallbackWait > c.reconnectMaxWait {
						fallbackWait = c.reconnectMaxWait
					}
				}
			}
		case <-c.stopSig:
			c.alive = false
		}
	}
	ticker.Stop()
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(300)
	}
}

func (c *Mqtt) notifyConnectListeners() {
	for _, cb := range c.connectListeners {
		cb()
	}
}

func (c *Mqtt) notifyDisconnectListeners() {
	for _, cb := range c.disconnectListeners {
		cb()
	}
}

// OnConnect registers a callback fired after every successful (re)connect.
// Subscriptions do not survive a reconnect with clean session, so they are
// re-established from this callback.
func (c *Mqtt) OnConnect(cb func()) {
	if cb == nil {
		return
	}
	c.connectListeners = append(c.connectListeners, cb)
	if c.IsConnected() {
		cb()
	}
}

func (c *Mqtt) OnDisconnect(cb func()) {
	if cb == nil {
		return
	}
	c.disconnectListeners = append(c.disconnectListeners, cb)
	if !c.IsConnected() {
		cb()
	}
}

type MqttStats struct {
	InMsgs   uint64
	OutMsgs  uint64
	InBytes  uint64
	OutBytes uint64
}

func (c *Mqtt) Stats() MqttStats {
	return MqttStats{
		InMsgs:   atomic.LoadUint64(&c.inMsgs),
		OutMsgs:  atomic.LoadUint64(&c.outMsgs),
		InBytes:  atomic.LoadUint64(&c.inBytes),
		OutBytes: atomic.LoadUint64(&c.outBytes),
	}
}

type MqttSubscription struct {
	client *Mqtt
	topic  string
}

func (s *MqttSubscription) Unsubscribe() error {
	if s.client == nil || s.client.client == nil || !s.client.client.IsConnected() {
		return fmt.Errorf("mqtt connection is unavailable")
	}
	token := s.client.client.Unsubscribe(s.topic)
	if !token.WaitTimeout(s.client.unsubscribeTimeout) {
		return fmt.Errorf("mqtt unsubscribe timeout")
	}
	return nil
}

func (c *Mqtt) Subscribe(topic string, qos byte, cb func(topic string, payload []byte)) (*MqttSubscription, error) {
	if c.client == nil || !c.client.IsConnected() {
		return nil, fmt.Errorf("mqtt connection is unavailable")
	}
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		atomic.AddUint64(&c.inMsgs, 1)
		atomic.AddUint64(&c.inBytes, uint64(len(msg.Payload())))
		cb(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.subscribeTimeout) {
		return nil, fmt.Errorf("mqtt subscribe timeout")
	}
	return &MqttSubscription{client: c, topic: topic}, nil
}

func (c *Mqtt) Publish(topic string, payload []byte) (bool, error) {
	if c.client == nil || !c.client.IsConnected() {
		return false, fmt.Errorf("mqtt connection is unavailable")
	}
	atomic.AddUint64(&c.outMsgs, 1)
	atomic.AddUint64(&c.outBytes, uint64(len(payload)))
	var qos byte = 1
	token := c.client.Publish(topic, qos, false, payload)
	return token.WaitTimeout(c.publishTimeout), nil
}
