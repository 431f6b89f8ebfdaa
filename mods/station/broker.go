package station

import (
	"context"
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/flocklab/flockd/mods/logging"
)

// BrokerConfig configures the optional embedded MQTT broker. With Enabled
// set, the station hosts the swarm's broker itself and no external one is
// needed.
type BrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Enabled: false,
		Address: "127.0.0.1:1883",
	}
}

type Broker struct {
	log    logging.Log
	cfg    BrokerConfig
	server *mqtt.Server
}

func NewBroker(cfg BrokerConfig) (*Broker, error) {
	log := logging.GetLog("broker")
	b := &Broker{
		log: log,
		cfg: cfg,
		server: mqtt.New(&mqtt.Options{
			Logger:       logging.Wrap(log, brokerLogFilter),
			InlineClient: false,
		}),
	}
	if err := b.server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	tcp := listeners.NewTCP(listeners.Config{
		ID:      "flock-tcp",
		Address: cfg.Address,
	})
	if err := b.server.AddListener(tcp); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) Start() {
	go func() {
		if err := b.server.Serve(); err != nil {
			b.log.Errorf("broker: %v", err)
		}
	}()
	b.log.Infof("listening on %s", b.cfg.Address)
}

func (b *Broker) Stop() {
	if err := b.server.Close(); err != nil {
		b.log.Warnf("close: %v", err)
	}
	b.log.Info("stopped")
}

// brokerLogFilter drops per-packet chatter, connection lifecycle is enough.
func brokerLogFilter(_ string, _ context.Context, r slog.Record) bool {
	return r.Level >= slog.LevelInfo
}
