package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/flocklab/flockd/mods/agent"
	"github.com/flocklab/flockd/mods/bridge"
	"github.com/flocklab/flockd/mods/eventbus"
	"github.com/flocklab/flockd/mods/logging"
	"github.com/flocklab/flockd/mods/station"
	"github.com/flocklab/flockd/mods/stats"
)

var usageStr = `
Usage: flock-station [options]

Runs the ground station: collects every agent's estimate, rebroadcasts the
batch to close the consensus loop, and pushes target statistics. With
--embedded-broker it also hosts the swarm's MQTT broker.

Options:
	--help, -h              Show this help message
	--broker <addr>         MQTT broker address (e.g. tcp://127.0.0.1:1883)
	--embedded-broker       Host an embedded MQTT broker
	--listen <addr>         Embedded broker listen address (default: 127.0.0.1:1883)
	--ttl <seconds>         Estimate staleness TTL (default: 2.0)
	--interval <seconds>    Rebroadcast period (default: 0.1)
	--target <m_x,m_y,m_xx,m_xy,m_yy>
	                        Command these target statistics at startup
	--pid <path>            Write PID file
	--log-filename <path>   Log file path (default: -)
	--log-level <level>     Log level (default: INFO), TRACE, DEBUG, INFO, WARN, ERROR
	--log-max-size <size>   Maximum size of the log file in MB (default: 100)
	--log-max-age <days>    Maximum days to retain old log files (default: 7)
	--log-max-backups <n>   Maximum number of old log files to retain (default: 10)
	--log-compress          Compress the old log files (default: false)
`

func usage() {
	fmt.Printf("%s\n", strings.ReplaceAll(usageStr, "\t", "    "))
	os.Exit(0)
}

func parseTarget(s string) (stats.Statistics, error) {
	fields := strings.Split(s, ",")
	if len(fields) != stats.Dimension {
		return stats.Statistics{}, fmt.Errorf("target needs %d comma separated values, got %d", stats.Dimension, len(fields))
	}
	vals := make([]float64, stats.Dimension)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return stats.Statistics{}, fmt.Errorf("target value %q: %w", f, err)
		}
		vals[i] = v
	}
	return stats.Statistics{MX: vals[0], MY: vals[1], MXX: vals[2], MXY: vals[3], MYY: vals[4]}, nil
}

func main() {
	optBroker := flag.String("broker", "tcp://127.0.0.1:1883", "mqtt broker address")
	optEmbedded := flag.Bool("embedded-broker", false, "host an embedded mqtt broker")
	optListen := flag.String("listen", "127.0.0.1:1883", "embedded broker listen address")
	optTTL := flag.Float64("ttl", 2.0, "estimate staleness ttl in seconds")
	optInterval := flag.Float64("interval", 0.1, "rebroadcast period in seconds")
	optTarget := flag.String("target", "", "target statistics to command at startup")
	optPid := flag.String("pid", "", "pid file")
	optLogFilename := flag.String("log-filename", "-", "log file path")
	optLogLevel := flag.String("log-level", "INFO", "log level")
	optLogMaxSize := flag.Int("log-max-size", 100, "maximum size of the log file in MB")
	optLogMaxAge := flag.Int("log-max-age", 7, "maximum number of days to retain old log files")
	optLogMaxBackups := flag.Int("log-max-backups", 10, "maximum number of old log files to retain")
	optLogCompress := flag.Bool("log-compress", false, "compress the log backup files")
	flag.Usage = usage
	flag.Parse()

	logging.Configure(&logging.Config{
		Console:      false,
		Filename:     *optLogFilename,
		DefaultLevel: *optLogLevel,
		MaxSize:      *optLogMaxSize,
		MaxAge:       *optLogMaxAge,
		MaxBackups:   *optLogMaxBackups,
		Compress:     *optLogCompress,
	})
	log := logging.GetLog("flock-station")

	var target stats.Statistics
	hasTarget := false
	if *optTarget != "" {
		var err error
		if target, err = parseTarget(*optTarget); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		hasTarget = true
	}

	if *optPid != "" {
		pfile, _ := os.OpenFile(*optPid, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		pfile.WriteString(fmt.Sprintf("%d", os.Getpid()))
		pfile.Close()
		defer func() {
			os.Remove(*optPid)
		}()
	}

	cfg := station.DefaultConfig()
	cfg.SampleTime = *optInterval
	cfg.TTL = *optTTL
	cfg.Broker.Enabled = *optEmbedded
	cfg.Broker.Address = *optListen

	var broker *station.Broker
	if cfg.Broker.Enabled {
		var err error
		if broker, err = station.NewBroker(cfg.Broker); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		broker.Start()
	}

	bus := eventbus.Default

	mqttConf := bridge.DefaultMqttConfig()
	mqttConf.Brokers = []string{*optBroker}
	if cfg.Broker.Enabled {
		mqttConf.Brokers = []string{"tcp://" + cfg.Broker.Address}
	}
	mqttConf.ClientID = "flock-station"
	mqtt := bridge.NewMqtt(mqttConf)

	link := bridge.NewStationLink(mqtt, bus, agent.DefaultTopics())
	link.Start()
	if err := mqtt.Start(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	svc := station.New(cfg, bus)
	svc.Start()

	if hasTarget {
		mqtt.OnConnect(func() {
			svc.CommandTarget(target)
		})
	}

	// wait Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	svc.Stop()
	link.Stop()
	mqtt.Stop()
	if broker != nil {
		broker.Stop()
	}
}
