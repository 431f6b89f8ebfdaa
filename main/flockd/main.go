package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flocklab/flockd/mods/agent"
	"github.com/flocklab/flockd/mods/bridge"
	"github.com/flocklab/flockd/mods/eventbus"
	"github.com/flocklab/flockd/mods/logging"
	"github.com/flocklab/flockd/mods/packet"
)

var usageStr = `
Usage: flockd [options]

Runs one formation agent. By default the control pipeline runs in-process;
with --serial-port the pipeline is assumed to run on a microcontroller and
flockd bridges its serial packets to the swarm instead.

Options:
	--help, -h              Show this help message
	--config <path>         Agent config file (YAML)
	--id <n>                Agent id (overrides config)
	--broker <addr>         MQTT broker address (e.g. tcp://127.0.0.1:1883)
	--serial-port <dev>     Serial device of the vehicle controller
	--serial-baud <n>       Serial baud rate (default: 57600)
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

func main() {
	optConfig := flag.String("config", "", "agent config file")
	optID := flag.Int("id", 0, "agent id")
	optBroker := flag.String("broker", "tcp://127.0.0.1:1883", "mqtt broker address")
	optSerialPort := flag.String("serial-port", "", "serial device")
	optSerialBaud := flag.Int("serial-baud", 57600, "serial baud rate")
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
	log := logging.GetLog("flockd")

	cfg := agent.DefaultConfig()
	if *optConfig != "" {
		var err error
		if cfg, err = agent.LoadConfig(*optConfig); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
	}
	if *optID != 0 {
		cfg.AgentID = *optID
	}

	if *optPid != "" {
		pfile, _ := os.OpenFile(*optPid, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		pfile.WriteString(fmt.Sprintf("%d", os.Getpid()))
		pfile.Close()
		defer func() {
			os.Remove(*optPid)
		}()
	}

	bus := eventbus.Default

	mqttConf := bridge.DefaultMqttConfig()
	mqttConf.Brokers = []string{*optBroker}
	mqttConf.ClientID = fmt.Sprintf("flockd-%d", cfg.AgentID)
	mqtt := bridge.NewMqtt(mqttConf)

	link := bridge.NewLink(mqtt, bus, cfg.Topics)
	link.Start()
	if err := mqtt.Start(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	var done <-chan error
	var stop func()
	if *optSerialPort != "" {
		driverConf := packet.DefaultDriverConfig()
		driverConf.Port = *optSerialPort
		driverConf.BaudRate = *optSerialBaud
		driverConf.SampleTime = cfg.SampleTime
		driverConf.Topics = cfg.Topics
		driver := packet.NewDriver(driverConf, bus)
		if err := driver.Start(); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		done = driver.Done()
		stop = driver.Stop
	} else {
		core, err := agent.New(cfg, bus)
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
		core.Start()
		done = core.Done()
		stop = core.Stop
	}

	// wait Ctrl+C or a fatal pipeline error
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case <-sig:
		stop()
	case err := <-done:
		if err != nil {
			exitCode = 1
		}
	}
	link.Stop()
	mqtt.Stop()
	os.Exit(exitCode)
}
