// Package logging provides named, leveled loggers with console output and
// rotated log files.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Console        bool          `yaml:"console"`
	Filename       string        `yaml:"filename"`
	Append         bool          `yaml:"append"`
	RotateSchedule string        `yaml:"rotateSchedule"`
	MaxSize        int           `yaml:"maxSize"`
	MaxBackups     int           `yaml:"maxBackups"`
	MaxAge         int           `yaml:"maxAge"`
	Compress       bool          `yaml:"compress"`
	Levels         []LevelConfig `yaml:"levels"`
	UTC            bool          `yaml:"utc"`
	DefaultLevel   string        `yaml:"defaultLevel"`
}

type LevelConfig struct {
	Pattern string `yaml:"pattern"`
	Level   string `yaml:"level"`
}

var rotateCron = cron.New()

var defaultWriter []*logWriter

// Configure replaces the process-wide logging setup.
// Filename "-" means stdout, "." discards file output.
func Configure(cfg *Config) {
	for _, c := range cfg.Levels {
		levelConfig[c.Pattern] = ParseLogLevel(c.Level)
	}
	SetDefaultLevel(ParseLogLevel(cfg.DefaultLevel))

	if cfg.Filename == "" || cfg.Filename == "." {
		if cfg.Console {
			defaultWriter = []*logWriter{{Writer: os.Stdout, isTerm: true}}
		} else {
			defaultWriter = []*logWriter{}
		}
	} else if cfg.Filename == "-" {
		defaultWriter = []*logWriter{{Writer: os.Stdout, isTerm: true}}
	} else {
		lj := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  !cfg.UTC,
		}
		if !cfg.Append {
			lj.Rotate()
		}
		if len(cfg.RotateSchedule) > 0 {
			_, err := rotateCron.AddFunc(cfg.RotateSchedule, func() {
				lj.Rotate()
			})
			if err == nil {
				go rotateCron.Run()
			} else {
				fmt.Fprintf(os.Stderr, "ERR logger rotate schedule %s", err.Error())
			}
		}
		if cfg.Console {
			defaultWriter = []*logWriter{
				{Writer: lj, isTerm: false},
				{Writer: os.Stdout, isTerm: true},
			}
		} else {
			defaultWriter = []*logWriter{{Writer: lj, isTerm: false}}
		}
	}
}

func GetLog(name string) Log {
	return &levelLogger{
		name:        name,
		level:       GetLevel(name),
		underlying:  defaultWriter,
		prefixWidth: prefixWidthDefault,
	}
}

func NewLog(name string, writer io.Writer) Log {
	return &levelLogger{
		name:        name,
		level:       GetLevel(name),
		underlying:  []*logWriter{{Writer: writer, isTerm: false}},
		prefixWidth: prefixWidthDefault,
	}
}

type logWriter struct {
	io.Writer
	isTerm bool
}
