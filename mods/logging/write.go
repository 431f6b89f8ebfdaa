package logging

import (
	"fmt"
	"strings"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

const (
	yellow = "\033[90;43m"
	red    = "\033[97;41m"
	reset  = "\033[0m"
)

var (
	warnCounter  gometrics.Counter
	errorCounter gometrics.Counter
	totalCounter gometrics.Counter
)

func init() {
	totalCounter = gometrics.NewRegisteredCounter("log.total", gometrics.DefaultRegistry)
	warnCounter = gometrics.NewRegisteredCounter("log.warns", gometrics.DefaultRegistry)
	errorCounter = gometrics.NewRegisteredCounter("log.errors", gometrics.DefaultRegistry)
}

func (l *levelLogger) write(lvl Level, format string, args []any) {
	if lvl < l.level {
		return
	}

	totalCounter.Inc(1)
	if lvl == LevelWarn {
		warnCounter.Inc(1)
	} else if lvl == LevelError {
		errorCounter.Inc(1)
	}

	name := fmt.Sprintf(fmt.Sprintf("%%-%ds", l.prefixWidth), l.name)

	var body string
	if format == "" {
		toks := make([]string, len(args))
		for i, a := range args {
			if s, ok := a.(string); ok {
				toks[i] = s
			} else {
				toks[i] = fmt.Sprintf("%v", a)
			}
		}
		body = strings.Join(toks, " ")
	} else {
		body = fmt.Sprintf(format, args...)
	}

	colorBegin, colorEnd := "", ""
	if lvl == LevelWarn {
		colorBegin, colorEnd = yellow, reset
	} else if lvl == LevelError {
		colorBegin, colorEnd = red, reset
	}

	ts := time.Now().Format("2006/01/02 15:04:05.000")
	lvlName := fmt.Sprintf("%-5s", logLevelNames[lvl])

	for _, w := range l.underlying {
		if w.isTerm {
			fmt.Fprintf(w, "%s %s%s%s %s %s\n", ts, colorBegin, lvlName, colorEnd, name, body)
		} else {
			fmt.Fprintf(w, "%s %s %s %s\n", ts, lvlName, name, body)
		}
	}
}
