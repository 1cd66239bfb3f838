package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging sets up the standard logger for a long-running process: full timestamps on stdout.
func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// SetLevel parses level and applies it to the standard logger.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	parsed, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.WithStack(err)
	}
	log.SetLevel(parsed)
	return nil
}

// SetFormat switches the standard logger between "text" and "json" output.
func SetFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format: %s.  Valid formats are text and json", format)
	}
	return nil
}

var NullLogger = &log.Logger{
	Out:       io.Discard,
	Formatter: new(log.TextFormatter),
	Hooks:     make(log.LevelHooks),
	Level:     log.PanicLevel,
}
