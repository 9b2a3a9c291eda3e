package pkg

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Component identifies a subsystem for log filtering.
type Component string

// Component identifiers.
const (
	ComponentDevice    Component = "device"
	ComponentHost      Component = "host"
	ComponentStack     Component = "stack"
	ComponentHAL       Component = "hal"
	ComponentEndpoint  Component = "endpoint"
	ComponentFirmware  Component = "firmware"
	ComponentCommand   Component = "command"
	ComponentSequencer Component = "sequencer"
	ComponentMIDI      Component = "midi"
	ComponentPower     Component = "power"
	ComponentUART      Component = "uart"
	ComponentArtNet    Component = "art-net"
	ComponentMQTT      Component = "mqtt"
	ComponentClient    Component = "client"
	ComponentCLI       Component = "cli"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

// TimestampFormat is the timestamp layout used by the text formatter.
const TimestampFormat = "2006-01-02 15:04:05.0000"

var (
	// DefaultLogger is the logger used by every component.
	DefaultLogger *logrus.Logger

	logMutex sync.RWMutex
)

func init() {
	DefaultLogger = NewLogger(os.Stderr, LogFormatText)
	DefaultLogger.SetLevel(logrus.WarnLevel)
}

// NewLogger creates a logger writing to w in the given format at info level.
func NewLogger(w io.Writer, format LogFormat) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.Formatter = newFormatter(format)
	return log
}

func newFormatter(format LogFormat) logrus.Formatter {
	if format == LogFormatJSON {
		return &logrus.JSONFormatter{TimestampFormat: TimestampFormat}
	}
	return &logrus.TextFormatter{
		TimestampFormat:  TimestampFormat,
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}
}

// SetLogLevel sets the minimum log level.
func SetLogLevel(level logrus.Level) {
	logMutex.RLock()
	defer logMutex.RUnlock()
	DefaultLogger.SetLevel(level)
}

// ParseLogLevel sets the minimum log level from its name ("debug", "info", ...).
func ParseLogLevel(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return Wrapf(err, "log level %q", name)
	}
	SetLogLevel(level)
	return nil
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() logrus.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger.GetLevel()
}

// SetLogger replaces the default logger.
func SetLogger(logger *logrus.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat switches the formatter of the default logger.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger.Formatter = newFormatter(format)
}

// SetLogOutput redirects the default logger.
func SetLogOutput(w io.Writer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger.SetOutput(w)
}

// entry converts alternating key/value pairs into a logrus entry tagged with
// the component. A dangling key is logged under "!BADKEY".
func entry(component Component, args []any) *logrus.Entry {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()

	fields := make(logrus.Fields, len(args)/2+1)
	fields["component"] = string(component)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			continue
		}
		fields[key] = args[i+1]
	}
	return logger.WithFields(fields)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	if GetLogLevel() < logrus.DebugLevel {
		return
	}
	entry(component, args).Debug(msg)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	entry(component, args).Info(msg)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	entry(component, args).Warn(msg)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	entry(component, args).Error(msg)
}
