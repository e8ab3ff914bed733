package logutils

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogFormats lists the accepted values for SetLogFormat.
var LogFormats = []string{"TEXT", "JSON"}

// LogLevels lists the accepted values for SetLogLevel.
var LogLevels = []string{"DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error"}

// UTCFormatter is a log formatter that prints with UTC timestamps.
type UTCFormatter struct {
	logrus.Formatter
}

func (u *UTCFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

// SetupTestLogging enables debug output for tests.
func SetupTestLogging() {
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetFormatter(&UTCFormatter{Formatter: &logrus.TextFormatter{FullTimestamp: true}})
}

// SetupLogging configures the standard logger for the CLI.
// Logs go to out so they never mix with machine readable command output on stdout.
func SetupLogging(out io.Writer, logLevel, logFormat string) {
	logrus.SetOutput(out)
	SetLogLevel(logLevel)
	SetLogFormat(logFormat)
}

func SetLogFormat(logFormat string) {
	switch strings.ToUpper(logFormat) {
	case "JSON":
		logrus.SetFormatter(&UTCFormatter{Formatter: &logrus.JSONFormatter{}})
	default:
		logrus.SetFormatter(&UTCFormatter{Formatter: &logrus.TextFormatter{FullTimestamp: true}})
	}
}

func SetLogLevel(logLevel string) {
	switch strings.ToUpper(logLevel) {
	case "INFO":
		logrus.SetLevel(logrus.InfoLevel)
	case "DEBUG":
		logrus.SetLevel(logrus.DebugLevel)
	case "WARN":
		logrus.SetLevel(logrus.WarnLevel)
	case "ERROR":
		logrus.SetLevel(logrus.ErrorLevel)
	}
}
