package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// SetupLogging configures the global logrus logger for the binary name. With
// LogDir set, output also goes to <LogDir>/<name>.log.
func SetupLogging(s Settings, name string) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		logrus.Warnf("> unknown LOG_LEVEL %q, using info", s.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if s.LogDir == "" {
		return
	}
	if err := os.MkdirAll(s.LogDir, 0755); err != nil {
		logrus.Warnf("> cannot create log dir, logging to stdout only: %v", err)
		return
	}
	file, err := os.OpenFile(filepath.Join(s.LogDir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logrus.Warnf("> cannot open log file, logging to stdout only: %v", err)
		return
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, file))
}
