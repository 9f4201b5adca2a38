package core

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var once sync.Once

type logger struct {
	*log.Logger
}

var singleton *logger

func getLogger() *logger {
	once.Do(func() {
		l := log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          "Engine 🏎️ ",
			// wrappers below add one frame
			CallerOffset: 1,
		})
		l.SetLevel(log.DebugLevel)
		singleton = &logger{l}
	})
	return singleton
}

// SetLogLevel accepts the charmbracelet level names (debug, info, warn, error, fatal).
func SetLogLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	getLogger().SetLevel(lvl)
	return nil
}

// SetLogOutput redirects the engine logger, mostly for tests.
func SetLogOutput(w io.Writer) {
	getLogger().SetOutput(w)
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	getLogger().Errorf(msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	getLogger().Fatalf(msg, args...)
}
