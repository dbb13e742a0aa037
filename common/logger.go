package common

import (
	"github.com/sirupsen/logrus"
)

// Log is the engine-wide logger. Components derive their own entries with
// Component().
var Log = logrus.New()

func init() {
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	Log.SetLevel(logrus.InfoLevel)
}

// SetLogLevel applies a level name from the configuration. Unknown names
// leave the level unchanged.
func SetLogLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		Log.WithField("level", level).Warn("unknown log level, keeping current")
		return
	}
	Log.SetLevel(parsed)
}

// Component returns a logger entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
