package obs

import (
	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. Configured once at startup via Setup;
// defaults are usable for tests without any setup call.
var Log = logrus.New()

// Setup configures the global logger from config values.
func Setup(level, format string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		Log.SetLevel(lvl)
	}
	switch format {
	case "json":
		Log.SetFormatter(&logrus.JSONFormatter{})
	default:
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
