package engine

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cxd309/evacsim/internal/config"
)

// newLogger builds the run logger from the run configuration.
func newLogger(r config.Run) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(r.LogLevel)
	if err != nil {
		return nil, &config.ConfigError{Field: "run.log_level", Reason: "unknown level", Err: err}
	}
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	if r.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}
