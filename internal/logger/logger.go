package logger

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/bombsimon/logrusr/v3"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
)

const (
	KeyCmd           = "command"
	KeyReservationID = "reservationID"
	KeyQueue         = "queue"

	// EnvLogLevel selects the logrus level (trace, debug, info, warn, error)
	EnvLogLevel = "LOG_LEVEL"
)

var ErrInvalidConfig = errors.New("invalid config")

var (
	loggers   = map[string]logr.Logger{} // nolint:gochecknoglobals // simple logging
	loggersMu sync.Mutex                 // nolint:gochecknoglobals // simple logging
)

func GetLogger(app string) logr.Logger {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, has := loggers[app]; has {
		return logger
	}
	lr := logrus.New()
	lr.Level = logrus.InfoLevel
	if level, err := logrus.ParseLevel(os.Getenv(EnvLogLevel)); err == nil {
		lr.Level = level
	}
	loggers[app] = logrusr.New(lr).WithName(app)

	return loggers[app]
}

// NewContext puts the logger into the context
func NewContext(ctx context.Context, log logr.Logger) context.Context {
	return logr.NewContext(ctx, log)
}

// FromContext returns the logger from the context (discard logger if missing),
// extended with keysAndValues. The returned context carries the extended logger.
func FromContext(ctx context.Context, keysAndValues ...interface{}) (context.Context, logr.Logger) {
	log := logr.FromContextOrDiscard(ctx)
	if len(keysAndValues) == 0 {
		return ctx, log
	}
	log = log.WithValues(keysAndValues...)

	return logr.NewContext(ctx, log), log
}
