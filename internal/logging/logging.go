package logging

import (
	"io"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// New returns a zap-backed logger writing to w. Level names are debug, info
// and error; anything else means info. V(1) messages show at debug.
func New(level string, w io.Writer) logr.Logger {
	return zap.New(
		zap.WriteTo(w),
		zap.Level(parseLevel(level)),
	)
}

// Setup installs a logger as the process-wide default returned by
// ctrllog.FromContext when a context carries none.
func Setup(level string, w io.Writer) logr.Logger {
	logger := New(level, w)
	ctrllog.SetLogger(logger)
	return logger
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
