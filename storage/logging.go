package storage

import (
	"fmt"
	"os"
	"strings"
	"time"

	"printmaster/telemetry/common/logger"
)

// Log is the logger used by the store. When unset, logger.Global is used,
// and without either, warnings and errors go to stderr.
var Log *logger.Logger

// SetLogger injects the structured logger from the main application.
func SetLogger(l *logger.Logger) {
	Log = l
}

func activeLogger() *logger.Logger {
	if Log != nil {
		return Log
	}
	return logger.Global
}

func logWithLevel(level logger.LogLevel, msg string, kv ...interface{}) {
	kv = append([]interface{}{"component", "storage"}, kv...)
	if l := activeLogger(); l != nil {
		switch level {
		case logger.ERROR:
			l.Error(msg, kv...)
		case logger.WARN:
			l.Warn(msg, kv...)
		case logger.DEBUG:
			l.Debug(msg, kv...)
		default:
			l.Info(msg, kv...)
		}
		return
	}
	if level > logger.WARN {
		return
	}
	fmt.Fprintf(os.Stderr, "%s [%s] %s%s\n", time.Now().Format(time.RFC3339), logger.LevelToString(level), msg, keyValues(kv))
}

// keyValues renders pairs as " k=v"; an odd trailing key gets "<missing>".
func keyValues(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		val := interface{}("<missing>")
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		fmt.Fprintf(&b, " %v=%v", kv[i], val)
	}
	return b.String()
}

func logInfo(msg string, kv ...interface{}) {
	logWithLevel(logger.INFO, msg, kv...)
}

func logWarn(msg string, kv ...interface{}) {
	logWithLevel(logger.WARN, msg, kv...)
}

func logDebug(msg string, kv ...interface{}) {
	logWithLevel(logger.DEBUG, msg, kv...)
}
