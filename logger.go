package targomo

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
)

// Logger receives debug output as a message followed by key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// ApexLogger adapts an apex/log logger to Logger.
type ApexLogger struct {
	log log.Interface
}

// NewApexLogger wraps l. A nil l uses the apex/log package logger.
func NewApexLogger(l log.Interface) *ApexLogger {
	if l == nil {
		l = log.Log
	}
	return &ApexLogger{log: l}
}

// NewSimpleLogger logs at debug level to stderr with the apex/log cli handler.
func NewSimpleLogger() *ApexLogger {
	return NewApexLogger(&log.Logger{
		Handler: cli.New(os.Stderr),
		Level:   log.DebugLevel,
	})
}

func (l *ApexLogger) Debug(msg string, keyvals ...interface{}) {
	l.log.WithFields(fields(keyvals)).Debug(msg)
}

func (l *ApexLogger) Info(msg string, keyvals ...interface{}) {
	l.log.WithFields(fields(keyvals)).Info(msg)
}

func (l *ApexLogger) Warn(msg string, keyvals ...interface{}) {
	l.log.WithFields(fields(keyvals)).Warn(msg)
}

func (l *ApexLogger) Error(msg string, keyvals ...interface{}) {
	l.log.WithFields(fields(keyvals)).Error(msg)
}

// fields pairs up keyvals; a dangling key is kept under "!BADKEY".
func fields(keyvals []interface{}) log.Fields {
	f := make(log.Fields, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 >= len(keyvals) {
			f["!BADKEY"] = keyvals[i]
			break
		}
		f[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	return f
}
