// Package applog gives every package a consistently tagged component
// logger. It wraps github.com/ipfs/go-log/v2, the structured logging
// backend the teacher pulls in for its libp2p subsystem (internal/p2p),
// generalized here to every package's own "TAG: message" logging instead
// of just tuning swarm/relay/autonat subsystem levels.
package applog

import (
	logging "github.com/ipfs/go-log/v2"
)

func init() {
	logging.SetAllLoggers(logging.LevelInfo)
}

// Logger is a component-tagged logger backed by a go-log/v2 event logger.
type Logger struct {
	tag   string
	event *logging.ZapEventLogger
}

// Component returns a Logger tagged with name, e.g. applog.Component("REACTOR").
func Component(name string) *Logger {
	return &Logger{tag: name, event: logging.Logger(name)}
}

func (l *Logger) Printf(format string, args ...any) {
	l.event.Infof(format, args...)
}

func (l *Logger) Println(args ...any) {
	l.event.Info(args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.event.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.event.Errorf(format, args...)
}

// With returns a Logger tagged with "name/sub", for sub-component loggers
// such as a single session's reactor: applog.Component("REACTOR").With(sessionID).
func (l *Logger) With(sub string) *Logger {
	tag := l.tag + "/" + sub
	return &Logger{tag: tag, event: logging.Logger(tag)}
}

// SetLevel adjusts the verbosity of one component's logger at runtime,
// e.g. applog.SetLevel("REACTOR", "debug") for focused session debugging.
func SetLevel(name, level string) error {
	return logging.SetLogLevel(name, level)
}
