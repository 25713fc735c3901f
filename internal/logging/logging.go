// Package logging provides the structured, leveled logger used across every
// component of the signalling core. It keeps the field-based Logger contract
// the rest of the codebase was written against, backed by zerolog instead of
// a hand-rolled writer.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the structured logging contract every component depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// zlogger adapts zerolog.Logger to the Logger interface.
type zlogger struct {
	z zerolog.Logger
}

// Config describes how to build a Logger from configuration.
type Config struct {
	Level string
	File  string
}

// New builds a Logger per Config: console-only when File is empty or
// "stdout", otherwise a file writer with warn/error also echoed to stdout,
// mirroring the teacher's NewLoggerFromConfig behaviour.
func New(cfg Config) (Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}

	var w io.Writer = os.Stdout
	if cfg.File != "" && cfg.File != "stdout" {
		f, ferr := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if ferr != nil {
			return nil, ferr
		}
		if level <= zerolog.WarnLevel {
			w = io.MultiWriter(f, os.Stdout)
		} else {
			w = f
		}
	}

	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zlogger{z: z}, nil
}

// NewConsole builds a console-only logger at the given level, used by tests
// and by main() before configuration is loaded.
func NewConsole(level string) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &zlogger{z: zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()}
}

func (l *zlogger) with(ev *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	return ev
}

func (l *zlogger) Debug(msg string, fields ...Field) { l.with(l.z.Debug(), fields).Msg(msg) }
func (l *zlogger) Info(msg string, fields ...Field)  { l.with(l.z.Info(), fields).Msg(msg) }
func (l *zlogger) Warn(msg string, fields ...Field)  { l.with(l.z.Warn(), fields).Msg(msg) }
func (l *zlogger) Error(msg string, fields ...Field) { l.with(l.z.Error(), fields).Msg(msg) }

func (l *zlogger) With(fields ...Field) Logger {
	ctx := l.z.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zlogger{z: ctx.Logger()}
}

// Helper constructors mirroring the teacher's field-builder conventions.

func String(key, value string) Field       { return Field{Key: key, Value: value} }
func Int(key string, value int) Field      { return Field{Key: key, Value: value} }
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}
func CallID(callID string) Field           { return Field{Key: "call_id", Value: callID} }
func Method(method string) Field           { return Field{Key: "sip_method", Value: method} }
func Addr(key, address string) Field       { return Field{Key: key, Value: address} }
func Account(username string) Field        { return Field{Key: "account", Value: username} }
