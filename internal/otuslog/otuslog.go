// Package otuslog wraps logrus behind a small Logger interface so call
// sites never import logrus directly, following the teacher's
// internal/log logrusAdapter.
package otuslog

import (
	"os"
	"sync"

	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the interface every package in this module logs through.
type Logger interface {
	Trace(args ...interface{})
	Tracef(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
}

// Config selects the logrus level, output format and, when File is set, a
// lumberjack-rotated file sink (used for the application's own logs — the
// pcap dump sink has its own SIGHUP-driven rotation, see internal/capture).
type Config struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type logrusAdapter struct {
	entry *logrus.Entry
}

var (
	once    sync.Once
	current Logger
)

// Init builds the global logger from cfg. Safe to call once at startup;
// subsequent calls are no-ops, matching the teacher's sync.Once guard.
func Init(cfg Config) {
	once.Do(func() {
		current = build(cfg)
	})
}

func build(cfg Config) Logger {
	l := logrus.New()
	if cfg.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.File != "" {
		l.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	} else {
		l.SetOutput(os.Stdout)
	}

	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

// Get returns the global logger, defaulting to an info-level stdout logger
// if Init was never called.
func Get() Logger {
	once.Do(func() {
		current = build(Config{Level: "info"})
	})
	return current
}

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusAdapter) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusAdapter) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}
func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// GosipAdapter exposes a Logger as a github.com/ghettovoice/gosip/log.Logger,
// following the teacher's LoggerAdapter in
// plugins/reporter/skywalkingtracing/log.go.
type GosipAdapter struct {
	Logger Logger
	prefix string
}

func (a *GosipAdapter) Fields() gosiplog.Fields { return gosiplog.Fields{} }

func (a *GosipAdapter) WithFields(fields map[string]interface{}) gosiplog.Logger {
	return &GosipAdapter{Logger: a.Logger.WithFields(fields), prefix: a.prefix}
}

func (a *GosipAdapter) Prefix() string { return a.prefix }

func (a *GosipAdapter) WithPrefix(prefix string) gosiplog.Logger {
	return &GosipAdapter{Logger: a.Logger, prefix: prefix}
}

func (a *GosipAdapter) Print(args ...interface{})                 { a.Logger.Debug(args...) }
func (a *GosipAdapter) Printf(format string, args ...interface{}) { a.Logger.Debugf(format, args...) }
func (a *GosipAdapter) Trace(args ...interface{})                 { a.Logger.Trace(args...) }
func (a *GosipAdapter) Tracef(format string, args ...interface{}) { a.Logger.Tracef(format, args...) }
func (a *GosipAdapter) Debug(args ...interface{})                 { a.Logger.Debug(args...) }
func (a *GosipAdapter) Debugf(format string, args ...interface{}) { a.Logger.Debugf(format, args...) }
func (a *GosipAdapter) Info(args ...interface{})                  { a.Logger.Info(args...) }
func (a *GosipAdapter) Infof(format string, args ...interface{})  { a.Logger.Infof(format, args...) }
func (a *GosipAdapter) Warn(args ...interface{})                  { a.Logger.Warn(args...) }
func (a *GosipAdapter) Warnf(format string, args ...interface{})  { a.Logger.Warnf(format, args...) }
func (a *GosipAdapter) Error(args ...interface{})                 { a.Logger.Error(args...) }
func (a *GosipAdapter) Errorf(format string, args ...interface{}) { a.Logger.Errorf(format, args...) }
func (a *GosipAdapter) Fatal(args ...interface{})                 { a.Logger.Error(args...) }
func (a *GosipAdapter) Fatalf(format string, args ...interface{}) { a.Logger.Errorf(format, args...) }
func (a *GosipAdapter) Panic(args ...interface{})                 { a.Logger.Error(args...) }
func (a *GosipAdapter) Panicf(format string, args ...interface{}) { a.Logger.Errorf(format, args...) }
func (a *GosipAdapter) SetLevel(level uint32)                     {}
