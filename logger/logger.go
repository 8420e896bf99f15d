// Package logger wraps logrus behind the small surface the rest of the
// codebase uses, with optional rotated file output.
package logger

import (
	"io"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// Fields is an alias so callers do not import logrus directly.
type Fields = logrus.Fields

// Settings controls global logger behaviour. Zero values mean text
// format, info level, stderr only.
type Settings struct {
	Format       string // "json" or "text"
	Level        string // logrus level name, e.g. "debug"
	Filename     string // when set, also log to a rotated file
	MaxAge       time.Duration
	RotationTime time.Duration
}

var std = logrus.New()

// Init configures the process-wide logger. Safe to call more than once;
// the last call wins.
func Init(s Settings) error {
	if s.Format == "json" {
		std.SetFormatter(&logrus.JSONFormatter{})
	} else {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if s.Level != "" {
		lvl, err := logrus.ParseLevel(s.Level)
		if err != nil {
			return err
		}
		std.SetLevel(lvl)
	}
	if s.Filename != "" {
		maxAge := s.MaxAge
		if maxAge == 0 {
			maxAge = 7 * 24 * time.Hour
		}
		rotation := s.RotationTime
		if rotation == 0 {
			rotation = 24 * time.Hour
		}
		w, err := rotatelogs.New(
			s.Filename+".%Y%m%d",
			rotatelogs.WithLinkName(s.Filename),
			rotatelogs.WithMaxAge(maxAge),
			rotatelogs.WithRotationTime(rotation),
		)
		if err != nil {
			return err
		}
		writers := lfshook.WriterMap{}
		for _, lvl := range logrus.AllLevels {
			writers[lvl] = io.Writer(w)
		}
		std.AddHook(lfshook.NewHook(writers, std.Formatter))
	}
	std.SetOutput(os.Stderr)
	return nil
}

func WithFields(f Fields) *logrus.Entry { return std.WithFields(f) }

func WithError(err error) *logrus.Entry { return std.WithError(err) }

func Debug(args ...any) { std.Debug(args...) }
func Info(args ...any)  { std.Info(args...) }
func Warn(args ...any)  { std.Warn(args...) }
func Error(args ...any) { std.Error(args...) }
func Fatal(args ...any) { std.Fatal(args...) }

func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warnf(format string, args ...any)  { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
