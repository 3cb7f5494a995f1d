// Package logger sets up the internal logrus logger and the writer for the
// plain access log.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	internalLogFile = "frontdoor.log"
	accessLogFile   = "access.log"
	smartLogFile    = "frontdoor-errors.log"
)

// Rotation configures the size based rotation of log files
type Rotation struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Output describes where a log is written to
type Output struct {
	Dir      string
	StdErr   bool
	Rotation Rotation
}

// Config configures the internal logger
type Config struct {
	Level    string
	Dir      string
	StdErr   bool
	Rotation Rotation
	// SmartDir, if set, receives a copy of all error logs
	SmartDir string
}

func (r Rotation) writer(dir, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    r.MaxSize,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAge,
		Compress:   r.Compress,
	}
}

func (o Output) writer(name string) io.Writer {
	var writers []io.Writer
	if o.Dir != "" {
		writers = append(writers, o.Rotation.writer(o.Dir, name))
	}
	if o.StdErr {
		writers = append(writers, os.Stderr)
	}
	switch len(writers) {
	case 0:
		return nil
	case 1:
		return writers[0]
	default:
		return io.MultiWriter(writers...)
	}
}

// Init initializes the standard logrus logger. If neither a directory nor
// stderr is configured, logs go to stderr.
func Init(conf Config) error {
	level, err := log.ParseLevel(conf.Level)
	if err != nil {
		return errors.WithStack(err)
	}
	log.SetLevel(level)
	log.SetFormatter(
		&log.TextFormatter{
			FullTimestamp: true,
		},
	)
	out := Output{
		Dir:      conf.Dir,
		StdErr:   conf.StdErr,
		Rotation: conf.Rotation,
	}.writer(internalLogFile)
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)
	if conf.SmartDir != "" {
		log.AddHook(newSmartHook(conf.Rotation.writer(conf.SmartDir, smartLogFile)))
	}
	return nil
}

// AccessWriter returns the writer for the plain access log or nil if the
// access log is disabled
func AccessWriter(o Output) io.Writer {
	return o.writer(accessLogFile)
}

// smartHook duplicates error logs into a separate writer
type smartHook struct {
	out       io.Writer
	formatter log.Formatter
}

func newSmartHook(out io.Writer) *smartHook {
	return &smartHook{
		out:       out,
		formatter: &log.JSONFormatter{},
	}
}

// Levels implements the log.Hook interface
func (*smartHook) Levels() []log.Level {
	return []log.Level{
		log.PanicLevel,
		log.FatalLevel,
		log.ErrorLevel,
	}
}

// Fire implements the log.Hook interface
func (h *smartHook) Fire(entry *log.Entry) error {
	data, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.out.Write(data)
	return err
}
