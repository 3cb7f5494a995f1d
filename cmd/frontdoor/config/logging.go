package config

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zachmann/go-utils/fileutils"

	"github.com/go-oidfed/frontdoor/internal/logger"
)

// loggingConf holds all logging-related configuration under the `logging` key.
//
// YAML example:
//
//	logging:
//	  access:
//	    dir: /var/log/frontdoor
//	    stderr: false
//	  internal:
//	    dir: /var/log/frontdoor
//	    stderr: false
//	    level: INFO
//	    smart:
//	      enabled: false
//	      dir: /var/log/frontdoor/smart
//	  rotation:
//	    max_size: 100
//	    max_backups: 3
//	    max_age: 28
//	    compress: true
type loggingConf struct {
	Access   LoggerConf         `yaml:"access"`
	Internal internalLoggerConf `yaml:"internal"`
	Rotation rotationConf       `yaml:"rotation"`
}

// internalLoggerConf configures application-internal logging.
// Level accepts standard log levels (e.g. DEBUG, INFO, WARN, ERROR).
// When Smart logging is enabled, errors are duplicated to a dedicated directory.
type internalLoggerConf struct {
	LoggerConf `yaml:",inline"`
	Level      string          `yaml:"level"`
	Smart      smartLoggerConf `yaml:"smart"`
}

// LoggerConf holds configuration related to logging
type LoggerConf struct {
	Dir    string `yaml:"dir"`
	StdErr bool   `yaml:"stderr"`
}

// smartLoggerConf enables and configures 'smart' logging.
// If Enabled, error logs are also written to `Dir`. If `Dir` is empty, it
// falls back to the internal logger's `Dir`.
type smartLoggerConf struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// rotationConf configures the rotation of log files written to a directory
type rotationConf struct {
	MaxSize    int  `yaml:"max_size"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"`
	Compress   bool `yaml:"compress"`
}

func checkLoggingDirExists(dir string) error {
	if dir != "" && !fileutils.FileExists(dir) {
		return errors.Errorf("logging directory '%s' does not exist", dir)
	}
	return nil
}

func (l *loggingConf) validate() error {
	if err := checkLoggingDirExists(l.Access.Dir); err != nil {
		return err
	}
	if err := checkLoggingDirExists(l.Internal.Dir); err != nil {
		return err
	}
	if l.Internal.Smart.Enabled {
		if l.Internal.Smart.Dir == "" {
			l.Internal.Smart.Dir = l.Internal.Dir
		}
		if l.Internal.Smart.Dir == "" {
			return errors.New("smart logging is enabled, but no directory is configured")
		}
		if err := checkLoggingDirExists(l.Internal.Smart.Dir); err != nil {
			return err
		}
	}
	if _, err := log.ParseLevel(l.Internal.Level); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (r rotationConf) rotation() logger.Rotation {
	return logger.Rotation{
		MaxSize:    r.MaxSize,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAge,
		Compress:   r.Compress,
	}
}

// InternalLogger returns the logger.Config for the internal logger
func (l loggingConf) InternalLogger() logger.Config {
	c := logger.Config{
		Level:    l.Internal.Level,
		Dir:      l.Internal.Dir,
		StdErr:   l.Internal.StdErr,
		Rotation: l.Rotation.rotation(),
	}
	if l.Internal.Smart.Enabled {
		c.SmartDir = l.Internal.Smart.Dir
	}
	return c
}

// AccessLogger returns the logger.Output for the plain access log
func (l loggingConf) AccessLogger() logger.Output {
	return logger.Output{
		Dir:      l.Access.Dir,
		StdErr:   l.Access.StdErr,
		Rotation: l.Rotation.rotation(),
	}
}

var defaultLoggingConf = loggingConf{
	Internal: internalLoggerConf{
		Level: "INFO",
	},
	Rotation: rotationConf{
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	},
}
