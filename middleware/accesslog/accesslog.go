// Package accesslog implements a fiber middleware writing an access log in
// the W3C extended log file format.
package accesslog

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/go-oidfed/frontdoor/connector"
	"github.com/go-oidfed/frontdoor/internal/version"
)

// Config configures the access log middleware
type Config struct {
	// Pattern is the compiled log pattern; required
	Pattern *Pattern
	// Output receives one line per request; required
	Output io.Writer
	// GeoIP resolves x-G(...) fields; optional
	GeoIP GeoResolver
	// ContextAttributes are logged by x-A(...) fields
	ContextAttributes map[string]string
	// Next defines a function to skip this middleware when it returns true
	Next func(c *fiber.Ctx) bool
}

// Header returns the W3C header lines for the passed pattern
func Header(p *Pattern) []string {
	return []string{
		"#Fields: " + p.String(),
		"#Version: 2.0",
		"#Software: " + version.Software(),
	}
}

var bufPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// New returns the access log middleware
func New(config Config) fiber.Handler {
	conf := config
	return func(c *fiber.Ctx) error {
		if conf.Next != nil && conf.Next(c) {
			return c.Next()
		}
		start := time.Now()
		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		e := &entry{
			c:       c,
			info:    connector.Info(c),
			start:   start,
			elapsed: time.Since(start),
			conf:    &conf,
		}
		buf := bufPool.Get().(*bytes.Buffer)
		buf.Reset()
		conf.Pattern.format(buf, e)
		if _, err := conf.Output.Write(buf.Bytes()); err != nil {
			log.WithError(err).Error("could not write access log entry")
		}
		bufPool.Put(buf)
		return nil
	}
}
