package rewrite

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/go-oidfed/frontdoor/connector"
)

// Config configures the rewrite middleware
type Config struct {
	// Rules holds the active rules; required
	Rules *Holder
	// Next defines a function to skip this middleware when it returns true
	Next func(c *fiber.Ctx) bool
}

// New returns the rewrite middleware
func New(config Config) fiber.Handler {
	holder := config.Rules
	if holder == nil {
		holder = NewHolder(nil)
	}
	return func(c *fiber.Ctx) error {
		if config.Next != nil && config.Next(c) {
			return c.Next()
		}
		rs := holder.Load()
		if rs.Empty() {
			return c.Next()
		}
		info := connector.Info(c)
		path := c.Path()
		if decoded, err := url.PathUnescape(path); err == nil {
			path = decoded
		}
		query := string(c.Request().URI().QueryString())
		res := rs.Apply(
			path, query, requestVariables{
				c:    c,
				info: info,
				now:  time.Now(),
			},
		)
		for k, v := range res.Env {
			c.Locals(k, v)
			info.SetAttribute(k, v)
		}
		if res.ContentType != "" {
			c.Set(fiber.HeaderContentType, res.ContentType)
		}
		switch {
		case res.Status == fiber.StatusForbidden:
			return fiber.ErrForbidden
		case res.Status == fiber.StatusGone:
			return fiber.ErrGone
		case res.Redirect != "":
			target := res.Redirect
			if strings.HasPrefix(target, "/") {
				target = info.BaseURL() + target
			}
			return c.Redirect(target, res.Status)
		}
		if res.Changed {
			c.Path((&url.URL{Path: res.Path}).EscapedPath())
			c.Request().URI().SetQueryString(res.Query)
		}
		return c.Next()
	}
}
