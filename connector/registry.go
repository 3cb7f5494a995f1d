package connector

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/go-oidfed/frontdoor/internal/version"
)

// HeaderConnector is the internal header used to tell the connector
// middleware which additional connector accepted a request
const HeaderConnector = "X-Frontdoor-Connector"

// Registry holds the main connector and all additional connectors of a
// container
type Registry struct {
	main       *Connector
	additional []*Connector
	token      string
}

// NewRegistry creates a new Registry for the passed main connector
func NewRegistry(main *Connector) *Registry {
	return &Registry{
		main:  main,
		token: uuid.NewString(),
	}
}

// Main returns the main connector
func (r *Registry) Main() *Connector {
	return r.main
}

// Add adds an additional connector
func (r *Registry) Add(c *Connector) {
	r.additional = append(r.additional, c)
}

// Additional returns the additional connectors
func (r *Registry) Additional() []*Connector {
	return r.additional
}

// All returns all connectors, the main connector first
func (r *Registry) All() []*Connector {
	return append([]*Connector{r.main}, r.additional...)
}

// Customize applies the passed function to all connectors
func (r *Registry) Customize(f func(*Connector)) {
	for _, c := range r.All() {
		f(c)
	}
}

func (r *Registry) lookup(name string) *Connector {
	for _, c := range r.additional {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Mark wraps the passed http.Handler so that requests are marked as
// accepted by the named connector
func (r *Registry) Mark(name string, next http.Handler) http.Handler {
	value := name + ";" + r.token
	return http.HandlerFunc(
		func(w http.ResponseWriter, req *http.Request) {
			req.Header.Set(HeaderConnector, value)
			next.ServeHTTP(w, req)
		},
	)
}

// Middleware returns the fiber.Handler that resolves the connector of a
// request, stores the RequestInfo and sets the connector's response
// headers. Request limits are enforced by Enforce.
func (r *Registry) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		conn := r.main
		if v := c.Get(HeaderConnector); v != "" {
			c.Request().Header.Del(HeaderConnector)
			if name, token, ok := strings.Cut(v, ";"); ok &&
				subtle.ConstantTimeCompare([]byte(token), []byte(r.token)) == 1 {
				if found := r.lookup(name); found != nil {
					conn = found
				}
			}
		}
		c.Locals(localsKeyRequestInfo, newRequestInfo(c, conn))

		if conn.Server != "" {
			c.Set(fiber.HeaderServer, conn.Server)
		}
		if conn.XPoweredBy {
			c.Set(fiber.HeaderXPoweredBy, version.Software())
		}
		return c.Next()
	}
}

// Enforce returns the fiber.Handler that rejects requests the accepting
// connector does not allow, i.e. TRACE requests and bodies above
// maxPostSize. It must run after Middleware; installing it after the
// access log valves makes the rejections visible in the access logs.
func (r *Registry) Enforce() fiber.Handler {
	return func(c *fiber.Ctx) error {
		conn := Info(c).conn
		if conn == nil {
			conn = r.main
		}
		if c.Method() == fiber.MethodTrace && !conn.AllowTrace {
			c.Set(fiber.HeaderAllow, "GET, HEAD, POST, PUT, DELETE, OPTIONS, PATCH")
			return fiber.ErrMethodNotAllowed
		}
		// the raw body; c.Body() would inflate Content-Encoding first
		if conn.MaxPostSize > 0 && int64(len(c.BodyRaw())) > conn.MaxPostSize {
			return fiber.ErrRequestEntityTooLarge
		}
		return c.Next()
	}
}
