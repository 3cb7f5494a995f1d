// Package basicauth provides a fiber middleware enforcing security
// constraints with HTTP Basic authentication.
package basicauth

import (
	"context"
	"encoding/base64"
	"slices"
	"strings"

	arrays "github.com/adam-hanna/arrayOperations"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-oidfed/frontdoor/connector"
)

// AuthType is the auth type reported for requests authenticated by this
// middleware
const AuthType = "BASIC"

// DefaultRealm is the realm used if none is configured
const DefaultRealm = "Authentication required"

// ErrInvalidCredentials is returned by an Authenticator for unknown users
// or wrong passwords
var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal is an authenticated user
type Principal struct {
	Username string   `json:"username" msgpack:"u"`
	Roles    []string `json:"roles" msgpack:"r"`
}

// HasRole checks if the Principal holds the passed role
func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

// Authenticator verifies user credentials
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*Principal, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface
type AuthenticatorFunc func(ctx context.Context, username, password string) (*Principal, error)

// Authenticate implements the Authenticator interface
func (f AuthenticatorFunc) Authenticate(ctx context.Context, username, password string) (*Principal, error) {
	return f(ctx, username, password)
}

// Config configures the basic auth middleware
type Config struct {
	// Realm sent in the authentication challenge
	Realm string
	// SecurityRoles are the declared roles, used to resolve the '*' role
	SecurityRoles []string
	// Constraints define the protected resources
	Constraints []Constraint
	// Authenticator verifies credentials; required
	Authenticator Authenticator
	// Next defines a function to skip this middleware when it returns true
	Next func(c *fiber.Ctx) bool
}

// New returns the basic auth middleware
func New(config Config) fiber.Handler {
	realm := config.Realm
	if realm == "" {
		realm = DefaultRealm
	}
	challenge := `Basic realm="` + strings.ReplaceAll(realm, `"`, `\"`) + `", charset="UTF-8"`
	return func(c *fiber.Ctx) error {
		if config.Next != nil && config.Next(c) {
			return c.Next()
		}
		req, constrained := resolve(config.Constraints, requestPath(c.Path()))
		if !constrained {
			return c.Next()
		}
		info := connector.Info(c)
		if req.confidential && !info.Secure {
			if info.RedirectPort <= 0 {
				return forbidden(c, "secure transport required")
			}
			return c.Redirect(secureURL(info, c.OriginalURL()), fiber.StatusFound)
		}

		username, password, ok := ParseBasicAuth(c)
		if !ok {
			return unauthorized(c, challenge, "missing credentials")
		}
		principal, err := config.Authenticator.Authenticate(c.UserContext(), username, password)
		if err != nil || principal == nil {
			if err != nil && !errors.Is(err, ErrInvalidCredentials) {
				log.WithError(err).WithField("user", username).Error("could not authenticate user")
			}
			return unauthorized(c, challenge, "invalid credentials")
		}
		if !authorized(principal, req.roles, config.SecurityRoles) {
			return forbidden(c, "insufficient role")
		}
		info.RemoteUser = principal.Username
		info.AuthType = AuthType
		info.Roles = principal.Roles
		return c.Next()
	}
}

// authorized checks a principal against the required roles
func authorized(p *Principal, required, declared []string) bool {
	if slices.Contains(required, RoleAnyAuthenticated) {
		return true
	}
	if len(arrays.Intersect(p.Roles, required)) > 0 {
		return true
	}
	if slices.Contains(required, RoleAnyDeclared) {
		return len(arrays.Intersect(p.Roles, declared)) > 0
	}
	return false
}

func secureURL(info *connector.RequestInfo, uri string) string {
	return connector.AbsoluteURL("https", info.ServerName, info.RedirectPort) + uri
}

func unauthorized(c *fiber.Ctx, challenge, description string) error {
	c.Set(fiber.HeaderWWWAuthenticate, challenge)
	return c.Status(fiber.StatusUnauthorized).JSON(
		fiber.Map{
			"error":             "unauthorized",
			"error_description": description,
		},
	)
}

func forbidden(c *fiber.Ctx, description string) error {
	return c.Status(fiber.StatusForbidden).JSON(
		fiber.Map{
			"error":             "forbidden",
			"error_description": description,
		},
	)
}

// ParseBasicAuth extracts Basic auth credentials from request headers
func ParseBasicAuth(c *fiber.Ctx) (username, password string, ok bool) {
	auth := string(c.Request().Header.Peek(fiber.HeaderAuthorization))
	if auth == "" {
		return "", "", false
	}
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", "", false
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(b), ":")
	return
}
