// Package sslheader provides a fiber middleware that takes the client TLS
// properties from headers set by a TLS terminating proxy.
package sslheader

import (
	"crypto/x509"
	"encoding/pem"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-oidfed/frontdoor/connector"
)

// Default header names
const (
	DefaultClientCertHeader = "ssl_client_cert"
	DefaultCipherHeader     = "ssl_cipher"
	DefaultSessionIDHeader  = "ssl_session_id"
	DefaultKeySizeHeader    = "ssl_cipher_usekeysize"
)

const (
	nullValue   = "(null)"
	beginMarker = "-----BEGIN CERTIFICATE-----"
	endMarker   = "-----END CERTIFICATE-----"
)

// Config configures the ssl header middleware
type Config struct {
	ClientCertHeader string
	CipherHeader     string
	SessionIDHeader  string
	KeySizeHeader    string
	// TrustedOnly ignores (and strips) the headers on requests that were
	// not sent by a trusted proxy
	TrustedOnly bool
	// Next defines a function to skip this middleware when it returns true
	Next func(c *fiber.Ctx) bool
}

// ConfigDefault is the default config
var ConfigDefault = Config{
	ClientCertHeader: DefaultClientCertHeader,
	CipherHeader:     DefaultCipherHeader,
	SessionIDHeader:  DefaultSessionIDHeader,
	KeySizeHeader:    DefaultKeySizeHeader,
}

func configDefault(config ...Config) Config {
	if len(config) < 1 {
		return ConfigDefault
	}
	cfg := config[0]
	if cfg.ClientCertHeader == "" {
		cfg.ClientCertHeader = ConfigDefault.ClientCertHeader
	}
	if cfg.CipherHeader == "" {
		cfg.CipherHeader = ConfigDefault.CipherHeader
	}
	if cfg.SessionIDHeader == "" {
		cfg.SessionIDHeader = ConfigDefault.SessionIDHeader
	}
	if cfg.KeySizeHeader == "" {
		cfg.KeySizeHeader = ConfigDefault.KeySizeHeader
	}
	return cfg
}

// New returns the ssl header middleware
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)
	headers := []string{
		cfg.ClientCertHeader,
		cfg.CipherHeader,
		cfg.SessionIDHeader,
		cfg.KeySizeHeader,
	}
	return func(c *fiber.Ctx) error {
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}
		if cfg.TrustedOnly && !c.IsProxyTrusted() {
			for _, h := range headers {
				c.Request().Header.Del(h)
			}
			return c.Next()
		}

		var tlsInfo connector.TLSInfo
		found := false
		if v := header(c, cfg.ClientCertHeader); v != "" {
			cert, err := ParseCertificate(v)
			if err != nil {
				log.WithError(err).Debug("ignoring invalid client certificate header")
			} else {
				tlsInfo.Certificates = []*x509.Certificate{cert}
				found = true
			}
		}
		if v := header(c, cfg.CipherHeader); v != "" {
			tlsInfo.CipherSuite = v
			found = true
		}
		if v := header(c, cfg.SessionIDHeader); v != "" {
			tlsInfo.SessionID = v
			found = true
		}
		if v := header(c, cfg.KeySizeHeader); v != "" {
			if size, err := strconv.Atoi(v); err == nil {
				tlsInfo.KeySize = size
				found = true
			} else {
				log.WithField("value", v).Debug("ignoring invalid cipher key size header")
			}
		}
		if found {
			connector.Info(c).TLS = &tlsInfo
		}
		return c.Next()
	}
}

func header(c *fiber.Ctx, name string) string {
	v := strings.TrimSpace(c.Get(name))
	if v == nullValue {
		return ""
	}
	return v
}

// ParseCertificate parses a PEM encoded certificate as forwarded by proxies,
// i.e. with line breaks replaced by spaces or url-encoded.
func ParseCertificate(value string) (*x509.Certificate, error) {
	if strings.Contains(value, "%") {
		if unescaped, err := url.PathUnescape(value); err == nil {
			value = unescaped
		}
	}
	value = normalizePEM(value)
	block, _ := pem.Decode([]byte(value))
	if block == nil {
		return nil, errNoPEM
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	return cert, errors.Wrap(err, "could not parse client certificate")
}

var errNoPEM = errors.New("no PEM encoded certificate found")

func normalizePEM(value string) string {
	start := strings.Index(value, beginMarker)
	end := strings.LastIndex(value, endMarker)
	if start < 0 || end < start {
		body := strings.Join(strings.Fields(value), "\n")
		return beginMarker + "\n" + body + "\n" + endMarker + "\n"
	}
	body := value[start+len(beginMarker) : end]
	body = strings.Join(strings.Fields(body), "\n")
	return beginMarker + "\n" + body + "\n" + endMarker + "\n"
}
