package config

import (
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zachmann/go-utils/duration"
	"github.com/zachmann/go-utils/fileutils"

	"github.com/go-oidfed/frontdoor"
	"github.com/go-oidfed/frontdoor/connector"
	"github.com/go-oidfed/frontdoor/middleware/accesslog"
	"github.com/go-oidfed/frontdoor/middleware/basicauth"
	"github.com/go-oidfed/frontdoor/middleware/sslheader"
)

// serverConf holds the container configuration under the `server` key.
//
// YAML example:
//
//	server:
//	  port: 8443
//	  trusted_proxies: [10.0.0.0/8]
//	  http:
//	    enabled: true
//	    port: 8080
//	  http_proxy:
//	    enabled: true
//	    secure: true
//	    scheme: https
//	  ext_access_log:
//	    enabled: true
//	    pattern: c-ip s-ip cs-uri sc-status time x-threadname
type serverConf struct {
	frontdoor.ServerConf `yaml:",inline"`
}

const (
	defaultMainPort    = 8443
	defaultHTTPPort    = 8080
	defaultAJPPort     = 8009
	defaultMaxPostSize = 20971520
)

func defaultServerConf() serverConf {
	return serverConf{
		ServerConf: frontdoor.ServerConf{
			Port: defaultMainPort,
			HTTP: frontdoor.HTTPConf{
				Enabled:  true,
				Port:     defaultHTTPPort,
				Protocol: connector.ProtocolHTTP11,
			},
			HTTPProxy: frontdoor.HTTPProxyConf{
				Secure: true,
				Scheme: "https",
			},
			AJP: frontdoor.AJPConf{
				Port:         defaultAJPPort,
				Protocol:     connector.ProtocolAJP13,
				Scheme:       "http",
				AsyncTimeout: duration.DurationOption(5 * time.Second),
				MaxPostSize:  defaultMaxPostSize,
				ProxyPort:    -1,
				RedirectPort: -1,
			},
			SSLValve: frontdoor.SSLValveConf{
				SSLClientCertHeader:        sslheader.DefaultClientCertHeader,
				SSLCipherHeader:            sslheader.DefaultCipherHeader,
				SSLSessionIDHeader:         sslheader.DefaultSessionIDHeader,
				SSLCipherUserKeySizeHeader: sslheader.DefaultKeySizeHeader,
			},
			ExtAccessLog: frontdoor.ExtAccessLogConf{
				Pattern: accesslog.DefaultPattern,
				Prefix:  "localhost_access_extended",
				Suffix:  ".log",
			},
			BasicAuthn: frontdoor.BasicAuthnConf{
				Realm:         basicauth.DefaultRealm,
				SecurityRoles: []string{"admin"},
				AuthRoles:     []string{"admin"},
				Patterns:      []string{"/*"},
			},
		},
	}
}

func (c *serverConf) validate() error {
	if err := checkPort("port", c.Port, false); err != nil {
		return err
	}
	if c.TLS.Enabled {
		if !fileutils.FileExists(c.TLS.Cert) {
			return errors.Errorf("tls certificate '%s' does not exist", c.TLS.Cert)
		}
		if !fileutils.FileExists(c.TLS.Key) {
			return errors.Errorf("tls key '%s' does not exist", c.TLS.Key)
		}
	}
	if err := validateTrustedProxies(c.TrustedProxies); err != nil {
		return err
	}
	for _, check := range []func() error{
		c.validateConnectors,
		c.validateExtAccessLog,
		c.validateRewrite,
		c.validateBasicAuthn,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func checkPort(name string, port int, zeroAllowed bool) error {
	if port > 65535 || port < 0 || (port == 0 && !zeroAllowed) {
		return errors.Errorf("%s: invalid port %d", name, port)
	}
	return nil
}

// validateTrustedProxies accepts single ips and cidr ranges, but rejects
// ranges that would trust every client
func validateTrustedProxies(proxies []string) error {
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if !strings.Contains(p, "/") {
			if net.ParseIP(p) == nil {
				return errors.Errorf("trusted_proxies: '%s' is neither an ip nor a cidr range", p)
			}
			continue
		}
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return errors.Errorf("trusted_proxies: invalid cidr range '%s'", p)
		}
		if prefix.Bits() == 0 {
			return errors.Errorf("trusted_proxies: '%s' would trust all clients", p)
		}
	}
	return nil
}

func (c *serverConf) validateConnectors() error {
	main, err := connector.New(connector.NameMain, connector.ProtocolHTTP11, c.Port)
	if err != nil {
		return err
	}
	if err = main.SetAttributes(c.Attributes); err != nil {
		return err
	}
	if c.HTTP.Enabled {
		if err = checkPort("http.port", c.HTTP.Port, true); err != nil {
			return err
		}
		if c.HTTP.Port == c.Port {
			return errors.Errorf("http.port: port %d is already used by the main connector", c.Port)
		}
		if err = checkConnector(connector.NameHTTP, c.HTTP.Protocol, c.HTTP.Attributes); err != nil {
			return err
		}
	}
	if c.HTTPProxy.Enabled {
		if strings.TrimSpace(c.HTTPProxy.Protocol) != "" {
			p, err := connector.NormalizeProtocol(c.HTTPProxy.Protocol)
			if err != nil {
				return errors.Wrap(err, "http_proxy")
			}
			if p == connector.ProtocolAJP13 {
				return errors.New("http_proxy: the main connector cannot use the AJP protocol")
			}
		}
		if err = checkConnector("http_proxy", "", c.HTTPProxy.Attributes); err != nil {
			return err
		}
	}
	if c.AJP.Enabled && c.AJP.Port > 0 {
		if err = checkPort("ajp.port", c.AJP.Port, false); err != nil {
			return err
		}
		if err = checkConnector(connector.NameAJP, c.AJP.Protocol, c.AJP.Attributes); err != nil {
			return err
		}
		log.Warn("ajp connector is configured, but the AJP protocol is not supported and will not be started")
	}
	return nil
}

func checkConnector(name, protocol string, attrs connector.AttributeMap) error {
	c, err := connector.New(name, protocol, 0)
	if err != nil {
		return errors.Wrap(err, name)
	}
	return c.SetAttributes(attrs)
}

func (c *serverConf) validateExtAccessLog() error {
	conf := c.ExtAccessLog
	if !conf.Enabled || strings.TrimSpace(conf.Pattern) == "" {
		return nil
	}
	p, err := accesslog.Compile(conf.Pattern)
	if err != nil {
		return errors.Wrap(err, "ext_access_log")
	}
	if conf.Directory != "" && !fileutils.FileExists(conf.Directory) {
		return errors.Errorf("ext_access_log: directory '%s' does not exist", conf.Directory)
	}
	if conf.GeoIPDB != "" && !fileutils.FileExists(conf.GeoIPDB) {
		return errors.Errorf("ext_access_log: geoip database '%s' does not exist", conf.GeoIPDB)
	}
	if p.UsesGeoIP() && conf.GeoIPDB == "" {
		log.Warn("ext_access_log: pattern uses geoip fields, but no geoip_db is configured")
	}
	return nil
}

func (c *serverConf) validateRewrite() error {
	if l := c.Rewrite.Location; l != "" && !fileutils.FileExists(l) {
		log.WithField("file", l).Info("rewrite rule file does not exist, rewrite valve is not installed")
	}
	return nil
}

func (c *serverConf) validateBasicAuthn() error {
	conf := c.BasicAuthn
	if !conf.Enabled {
		return nil
	}
	if len(conf.AuthRoles) == 0 {
		return errors.New("basic_authn: at least one auth role must be configured")
	}
	if len(conf.Patterns) == 0 {
		return errors.New("basic_authn: at least one url pattern must be configured")
	}
	return nil
}
