package connector

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Supported connector protocols
const (
	ProtocolHTTP11 = "HTTP/1.1"
	ProtocolAJP13  = "AJP/1.3"
)

// Connector names used by the container
const (
	NameMain = "main"
	NameHTTP = "http"
	NameAJP  = "ajp"
)

// Connector describes a network listener and the request properties it
// reports to the application.
type Connector struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Scheme   string `json:"scheme"`
	Secure   bool   `json:"secure"`
	// TLS is set for the main connector when it terminates TLS itself
	TLS bool `json:"tls"`
	// ProxyPort, when > 0, is reported as the server port instead of the
	// listening port
	ProxyPort int `json:"proxy_port,omitempty"`
	// RedirectPort is the port requests are redirected to when a
	// constraint requires confidential transport
	RedirectPort int `json:"redirect_port,omitempty"`
	// UpgradeH2C enables the HTTP/2 cleartext upgrade
	UpgradeH2C bool `json:"h2c"`
	Attributes `json:"attributes"`
}

// New returns a Connector with the default attribute values
func New(name, protocol string, port int) (*Connector, error) {
	p, err := NormalizeProtocol(protocol)
	if err != nil {
		return nil, err
	}
	return &Connector{
		Name:       name,
		Protocol:   p,
		Port:       port,
		Scheme:     "http",
		Attributes: DefaultAttributes(),
	}, nil
}

// SetProtocol validates and sets the protocol of this Connector
func (c *Connector) SetProtocol(protocol string) error {
	p, err := NormalizeProtocol(protocol)
	if err != nil {
		return err
	}
	c.Protocol = p
	return nil
}

// Addr returns the listen address for this Connector on the passed ip
func (c *Connector) Addr(ip string) string {
	return net.JoinHostPort(ip, strconv.Itoa(c.Port))
}

// ReportedPort returns the port reported to the application when the
// request does not carry one
func (c *Connector) ReportedPort() int {
	if c.ProxyPort > 0 {
		return c.ProxyPort
	}
	return c.Port
}

// IsAJP indicates if this is an AJP connector
func (c *Connector) IsAJP() bool {
	return c.Protocol == ProtocolAJP13
}

func (c *Connector) String() string {
	return fmt.Sprintf("%s[%s:%d]", c.Name, c.Protocol, c.Port)
}

// NormalizeProtocol maps a protocol name, including the Tomcat protocol
// handler class names, to one of the supported protocols. An empty name
// means HTTP/1.1.
func NormalizeProtocol(protocol string) (string, error) {
	p := strings.TrimSpace(protocol)
	if i := strings.LastIndexByte(p, '.'); i >= 0 && strings.HasPrefix(p, "org.apache.coyote.") {
		p = p[i+1:]
	}
	switch strings.ToLower(p) {
	case "", "http/1.1", "http", "http11nioprotocol", "http11nio2protocol", "http11aprprotocol":
		return ProtocolHTTP11, nil
	case "ajp/1.3", "ajp", "ajpnioprotocol", "ajpnio2protocol", "ajpaprprotocol":
		return ProtocolAJP13, nil
	default:
		return "", errors.Errorf("unsupported connector protocol '%s'", protocol)
	}
}

func millis(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
