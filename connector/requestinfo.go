package connector

import (
	"context"
	"crypto/x509"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const localsKeyRequestInfo = "frontdoor.request_info"

const lookupTimeout = 2 * time.Second

// RequestInfo holds the request properties derived from the connector that
// accepted the request and from the valves that processed it.
type RequestInfo struct {
	Connector  string
	Scheme     string
	Secure     bool
	ServerName string
	ServerPort int
	RemoteAddr string
	RemoteHost string
	RemoteUser string
	AuthType   string
	Roles      []string
	// RedirectPort of the connector, 0 if none
	RedirectPort int
	TLS          *TLSInfo
	attributes   map[string]any
	conn         *Connector
}

// TLSInfo holds TLS properties of the client connection as reported by a
// TLS terminating proxy
type TLSInfo struct {
	Certificates []*x509.Certificate
	CipherSuite  string
	SessionID    string
	KeySize      int
}

// Info returns the RequestInfo of the passed request. If no connector
// middleware ran for this request, a RequestInfo is derived from the
// request itself.
func Info(c *fiber.Ctx) *RequestInfo {
	if info, ok := c.Locals(localsKeyRequestInfo).(*RequestInfo); ok && info != nil {
		return info
	}
	info := newRequestInfo(c, nil)
	c.Locals(localsKeyRequestInfo, info)
	return info
}

func newRequestInfo(c *fiber.Ctx, conn *Connector) *RequestInfo {
	info := &RequestInfo{
		RemoteAddr: c.IP(),
	}
	info.RemoteHost = info.RemoteAddr
	host, port := splitHost(c.Hostname())
	info.ServerName = host
	if conn == nil {
		info.Scheme = c.Protocol()
		info.Secure = info.Scheme == "https"
		info.ServerPort = port
		if info.ServerPort == 0 {
			info.ServerPort = defaultPort(info.Scheme)
		}
		return info
	}
	info.conn = conn
	info.Connector = conn.Name
	info.Scheme = conn.Scheme
	if info.Scheme == "" {
		info.Scheme = c.Protocol()
	}
	info.Secure = conn.Secure
	info.RedirectPort = conn.RedirectPort
	if conn.ProxyName != "" {
		info.ServerName = conn.ProxyName
	}
	switch {
	case conn.ProxyPort > 0:
		info.ServerPort = conn.ProxyPort
	case port > 0:
		info.ServerPort = port
	default:
		info.ServerPort = conn.Port
	}
	if conn.EnableLookups {
		info.RemoteHost = lookupHost(c.UserContext(), info.RemoteAddr)
	}
	return info
}

// BaseURL returns scheme, server name and (non default) port as an
// absolute URL without path
func (i *RequestInfo) BaseURL() string {
	return AbsoluteURL(i.Scheme, i.ServerName, i.ServerPort)
}

// AbsoluteURL returns scheme://host[:port] with IPv6 hosts in brackets;
// the port is omitted if it is not positive or the scheme's default
func AbsoluteURL(scheme, host string, port int) string {
	if port > 0 && port != defaultPort(scheme) {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host
}

// SetAttribute sets a request attribute
func (i *RequestInfo) SetAttribute(key string, value any) {
	if i.attributes == nil {
		i.attributes = make(map[string]any)
	}
	i.attributes[key] = value
}

// Attribute returns a request attribute
func (i *RequestInfo) Attribute(key string) (any, bool) {
	v, ok := i.attributes[key]
	return v, ok
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

func splitHost(hostport string) (string, int) {
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return strings.Trim(hostport, "[]"), 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}

func lookupHost(ctx context.Context, ip string) string {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ip
	}
	return strings.TrimSuffix(names[0], ".")
}
