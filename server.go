package frontdoor

import (
	"github.com/zachmann/go-utils/duration"

	"github.com/go-oidfed/frontdoor/connector"
)

// ServerConf configures the container: the main connector, the additional
// connectors and the valves
type ServerConf struct {
	IPListen          string   `yaml:"ip_listen"`
	Port              int      `yaml:"port"`
	TLS               TLSConf  `yaml:"tls"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
	ForwardedIPHeader string   `yaml:"forwarded_ip_header"`
	// Attributes are applied to the main connector
	Attributes connector.AttributeMap `yaml:"attributes"`

	HTTP         HTTPConf         `yaml:"http"`
	HTTPProxy    HTTPProxyConf    `yaml:"http_proxy"`
	AJP          AJPConf          `yaml:"ajp"`
	SSLValve     SSLValveConf     `yaml:"ssl_valve"`
	ExtAccessLog ExtAccessLogConf `yaml:"ext_access_log"`
	Rewrite      RewriteConf      `yaml:"rewrite"`
	BasicAuthn   BasicAuthnConf   `yaml:"basic_authn"`
}

// TLSConf configures TLS termination of the main connector
type TLSConf struct {
	Enabled      bool   `yaml:"enabled"`
	RedirectHTTP bool   `yaml:"redirect_http"`
	Cert         string `yaml:"cert"`
	Key          string `yaml:"key"`
}

// HTTPConf configures the additional http connector
type HTTPConf struct {
	Enabled    bool                   `yaml:"enabled"`
	Port       int                    `yaml:"port"`
	Protocol   string                 `yaml:"protocol"`
	Attributes connector.AttributeMap `yaml:"attributes"`
}

// HTTPProxyConf configures the customization of all connectors when the
// container runs behind a proxy
type HTTPProxyConf struct {
	Enabled      bool                   `yaml:"enabled"`
	Secure       bool                   `yaml:"secure"`
	Protocol     string                 `yaml:"protocol"`
	Scheme       string                 `yaml:"scheme"`
	RedirectPort int                    `yaml:"redirect_port"`
	ProxyPort    int                    `yaml:"proxy_port"`
	Attributes   connector.AttributeMap `yaml:"attributes"`
}

// AJPConf configures the AJP connector
type AJPConf struct {
	Enabled       bool                    `yaml:"enabled"`
	Port          int                     `yaml:"port"`
	Protocol      string                  `yaml:"protocol"`
	Secure        bool                    `yaml:"secure"`
	AllowTrace    bool                    `yaml:"allow_trace"`
	Scheme        string                  `yaml:"scheme"`
	AsyncTimeout  duration.DurationOption `yaml:"async_timeout"`
	EnableLookups bool                    `yaml:"enable_lookups"`
	MaxPostSize   int64                   `yaml:"max_post_size"`
	ProxyPort     int                     `yaml:"proxy_port"`
	RedirectPort  int                     `yaml:"redirect_port"`
	Attributes    connector.AttributeMap  `yaml:"attributes"`
}

// SSLValveConf configures the ssl header valve
type SSLValveConf struct {
	Enabled                    bool   `yaml:"enabled"`
	SSLClientCertHeader        string `yaml:"ssl_client_cert_header"`
	SSLCipherHeader            string `yaml:"ssl_cipher_header"`
	SSLSessionIDHeader         string `yaml:"ssl_session_id_header"`
	SSLCipherUserKeySizeHeader string `yaml:"ssl_cipher_user_key_size_header"`
	// TrustedOnly honours the headers only from trusted proxies
	TrustedOnly bool `yaml:"trusted_only"`
}

// ExtAccessLogConf configures the extended (W3C) access log valve
type ExtAccessLogConf struct {
	Enabled   bool   `yaml:"enabled"`
	Pattern   string `yaml:"pattern"`
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix"`
	Suffix    string `yaml:"suffix"`
	// GeoIPDB is the path of a MaxMind database used by x-G(...) fields
	GeoIPDB string `yaml:"geoip_db"`
	// ContextAttributes are logged by x-A(...) fields
	ContextAttributes map[string]string `yaml:"context_attributes"`
}

// RewriteConf configures the rewrite valve
type RewriteConf struct {
	Location string `yaml:"location"`
	// Watch reloads the rules when the file changes
	Watch bool `yaml:"watch"`
}

// BasicAuthnConf configures the basic authentication valve
type BasicAuthnConf struct {
	Enabled       bool     `yaml:"enabled"`
	Realm         string   `yaml:"realm"`
	SecurityRoles []string `yaml:"security_roles"`
	AuthRoles     []string `yaml:"auth_roles"`
	Patterns      []string `yaml:"patterns"`
	// RequireSecure requires a confidential transport for protected
	// resources
	RequireSecure bool `yaml:"require_secure"`
}
