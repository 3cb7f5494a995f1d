package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-oidfed/frontdoor/connector"
	"github.com/go-oidfed/frontdoor/middleware/accesslog"
	"github.com/go-oidfed/frontdoor/storage"
)

func mustParse(t *testing.T, data string) *Config {
	t.Helper()
	c, err := parse([]byte(data))
	require.NoError(t, err)
	return c
}

const minimal = `
storage:
  data_dir: /tmp
`

func TestParseDefaults(t *testing.T) {
	c := mustParse(t, minimal)
	s := c.Server
	assert.Equal(t, 8443, s.Port)
	assert.True(t, s.HTTP.Enabled)
	assert.Equal(t, 8080, s.HTTP.Port)
	assert.False(t, s.HTTPProxy.Enabled)
	assert.True(t, s.HTTPProxy.Secure)
	assert.Equal(t, "https", s.HTTPProxy.Scheme)
	assert.False(t, s.AJP.Enabled)
	assert.Equal(t, 8009, s.AJP.Port)
	assert.Equal(t, 5*time.Second, s.AJP.AsyncTimeout.Duration())
	assert.EqualValues(t, 20971520, s.AJP.MaxPostSize)
	assert.Equal(t, "ssl_client_cert", s.SSLValve.SSLClientCertHeader)
	assert.Equal(t, accesslog.DefaultPattern, s.ExtAccessLog.Pattern)
	assert.Equal(t, "localhost_access_extended", s.ExtAccessLog.Prefix)
	assert.Equal(t, ".log", s.ExtAccessLog.Suffix)
	assert.Equal(t, []string{"/*"}, s.BasicAuthn.Patterns)
	assert.Equal(t, "INFO", c.Logging.Internal.Level)
	assert.Equal(t, time.Minute, c.Caching.MaxLifetime.Duration())
	assert.Equal(t, "/api/v1/admin", c.API.Admin.Path)
	assert.Equal(t, "admin", c.API.Admin.Role)
}

func TestParseServer(t *testing.T) {
	c := mustParse(
		t, minimal+`
server:
  port: 9443
  trusted_proxies: [10.0.0.0/8, 192.168.1.1]
  forwarded_ip_header: X-Forwarded-For
  attributes:
    maxPostSize: 1024
    xpoweredBy: true
  http:
    enabled: true
    port: 0
    protocol: org.apache.coyote.http11.Http11Nio2Protocol
  http_proxy:
    enabled: true
    proxy_port: 443
  ajp:
    enabled: true
    attributes:
      connectionTimeout: 4000
  basic_authn:
    enabled: true
    auth_roles: [admin, ops]
    patterns: [/status/*, "*.json"]
  rewrite:
    location: /does/not/exist
    watch: true
`,
	)
	s := c.Server
	assert.Equal(t, 9443, s.Port)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, s.TrustedProxies)
	assert.Equal(t, connector.AttributeMap{"maxPostSize": "1024", "xpoweredBy": "true"}, s.Attributes)
	assert.Equal(t, 0, s.HTTP.Port)
	assert.True(t, s.HTTPProxy.Enabled)
	assert.True(t, s.HTTPProxy.Secure)
	assert.Equal(t, 443, s.HTTPProxy.ProxyPort)
	assert.Equal(t, 5*time.Second, s.AJP.AsyncTimeout.Duration())
	assert.Equal(t, connector.AttributeMap{"connectionTimeout": "4000"}, s.AJP.Attributes)
	assert.Equal(t, []string{"admin", "ops"}, s.BasicAuthn.AuthRoles)
	assert.Equal(t, []string{"/status/*", "*.json"}, s.BasicAuthn.Patterns)
	assert.True(t, s.Rewrite.Watch)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "trust all ipv4",
			data: "server:\n  trusted_proxies: [0.0.0.0/0]\n",
		},
		{
			name: "trust all ipv6",
			data: "server:\n  trusted_proxies: ['::/0']\n",
		},
		{
			name: "invalid proxy",
			data: "server:\n  trusted_proxies: [proxy.example.org]\n",
		},
		{
			name: "invalid port",
			data: "server:\n  port: 70000\n",
		},
		{
			name: "http on main port",
			data: "server:\n  port: 8080\n",
		},
		{
			name: "unsupported protocol",
			data: "server:\n  http:\n    protocol: SPDY\n",
		},
		{
			name: "malformed attribute",
			data: "server:\n  attributes:\n    allowTrace: sometimes\n",
		},
		{
			name: "ajp main connector",
			data: "server:\n  http_proxy:\n    enabled: true\n    protocol: AJP/1.3\n",
		},
		{
			name: "nested attribute",
			data: "server:\n  attributes:\n    server:\n      name: x\n",
		},
		{
			name: "invalid access log pattern",
			data: "server:\n  ext_access_log:\n    enabled: true\n    pattern: c-ip x-H(nothing)\n",
		},
		{
			name: "basic authn without roles",
			data: "server:\n  basic_authn:\n    enabled: true\n    auth_roles: []\n",
		},
		{
			name: "tls without cert",
			data: "server:\n  tls:\n    enabled: true\n    cert: /does/not/exist\n",
		},
		{
			name: "invalid log level",
			data: "logging:\n  internal:\n    level: chatty\n",
		},
		{
			name: "missing log dir",
			data: "logging:\n  access:\n    dir: /does/not/exist\n",
		},
		{
			name: "invalid cache size",
			data: "caching:\n  max_size: -1\n",
		},
		{
			name: "invalid admin path",
			data: "api:\n  admin:\n    path: admin\n",
		},
	}
	for _, test := range tests {
		t.Run(
			test.name, func(t *testing.T) {
				_, err := parse([]byte(minimal + test.data))
				assert.Error(t, err)
			},
		)
	}
}

func TestStorageValidation(t *testing.T) {
	_, err := parse([]byte("storage:\n  driver: sqlite\n"))
	assert.Error(t, err)

	c := mustParse(t, "storage:\n  driver: mysql\n  user: cas\n  password: secret\n  host: db\n  db: cas\n")
	assert.Equal(t, "cas:secret@tcp(db:3306)/cas?charset=utf8mb4&parseTime=True", c.Storage.DSN)
	sc := StorageConfig(c.Storage, c.API)
	assert.Equal(t, storage.DriverMySQL, sc.Driver)
	assert.EqualValues(t, 64*1024, sc.UsersHash.MemoryKiB)
}

func TestSmartLoggingDir(t *testing.T) {
	dir := t.TempDir()
	c := mustParse(t, minimal+"logging:\n  internal:\n    dir: "+dir+"\n    smart:\n      enabled: true\n")
	assert.Equal(t, dir, c.Logging.Internal.Smart.Dir)
	assert.Equal(t, dir, c.Logging.InternalLogger().SmartDir)

	_, err := parse([]byte(minimal + "logging:\n  internal:\n    smart:\n      enabled: true\n"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "frontdoor.yaml")
	require.NoError(t, os.WriteFile(file, []byte(minimal+"server:\n  port: 9000\n"), 0o600))

	c, err := LoadFile(file)
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Server.Port)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(
		func() {
			_ = os.Chdir(wd)
		},
	)
	c, err = LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 9000, c.Server.Port)

	Load(file)
	assert.Equal(t, 9000, Get().Server.Port)
}
