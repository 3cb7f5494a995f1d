package connector

import (
	"bytes"
	"compress/gzip"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNormalizeProtocol(t *testing.T) {
	tests := []struct {
		in   string
		out  string
		fail bool
	}{
		{in: "", out: ProtocolHTTP11},
		{in: "HTTP/1.1", out: ProtocolHTTP11},
		{in: " http ", out: ProtocolHTTP11},
		{in: "org.apache.coyote.http11.Http11NioProtocol", out: ProtocolHTTP11},
		{in: "Http11Nio2Protocol", out: ProtocolHTTP11},
		{in: "AJP/1.3", out: ProtocolAJP13},
		{in: "org.apache.coyote.ajp.AjpNioProtocol", out: ProtocolAJP13},
		{in: "HTTP/2", fail: true},
		{in: "org.apache.coyote.http2.Http2Protocol", fail: true},
	}
	for _, test := range tests {
		p, err := NormalizeProtocol(test.in)
		if test.fail {
			assert.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.out, p, test.in)
	}
}

func TestNew(t *testing.T) {
	c, err := New(NameHTTP, "", 8080)
	require.NoError(t, err)
	assert.Equal(t, ProtocolHTTP11, c.Protocol)
	assert.Equal(t, "http", c.Scheme)
	assert.Equal(t, DefaultAttributes(), c.Attributes)
	assert.Equal(t, "127.0.0.1:8080", c.Addr("127.0.0.1"))
	assert.Equal(t, ":8080", c.Addr(""))
	assert.Equal(t, "http[HTTP/1.1:8080]", c.String())
	assert.Equal(t, 8080, c.ReportedPort())
	c.ProxyPort = 443
	assert.Equal(t, 443, c.ReportedPort())
	assert.False(t, c.IsAJP())
	require.NoError(t, c.SetProtocol("AJP/1.3"))
	assert.True(t, c.IsAJP())
	assert.Error(t, c.SetProtocol("gopher"))

	_, err = New(NameHTTP, "gopher", 8080)
	assert.Error(t, err)
}

func TestSetAttributes(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	c, err := New(NameMain, "", 8443)
	require.NoError(t, err)
	require.NoError(
		t, c.SetAttributes(
			AttributeMap{
				"maxPostSize":       "1024",
				"allowTrace":        "true",
				"enableLookups":     " TRUE ",
				"asyncTimeout":      "5000",
				"connectionTimeout": "4000",
				"keepAliveTimeout":  "60000",
				"maxHttpHeaderSize": "16384",
				"proxyName":         "cas.example.org",
				"server":            "CAS",
				"xpoweredBy":        "1",
				"maxThreads":        "200",
			},
		),
	)
	assert.Equal(
		t, Attributes{
			MaxPostSize:       1024,
			AllowTrace:        true,
			EnableLookups:     true,
			AsyncTimeout:      5000,
			ConnectionTimeout: 4000,
			KeepAliveTimeout:  60000,
			MaxHTTPHeaderSize: 16384,
			ProxyName:         "cas.example.org",
			Server:            "CAS",
			XPoweredBy:        true,
		}, c.Attributes,
	)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, log.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, []string{"maxThreads"}, hook.LastEntry().Data["attributes"])

	err = c.SetAttributes(AttributeMap{"allowTrace": "maybe"})
	assert.ErrorContains(t, err, "allowTrace")
	err = c.SetAttributes(AttributeMap{"maxPostSize": "2MB"})
	assert.ErrorContains(t, err, "maxPostSize")
}

func TestAttributeNames(t *testing.T) {
	names := AttributeNames()
	assert.Len(t, names, 10)
	assert.Contains(t, names, "maxPostSize")
	assert.Contains(t, names, "xpoweredBy")
}

func TestAttributeMapUnmarshalYAML(t *testing.T) {
	var m AttributeMap
	require.NoError(t, yaml.Unmarshal([]byte("maxPostSize: 1024\nallowTrace: true\nproxyName: cas\nserver:\n"), &m))
	assert.Equal(
		t, AttributeMap{
			"maxPostSize": "1024",
			"allowTrace":  "true",
			"proxyName":   "cas",
			"server":      "",
		}, m,
	)
	assert.Error(t, yaml.Unmarshal([]byte("server: [a, b]\n"), &m))
}

func TestFindAvailableTCPPort(t *testing.T) {
	port, err := FindAvailableTCPPort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	ln, err := net.Listen("tcp", (&Connector{Port: port}).Addr(""))
	require.NoError(t, err)
	_ = ln.Close()
}

func TestNewHTTPServer(t *testing.T) {
	c, err := New(NameHTTP, "", 8080)
	require.NoError(t, err)
	srv := NewHTTPServer(c, "127.0.0.1", http.NotFoundHandler())
	assert.Equal(t, "127.0.0.1:8080", srv.Addr)
	assert.Equal(t, 3*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 20*time.Second, srv.WriteTimeout)
	assert.Equal(t, 150*time.Second, srv.IdleTimeout)
	assert.Equal(t, 8192, srv.MaxHeaderBytes)

	c.UpgradeH2C = true
	c.AsyncTimeout = 0
	srv = NewHTTPServer(c, "", http.NotFoundHandler())
	assert.Equal(t, time.Duration(0), srv.WriteTimeout)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFiberConfig(t *testing.T) {
	c, err := New(NameMain, "", 8443)
	require.NoError(t, err)
	c.MaxPostSize = 0
	c.Server = "CAS"
	conf := FiberConfig(fiber.Config{AppName: "x"}, c)
	assert.Equal(t, "x", conf.AppName)
	assert.Equal(t, 3*time.Second, conf.ReadTimeout)
	assert.Equal(t, 20*time.Second, conf.WriteTimeout)
	assert.Equal(t, 150*time.Second, conf.IdleTimeout)
	assert.Equal(t, 8192, conf.ReadBufferSize)
	assert.Greater(t, conf.BodyLimit, 1<<30)
	assert.Equal(t, "CAS", conf.ServerHeader)

	c.MaxPostSize = 10
	assert.Equal(t, 10, FiberConfig(fiber.Config{}, c).BodyLimit)
}

func newTestApp(r *Registry) *fiber.App {
	app := fiber.New(FiberConfig(fiber.Config{}, r.Main()))
	app.Use(r.Middleware(), r.Enforce())
	app.All(
		"/*", func(c *fiber.Ctx) error {
			info := Info(c)
			return c.SendString(
				strings.Join(
					[]string{info.Connector, info.Scheme, info.BaseURL(), info.RemoteHost}, " ",
				),
			)
		},
	)
	return app
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	var b strings.Builder
	_, err := io.Copy(&b, resp.Body)
	require.NoError(t, err)
	return b.String()
}

func TestRegistry(t *testing.T) {
	main, err := New(NameMain, "", 8443)
	require.NoError(t, err)
	main.Scheme = "https"
	main.Secure = true
	r := NewRegistry(main)
	httpConn, err := New(NameHTTP, "", 8080)
	require.NoError(t, err)
	r.Add(httpConn)
	ajp, err := New(NameAJP, ProtocolAJP13, 8009)
	require.NoError(t, err)
	r.Add(ajp)

	assert.Equal(t, main, r.Main())
	assert.Equal(t, []*Connector{httpConn, ajp}, r.Additional())
	assert.Equal(t, []*Connector{main, httpConn, ajp}, r.All())

	var names []string
	r.Customize(
		func(c *Connector) {
			names = append(names, c.Name)
			c.ProxyPort = 443
		},
	)
	assert.Equal(t, []string{NameMain, NameHTTP, NameAJP}, names)
	assert.Equal(t, 443, ajp.ProxyPort)
	main.ProxyPort = 0

	app := newTestApp(r)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://cas.example.org/login", nil))
	require.NoError(t, err)
	assert.Equal(t, "main https https://cas.example.org:8443 0.0.0.0", body(t, resp))

	rec := httptest.NewRecorder()
	var seen string
	r.Mark(
		NameHTTP, http.HandlerFunc(
			func(_ http.ResponseWriter, req *http.Request) {
				seen = req.Header.Get(HeaderConnector)
			},
		),
	).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	name, token, ok := strings.Cut(seen, ";")
	require.True(t, ok)
	assert.Equal(t, NameHTTP, name)
	assert.Equal(t, r.token, token)

	req := httptest.NewRequest(http.MethodGet, "http://cas.example.org:8080/login", nil)
	req.Header.Set(HeaderConnector, seen)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "http http http://cas.example.org:443 0.0.0.0", body(t, resp))

	req = httptest.NewRequest(http.MethodGet, "http://cas.example.org:8080/login", nil)
	req.Header.Set(HeaderConnector, NameHTTP+";forged")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "main https https://cas.example.org:8080 0.0.0.0", body(t, resp))
}

func TestMiddlewareEnforcesAttributes(t *testing.T) {
	main, err := New(NameMain, "", 8443)
	require.NoError(t, err)
	main.MaxPostSize = 4
	main.XPoweredBy = true
	main.Server = "CAS"
	app := newTestApp(NewRegistry(main))

	resp, err := app.Test(httptest.NewRequest(http.MethodTrace, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderAllow))

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("12345")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("1234")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CAS", resp.Header.Get(fiber.HeaderServer))
	assert.True(t, strings.HasPrefix(resp.Header.Get(fiber.HeaderXPoweredBy), "frontdoor/"))

	main.AllowTrace = true
	resp, err = app.Test(httptest.NewRequest(http.MethodTrace, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEnforceMeasuresRawBody(t *testing.T) {
	main, err := New(NameMain, "", 8443)
	require.NoError(t, err)
	main.MaxPostSize = 256
	app := newTestApp(NewRegistry(main))

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(bytes.Repeat([]byte("a"), 10000))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.Less(t, buf.Len(), 256)

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(fiber.HeaderContentEncoding, "gzip")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAbsoluteURL(t *testing.T) {
	assert.Equal(t, "https://cas.example.org", AbsoluteURL("https", "cas.example.org", 443))
	assert.Equal(t, "https://cas.example.org:8443", AbsoluteURL("https", "cas.example.org", 8443))
	assert.Equal(t, "http://cas.example.org", AbsoluteURL("http", "cas.example.org", 0))
	assert.Equal(t, "https://[2001:db8::1]:8443", AbsoluteURL("https", "2001:db8::1", 8443))
	assert.Equal(t, "http://[::1]", AbsoluteURL("http", "::1", 80))
}

func TestInfoWithoutMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get(
		"/", func(c *fiber.Ctx) error {
			info := Info(c)
			info.SetAttribute("k", "v")
			v, ok := Info(c).Attribute("k")
			assert.True(t, ok)
			assert.Equal(t, "v", v)
			_, ok = info.Attribute("missing")
			assert.False(t, ok)
			return c.SendString(info.BaseURL())
		},
	)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://cas.example.org/", nil))
	require.NoError(t, err)
	assert.Equal(t, "http://cas.example.org", body(t, resp))
}
