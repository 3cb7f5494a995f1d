package frontdoor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zachmann/go-utils/duration"

	"github.com/go-oidfed/frontdoor/connector"
	"github.com/go-oidfed/frontdoor/middleware/basicauth"
	"github.com/go-oidfed/frontdoor/storage/model"
)

type fakeUsers struct {
	users map[string]model.User
	pass  map[string]string
}

func (f fakeUsers) Count() (int64, error) { return int64(len(f.users)), nil }
func (f fakeUsers) List() ([]model.User, error) {
	var out []model.User
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}
func (f fakeUsers) Get(username string) (*model.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, model.NotFoundErrorFmt("user not found: %s", username)
	}
	return &u, nil
}
func (fakeUsers) Create(string, string, string, []string) (*model.User, error) {
	return nil, model.AlreadyExistsError("read only")
}
func (fakeUsers) Update(string, *string, *string, *bool) (*model.User, error) {
	return nil, model.NotFoundError("read only")
}
func (fakeUsers) SetRoles(string, []string) (*model.User, error) {
	return nil, model.NotFoundError("read only")
}
func (fakeUsers) Delete(string) error { return model.NotFoundError("read only") }
func (f fakeUsers) Authenticate(username, password string) (*model.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, model.NotFoundErrorFmt("user not found: %s", username)
	}
	if f.pass[username] != password {
		return nil, model.AuthenticationError("invalid credentials")
	}
	return &u, nil
}

var testUsers = fakeUsers{
	users: map[string]model.User{
		"casadmin": {Username: "casadmin", Roles: []string{"admin"}},
		"casuser":  {Username: "casuser", Roles: []string{"user"}},
	},
	pass: map[string]string{
		"casadmin": "Mellon",
		"casuser":  "Mellon",
	},
}

func testConf() ServerConf {
	return ServerConf{
		Port: 8443,
	}
}

type infoResponse struct {
	Connector  string `json:"connector"`
	Scheme     string `json:"scheme"`
	Secure     bool   `json:"secure"`
	ServerName string `json:"server_name"`
	ServerPort int    `json:"server_port"`
	RemoteUser string `json:"remote_user"`
}

func newTestFrontDoor(t *testing.T, conf ServerConf, opts Options) *FrontDoor {
	t.Helper()
	fd, err := New(conf, opts)
	require.NoError(t, err)
	t.Cleanup(fd.Close)
	fd.App().All(
		"/*", func(c *fiber.Ctx) error {
			info := connector.Info(c)
			return c.JSON(
				infoResponse{
					Connector:  info.Connector,
					Scheme:     info.Scheme,
					Secure:     info.Secure,
					ServerName: info.ServerName,
					ServerPort: info.ServerPort,
					RemoteUser: info.RemoteUser,
				},
			)
		},
	)
	return fd
}

func doInfo(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, infoResponse) {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	var info infoResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	}
	return resp, info
}

func TestNewDefaults(t *testing.T) {
	fd := newTestFrontDoor(t, testConf(), Options{})
	d := fd.Describe()
	require.Len(t, d.Connectors, 1)
	assert.Equal(t, connector.NameMain, d.Connectors[0].Name)
	assert.Equal(t, "http", d.Connectors[0].Scheme)
	assert.Empty(t, d.Valves)

	resp, info := doInfo(t, fd.App(), httptest.NewRequest(http.MethodGet, "http://cas.example.org/login", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, connector.NameMain, info.Connector)
	assert.Equal(t, "http", info.Scheme)
	assert.Equal(t, "cas.example.org", info.ServerName)
	assert.Equal(t, 8443, info.ServerPort)
}

func TestConfigureAJP(t *testing.T) {
	conf := testConf()
	conf.AJP = AJPConf{
		Enabled:       true,
		Port:          8009,
		Protocol:      "AJP/1.3",
		Secure:        true,
		AllowTrace:    true,
		AsyncTimeout:  duration.DurationOption(5 * time.Second),
		EnableLookups: true,
		MaxPostSize:   20971520,
		ProxyPort:     -1,
		RedirectPort:  8443,
		Attributes:    connector.AttributeMap{"connectionTimeout": "4000"},
	}
	fd := newTestFrontDoor(t, conf, Options{})
	all := fd.Connectors().All()
	require.Len(t, all, 2)
	ajp := all[1]
	assert.True(t, ajp.IsAJP())
	assert.Equal(t, 8009, ajp.Port)
	assert.Equal(t, "http", ajp.Scheme)
	assert.True(t, ajp.Secure)
	assert.True(t, ajp.AllowTrace)
	assert.True(t, ajp.EnableLookups)
	assert.EqualValues(t, 5000, ajp.AsyncTimeout)
	assert.EqualValues(t, 20971520, ajp.MaxPostSize)
	assert.Equal(t, 0, ajp.ProxyPort)
	assert.Equal(t, 8443, ajp.RedirectPort)
	assert.EqualValues(t, 4000, ajp.ConnectionTimeout)

	conf.AJP.Port = 0
	fd = newTestFrontDoor(t, conf, Options{})
	assert.Len(t, fd.Connectors().All(), 1)
}

func TestConfigureHTTP(t *testing.T) {
	conf := testConf()
	conf.HTTP = HTTPConf{
		Enabled:    true,
		Protocol:   "org.apache.coyote.http11.Http11NioProtocol",
		Attributes: connector.AttributeMap{"allowTrace": "true"},
	}
	fd := newTestFrontDoor(t, conf, Options{})
	additional := fd.Connectors().Additional()
	require.Len(t, additional, 1)
	assert.Equal(t, connector.ProtocolHTTP11, additional[0].Protocol)
	assert.Greater(t, additional[0].Port, 0)
	assert.True(t, additional[0].UpgradeH2C)
	assert.True(t, additional[0].AllowTrace)

	conf.HTTP.Protocol = "SPDY"
	_, err := New(conf, Options{})
	assert.Error(t, err)

	conf.HTTP.Protocol = ""
	conf.HTTP.Attributes = connector.AttributeMap{"maxPostSize": "lots"}
	_, err = New(conf, Options{})
	assert.Error(t, err)
}

func TestConfigureHTTPProxy(t *testing.T) {
	conf := testConf()
	conf.HTTP = HTTPConf{
		Enabled: true,
		Port:    8080,
	}
	conf.HTTPProxy = HTTPProxyConf{
		Enabled:      true,
		Secure:       true,
		Scheme:       "https",
		ProxyPort:    443,
		RedirectPort: 443,
		Attributes:   connector.AttributeMap{"proxyName": "cas.example.org"},
	}
	fd := newTestFrontDoor(t, conf, Options{})
	for _, c := range fd.Connectors().All() {
		assert.True(t, c.Secure, c.Name)
		assert.Equal(t, "https", c.Scheme, c.Name)
		assert.Equal(t, 443, c.ProxyPort, c.Name)
		assert.Equal(t, 443, c.RedirectPort, c.Name)
		assert.Equal(t, "cas.example.org", c.ProxyName, c.Name)
	}
	assert.False(t, fd.Connectors().Main().UpgradeH2C)
	assert.True(t, fd.Connectors().Additional()[0].UpgradeH2C)

	_, info := doInfo(t, fd.App(), httptest.NewRequest(http.MethodGet, "http://10.0.0.5:8443/login", nil))
	assert.Equal(t, "https", info.Scheme)
	assert.True(t, info.Secure)
	assert.Equal(t, "cas.example.org", info.ServerName)
	assert.Equal(t, 443, info.ServerPort)

	conf.HTTPProxy.Protocol = "AJP/1.3"
	_, err := New(conf, Options{})
	assert.Error(t, err)
}

func TestConnectorMarker(t *testing.T) {
	conf := testConf()
	conf.HTTP = HTTPConf{
		Enabled: true,
		Port:    8080,
	}
	fd := newTestFrontDoor(t, conf, Options{})

	rec := httptest.NewRecorder()
	fd.Connectors().Mark(connector.NameHTTP, fd.HttpHandlerFunc()).ServeHTTP(
		rec, httptest.NewRequest(http.MethodGet, "http://cas.example.org:8080/x", nil),
	)
	var info infoResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, connector.NameHTTP, info.Connector)
	assert.Equal(t, 8080, info.ServerPort)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(connector.HeaderConnector, connector.NameHTTP+";guessed")
	_, info = doInfo(t, fd.App(), req)
	assert.Equal(t, connector.NameMain, info.Connector)
}

func TestMainConnectorAttributes(t *testing.T) {
	conf := testConf()
	conf.Attributes = connector.AttributeMap{
		"maxPostSize": "16",
		"server":      "CAS",
		"xpoweredBy":  "true",
	}
	fd := newTestFrontDoor(t, conf, Options{})

	resp, err := fd.App().Test(httptest.NewRequest(http.MethodTrace, "/x", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = fd.App().Test(httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(strings.Repeat("a", 17))))
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err = fd.App().Test(httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("small")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CAS", resp.Header.Get(fiber.HeaderServer))
	assert.True(t, strings.HasPrefix(resp.Header.Get(fiber.HeaderXPoweredBy), "frontdoor/"))
}

func TestExtendedAccessLog(t *testing.T) {
	dir := t.TempDir()
	conf := testConf()
	conf.ExtAccessLog = ExtAccessLogConf{
		Enabled: true,
		Pattern: "cs-method cs-uri sc-status x-threadname x-A(node)",
		Prefix:  "localhost_access_extended",
		Suffix:  ".log",
		ContextAttributes: map[string]string{
			"node": "cas-1",
		},
	}
	var plain bytes.Buffer
	fd := newTestFrontDoor(t, conf, Options{AccessLogDir: dir, AccessLog: &plain})
	assert.Equal(t, []string{ValveExtAccessLog}, fd.Describe().Valves)

	_, err := fd.App().Test(httptest.NewRequest(http.MethodGet, "/login?service=a", nil))
	require.NoError(t, err)
	resp, err := fd.App().Test(httptest.NewRequest(http.MethodTrace, "/login", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	fd.Close()

	name := filepath.Join(dir, "localhost_access_extended"+time.Now().Format(".2006-01-02")+".log")
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "#Fields: cs-method cs-uri sc-status x-threadname x-A(node)", lines[0])
	assert.Equal(t, `GET /login?service=a 200 main "cas-1"`, lines[3])
	assert.Equal(t, `TRACE /login 405 main "cas-1"`, lines[4])
	assert.Contains(t, plain.String(), "/login")
	assert.Contains(t, plain.String(), "405")
}

func TestExtendedAccessLogInvalidPattern(t *testing.T) {
	conf := testConf()
	conf.ExtAccessLog = ExtAccessLogConf{
		Enabled:   true,
		Pattern:   "c-ip s-unknown",
		Directory: t.TempDir(),
	}
	fd := newTestFrontDoor(t, conf, Options{})
	assert.Empty(t, fd.Describe().Valves)
}

func TestRewrite(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "rewrite.config")
	require.NoError(t, os.WriteFile(rules, []byte("RewriteRule ^/legacy/(.*)$ /cas/$1 [R=301,L]\n"), 0o600))
	conf := testConf()
	conf.Rewrite = RewriteConf{Location: rules}
	fd := newTestFrontDoor(t, conf, Options{})
	assert.Equal(t, []string{ValveRewrite}, fd.Describe().Valves)
	assert.Equal(t, 1, fd.Describe().RewriteRules)

	resp, err := fd.App().Test(httptest.NewRequest(http.MethodGet, "http://cas.example.org/legacy/login", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "http://cas.example.org:8443/cas/login", resp.Header.Get(fiber.HeaderLocation))
}

func TestRewriteInvalidRulesAreDiscarded(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "rewrite.config")
	require.NoError(t, os.WriteFile(rules, []byte("RewriteMap x txt:/tmp/x\n"), 0o600))
	conf := testConf()
	conf.Rewrite = RewriteConf{Location: rules}
	fd := newTestFrontDoor(t, conf, Options{})
	assert.Equal(t, []string{ValveRewrite}, fd.Describe().Valves)
	assert.Equal(t, 0, fd.Describe().RewriteRules)

	conf.Rewrite = RewriteConf{Location: filepath.Join(t.TempDir(), "missing.config")}
	fd = newTestFrontDoor(t, conf, Options{})
	assert.Empty(t, fd.Describe().Valves)
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestBasicAuthn(t *testing.T) {
	conf := testConf()
	conf.BasicAuthn = BasicAuthnConf{
		Enabled:       true,
		SecurityRoles: []string{"admin"},
		AuthRoles:     []string{"admin"},
		Patterns:      []string{"/status/*"},
	}
	conf.SSLValve = SSLValveConf{Enabled: true}
	fd := newTestFrontDoor(t, conf, Options{Authenticator: UsersAuthenticator(testUsers)})
	assert.Equal(t, []string{ValveSSL, ValveBasicAuthn}, fd.Describe().Valves)
	require.Len(t, fd.Describe().Constraints, 1)

	resp, _ := doInfo(t, fd.App(), httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doInfo(t, fd.App(), httptest.NewRequest(http.MethodGet, "/status/health", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(
		t, `Basic realm="Authentication required", charset="UTF-8"`, resp.Header.Get(fiber.HeaderWWWAuthenticate),
	)

	for _, test := range []struct {
		user   string
		pass   string
		status int
	}{
		{user: "casadmin", pass: "Mellon", status: http.StatusOK},
		{user: "casadmin", pass: "wrong", status: http.StatusUnauthorized},
		{user: "nobody", pass: "Mellon", status: http.StatusUnauthorized},
		{user: "casuser", pass: "Mellon", status: http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodGet, "/status/health", nil)
		req.Header.Set(fiber.HeaderAuthorization, basicAuth(test.user, test.pass))
		resp, info := doInfo(t, fd.App(), req)
		assert.Equal(t, test.status, resp.StatusCode, test.user+":"+test.pass)
		if test.status == http.StatusOK {
			assert.Equal(t, test.user, info.RemoteUser)
		}
	}
}

func TestBasicAuthnPathVariants(t *testing.T) {
	conf := testConf()
	conf.BasicAuthn = BasicAuthnConf{
		Enabled:   true,
		AuthRoles: []string{"admin"},
		Patterns:  []string{"/status/*", "/secret"},
	}
	fd, err := New(conf, Options{Authenticator: UsersAuthenticator(testUsers)})
	require.NoError(t, err)
	t.Cleanup(fd.Close)
	ok := func(c *fiber.Ctx) error {
		return c.SendString("ok")
	}
	fd.App().Get("/status/health", ok)
	fd.App().Get("/secret", ok)
	fd.App().Get("/files/*", ok)

	for _, test := range []struct {
		path   string
		status int
	}{
		{path: "/status/health", status: http.StatusUnauthorized},
		{path: "/STATUS/health", status: http.StatusNotFound},
		{path: "/Status/Health", status: http.StatusNotFound},
		{path: "/secret", status: http.StatusUnauthorized},
		{path: "/secret/", status: http.StatusNotFound},
		{path: "/SECRET", status: http.StatusNotFound},
		{path: "/files/../secret", status: http.StatusUnauthorized},
		{path: "/s%65cret", status: http.StatusUnauthorized},
		{path: "/files/readme", status: http.StatusOK},
	} {
		resp, err := fd.App().Test(httptest.NewRequest(http.MethodGet, test.path, nil))
		require.NoError(t, err)
		assert.Equal(t, test.status, resp.StatusCode, test.path)
	}

	req := httptest.NewRequest(http.MethodGet, "/secret", nil)
	req.Header.Set(fiber.HeaderAuthorization, basicAuth("casadmin", "Mellon"))
	resp, err := fd.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBasicAuthnWithoutAuthenticatorDenies(t *testing.T) {
	conf := testConf()
	conf.BasicAuthn = BasicAuthnConf{
		Enabled:   true,
		AuthRoles: []string{"admin"},
		Patterns:  []string{"/*"},
	}
	fd := newTestFrontDoor(t, conf, Options{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderAuthorization, basicAuth("casadmin", "Mellon"))
	resp, _ := doInfo(t, fd.App(), req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUsersAuthenticator(t *testing.T) {
	a := UsersAuthenticator(testUsers)
	p, err := a.Authenticate(context.Background(), "casadmin", "Mellon")
	require.NoError(t, err)
	assert.Equal(t, &basicauth.Principal{Username: "casadmin", Roles: []string{"admin"}}, p)
	_, err = a.Authenticate(context.Background(), "casadmin", "x")
	assert.ErrorIs(t, err, basicauth.ErrInvalidCredentials)
	_, err = a.Authenticate(context.Background(), "x", "x")
	assert.ErrorIs(t, err, basicauth.ErrInvalidCredentials)
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: handleError})
	app.Get(
		"/boom", func(*fiber.Ctx) error {
			return fmt.Errorf("boom")
		},
	)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"server_error","error_description":"boom"}`, string(body))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"error":"not_found"`)
}

func TestStart(t *testing.T) {
	mainPort, err := connector.FindAvailableTCPPort()
	require.NoError(t, err)
	httpPort, err := connector.FindAvailableTCPPort()
	require.NoError(t, err)
	conf := ServerConf{
		IPListen: "127.0.0.1",
		Port:     mainPort,
		HTTP: HTTPConf{
			Enabled: true,
			Port:    httpPort,
		},
		AJP: AJPConf{
			Enabled: true,
			Port:    8009,
		},
	}
	fd := newTestFrontDoor(t, conf, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- fd.Start(ctx)
	}()

	get := func(port int) (infoResponse, bool) {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/x", port))
		if err != nil {
			return infoResponse{}, false
		}
		defer resp.Body.Close()
		var info infoResponse
		return info, json.NewDecoder(resp.Body).Decode(&info) == nil
	}
	var mainInfo, httpInfo infoResponse
	assert.Eventually(
		t, func() bool {
			var ok1, ok2 bool
			mainInfo, ok1 = get(mainPort)
			httpInfo, ok2 = get(httpPort)
			return ok1 && ok2
		}, 5*time.Second, 50*time.Millisecond,
	)
	assert.Equal(t, connector.NameMain, mainInfo.Connector)
	assert.Equal(t, connector.NameHTTP, httpInfo.Connector)

	cancel()
	select {
	case err = <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}
