// Package frontdoor implements the embedded web container of an identity
// server: connectors, proxy customization and request valves configured from
// a ServerConf.
package frontdoor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/go-oidfed/frontdoor/connector"
	"github.com/go-oidfed/frontdoor/internal/version"
	"github.com/go-oidfed/frontdoor/middleware/basicauth"
	"github.com/go-oidfed/frontdoor/middleware/rewrite"
)

const shutdownTimeout = 10 * time.Second

// FiberServerConfig is the fiber.Config that is used to init the http fiber.App
var FiberServerConfig = fiber.Config{
	ReadTimeout:    3 * time.Second,
	WriteTimeout:   20 * time.Second,
	IdleTimeout:    150 * time.Second,
	ReadBufferSize: 8192,
	// WriteBufferSize: 4096,
	ErrorHandler: handleError,
	Network:      "tcp",
	// url patterns of security constraints are matched case sensitive and
	// without trailing slash folding; routing must do the same
	CaseSensitive: true,
	StrictRouting: true,
}

// Options holds the dependencies of a FrontDoor that do not come from the
// ServerConf
type Options struct {
	// AccessLog receives the plain access log; nil disables it
	AccessLog io.Writer
	// AccessLogDir is the general access log directory, used by the
	// extended access log if it has no own directory
	AccessLogDir string
	// Authenticator verifies credentials for the basic authentication valve
	Authenticator basicauth.Authenticator
}

// FrontDoor is the configured container
type FrontDoor struct {
	conf        ServerConf
	app         *fiber.App
	connectors  *connector.Registry
	valves      []string
	constraints []basicauth.Constraint
	rules       *rewrite.Holder
	rulesFile   string
	attached    []attachedApp
	closers     []io.Closer
	closeOnce   sync.Once
	now         func() time.Time
}

type attachedApp struct {
	name string
	addr string
	app  *fiber.App
}

// New creates a FrontDoor from the passed ServerConf. Connectors are
// customized first, then the valves are installed in this order: extended
// access log, connector limits, rewrite, ssl header, basic authentication.
func New(conf ServerConf, opts Options) (*FrontDoor, error) {
	main, err := newMainConnector(conf)
	if err != nil {
		return nil, err
	}
	registry := connector.NewRegistry(main)
	if err = configureAJP(registry, conf.AJP); err != nil {
		return nil, err
	}
	if err = configureHTTP(registry, conf.HTTP); err != nil {
		return nil, err
	}
	if err = configureHTTPProxy(registry, conf.HTTPProxy); err != nil {
		return nil, err
	}

	fd := &FrontDoor{
		conf:       conf,
		connectors: registry,
		now:        time.Now,
	}
	fd.app = fiber.New(fd.fiberConfig())
	fd.app.Use(recover.New())
	fd.app.Use(requestid.New())
	fd.app.Use(registry.Middleware())
	if opts.AccessLog != nil {
		fd.app.Use(logger.New(logger.Config{Output: opts.AccessLog}))
	}

	fd.configureExtendedAccessLog(conf.ExtAccessLog, opts.AccessLogDir)
	fd.app.Use(registry.Enforce())
	fd.configureRewrite(conf.Rewrite)
	fd.configureSSLValve(conf.SSLValve)
	fd.configureBasicAuthn(conf.BasicAuthn, opts.Authenticator)

	fd.app.Use(compress.New())
	return fd, nil
}

func (fd *FrontDoor) fiberConfig() fiber.Config {
	conf := FiberServerConfig
	if tps := fd.conf.TrustedProxies; len(tps) > 0 {
		conf.TrustedProxies = tps
		conf.EnableTrustedProxyCheck = true
	}
	conf.ProxyHeader = fd.conf.ForwardedIPHeader
	conf.DisableStartupMessage = true
	return connector.FiberConfig(conf, fd.connectors.Main())
}

// App returns the fiber.App serving all connectors; routes registered on it
// pass through all valves
func (fd *FrontDoor) App() *fiber.App {
	return fd.app
}

// Connectors returns the connector registry
func (fd *FrontDoor) Connectors() *connector.Registry {
	return fd.connectors
}

// HttpHandlerFunc returns an http.HandlerFunc for serving all the necessary endpoints
func (fd *FrontDoor) HttpHandlerFunc() http.HandlerFunc {
	return adaptor.FiberApp(fd.app)
}

// Attach registers an additional fiber.App that is served on its own
// address by Start
func (fd *FrontDoor) Attach(name, addr string, app *fiber.App) {
	fd.attached = append(
		fd.attached, attachedApp{
			name: name,
			addr: addr,
			app:  app,
		},
	)
}

// Start starts all connectors and blocks until the passed context is
// cancelled or a connector fails. All servers are shut down before Start
// returns.
func (fd *FrontDoor) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	var shutdowns []func(context.Context) error

	if fd.rulesFile != "" {
		if err := rewrite.Watch(ctx, fd.rulesFile, fd.rules); err != nil {
			log.WithError(err).Error("could not watch rewrite rules")
		}
	}

	main := fd.connectors.Main()
	ln, err := fd.listenMain(main)
	if err != nil {
		return err
	}
	log.WithFields(
		log.Fields{
			"connector": main.String(),
			"tls":       main.TLS,
		},
	).Info("starting main connector")
	g.Go(
		func() error {
			return errors.Wrap(fd.app.Listener(ln), "main connector")
		},
	)
	shutdowns = append(shutdowns, fd.app.ShutdownWithContext)

	if main.TLS && fd.conf.TLS.RedirectHTTP {
		redirect := newRedirectApp()
		addr := net.JoinHostPort(fd.conf.IPListen, "80")
		log.WithField("addr", addr).Info("TLS and http redirect enabled, starting redirect server")
		g.Go(
			func() error {
				return errors.Wrap(redirect.Listen(addr), "redirect server")
			},
		)
		shutdowns = append(shutdowns, redirect.ShutdownWithContext)
	}

	for _, c := range fd.connectors.Additional() {
		if c.IsAJP() {
			log.WithField("connector", c.String()).Error(
				"the AJP protocol is not supported by this container, connector is not started",
			)
			continue
		}
		srv := connector.NewHTTPServer(c, fd.conf.IPListen, fd.connectors.Mark(c.Name, fd.HttpHandlerFunc()))
		log.WithField("connector", c.String()).Info("starting additional connector")
		g.Go(
			func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return errors.Wrapf(err, "connector %s", c.Name)
				}
				return nil
			},
		)
		shutdowns = append(shutdowns, srv.Shutdown)
	}

	for _, a := range fd.attached {
		log.WithFields(
			log.Fields{
				"name": a.name,
				"addr": a.addr,
			},
		).Info("starting server")
		g.Go(
			func() error {
				return errors.Wrapf(a.app.Listen(a.addr), "server %s", a.name)
			},
		)
		shutdowns = append(shutdowns, a.app.ShutdownWithContext)
	}

	g.Go(
		func() error {
			<-ctx.Done()
			log.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			for _, shutdown := range shutdowns {
				if err := shutdown(sctx); err != nil {
					log.WithError(err).Warn("error during shutdown")
				}
			}
			fd.Close()
			return nil
		},
	)
	return g.Wait()
}

// Close flushes and closes the resources held by the valves. It is called
// by Start on shutdown.
func (fd *FrontDoor) Close() {
	fd.closeOnce.Do(
		func() {
			closeAll(fd.closers)
		},
	)
}

func (fd *FrontDoor) listenMain(main *connector.Connector) (net.Listener, error) {
	ln, err := net.Listen(FiberServerConfig.Network, main.Addr(fd.conf.IPListen))
	if err != nil {
		return nil, errors.Wrapf(err, "could not listen on %s", main.Addr(fd.conf.IPListen))
	}
	if !main.TLS {
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(fd.conf.TLS.Cert, fd.conf.TLS.Key)
	if err != nil {
		_ = ln.Close()
		return nil, errors.Wrap(err, "could not load tls certificate")
	}
	return tls.NewListener(
		ln, &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		},
	), nil
}

func newRedirectApp() *fiber.App {
	conf := FiberServerConfig
	conf.DisableStartupMessage = true
	httpServer := fiber.New(conf)
	httpServer.All(
		"*", func(ctx *fiber.Ctx) error {
			//goland:noinspection HttpUrlsUsage
			return ctx.Redirect(
				strings.Replace(ctx.Request().URI().String(), "http://", "https://", 1),
				fiber.StatusPermanentRedirect,
			)
		},
	)
	return httpServer
}

// Description describes the effective container configuration
type Description struct {
	Version      string                 `json:"version"`
	Connectors   []*connector.Connector `json:"connectors"`
	Valves       []string               `json:"valves"`
	Constraints  []basicauth.Constraint `json:"constraints,omitempty"`
	RewriteRules int                    `json:"rewrite_rules,omitempty"`
}

// Describe returns a Description of this FrontDoor
func (fd *FrontDoor) Describe() Description {
	d := Description{
		Version:     version.VERSION,
		Connectors:  fd.connectors.All(),
		Valves:      append([]string{}, fd.valves...),
		Constraints: fd.constraints,
	}
	if fd.rules != nil {
		d.RewriteRules = len(fd.rules.Load().Rules)
	}
	return d
}

func (d Description) String() string {
	names := make([]string, len(d.Connectors))
	for i, c := range d.Connectors {
		names[i] = c.String()
	}
	return fmt.Sprintf(
		"frontdoor %s connectors=[%s] valves=[%s]", d.Version, strings.Join(names, ", "),
		strings.Join(d.Valves, ", "),
	)
}
