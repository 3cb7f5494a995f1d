package connector

import (
	"math"
	"net"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// FindAvailableTCPPort returns a currently free TCP port
func FindAvailableTCPPort() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, errors.Wrap(err, "could not find an available tcp port")
	}
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.Errorf("unexpected listener address %s", ln.Addr())
	}
	return addr.Port, nil
}

// NewHTTPServer returns a http.Server for an additional connector that
// serves the passed handler
func NewHTTPServer(c *Connector, ip string, handler http.Handler) *http.Server {
	if c.UpgradeH2C {
		handler = h2c.NewHandler(
			handler, &http2.Server{
				IdleTimeout: millis(c.KeepAliveTimeout),
			},
		)
	}
	return &http.Server{
		Addr:              c.Addr(ip),
		Handler:           handler,
		ReadHeaderTimeout: millis(c.ConnectionTimeout),
		WriteTimeout:      millis(c.AsyncTimeout),
		IdleTimeout:       millis(c.KeepAliveTimeout),
		MaxHeaderBytes:    int(c.MaxHTTPHeaderSize),
	}
}

// FiberConfig returns the passed fiber.Config adapted to the settings of
// the passed (main) connector
func FiberConfig(base fiber.Config, c *Connector) fiber.Config {
	conf := base
	if d := millis(c.ConnectionTimeout); d > 0 {
		conf.ReadTimeout = d
	}
	if d := millis(c.AsyncTimeout); d > 0 {
		conf.WriteTimeout = d
	}
	if d := millis(c.KeepAliveTimeout); d > 0 {
		conf.IdleTimeout = d
	}
	if c.MaxHTTPHeaderSize > 0 {
		conf.ReadBufferSize = int(c.MaxHTTPHeaderSize)
	}
	if c.MaxPostSize > 0 {
		conf.BodyLimit = int(c.MaxPostSize)
	} else {
		conf.BodyLimit = math.MaxInt32
	}
	if c.Server != "" {
		conf.ServerHeader = c.Server
	}
	return conf
}
