package frontdoor

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
	"github.com/zachmann/go-utils/fileutils"

	"github.com/go-oidfed/frontdoor/internal/utils"
	"github.com/go-oidfed/frontdoor/middleware/accesslog"
	"github.com/go-oidfed/frontdoor/middleware/basicauth"
	"github.com/go-oidfed/frontdoor/middleware/rewrite"
	"github.com/go-oidfed/frontdoor/middleware/sslheader"
)

// Valve names as reported by Describe
const (
	ValveExtAccessLog = "ext_access_log"
	ValveRewrite      = "rewrite"
	ValveSSL          = "ssl_header"
	ValveBasicAuthn   = "basic_authn"
)

const defaultAccessLogDir = "logs"

func (fd *FrontDoor) use(name string, handler fiber.Handler) {
	fd.app.Use(handler)
	fd.valves = append(fd.valves, name)
}

func (fd *FrontDoor) configureExtendedAccessLog(conf ExtAccessLogConf, accessLogDir string) {
	if !conf.Enabled || strings.TrimSpace(conf.Pattern) == "" {
		return
	}
	pattern, err := accesslog.Compile(conf.Pattern)
	if err != nil {
		log.WithError(err).Error("invalid extended access log pattern, extended access log disabled")
		return
	}
	dir := utils.FirstNonEmpty(conf.Directory, accessLogDir, defaultAccessLogDir)
	writer, err := accesslog.NewRotatingWriter(dir, conf.Prefix, conf.Suffix, accesslog.Header(pattern)...)
	if err != nil {
		log.WithError(err).Error("could not open extended access log, extended access log disabled")
		return
	}
	fd.closers = append(fd.closers, writer)

	var geo accesslog.GeoResolver
	if pattern.UsesGeoIP() {
		if conf.GeoIPDB == "" {
			log.Warn("extended access log pattern uses geoip fields, but no geoip database is configured")
		} else if mm, err := accesslog.OpenMaxMind(conf.GeoIPDB); err != nil {
			log.WithError(err).Error("could not open geoip database")
		} else {
			geo = mm
			fd.closers = append(fd.closers, mm)
		}
	}
	fd.use(
		ValveExtAccessLog, accesslog.New(
			accesslog.Config{
				Pattern:           pattern,
				Output:            writer,
				GeoIP:             geo,
				ContextAttributes: conf.ContextAttributes,
			},
		),
	)
	log.WithFields(
		log.Fields{
			"dir":  dir,
			"file": filepath.Base(writer.FileName(fd.now())),
		},
	).Info("extended access log enabled")
}

func (fd *FrontDoor) configureRewrite(conf RewriteConf) {
	location := strings.TrimSpace(conf.Location)
	if location == "" || !fileutils.FileExists(location) {
		return
	}
	rules, err := rewrite.Load(location)
	if err != nil {
		log.WithError(err).Error("could not load rewrite rules, continuing without rules")
	}
	fd.rules = rewrite.NewHolder(rules)
	if conf.Watch {
		fd.rulesFile = location
	}
	fd.use(ValveRewrite, rewrite.New(rewrite.Config{Rules: fd.rules}))
	log.WithFields(
		log.Fields{
			"file":  location,
			"rules": len(fd.rules.Load().Rules),
		},
	).Info("rewrite valve enabled")
}

func (fd *FrontDoor) configureSSLValve(conf SSLValveConf) {
	if !conf.Enabled {
		return
	}
	fd.use(
		ValveSSL, sslheader.New(
			sslheader.Config{
				ClientCertHeader: conf.SSLClientCertHeader,
				CipherHeader:     conf.SSLCipherHeader,
				SessionIDHeader:  conf.SSLSessionIDHeader,
				KeySizeHeader:    conf.SSLCipherUserKeySizeHeader,
				TrustedOnly:      conf.TrustedOnly,
			},
		),
	)
}

func (fd *FrontDoor) configureBasicAuthn(conf BasicAuthnConf, authenticator basicauth.Authenticator) {
	if !conf.Enabled {
		return
	}
	if authenticator == nil {
		log.Error("basic authentication is enabled, but no authenticator is available; protected resources are denied")
		authenticator = basicauth.AuthenticatorFunc(denyAll)
	}
	fd.constraints = basicauth.NewConstraints(conf.AuthRoles, conf.Patterns, conf.RequireSecure)
	fd.use(
		ValveBasicAuthn, basicauth.New(
			basicauth.Config{
				Realm:         conf.Realm,
				SecurityRoles: conf.SecurityRoles,
				Constraints:   fd.constraints,
				Authenticator: authenticator,
			},
		),
	)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("error while closing")
		}
	}
}
