package frontdoor

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-oidfed/frontdoor/connector"
	"github.com/go-oidfed/frontdoor/internal/utils"
)

func newMainConnector(conf ServerConf) (*connector.Connector, error) {
	c, err := connector.New(connector.NameMain, connector.ProtocolHTTP11, conf.Port)
	if err != nil {
		return nil, err
	}
	if conf.TLS.Enabled {
		c.TLS = true
		c.Secure = true
		c.Scheme = "https"
	}
	if err = c.SetAttributes(conf.Attributes); err != nil {
		return nil, err
	}
	return c, nil
}

func configureAJP(r *connector.Registry, conf AJPConf) error {
	if !conf.Enabled || conf.Port <= 0 {
		return nil
	}
	c, err := connector.New(
		connector.NameAJP, utils.FirstNonEmpty(conf.Protocol, connector.ProtocolAJP13), conf.Port,
	)
	if err != nil {
		return errors.Wrap(err, "ajp connector")
	}
	c.Secure = conf.Secure
	c.AllowTrace = conf.AllowTrace
	c.Scheme = utils.FirstNonEmpty(conf.Scheme, "http")
	c.AsyncTimeout = conf.AsyncTimeout.Duration().Milliseconds()
	c.EnableLookups = conf.EnableLookups
	c.MaxPostSize = conf.MaxPostSize
	if conf.ProxyPort > 0 {
		c.ProxyPort = conf.ProxyPort
	}
	if conf.RedirectPort > 0 {
		c.RedirectPort = conf.RedirectPort
	}
	if err = c.SetAttributes(conf.Attributes); err != nil {
		return err
	}
	r.Add(c)
	log.WithField("connector", c.String()).Debug("configured ajp connector")
	return nil
}

func configureHTTP(r *connector.Registry, conf HTTPConf) error {
	if !conf.Enabled {
		return nil
	}
	port := conf.Port
	if port <= 0 {
		var err error
		if port, err = connector.FindAvailableTCPPort(); err != nil {
			return err
		}
		log.WithField("port", port).Info("no port configured for http connector, using an available port")
	}
	c, err := connector.New(connector.NameHTTP, conf.Protocol, port)
	if err != nil {
		return errors.Wrap(err, "http connector")
	}
	c.UpgradeH2C = true
	if err = c.SetAttributes(conf.Attributes); err != nil {
		return err
	}
	r.Add(c)
	log.WithField("connector", c.String()).Debug("configured http connector")
	return nil
}

// configureHTTPProxy customizes all connectors for running behind a proxy
func configureHTTPProxy(r *connector.Registry, conf HTTPProxyConf) error {
	if !conf.Enabled {
		return nil
	}
	var errs []error
	r.Customize(
		func(c *connector.Connector) {
			c.Secure = conf.Secure
			if conf.Scheme != "" {
				c.Scheme = conf.Scheme
			}
			if strings.TrimSpace(conf.Protocol) != "" {
				if err := c.SetProtocol(conf.Protocol); err != nil {
					errs = append(errs, err)
				}
			}
			if conf.RedirectPort > 0 {
				c.RedirectPort = conf.RedirectPort
			}
			if conf.ProxyPort > 0 {
				c.ProxyPort = conf.ProxyPort
			}
			if c != r.Main() {
				c.UpgradeH2C = true
			}
			if err := c.SetAttributes(conf.Attributes); err != nil {
				errs = append(errs, err)
			}
		},
	)
	if len(errs) > 0 {
		return errors.Wrap(errs[0], "http proxy")
	}
	if r.Main().IsAJP() {
		return errors.New("http proxy: the main connector cannot use the AJP protocol")
	}
	return nil
}
