package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/go-oidfed/frontdoor"
	"github.com/go-oidfed/frontdoor/api/adminapi"
	"github.com/go-oidfed/frontdoor/cmd/frontdoor/config"
	"github.com/go-oidfed/frontdoor/internal/authcache"
	"github.com/go-oidfed/frontdoor/internal/logger"
	"github.com/go-oidfed/frontdoor/middleware/basicauth"
	"github.com/go-oidfed/frontdoor/storage/model"
)

func main() {
	var configFile string
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}
	config.Load(configFile)
	c := config.Get()
	if err := logger.Init(c.Logging.InternalLogger()); err != nil {
		log.Fatal(err)
	}
	log.Info("Loaded Config")

	store, err := config.LoadStorage(c)
	if err != nil {
		log.Fatal(err)
	}
	users := store.UsersStorage()

	var authenticator basicauth.Authenticator = frontdoor.UsersAuthenticator(users)
	var cache *authcache.Authenticator
	if !c.Caching.Disabled {
		cache, err = initAuthCache(c, authenticator)
		if err != nil {
			log.WithError(err).Fatal("could not init auth cache")
		}
		authenticator = cache
	}

	fd, err := frontdoor.New(
		c.Server.ServerConf, frontdoor.Options{
			AccessLog:     logger.AccessWriter(c.Logging.AccessLogger()),
			AccessLogDir:  c.Logging.Access.Dir,
			Authenticator: authenticator,
		},
	)
	if err != nil {
		log.Fatal(err)
	}

	if c.API.Admin.Enabled {
		if err = mountAdminAPI(fd, c, users, cache); err != nil {
			log.Fatal(err)
		}
		log.WithField("path", c.API.Admin.Path).Info("Added admin API")
	}
	log.Info(fd.Describe().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = fd.Start(ctx)
	if cache != nil {
		_ = cache.Close()
	}
	if cerr := store.Close(); cerr != nil {
		log.WithError(cerr).Warn("could not close storage")
	}
	if err != nil {
		log.Fatal(err)
	}
}

func initAuthCache(c *config.Config, next basicauth.Authenticator) (*authcache.Authenticator, error) {
	conf := c.Caching
	var backend authcache.Backend
	if conf.RedisAddr != "" {
		rb, err := authcache.NewRedisBackend(
			&redis.Options{
				Addr:     conf.RedisAddr,
				Username: conf.Username,
				Password: conf.Password,
				DB:       conf.RedisDB,
			},
		)
		if err != nil {
			return nil, err
		}
		backend = rb
		log.Info("Loaded Redis Cache")
	} else {
		backend = authcache.NewMemoryBackend(conf.MaxSize)
	}
	return authcache.New(next, backend, conf.MaxLifetime.Duration(), []byte(conf.Secret))
}

func mountAdminAPI(
	fd *frontdoor.FrontDoor, c *config.Config, users model.UsersStore, cache *authcache.Authenticator,
) error {
	admin := c.API.Admin
	opts := &adminapi.Options{
		UsersEnabled: admin.UsersEnabled,
		Port:         admin.Port,
		Role:         admin.Role,
	}
	if cache != nil {
		opts.OnUserChange = func(username string) {
			if err := cache.Invalidate(context.Background(), username); err != nil {
				log.WithError(err).WithField("user", username).Warn("could not invalidate cached authentications")
			}
		}
	}
	if admin.Port <= 0 {
		return adminapi.Register(fd.App().Group(admin.Path), admin.Path, users, fd, opts)
	}
	conf := frontdoor.FiberServerConfig
	conf.DisableStartupMessage = true
	app := fiber.New(conf)
	app.Use(recover.New())
	if err := adminapi.Register(app.Group(admin.Path), admin.Path, users, fd, opts); err != nil {
		return err
	}
	fd.Attach("admin", net.JoinHostPort(c.Server.IPListen, strconv.Itoa(admin.Port)), app)
	return nil
}
