package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/zachmann/go-utils/duration"
)

// cachingConf configures the cache for successful basic authentications.
// If RedisAddr is set, the cache is shared through redis, otherwise an
// in-process cache is used.
type cachingConf struct {
	RedisAddr   string                  `yaml:"redis_addr"`
	Username    string                  `yaml:"username"`
	Password    string                  `yaml:"password"`
	RedisDB     int                     `yaml:"redis_db"`
	Disabled    bool                    `yaml:"disabled"`
	MaxLifetime duration.DurationOption `yaml:"max_lifetime"`
	MaxSize     int                     `yaml:"max_size"`
	// Secret keys the cache entries; it must be shared by all instances
	// using the same redis
	Secret string `yaml:"secret"`
}

var defaultCachingConf = cachingConf{
	MaxLifetime: duration.DurationOption(time.Minute),
}

func (c *cachingConf) validate() error {
	if c.Disabled {
		return nil
	}
	if c.MaxLifetime.Duration() <= 0 {
		return errors.New("max_lifetime must be positive")
	}
	if c.MaxSize < 0 {
		return errors.New("max_size must not be negative")
	}
	return nil
}
