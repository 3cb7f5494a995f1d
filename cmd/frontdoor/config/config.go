package config

import (
	"os"
	"path/filepath"
	"reflect"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zachmann/go-utils/fileutils"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of the frontdoor server
type Config struct {
	Server  serverConf  `yaml:"server"`
	Logging loggingConf `yaml:"logging"`
	Storage storageConf `yaml:"storage"`
	Caching cachingConf `yaml:"caching"`
	API     apiConf     `yaml:"api"`
}

type configValidator interface {
	validate() error
}

var conf *Config

var possibleConfigLocations = []string{
	".",
	"/etc/frontdoor",
}

var possibleConfigFiles = []string{
	"frontdoor.yaml",
	"config.yaml",
}

// Get returns the loaded Config
func Get() *Config {
	return conf
}

func defaultConfig() *Config {
	return &Config{
		Server:  defaultServerConf(),
		Logging: defaultLoggingConf,
		Storage: defaultStorageConf,
		Caching: defaultCachingConf,
		API:     defaultAPIConf,
	}
}

// Load loads the config from the passed file or, if empty, from the first
// config file found in the default locations. Errors are fatal.
func Load(filename string) {
	c, err := LoadFile(filename)
	if err != nil {
		log.WithError(err).Fatal("could not load config")
	}
	conf = c
}

// LoadFile reads, parses and validates a config file. If filename is
// empty, the default locations are searched.
func LoadFile(filename string) (*Config, error) {
	path, err := findConfigFile(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}
	c, err := parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config file '%s'", path)
	}
	log.WithField("file", path).Debug("read config file")
	return c, nil
}

func findConfigFile(filename string) (string, error) {
	if filename != "" {
		if !fileutils.FileExists(filename) {
			return "", errors.Errorf("config file '%s' does not exist", filename)
		}
		return filename, nil
	}
	for _, dir := range possibleConfigLocations {
		for _, f := range possibleConfigFiles {
			p := filepath.Join(dir, f)
			if fileutils.FileExists(p) {
				return p, nil
			}
		}
	}
	return "", errors.New("could not find a config file")
}

func parse(data []byte) (*Config, error) {
	c := defaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		fieldVal := v.Field(i)
		if !fieldVal.CanAddr() {
			continue
		}
		if validator, ok := fieldVal.Addr().Interface().(configValidator); ok {
			if err := validator.validate(); err != nil {
				return errors.Errorf(
					"validation failed for config section '%s': %s", t.Field(i).Tag.Get("yaml"), err.Error(),
				)
			}
		}
	}
	return nil
}
