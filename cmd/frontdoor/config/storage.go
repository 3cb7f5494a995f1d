package config

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/go-oidfed/frontdoor/storage"
)

type storageConf struct {
	Driver  storage.DriverType `yaml:"driver"`
	DataDir string             `yaml:"data_dir"`
	DSN     string             `yaml:"dsn"`

	storage.DSNConf `yaml:",inline"`

	Debug bool `yaml:"debug"`
}

func (c *storageConf) validate() error {
	if c.Driver == (storage.DriverSQLite) {
		if c.DataDir == "" {
			return errors.New("error in storage conf: data_dir must be specified")
		}
		return nil
	}
	var err error
	if c.DSN == "" {
		c.DSN, err = c.DSNConf.DSN(c.Driver)
	}
	return err
}

var defaultStorageConf = storageConf{
	Driver: storage.DriverSQLite,
	DSNConf: storage.DSNConf{
		User: "frontdoor",
		Host: "localhost",
		DB:   "frontdoor",
	},
	Debug: false,
}

// StorageConfig returns the storage.Config for the passed sections; the
// password hashing parameters come from the admin api section
func StorageConfig(c storageConf, api apiConf) storage.Config {
	return storage.Config{
		Driver:    c.Driver,
		DSN:       c.DSN,
		DataDir:   c.DataDir,
		Debug:     c.Debug,
		UsersHash: api.Admin.Argon2idParams,
	}
}

// LoadStorage opens the storage for the passed Config
func LoadStorage(c *Config) (*storage.Storage, error) {
	s, err := storage.NewStorage(StorageConfig(c.Storage, c.API))
	if err != nil {
		return nil, err
	}
	log.Info("Loaded storage backend")
	return s, nil
}
