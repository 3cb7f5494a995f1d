package config

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/go-oidfed/frontdoor/storage"
)

// apiConf holds API-related configuration
type apiConf struct {
	Admin adminAPIConf `yaml:"admin"`
}

type adminAPIConf struct {
	Enabled      bool `yaml:"enabled"`
	UsersEnabled bool `yaml:"users_enabled"`
	// Port 0 mounts the admin api on the main connector
	Port           int                    `yaml:"port"`
	Path           string                 `yaml:"path"`
	Role           string                 `yaml:"role"`
	Argon2idParams storage.Argon2idParams `yaml:"password_hashing"`
}

var defaultAPIConf = apiConf{
	Admin: adminAPIConf{
		Enabled:      true,
		UsersEnabled: true,
		Port:         0,
		Path:         "/api/v1/admin",
		Role:         "admin",
		Argon2idParams: storage.Argon2idParams{
			Time:        1,
			MemoryKiB:   64 * 1024,
			Parallelism: 4,
			KeyLen:      64,
			SaltLen:     32,
		},
	},
}

func (c *apiConf) validate() error {
	if !c.Admin.Enabled {
		return nil
	}
	if err := checkPort("admin.port", c.Admin.Port, true); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Admin.Path, "/") {
		return errors.Errorf("admin.path must start with '/', got '%s'", c.Admin.Path)
	}
	c.Admin.Path = strings.TrimRight(c.Admin.Path, "/")
	return nil
}
