package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DriverType represents the type of database driver
type DriverType string

const (
	// DriverSQLite is the SQLite driver
	DriverSQLite DriverType = "sqlite"
	// DriverMySQL is the MySQL driver
	DriverMySQL DriverType = "mysql"
	// DriverPostgres is the PostgreSQL driver
	DriverPostgres DriverType = "postgres"
)

// SupportedDrivers lists all DriverType values understood by Connect
var SupportedDrivers = []DriverType{
	DriverSQLite,
	DriverMySQL,
	DriverPostgres,
}

// sqliteFile is the database file created in Config.DataDir
const sqliteFile = "frontdoor.db"

var defaultPorts = map[DriverType]int{
	DriverMySQL:    3306,
	DriverPostgres: 5432,
}

// DSNConf holds the parts of a MySQL or PostgreSQL connection string
type DSNConf struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"db"`
}

// DSN builds the connection string for the passed driver. SQLite has no
// dsn; its database lives in Config.DataDir.
func (c DSNConf) DSN(driver DriverType) (string, error) {
	port := c.Port
	if port == 0 {
		port = defaultPorts[driver]
	}
	switch driver {
	case DriverSQLite:
		return "", errors.Errorf("driver %s does not use dsn", driver)
	case DriverMySQL:
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True",
			c.User, c.Password, c.Host, port, c.DB,
		), nil
	case DriverPostgres:
		return fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%d",
			c.Host, c.User, c.Password, c.DB, port,
		), nil
	default:
		return "", errors.Errorf("unsupported driver '%s'", driver)
	}
}

// Config represents the database configuration
type Config struct {
	Driver DriverType `yaml:"driver"`
	// DSN is the connection string; for SQLite an optional database file
	// that overrides DataDir
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
	// Debug logs every statement
	Debug     bool           `yaml:"debug"`
	UsersHash Argon2idParams `yaml:"users_hash"`
}

// Argon2idParams configures Argon2id hashing parameters
type Argon2idParams struct {
	Time        uint32 `yaml:"time"`
	MemoryKiB   uint32 `yaml:"memory_kib"`
	Parallelism uint8  `yaml:"parallelism"`
	KeyLen      uint32 `yaml:"key_len"`
	SaltLen     uint32 `yaml:"salt_len"`
}

func (cfg Config) dialector() (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if cfg.DataDir == "" {
				return nil, errors.New("sqlite requires a data dir or a dsn")
			}
			dsn = filepath.Join(cfg.DataDir, sqliteFile)
		}
		return sqlite.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, errors.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Connect opens the database described by the passed Config. Statements
// are logged through logrus; slow ones as warnings, all of them if Debug
// is set.
func Connect(cfg Config) (*gorm.DB, error) {
	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}
	level := logger.Warn
	if cfg.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(
		dialector, &gorm.Config{
			Logger: logger.New(
				log.StandardLogger(), logger.Config{
					SlowThreshold:             time.Second,
					LogLevel:                  level,
					IgnoreRecordNotFoundError: true,
				},
			),
		},
	)
	return db, errors.WithStack(err)
}
