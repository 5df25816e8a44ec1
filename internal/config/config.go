package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vbonduro/buildtrack/internal/progress"
)

const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

type Config struct {
	ListenAddr   string
	Backend      string
	DBPath       string
	PGDSN        string
	RedisAddr    string
	AMQPURL      string
	JWTSecret    string
	LocalUserID  string
	StatusPolicy string
	CatalogPath  string
	FilesPath    string
	LogLevel     string
	LogFormat    string
	LogFile      string
	FlushTimeout time.Duration
}

func Load() *Config {
	return &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		Backend:      getEnv("BACKEND", BackendLocal),
		DBPath:       getEnv("DB_PATH", "/data/buildtrack.db"),
		PGDSN:        getEnv("PG_DSN", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		AMQPURL:      getEnv("AMQP_URL", ""),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		LocalUserID:  getEnv("LOCAL_USER_ID", "local"),
		StatusPolicy: getEnv("STATUS_POLICY", "rollup"),
		CatalogPath:  getEnv("CATALOG_PATH", ""),
		FilesPath:    getEnv("FILES_PATH", "/data/files"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		LogFile:      getEnv("LOG_FILE", ""),
		FlushTimeout: getDuration("FLUSH_TIMEOUT", 10*time.Second),
	}
}

// Validate reports every setting that cannot be used as given.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendLocal:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the local backend"))
		}
	case BackendRemote:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required for the remote backend"))
		}
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required for the remote backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BACKEND %q", c.Backend))
	}
	if _, err := progress.ParsePolicy(c.StatusPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.FilesPath == "" {
		errs = append(errs, errors.New("FILES_PATH is required"))
	}
	return errors.Join(errs...)
}

// Policy returns the parsed status policy. Call Validate first.
func (c *Config) Policy() progress.Policy {
	p, err := progress.ParsePolicy(c.StatusPolicy)
	if err != nil {
		return progress.PolicyDerivedRollup
	}
	return p
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
