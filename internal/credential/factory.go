package credential

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Driver names a durable backend.
type Driver string

const (
	DriverFile   Driver = "file"
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
	DriverMemory Driver = "memory"
)

// BackendOption is a functional option for NewBackend.
type BackendOption func(*backendConfig)

type backendConfig struct {
	path        string
	redisClient *redis.Client
	redisAddr   string
	redisPrefix string
	logger      *zap.Logger
}

// WithPath sets the file or database path.
func WithPath(path string) BackendOption {
	return func(c *backendConfig) { c.path = path }
}

// WithRedisClient supplies an existing Redis client.
func WithRedisClient(client *redis.Client) BackendOption {
	return func(c *backendConfig) { c.redisClient = client }
}

// WithRedisAddr makes the redis driver dial addr.
func WithRedisAddr(addr string) BackendOption {
	return func(c *backendConfig) { c.redisAddr = addr }
}

// WithRedisPrefix namespaces the redis key.
func WithRedisPrefix(prefix string) BackendOption {
	return func(c *backendConfig) { c.redisPrefix = prefix }
}

// WithBackendLogger sets the logger used by drivers that log.
func WithBackendLogger(l *zap.Logger) BackendOption {
	return func(c *backendConfig) { c.logger = l }
}

// NewBackend creates a durable backend for driver.
func NewBackend(driver Driver, opts ...BackendOption) (Backend, error) {
	cfg := &backendConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}

	switch driver {
	case DriverMemory:
		return NewMemoryBackend(), nil

	case DriverFile:
		if cfg.path == "" {
			return nil, ErrInvalidConfig
		}
		return NewFileBackend(cfg.path, cfg.logger), nil

	case DriverSQLite:
		if cfg.path == "" {
			return nil, ErrInvalidConfig
		}
		return NewSQLiteBackend(cfg.path)

	case DriverRedis:
		client := cfg.redisClient
		if client == nil {
			if cfg.redisAddr == "" {
				return nil, ErrInvalidConfig
			}
			client = redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		}
		return NewRedisBackend(client, cfg.redisPrefix), nil

	default:
		return nil, ErrInvalidDriver
	}
}
