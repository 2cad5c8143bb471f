package cache

import "time"

type RedisOption func(*RedisConfig)

// RedisConfig is the connection setup for RedisCache. Every key is stored
// under Prefix + ":".
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	Prefix      string
}

func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) {
		if addr != "" {
			c.Addr = addr
		}
	}
}

func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) { c.Password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

// WithRedisPoolSize caps open connections; values below 1 keep the default.
func WithRedisPoolSize(n int) RedisOption {
	return func(c *RedisConfig) {
		if n > 0 {
			c.PoolSize = n
		}
	}
}

// WithRedisPrefix namespaces keys so several deployments can share one
// Redis database.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		if prefix != "" {
			c.Prefix = prefix
		}
	}
}

type MemoryOption func(*MemoryConfig)

// MemoryConfig bounds the in-process cache. A zero CleanupInterval leaves
// expired entries to be dropped lazily on access.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
	Clock           func() time.Time
}

func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		if size > 0 {
			c.MaxSize = size
		}
	}
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

// WithMemoryClock replaces time.Now for expiry decisions in tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryConfig) { c.Clock = now }
}

type LayeredOption func(*LayeredConfig)

// LayeredConfig sizes the L1 copy kept in front of Redis.
type LayeredConfig struct {
	MemoryMaxSize int
	MemoryTTL     time.Duration
}

func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *LayeredConfig) {
		if size > 0 {
			c.MemoryMaxSize = size
		}
	}
}

// WithLayeredMemoryTTL bounds how stale an L1 read can be.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		if ttl > 0 {
			c.MemoryTTL = ttl
		}
	}
}
