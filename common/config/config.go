package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// GetDSN returns a postgres:// URL for lib/pq. Credentials are escaped, so
// passwords may contain any character.
func (c *DatabaseConfig) GetDSN() string {
	return c.dsn(url.UserPassword(c.User, c.Password))
}

// Redacted is GetDSN without the password, for logs.
func (c *DatabaseConfig) Redacted() string {
	return c.dsn(url.User(c.User))
}

func (c *DatabaseConfig) dsn(user *url.Userinfo) string {
	u := url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}
