package postgres

import "time"

const (
	defaultMaxConns        = 25
	defaultMinConns        = 2
	defaultMaxConnLifetime = 5 * time.Minute
	defaultAppName         = "localresp"
)

// Config configures the pgx pool behind Store. Zero fields take the
// defaults above.
type Config struct {
	// DSN is a postgres:// URL. A key=value string works only with
	// MigrateOnStart off, since migrations need the URL form.
	DSN string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// ApplicationName shows up in pg_stat_activity.
	ApplicationName string

	// MigrateOnStart applies pending migrations before the pool opens.
	MigrateOnStart bool
}

func (c Config) withDefaults() Config {
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MinConns <= 0 {
		c.MinConns = defaultMinConns
	}
	c.MinConns = min(c.MinConns, c.MaxConns)
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = defaultMaxConnLifetime
	}
	if c.ApplicationName == "" {
		c.ApplicationName = defaultAppName
	}
	return c
}
