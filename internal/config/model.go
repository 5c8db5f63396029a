// internal/config/model.go
//
// Typed configuration model for the tenancy service.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                           – dotenv values,
//   • `conf/global.yaml`                        – primary static file,
//   • `TENANCY_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client before unmarshalling, so the model never stores
// Vault references, only plain strings.
//
// Validation happens immediately after unmarshal; the binaries fail fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.  Koanf ignores `yaml`
//     tags unless configured otherwise.
//   • Durations are written as Go duration strings ("30m", "5s").
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Two spaces after periods.

package config

import (
	"time"

	"github.com/yanizio/tenancy/internal/database"
	"github.com/yanizio/tenancy/internal/tenant"
)

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr      string        `koanf:"listen_addr"      validate:"required,hostname_port"`
	ForceHTTPS      bool          `koanf:"force_https"`
	TenantHeader    string        `koanf:"tenant_header"    validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

//
// Database section
//

// Pool mirrors database.Options for one class of pool.
type Pool struct {
	MaxOpenConns    int           `koanf:"max_open_conns"    validate:"min=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns"    validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	PingTimeout     time.Duration `koanf:"ping_timeout"`
	Retries         int           `koanf:"retries"           validate:"min=0"`
}

// Options converts p for database.OpenWithOptions.
func (p Pool) Options() database.Options {
	return database.Options{
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
		ConnMaxIdleTime: p.ConnMaxIdleTime,
		PingTimeout:     p.PingTimeout,
		Retries:         p.Retries,
	}
}

// Database describes the shared cluster and the core database on it.
//
// The password normally arrives as `vault:secret/tenancy#db_password` so
// credentials stay out of flat files and git history.
type Database struct {
	Dialect      string           `koanf:"dialect"       validate:"required,dialect"`
	Cluster      database.Cluster `koanf:"cluster"`
	CoreDatabase string           `koanf:"core_database" validate:"required"`
	CorePool     Pool             `koanf:"core_pool"`
	TenantPool   Pool             `koanf:"tenant_pool"`
}

//
// Tenancy section
//

// Tenancy tunes the registry evictor and the provisioner.
type Tenancy struct {
	IdleTTL            time.Duration `koanf:"idle_ttl"`
	MaxEntries         int           `koanf:"max_entries"         validate:"min=-1"`
	EvictInterval      time.Duration `koanf:"evict_interval"`
	MigrateParallelism int           `koanf:"migrate_parallelism" validate:"min=0"`
}

//
// Auth section
//

// Auth configures token signing.
type Auth struct {
	JWTSecret string        `koanf:"jwt_secret" validate:"required,min=32"`
	Issuer    string        `koanf:"issuer"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

//
// Log section
//

// Log configures the process logger.
type Log struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.  The loader
// discovers `Root` (repo root or TENANCY_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // TENANCY_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Tenancy  Tenancy  `koanf:"tenancy"`
	Auth     Auth     `koanf:"auth"`
	Log      Log      `koanf:"log"`
	Paths    Paths    `koanf:"-"` // not loaded from config files
}

// RegistryConfig assembles the connection registry settings.  Tenant pools
// never retry a failed ping; only the core pool honours Retries.
func (c *Config) RegistryConfig(d database.Dialect) tenant.Config {
	tp := c.Database.TenantPool.Options()
	tp.Retries = 0
	return tenant.Config{
		Dialect:       d,
		Cluster:       c.Database.Cluster,
		CoreDatabase:  c.Database.CoreDatabase,
		CorePool:      c.Database.CorePool.Options(),
		TenantPool:    tp,
		IdleTTL:       c.Tenancy.IdleTTL,
		MaxEntries:    c.Tenancy.MaxEntries,
		EvictInterval: c.Tenancy.EvictInterval,
	}
}
