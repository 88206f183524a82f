package tenant

import (
	"log/slog"
	"regexp"
	"time"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// tenantIDPattern is a single lower-case DNS label.
var tenantIDPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidID reports whether id can name a tenant. Tenant ids double as
// subdomains, so they follow DNS label rules.
func ValidID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// ConnectionConfig locates one tenant's database.
type ConnectionConfig struct {
	Subdomain string           `json:"subdomain" yaml:"subdomain"`
	Host      string           `json:"host" yaml:"host"`
	Port      int              `json:"port" yaml:"port"`
	Username  string           `json:"username" yaml:"username"`
	Password  postgres.Secret  `json:"-" yaml:"password"`
	Database  string           `json:"database" yaml:"database"`
	SSLMode   postgres.SSLMode `json:"ssl_mode,omitempty" yaml:"ssl_mode"`
	MaxConns  int32            `json:"max_conns,omitempty" yaml:"max_conns"`
	MinConns  int32            `json:"min_conns,omitempty" yaml:"min_conns"`
}

// Validate fills the default port and checks the required fields.
func (c *ConnectionConfig) Validate() error {
	if !ValidID(c.Subdomain) {
		return sserr.Newf(sserr.CodeValidationFormat, "tenant: invalid subdomain %q", c.Subdomain)
	}
	if c.Host == "" || c.Database == "" || c.Username == "" {
		return sserr.Newf(sserr.CodeValidationRequired, "tenant %s: host, database and username are required", c.Subdomain)
	}
	if c.Port == 0 {
		c.Port = postgres.DefaultPort
	}
	if c.SSLMode != "" && !c.SSLMode.Valid() {
		return sserr.Newf(sserr.CodeValidationFormat, "tenant %s: invalid ssl_mode %q", c.Subdomain, c.SSLMode)
	}
	return nil
}

// PostgresConfig returns the pool configuration for this tenant. The tenant
// id labels the client's spans.
func (c ConnectionConfig) PostgresConfig(connectTimeout time.Duration) postgres.Config {
	return postgres.Config{
		Host:           c.Host,
		Port:           c.Port,
		Database:       c.Database,
		User:           c.Username,
		Password:       c.Password,
		SSLMode:        c.SSLMode,
		MaxConns:       c.MaxConns,
		MinConns:       c.MinConns,
		ConnectTimeout: connectTimeout,
		Tenant:         c.Subdomain,
	}
}

// LogValue implements [slog.LogValuer]. The password is never logged.
func (c ConnectionConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("subdomain", c.Subdomain),
		slog.String("host", c.Host),
		slog.Int("port", c.Port),
		slog.String("database", c.Database),
		slog.String("username", c.Username),
	)
}
