package tenant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// Querier is satisfied by [*postgres.Client].
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*postgres.Client)(nil)

const selectTenant = `SELECT subdomain, host, port, username, password, database
FROM tenants
WHERE subdomain = $1`

// PostgresConfigSource reads tenant connection settings from the master
// database's tenants table.
type PostgresConfigSource struct {
	db Querier
}

var _ ConfigSource = (*PostgresConfigSource)(nil)

// NewPostgresConfigSource returns a source querying db.
func NewPostgresConfigSource(db Querier) *PostgresConfigSource {
	return &PostgresConfigSource{db: db}
}

// TenantConfig returns found=false with a nil error for unknown tenants.
func (s *PostgresConfigSource) TenantConfig(ctx context.Context, tenantID string) (ConnectionConfig, bool, error) {
	var (
		cfg      ConnectionConfig
		password string
	)
	err := s.db.QueryRow(ctx, selectTenant, tenantID).
		Scan(&cfg.Subdomain, &cfg.Host, &cfg.Port, &cfg.Username, &password, &cfg.Database)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConnectionConfig{}, false, nil
	}
	if err != nil {
		return ConnectionConfig{}, false, sserr.Wrap(err, sserr.CodeInternalDatabase, "tenant: read tenant config")
	}
	cfg.Password = postgres.Secret(password)
	return cfg, true, nil
}
