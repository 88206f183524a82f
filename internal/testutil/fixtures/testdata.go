// Package fixtures holds the master database schema and seed data shared by
// the integration tests.
//
// The package imports nothing from pkg/ so that in-package tests anywhere
// in the module can use it without an import cycle.
package fixtures

// Service identity used by lifecycle tests.
const (
	ServiceName    = "gateway"
	ServiceVersion = "1.0.0"
)

// Seeded API clients.
const (
	ClientID     int64 = 42
	ClientName         = "billing-sync"
	ClientToken        = "tok-billing-sync"
	ClientSecret       = "s3cret"
	ProfileID    int64 = 7
	ProfileName        = "integration"

	BlockedClientToken  = "tok-retired"
	BlockedClientSecret = "old-secret"

	AdminClientToken  = "tok-ops-admin"
	AdminClientSecret = "adm1n"
)

// TenantID is the tenant registered in the seeded tenants table. Its
// database is the master database itself.
const TenantID = "acme"

// MasterSchemaSQL creates the tables the gateway reads from the master
// database.
const MasterSchemaSQL = `
CREATE TABLE IF NOT EXISTS api_profiles (
    id          bigint PRIMARY KEY,
    name        text    NOT NULL,
    is_root     boolean NOT NULL DEFAULT false,
    description text
);

CREATE TABLE IF NOT EXISTS api_clients (
    id         bigint PRIMARY KEY,
    name       text        NOT NULL,
    token      text        NOT NULL UNIQUE,
    secret     text        NOT NULL,
    active     boolean     NOT NULL DEFAULT true,
    profile_id bigint      NOT NULL REFERENCES api_profiles (id),
    updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tenants (
    subdomain text    PRIMARY KEY,
    host      text    NOT NULL,
    port      integer NOT NULL DEFAULT 5432,
    username  text    NOT NULL,
    password  text    NOT NULL,
    database  text    NOT NULL
);`

// SeedClientsSQL inserts one active client, one blocked client and one
// privileged client.
const SeedClientsSQL = `
INSERT INTO api_profiles (id, name, is_root, description) VALUES
    (1, 'operations', true, 'gateway operators'),
    (7, 'integration', false, 'partner integrations');

INSERT INTO api_clients (id, name, token, secret, active, profile_id, updated_at) VALUES
    (42, 'billing-sync', 'tok-billing-sync', 's3cret', true, 7, '2026-03-01 12:00:00+00'),
    (43, 'retired-job', 'tok-retired', 'old-secret', false, 7, '2026-03-01 12:00:00+00'),
    (1, 'ops-admin', 'tok-ops-admin', 'adm1n', true, 1, '2026-03-01 12:00:00+00');`

// TenantSchemaSQL creates the tables a tenant database must carry before
// the gateway routes to it.
const TenantSchemaSQL = `
CREATE TABLE IF NOT EXISTS orders (
    id     bigint PRIMARY KEY,
    amount numeric NOT NULL
);`

// TenantTables are the tables checked by tenant initialization.
var TenantTables = []string{"orders"}
