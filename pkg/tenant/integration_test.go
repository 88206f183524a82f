//go:build integration

// Integration tests for the tenant router against a real PostgreSQL
// container that serves as both the master and the tenant database.
//
// Run with:
//
//	go test -v -race -tags=integration ./pkg/tenant/...
package tenant_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil"
	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/guid"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/tenant"
)

type TenantIntegrationSuite struct {
	suite.Suite

	ctx    context.Context
	master *postgres.Client
}

func (s *TenantIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	pg := containers.StartPostgres(s.T())
	master, err := postgres.NewClient(s.ctx, postgres.Config{URI: pg.ConnString, MaxConns: 4})
	s.Require().NoError(err)
	s.master = master

	_, err = master.Exec(s.ctx, fixtures.MasterSchemaSQL)
	s.Require().NoError(err)
	_, err = master.Exec(s.ctx,
		`INSERT INTO tenants (subdomain, host, port, username, password, database)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		fixtures.TenantID, pg.Host, pg.Port,
		containers.DefaultPostgresUser, containers.DefaultPostgresPassword, containers.DefaultPostgresDatabase)
	s.Require().NoError(err)
}

func (s *TenantIntegrationSuite) TearDownSuite() {
	if s.master != nil {
		s.master.Close()
	}
}

func TestTenantIntegration(t *testing.T) {
	suite.Run(t, new(TenantIntegrationSuite))
}

func (s *TenantIntegrationSuite) newRouter() *tenant.Router {
	r := tenant.NewRouter(
		tenant.WithConfigSource(tenant.NewPostgresConfigSource(s.master)),
		tenant.WithInitializer(tenant.RequireTables(fixtures.TenantTables...)),
		tenant.WithDialer(tenant.PostgresDialer{ConnectTimeout: tenant.DefaultConnectTimeout}),
	)
	s.T().Cleanup(func() { _ = r.Stop(context.Background()) })
	return r
}

// TestResolve runs in one method because the tenant schema is created part
// way through.
func (s *TenantIntegrationSuite) TestResolve() {
	r := s.newRouter()

	_, err := r.Resolve(s.ctx, "ghost", nil)
	testutil.RequireErrorCode(s.T(), err, sserr.CodeNotFoundTenant)

	_, err = r.Resolve(s.ctx, fixtures.TenantID, nil)
	testutil.RequireErrorCode(s.T(), err, sserr.CodeUnavailableTenant)
	s.Empty(r.Tenants(), "an uninitialized tenant must not be cached")

	_, err = s.master.Exec(s.ctx, fixtures.TenantSchemaSQL)
	s.Require().NoError(err)

	var wg sync.WaitGroup
	conns := make([]tenant.Conn, 8)
	errs := make([]error, 8)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = r.Resolve(s.ctx, fixtures.TenantID, nil)
		}(i)
	}
	wg.Wait()
	for i := range conns {
		s.Require().NoError(errs[i])
		s.Same(conns[0], conns[i])
	}
	s.Equal([]string{fixtures.TenantID}, r.Tenants())
	s.NoError(conns[0].Health(s.ctx))

	gen, err := guid.NewGenerator(conns[0], 6)
	s.Require().NoError(err)
	first, err := gen.Next(s.ctx, "orders")
	s.Require().NoError(err)
	second, err := gen.Next(s.ctx, "orders")
	s.Require().NoError(err)
	s.Equal(int64(100001), first)
	s.Equal(int64(100002), second)
}
