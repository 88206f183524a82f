//go:build integration

// Integration tests for the credential cache against real PostgreSQL,
// Redis and MinIO containers.
//
// Run with:
//
//	go test -v -race -tags=integration ./pkg/credentials/...
package credentials_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/credentials"
)

// CredentialsIntegrationSuite shares one container of each kind across
// tests. Tests isolate themselves by Redis key and object name.
type CredentialsIntegrationSuite struct {
	suite.Suite

	ctx    context.Context
	master *postgres.Client
	redis  *redis.Client
	minio  *minio.Client
}

func (s *CredentialsIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	t := s.T()

	pg := containers.StartPostgres(t)
	master, err := postgres.NewClient(s.ctx, postgres.Config{URI: pg.ConnString, MaxConns: 4})
	s.Require().NoError(err)
	s.master = master
	_, err = master.Exec(s.ctx, fixtures.MasterSchemaSQL)
	s.Require().NoError(err)
	_, err = master.Exec(s.ctx, fixtures.SeedClientsSQL)
	s.Require().NoError(err)

	rds := containers.StartRedis(t)
	s.redis, err = redis.NewClient(s.ctx, redis.Config{URI: rds.ConnString})
	s.Require().NoError(err)

	mc := containers.StartMinIO(t)
	s.minio, err = minio.NewClient(s.ctx, minio.Config{
		Endpoint:  mc.Endpoint,
		AccessKey: mc.AccessKey,
		SecretKey: minio.Secret(mc.SecretKey),
		Bucket:    "gateway-it",
	})
	s.Require().NoError(err)
	s.Require().NoError(s.minio.EnsureBucket(s.ctx))
}

func (s *CredentialsIntegrationSuite) TearDownSuite() {
	if s.master != nil {
		s.master.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func TestCredentialsIntegration(t *testing.T) {
	suite.Run(t, new(CredentialsIntegrationSuite))
}

// ===========================================================================
// Lookup
// ===========================================================================

func (s *CredentialsIntegrationSuite) TestPostgresLookup_FindByToken() {
	lookup := credentials.NewPostgresLookup(s.master)

	rec, found, err := lookup.FindByToken(s.ctx, fixtures.ClientToken)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(fixtures.ClientID, rec.ID)
	s.Equal(fixtures.ClientName, rec.Name)
	s.Equal(fixtures.ClientSecret, rec.Secret)
	s.Equal(fixtures.ProfileName, rec.Profile.Name)
	s.True(rec.LastUpdated.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	_, found, err = lookup.FindByToken(s.ctx, "tok-nobody")
	s.NoError(err)
	s.False(found)
}

func (s *CredentialsIntegrationSuite) TestPostgresLookup_List() {
	recs, err := credentials.NewPostgresLookup(s.master).List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(recs, 3)
	s.Equal(int64(1), recs[0].ID)
	s.True(recs[0].Profile.IsPrivileged)
}

// ===========================================================================
// Durable stores
// ===========================================================================

func (s *CredentialsIntegrationSuite) TestRedisStore_SurvivesRestart() {
	store := credentials.NewRedisStore(s.redis, "it:credentials:restart")
	s.assertSurvivesRestart(store)
}

func (s *CredentialsIntegrationSuite) TestObjectStore_SurvivesRestart() {
	store := credentials.NewObjectStore(s.minio, "it/credentials.json")
	s.assertSurvivesRestart(store)
}

// assertSurvivesRestart fills a cache from the master database, stops it,
// and checks that a fresh cache without a lookup serves the same records.
func (s *CredentialsIntegrationSuite) assertSurvivesRestart(store credentials.Store) {
	first := credentials.NewCache(
		credentials.WithStore(store),
		credentials.WithLookup(credentials.NewPostgresLookup(s.master)),
	)
	s.Require().NoError(first.Start(s.ctx))
	n, err := first.RefreshAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)
	updated, err := first.UpdateStatus(s.ctx, fixtures.ClientToken, false)
	s.Require().NoError(err)
	s.True(updated)
	s.Require().NoError(first.Stop(s.ctx))

	second := credentials.NewCache(credentials.WithStore(store))
	s.Require().NoError(second.Start(s.ctx))
	defer func() { _ = second.Stop(s.ctx) }()

	s.Equal(3, second.Len())
	rec, found, err := second.Get(s.ctx, fixtures.ClientToken)
	s.Require().NoError(err)
	s.Require().True(found)
	s.False(rec.Active)
	s.Equal(fixtures.ClientSecret, rec.Secret)
}
