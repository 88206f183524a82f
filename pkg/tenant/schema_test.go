package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

func newMockConn(t *testing.T) (*postgres.Client, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return postgres.NewFromPool(mock, &postgres.Config{Database: "acme", Tenant: "acme"}), mock
}

func existsRows(exists bool) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"exists"}).AddRow(exists)
}

func TestRequireTables_AllPresent(t *testing.T) {
	t.Parallel()
	conn, mock := newMockConn(t)
	mock.ExpectQuery(`to_regclass`).WithArgs("orders").WillReturnRows(existsRows(true))
	mock.ExpectQuery(`to_regclass`).WithArgs("billing.invoices").WillReturnRows(existsRows(true))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS guid_counters`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	err := RequireTables("orders", "billing.invoices").Init(context.Background(), "acme", conn)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireTables_MissingTable(t *testing.T) {
	t.Parallel()
	conn, mock := newMockConn(t)
	mock.ExpectQuery(`to_regclass`).WithArgs("orders").WillReturnRows(existsRows(true))
	mock.ExpectQuery(`to_regclass`).WithArgs("invoices").WillReturnRows(existsRows(false))

	err := RequireTables("orders", "invoices").Init(context.Background(), "acme", conn)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableTenant))
	e, ok := sserr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "invoices", e.Details["table"])
	assert.Equal(t, "acme", e.Details["tenant"])
	assert.NoError(t, mock.ExpectationsWereMet(), "guid_counters must not be created")
}

func TestRequireTables_QueryError(t *testing.T) {
	t.Parallel()
	conn, mock := newMockConn(t)
	mock.ExpectQuery(`to_regclass`).WithArgs("orders").WillReturnError(errors.New("permission denied"))

	err := RequireTables("orders").Init(context.Background(), "acme", conn)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalDatabase))
}

func TestRequireTables_ResolveReportsNotReady(t *testing.T) {
	t.Parallel()
	conn, mock := newMockConn(t)
	mock.ExpectQuery(`to_regclass`).WithArgs("orders").WillReturnRows(existsRows(false))
	closed := false
	r := NewRouter(
		WithDialer(DialFunc(func(context.Context, ConnectionConfig) (Conn, error) {
			return &closeSpy{Conn: conn, closed: &closed}, nil
		})),
		WithInitializer(RequireTables("orders")),
	)

	_, err := r.Resolve(context.Background(), "acme", acmeConfig())
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableTenant))
	assert.Equal(t, "tenantNotReady", sserr.Reason(err))
	assert.True(t, closed)
	assert.Empty(t, r.Tenants())
}

// closeSpy records Close without closing the mock pool.
type closeSpy struct {
	Conn
	closed *bool
}

func (c *closeSpy) Close() { *c.closed = true }
