package guid

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// ===========================================================================
// Formatting
// ===========================================================================

func TestOffset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		length int
		want   int64
	}{
		{1, 1},
		{2, 10},
		{6, 100000},
		{MaxLength, 100000000000000000},
	}
	for _, tt := range tests {
		got, err := Offset(tt.length)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "length %d", tt.length)
	}

	for _, bad := range []int{0, -1, MaxLength + 1} {
		_, err := Offset(bad)
		assert.True(t, sserr.HasCode(err, sserr.CodeValidation), "length %d", bad)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	id, err := Format(6, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100001), id)

	id, err = Format(6, 899999)
	require.NoError(t, err)
	assert.Equal(t, int64(999999), id)

	_, err = Format(6, 900000)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidation), "seven-digit id must be rejected")

	_, err = Format(6, -1)
	assert.Error(t, err)
}

func TestNextFromMax_ConcurrentInsertsCollide(t *testing.T) {
	t.Parallel()
	// Two writers on an empty table both read max = 0.
	first, err := NextFromMax(6, 0)
	require.NoError(t, err)
	second, err := NextFromMax(6, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(100001), first)
	assert.Equal(t, first, second, "the max+1 derivation hands both writers the same id")
}

// ===========================================================================
// Generator
// ===========================================================================

func newGenerator(t *testing.T, length int) (*Generator, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	g, err := NewGenerator(postgres.NewFromPool(mock, &postgres.Config{Database: "acme"}), length)
	require.NoError(t, err)
	return g, mock
}

func TestGenerator_Next(t *testing.T) {
	t.Parallel()
	g, mock := newGenerator(t, 6)
	mock.ExpectQuery(`INSERT INTO guid_counters`).WithArgs("orders").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO guid_counters`).WithArgs("orders").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(int64(2)))

	first, err := g.Next(context.Background(), "orders")
	require.NoError(t, err)
	second, err := g.Next(context.Background(), "orders")
	require.NoError(t, err)

	assert.Equal(t, int64(100001), first)
	assert.Equal(t, int64(100002), second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerator_ConcurrentNextIsDistinct(t *testing.T) {
	t.Parallel()
	const n = 8
	g, mock := newGenerator(t, 6)
	mock.MatchExpectationsInOrder(false)
	for i := 1; i <= n; i++ {
		mock.ExpectQuery(`INSERT INTO guid_counters`).WithArgs("orders").
			WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(int64(i)))
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := g.Next(context.Background(), "orders")
			assert.NoError(t, err)
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerator_NextErrors(t *testing.T) {
	t.Parallel()
	g, mock := newGenerator(t, 6)
	mock.ExpectQuery(`INSERT INTO guid_counters`).WithArgs("orders").
		WillReturnError(errors.New("relation \"guid_counters\" does not exist"))

	_, err := g.Next(context.Background(), "orders")
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalDatabase))

	_, err = g.Next(context.Background(), "")
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationRequired))
}

func TestGenerator_Sync(t *testing.T) {
	t.Parallel()
	g, mock := newGenerator(t, 6)
	mock.ExpectExec(`GREATEST`).WithArgs("orders", int64(41)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, g.Sync(context.Background(), "orders", 41))
	assert.Error(t, g.Sync(context.Background(), "orders", -1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewGenerator_InvalidLength(t *testing.T) {
	t.Parallel()
	_, err := NewGenerator(nil, 0)
	assert.Error(t, err)
}
