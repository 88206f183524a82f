// Package guid generates per-table numeric identifiers of a fixed digit
// length. An identifier is offset + sequence, where offset = 10^(length-1),
// so every id of a table has exactly length digits.
//
// Sequences come from the guid_counters table, incremented atomically by a
// single INSERT ... ON CONFLICT statement. [NextFromMax] keeps the older
// max(id)+1 derivation for callers migrating existing tables; it is not safe
// under concurrent inserts.
package guid

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// MaxLength is the longest id whose full range fits in an int64.
const MaxLength = 18

// CountersTableSQL creates the counter table. Tenant schema initialization
// runs it on first use of every tenant database.
const CountersTableSQL = `CREATE TABLE IF NOT EXISTS guid_counters (
    table_name text PRIMARY KEY,
    value      bigint NOT NULL CHECK (value >= 0)
)`

const nextSQL = `INSERT INTO guid_counters (table_name, value) VALUES ($1, 1)
ON CONFLICT (table_name) DO UPDATE SET value = guid_counters.value + 1
RETURNING value`

const syncSQL = `INSERT INTO guid_counters (table_name, value) VALUES ($1, $2)
ON CONFLICT (table_name) DO UPDATE SET value = GREATEST(guid_counters.value, EXCLUDED.value)`

// Offset returns 10^(length-1).
func Offset(length int) (int64, error) {
	if length < 1 || length > MaxLength {
		return 0, sserr.Newf(sserr.CodeValidation, "guid: length %d outside 1..%d", length, MaxLength)
	}
	offset := int64(1)
	for i := 1; i < length; i++ {
		offset *= 10
	}
	return offset, nil
}

// Format returns offset + seq for a length-digit id. seq must leave the
// result at exactly length digits.
func Format(length int, seq int64) (int64, error) {
	offset, err := Offset(length)
	if err != nil {
		return 0, err
	}
	if seq < 0 || seq >= 9*offset {
		return 0, sserr.Newf(sserr.CodeValidation, "guid: sequence %d exceeds the %d-digit id space", seq, length)
	}
	return offset + seq, nil
}

// NextFromMax derives the next id from the highest sequence value already
// used in a table. Two writers reading the same maximum get the same id;
// use [Generator.Next] for new code.
func NextFromMax(length int, maxSeq int64) (int64, error) {
	return Format(length, maxSeq+1)
}

// Querier is satisfied by *postgres.Client and by tenant connections.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Generator hands out ids from guid_counters.
type Generator struct {
	db     Querier
	length int
}

// NewGenerator returns a generator of length-digit ids over db.
func NewGenerator(db Querier, length int) (*Generator, error) {
	if _, err := Offset(length); err != nil {
		return nil, err
	}
	return &Generator{db: db, length: length}, nil
}

// Next increments table's counter and returns the formatted id. Concurrent
// callers always receive distinct ids.
func (g *Generator) Next(ctx context.Context, table string) (int64, error) {
	if table == "" {
		return 0, sserr.New(sserr.CodeValidationRequired, "guid: table is required")
	}
	var seq int64
	if err := g.db.QueryRow(ctx, nextSQL, table).Scan(&seq); err != nil {
		return 0, sserr.Wrapf(err, sserr.CodeInternalDatabase, "guid: advance counter for %s", table)
	}
	return Format(g.length, seq)
}

// Sync raises table's counter to at least seq, so ids issued before the
// counter existed are never reissued. It never lowers the counter.
func (g *Generator) Sync(ctx context.Context, table string, seq int64) error {
	if table == "" {
		return sserr.New(sserr.CodeValidationRequired, "guid: table is required")
	}
	if seq < 0 {
		return sserr.Newf(sserr.CodeValidation, "guid: negative sequence %d", seq)
	}
	if _, err := g.db.Exec(ctx, syncSQL, table, seq); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalDatabase, "guid: sync counter for %s", table)
	}
	return nil
}
