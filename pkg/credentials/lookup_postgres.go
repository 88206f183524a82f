package credentials

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// Querier is satisfied by [*postgres.Client].
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*postgres.Client)(nil)

const selectCredential = `SELECT c.id, c.name, c.token, c.secret, c.active,
       p.id, p.name, p.is_root, COALESCE(p.description, ''), c.updated_at
FROM api_clients c
JOIN api_profiles p ON p.id = c.profile_id`

// PostgresLookup reads credentials from the master database's api_clients
// and api_profiles tables.
type PostgresLookup struct {
	db Querier
}

var _ Lookup = (*PostgresLookup)(nil)

// NewPostgresLookup returns a lookup querying db.
func NewPostgresLookup(db Querier) *PostgresLookup {
	return &PostgresLookup{db: db}
}

// FindByToken returns found=false with a nil error for unknown tokens.
func (l *PostgresLookup) FindByToken(ctx context.Context, token string) (Record, bool, error) {
	rec, err := scanRecord(l.db.QueryRow(ctx, selectCredential+" WHERE c.token = $1", token))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, sserr.Wrap(err, sserr.CodeInternalDatabase, "credentials: find by token")
	}
	return rec, true, nil
}

// List returns every client, ordered by id.
func (l *PostgresLookup) List(ctx context.Context) ([]Record, error) {
	rows, err := l.db.Query(ctx, selectCredential+" ORDER BY c.id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "credentials: scan credential")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "credentials: list credentials")
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.Name, &r.Token, &r.Secret, &r.Active,
		&r.Profile.ID, &r.Profile.Name, &r.Profile.IsPrivileged, &r.Profile.Description,
		&r.LastUpdated)
	return r, err
}
