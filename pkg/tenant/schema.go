package tenant

import (
	"context"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/guid"
)

const tableExistsSQL = `SELECT to_regclass($1) IS NOT NULL`

// RequireTables returns an [Initializer] that fails until every table in
// tables exists in the tenant database, then creates the guid_counters
// table if needed. Table names may be schema-qualified.
//
// A missing table is reported as UNAVAIL_004 "tenant tables not yet
// initialized": tenant migrations run out of band and the request should
// be retried later.
func RequireTables(tables ...string) Initializer {
	return InitFunc(func(ctx context.Context, tenantID string, conn Conn) error {
		for _, table := range tables {
			var exists bool
			if err := conn.QueryRow(ctx, tableExistsSQL, table).Scan(&exists); err != nil {
				return sserr.Wrapf(err, sserr.CodeInternalDatabase, "tenant %s: check table %s", tenantID, table)
			}
			if !exists {
				return sserr.New(sserr.CodeUnavailableTenant, "tenant tables not yet initialized").
					WithDetail("tenant", tenantID).
					WithDetail("table", table)
			}
		}
		if _, err := conn.Exec(ctx, guid.CountersTableSQL); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalDatabase, "tenant %s: create guid_counters", tenantID)
		}
		return nil
	})
}
