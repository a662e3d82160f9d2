package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// RequiredTables are the tables cmd/subcaptiond expects to find before
// it will serve traffic or accept work — the four core relations of
// Migrations' embedded schema; blocked_ips, payments and referrals are
// not checked.
var RequiredTables = []string{"tenants", "usage_ledger", "reservations", "jobs"}

// SchemaReady reports whether every RequiredTables entry exists in the
// connected database's public schema. subcaption never applies
// Migrations itself — operators run it ahead of deploy with any SQL
// runner pointed at the embedded files — so this is a read-only check,
// not a migration runner.
func SchemaReady(ctx context.Context, db *sql.DB) (bool, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = ANY($1)
	`, pq.Array(RequiredTables))
	if err != nil {
		return false, fmt.Errorf("database: schema check: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(RequiredTables))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, fmt.Errorf("database: schema check scan: %w", err)
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("database: schema check: %w", err)
	}

	for _, table := range RequiredTables {
		if !found[table] {
			return false, nil
		}
	}
	return true, nil
}
