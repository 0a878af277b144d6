// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	migrate "github.com/rubenv/sql-migrate"
)

// MigrationTable records applied migrations.
const MigrationTable = "chatrelay_migrations"

func init() {
	migrate.SetTable(MigrationTable)
}

// =============================================================================
// DIALECTS
// =============================================================================

// dialect captures the differences between the SQL backends.
type dialect struct {
	// name is the config driver name.
	name string

	// migrateDialect is the sql-migrate dialect key.
	migrateDialect string

	// numbered placeholders ($1, $2) instead of "?".
	numbered bool

	// textType holds message bodies.
	textType string

	// tableSuffix is appended to CREATE TABLE.
	tableSuffix string
}

var (
	sqliteDialect = dialect{
		name:           "sqlite",
		migrateDialect: "sqlite3",
		textType:       "TEXT",
	}
	postgresDialect = dialect{
		name:           "postgres",
		migrateDialect: "postgres",
		numbered:       true,
		textType:       "TEXT",
	}
	mysqlDialect = dialect{
		name:           "mysql",
		migrateDialect: "mysql",
		textType:       "MEDIUMTEXT",
		tableSuffix:    " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
	}
)

// rebind rewrites "?" placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// =============================================================================
// MIGRATIONS
// =============================================================================

// migrations returns the schema history for d. Every statement is its own
// entry so drivers without multi-statement support can run them.
func (d dialect) migrations() *migrate.MemoryMigrationSource {
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "0001_chats",
				Up: []string{
					`CREATE TABLE chats (
						id         VARCHAR(36)  NOT NULL PRIMARY KEY,
						owner_id   VARCHAR(255) NOT NULL,
						title      VARCHAR(255) NOT NULL DEFAULT 'New Chat',
						created_at BIGINT       NOT NULL,
						updated_at BIGINT       NOT NULL
					)` + d.tableSuffix,
					`CREATE INDEX idx_chats_owner_updated ON chats (owner_id, updated_at)`,
				},
				Down: []string{
					`DROP TABLE chats`,
				},
			},
			{
				Id: "0002_messages",
				Up: []string{
					fmt.Sprintf(`CREATE TABLE messages (
						id           VARCHAR(36)  NOT NULL PRIMARY KEY,
						chat_id      VARCHAR(36)  NOT NULL,
						content      %s           NOT NULL,
						role         VARCHAR(16)  NOT NULL,
						generated_by VARCHAR(255) NOT NULL DEFAULT '',
						created_at   BIGINT       NOT NULL,
						FOREIGN KEY (chat_id) REFERENCES chats (id) ON DELETE CASCADE
					)`, d.textType) + d.tableSuffix,
					`CREATE INDEX idx_messages_chat_created ON messages (chat_id, created_at)`,
				},
				Down: []string{
					`DROP TABLE messages`,
				},
			},
		},
	}
}

// migrateUp applies every pending migration and returns how many ran.
func migrateUp(db *sql.DB, d dialect) (int, error) {
	n, err := migrate.Exec(db, d.migrateDialect, d.migrations(), migrate.Up)
	if err != nil {
		return n, fmt.Errorf("storage: migrate %s: %w", d.name, err)
	}
	return n, nil
}

// migrateDown rolls back the most recent max migrations (0 means all).
func migrateDown(db *sql.DB, d dialect, max int) (int, error) {
	n, err := migrate.ExecMax(db, d.migrateDialect, d.migrations(), migrate.Down, max)
	if err != nil {
		return n, fmt.Errorf("storage: rollback %s: %w", d.name, err)
	}
	return n, nil
}

// pendingMigrations lists the ids that have not been applied yet.
func pendingMigrations(db *sql.DB, d dialect) ([]string, error) {
	planned, _, err := migrate.PlanMigration(db, d.migrateDialect, d.migrations(), migrate.Up, 0)
	if err != nil {
		return nil, fmt.Errorf("storage: plan %s: %w", d.name, err)
	}
	ids := make([]string, 0, len(planned))
	for _, m := range planned {
		ids = append(ids, m.Id)
	}
	return ids, nil
}
