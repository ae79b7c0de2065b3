package storage

import (
	"context"
	"fmt"
	"strings"
)

// Timestamps are unix milliseconds and payloads JSON text so both dialects
// share every query.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		host_name             VARCHAR(64)  NOT NULL,
		host_id               VARCHAR(128) NOT NULL,
		description           TEXT         NOT NULL,
		item_category         VARCHAR(32)  NOT NULL,
		preferred_environment VARCHAR(32)  NOT NULL,
		packaging             VARCHAR(32)  NOT NULL,
		callback_url          TEXT         NOT NULL,
		location              VARCHAR(128) NOT NULL,
		quantity              INT          NOT NULL DEFAULT 0,
		version               BIGINT       NOT NULL DEFAULT 0,
		created_at            BIGINT       NOT NULL,
		updated_at            BIGINT       NOT NULL,
		PRIMARY KEY (host_name, host_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		host_name      VARCHAR(64)  NOT NULL,
		host_order_id  VARCHAR(128) NOT NULL,
		status         VARCHAR(32)  NOT NULL,
		order_type     VARCHAR(32)  NOT NULL,
		contact_person VARCHAR(255) NOT NULL,
		contact_email  VARCHAR(255) NOT NULL,
		receiver       TEXT         NOT NULL,
		note           TEXT         NOT NULL,
		callback_url   TEXT         NOT NULL,
		version        BIGINT       NOT NULL DEFAULT 0,
		created_at     BIGINT       NOT NULL,
		updated_at     BIGINT       NOT NULL,
		PRIMARY KEY (host_name, host_order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		host_name     VARCHAR(64)  NOT NULL,
		host_order_id VARCHAR(128) NOT NULL,
		host_id       VARCHAR(128) NOT NULL,
		status        VARCHAR(32)  NOT NULL,
		position      INT          NOT NULL,
		PRIMARY KEY (host_name, host_order_id, host_id)
	)`,
	mysqlEventTable(storageEventsTable),
	mysqlEventTable(catalogEventsTable),
}

func mysqlEventTable(name string) string {
	return `CREATE TABLE IF NOT EXISTS ` + name + ` (
		seq          BIGINT       NOT NULL AUTO_INCREMENT,
		id           VARCHAR(36)  NOT NULL,
		event_type   VARCHAR(64)  NOT NULL,
		entity_key   VARCHAR(255) NOT NULL,
		payload      LONGTEXT     NOT NULL,
		created_at   BIGINT       NOT NULL,
		processed_at BIGINT       NULL,
		attempts     INT          NOT NULL DEFAULT 0,
		last_error   TEXT         NOT NULL,
		dead_letter  TINYINT      NOT NULL DEFAULT 0,
		PRIMARY KEY (seq),
		UNIQUE KEY uq_` + name + `_id (id),
		KEY idx_` + name + `_unprocessed (processed_at, created_at)
	)`
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		host_name             TEXT    NOT NULL,
		host_id               TEXT    NOT NULL,
		description           TEXT    NOT NULL,
		item_category         TEXT    NOT NULL,
		preferred_environment TEXT    NOT NULL,
		packaging             TEXT    NOT NULL,
		callback_url          TEXT    NOT NULL,
		location              TEXT    NOT NULL,
		quantity              INTEGER NOT NULL DEFAULT 0,
		version               INTEGER NOT NULL DEFAULT 0,
		created_at            INTEGER NOT NULL,
		updated_at            INTEGER NOT NULL,
		PRIMARY KEY (host_name, host_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		host_name      TEXT    NOT NULL,
		host_order_id  TEXT    NOT NULL,
		status         TEXT    NOT NULL,
		order_type     TEXT    NOT NULL,
		contact_person TEXT    NOT NULL,
		contact_email  TEXT    NOT NULL,
		receiver       TEXT    NOT NULL,
		note           TEXT    NOT NULL,
		callback_url   TEXT    NOT NULL,
		version        INTEGER NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		PRIMARY KEY (host_name, host_order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		host_name     TEXT    NOT NULL,
		host_order_id TEXT    NOT NULL,
		host_id       TEXT    NOT NULL,
		status        TEXT    NOT NULL,
		position      INTEGER NOT NULL,
		PRIMARY KEY (host_name, host_order_id, host_id)
	)`,
	sqliteEventTable(storageEventsTable),
	sqliteEventTable(catalogEventsTable),
	`CREATE INDEX IF NOT EXISTS idx_storage_events_unprocessed ON storage_events (processed_at, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_events_unprocessed ON catalog_events (processed_at, created_at)`,
}

func sqliteEventTable(name string) string {
	return `CREATE TABLE IF NOT EXISTS ` + name + ` (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT    NOT NULL UNIQUE,
		event_type   TEXT    NOT NULL,
		entity_key   TEXT    NOT NULL,
		payload      TEXT    NOT NULL,
		created_at   INTEGER NOT NULL,
		processed_at INTEGER NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		last_error   TEXT    NOT NULL DEFAULT '',
		dead_letter  INTEGER NOT NULL DEFAULT 0
	)`
}

// Migrate creates the tables if they do not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == DialectMySQL {
		statements = mysqlSchema
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return strings.TrimSuffix(strings.TrimSpace(line), " (")
}
