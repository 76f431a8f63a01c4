package store

import (
	migrate "github.com/rubenv/sql-migrate"
)

var migrations = map[string]migrate.MigrationSource{
	DialectSQLite: &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "0001_domain_records",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS domain_records (
						domain TEXT PRIMARY KEY,
						trust_score REAL NOT NULL,
						reason TEXT NOT NULL DEFAULT '',
						registered_at INTEGER NOT NULL DEFAULT 0,
						last_checked INTEGER NOT NULL,
						ttl INTEGER NOT NULL,
						expires_at INTEGER NOT NULL,
						source TEXT NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_domain_records_expires_at ON domain_records(expires_at)`,
				},
				Down: []string{`DROP TABLE domain_records`},
			},
			{
				Id: "0002_history",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS classification_results (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						message_id TEXT NOT NULL,
						category TEXT NOT NULL,
						subcategory TEXT NOT NULL DEFAULT '',
						confidence REAL NOT NULL,
						deciding_tier TEXT NOT NULL,
						evidence TEXT NOT NULL,
						disposition TEXT NOT NULL,
						degraded BOOLEAN NOT NULL,
						fallback_validated BOOLEAN NOT NULL,
						created_at INTEGER NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_classification_results_message_id ON classification_results(message_id)`,
					`CREATE TABLE IF NOT EXISTS feedback_events (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						session_id TEXT NOT NULL,
						message_id TEXT NOT NULL,
						action TEXT NOT NULL,
						category TEXT NOT NULL,
						offered TEXT NOT NULL DEFAULT '',
						occurred_at INTEGER NOT NULL
					)`,
				},
				Down: []string{`DROP TABLE feedback_events`, `DROP TABLE classification_results`},
			},
		},
	},
	DialectMySQL: &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "0001_domain_records",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS domain_records (
						domain VARCHAR(255) PRIMARY KEY,
						trust_score DOUBLE NOT NULL,
						reason VARCHAR(255) NOT NULL DEFAULT '',
						registered_at BIGINT NOT NULL DEFAULT 0,
						last_checked BIGINT NOT NULL,
						ttl BIGINT NOT NULL,
						expires_at BIGINT NOT NULL,
						source VARCHAR(16) NOT NULL,
						INDEX idx_domain_records_expires_at (expires_at)
					)`,
				},
				Down: []string{`DROP TABLE domain_records`},
			},
			{
				Id: "0002_history",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS classification_results (
						id BIGINT AUTO_INCREMENT PRIMARY KEY,
						message_id VARCHAR(255) NOT NULL,
						category VARCHAR(64) NOT NULL,
						subcategory VARCHAR(64) NOT NULL DEFAULT '',
						confidence DOUBLE NOT NULL,
						deciding_tier VARCHAR(64) NOT NULL,
						evidence TEXT NOT NULL,
						disposition VARCHAR(16) NOT NULL,
						degraded BOOLEAN NOT NULL,
						fallback_validated BOOLEAN NOT NULL,
						created_at BIGINT NOT NULL,
						INDEX idx_classification_results_message_id (message_id)
					)`,
					`CREATE TABLE IF NOT EXISTS feedback_events (
						id BIGINT AUTO_INCREMENT PRIMARY KEY,
						session_id VARCHAR(64) NOT NULL,
						message_id VARCHAR(255) NOT NULL,
						action VARCHAR(16) NOT NULL,
						category VARCHAR(64) NOT NULL,
						offered VARCHAR(64) NOT NULL DEFAULT '',
						occurred_at BIGINT NOT NULL
					)`,
				},
				Down: []string{`DROP TABLE feedback_events`, `DROP TABLE classification_results`},
			},
		},
	},
}
