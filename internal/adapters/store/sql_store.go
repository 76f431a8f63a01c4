// Package store holds the persistent backends for domain records and
// classification history.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// Supported SQL dialects
const (
	DialectSQLite = "sqlite3"
	DialectMySQL  = "mysql"
)

// Store is a backend for both domain records and history
type Store interface {
	core.DomainStore
	core.EventRecorder
}

// SQLStore persists domain records and classification history in SQLite or
// MySQL. It implements core.DomainStore and core.EventRecorder.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
	logger  *zap.Logger
	now     func() time.Time
}

// NewSQLStore opens the database and runs pending migrations
func NewSQLStore(dialect, dsn string, logger *zap.Logger) (*SQLStore, error) {
	source, ok := migrations[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}

	db, err := sqlx.Connect(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	applied, err := migrate.Exec(db.DB, dialect, source, migrate.Up)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", dialect, err)
	}
	logger.Debug("Executed migrations", zap.String("dialect", dialect), zap.Int("applied", applied))

	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     time.Now,
	}, nil
}

type domainRow struct {
	Domain       string  `db:"domain"`
	TrustScore   float64 `db:"trust_score"`
	Reason       string  `db:"reason"`
	RegisteredAt int64   `db:"registered_at"`
	LastChecked  int64   `db:"last_checked"`
	TTL          int64   `db:"ttl"`
	ExpiresAt    int64   `db:"expires_at"`
	Source       string  `db:"source"`
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (r *domainRow) toRecord() *core.DomainRecord {
	return &core.DomainRecord{
		Domain:       r.Domain,
		TrustScore:   r.TrustScore,
		Reason:       r.Reason,
		RegisteredAt: fromUnix(r.RegisteredAt),
		LastChecked:  fromUnix(r.LastChecked),
		TTL:          time.Duration(r.TTL),
		Source:       core.TrustSource(r.Source),
	}
}

// Load returns every unexpired record
func (s *SQLStore) Load(ctx context.Context) ([]*core.DomainRecord, error) {
	var rows []domainRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT domain, trust_score, reason, registered_at, last_checked, ttl, expires_at, source
		FROM domain_records
		WHERE expires_at > ?
	`, s.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to load domain records: %w", err)
	}

	records := make([]*core.DomainRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toRecord())
	}
	return records, nil
}

// Save upserts a record
func (s *SQLStore) Save(ctx context.Context, record *core.DomainRecord) error {
	row := domainRow{
		Domain:       strings.ToLower(record.Domain),
		TrustScore:   record.TrustScore,
		Reason:       record.Reason,
		RegisteredAt: toUnix(record.RegisteredAt),
		LastChecked:  toUnix(record.LastChecked),
		TTL:          int64(record.TTL),
		ExpiresAt:    toUnix(record.ExpiresAt()),
		Source:       string(record.Source),
	}

	query := `
		INSERT INTO domain_records (domain, trust_score, reason, registered_at, last_checked, ttl, expires_at, source)
		VALUES (:domain, :trust_score, :reason, :registered_at, :last_checked, :ttl, :expires_at, :source)
	`
	switch s.dialect {
	case DialectMySQL:
		query += `ON DUPLICATE KEY UPDATE
			trust_score = VALUES(trust_score), reason = VALUES(reason), registered_at = VALUES(registered_at),
			last_checked = VALUES(last_checked), ttl = VALUES(ttl), expires_at = VALUES(expires_at), source = VALUES(source)`
	default:
		query += `ON CONFLICT(domain) DO UPDATE SET
			trust_score = excluded.trust_score, reason = excluded.reason, registered_at = excluded.registered_at,
			last_checked = excluded.last_checked, ttl = excluded.ttl, expires_at = excluded.expires_at, source = excluded.source`
	}

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save domain record %s: %w", row.Domain, err)
	}
	return nil
}

// Delete removes a record
func (s *SQLStore) Delete(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM domain_records WHERE domain = ?`, strings.ToLower(domain))
	if err != nil {
		return fmt.Errorf("failed to delete domain record: %w", err)
	}
	return nil
}

// Cleanup removes expired records
func (s *SQLStore) Cleanup(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM domain_records WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired domain records: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
		return 0, nil
	}
	s.logger.Debug("Cleaned up expired domain records", zap.Int64("expired_count", rowsAffected))
	return rowsAffected, nil
}

// RecordResult appends a classification result to the history
func (s *SQLStore) RecordResult(ctx context.Context, result *core.ClassificationResult) error {
	evidence, err := json.Marshal(result.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classification_results
			(message_id, category, subcategory, confidence, deciding_tier, evidence, disposition, degraded, fallback_validated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.MessageID, string(result.Category), result.Subcategory, result.Confidence, result.DecidingTier,
		string(evidence), string(result.Disposition), result.Degraded, result.FallbackValidated, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record classification result: %w", err)
	}
	return nil
}

// RecordFeedback appends a feedback event to the history
func (s *SQLStore) RecordFeedback(ctx context.Context, event *core.FeedbackEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_events (session_id, message_id, action, category, offered, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.SessionID, event.MessageID, string(event.Action), string(event.Category), string(event.Offered),
		toUnix(event.OccurredAt))
	if err != nil {
		return fmt.Errorf("failed to record feedback event: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	return nil
}

var (
	_ core.DomainStore   = (*SQLStore)(nil)
	_ core.EventRecorder = (*SQLStore)(nil)
)
