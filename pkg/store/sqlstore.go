package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore implements Store on a local SQLite file. Writes go through a
// single connection, so concurrent pipeline runs serialize at the driver
// and never corrupt each other's rows.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (or creates) the database at path and applies migrations.
func OpenSQL(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cases (
			intake_id       TEXT PRIMARY KEY,
			raw_text        TEXT NOT NULL,
			classification  TEXT NOT NULL,
			composite_score REAL NOT NULL,
			metadata_json   TEXT,
			breakdown_json  TEXT,
			provenance_json TEXT,
			summary_text    TEXT,
			decision_reason TEXT,
			created_at      TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			intake_id  TEXT NOT NULL,
			action     TEXT NOT NULL,
			actor      TEXT NOT NULL,
			payload    TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fingerprints (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			intake_id       TEXT NOT NULL,
			content_hash    TEXT NOT NULL,
			normalized_hash TEXT NOT NULL,
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_normalized ON fingerprints(normalized_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_content ON fingerprints(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_intake ON audit_log(intake_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_created ON cases(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n); err != nil {
		return fmt.Errorf("migrate: read version: %w", err)
	}
	if n == 0 {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return fmt.Errorf("migrate: seed version: %w", err)
		}
	}
	return nil
}

// SaveAssessment upserts a case row. A re-analysis carries a new intake id,
// so in practice this only replaces a row when the same intake is replayed.
func (s *SQLStore) SaveAssessment(ctx context.Context, rec *CaseRecord) error {
	if rec.CreatedAt == "" {
		rec.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cases
		(intake_id, raw_text, classification, composite_score, metadata_json,
		 breakdown_json, provenance_json, summary_text, decision_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.IntakeID, rec.RawText, rec.Classification, rec.CompositeScore,
		rec.MetadataJSON, rec.BreakdownJSON, rec.ProvenanceJSON,
		rec.SummaryText, rec.DecisionReason, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save assessment %s: %w", rec.IntakeID, err)
	}
	return nil
}

// FetchAssessment returns the case row for an intake id, or ErrNotFound.
func (s *SQLStore) FetchAssessment(ctx context.Context, intakeID string) (*CaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT intake_id, raw_text, classification, composite_score, metadata_json,
		       breakdown_json, provenance_json, summary_text, decision_reason, created_at
		FROM cases WHERE intake_id = ?`, intakeID)
	rec, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch assessment %s: %w", intakeID, err)
	}
	return rec, nil
}

// ListRecent returns up to limit cases, newest first.
func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]CaseRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT intake_id, raw_text, classification, composite_score, metadata_json,
		       breakdown_json, provenance_json, summary_text, decision_reason, created_at
		FROM cases ORDER BY created_at DESC, intake_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()

	var out []CaseRecord
	for rows.Next() {
		rec, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("list recent: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// AppendAudit writes one audit log entry.
func (s *SQLStore) AppendAudit(ctx context.Context, intakeID, action, actor, payload string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (intake_id, action, actor, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		intakeID, action, actor, payload, nowUTC())
	if err != nil {
		return fmt.Errorf("append audit %s/%s: %w", intakeID, action, err)
	}
	return nil
}

// AuditTrail returns all audit entries for an intake, oldest first.
func (s *SQLStore) AuditTrail(ctx context.Context, intakeID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intake_id, action, actor, COALESCE(payload, ''), created_at
		FROM audit_log WHERE intake_id = ? ORDER BY id ASC`, intakeID)
	if err != nil {
		return nil, fmt.Errorf("audit trail %s: %w", intakeID, err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.IntakeID, &e.Action, &e.Actor, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit trail %s: %w", intakeID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordFingerprint appends the raw and normalized content hashes for an
// intake. Append-only; duplicate rows for identical content are expected
// and are what LookupFingerprint reports.
func (s *SQLStore) RecordFingerprint(ctx context.Context, intakeID, rawText string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (intake_id, content_hash, normalized_hash, created_at)
		VALUES (?, ?, ?, ?)`,
		intakeID, ContentHash(rawText), NormalizedHash(rawText), nowUTC())
	if err != nil {
		return fmt.Errorf("record fingerprint %s: %w", intakeID, err)
	}
	return nil
}

// LookupFingerprint returns every recorded intake whose raw or normalized
// hash matches the given text's normalized hash.
func (s *SQLStore) LookupFingerprint(ctx context.Context, text string) ([]FingerprintRow, error) {
	hash := NormalizedHash(text)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intake_id, content_hash, normalized_hash, created_at
		FROM fingerprints
		WHERE normalized_hash = ? OR content_hash = ?
		ORDER BY id ASC`, hash, hash)
	if err != nil {
		return nil, fmt.Errorf("lookup fingerprint: %w", err)
	}
	defer rows.Close()

	var out []FingerprintRow
	for rows.Next() {
		var f FingerprintRow
		if err := rows.Scan(&f.ID, &f.IntakeID, &f.ContentHash, &f.NormalizedHash, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("lookup fingerprint: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*CaseRecord, error) {
	var rec CaseRecord
	var metadata, breakdown, provenance, summary, reason sql.NullString
	err := row.Scan(&rec.IntakeID, &rec.RawText, &rec.Classification, &rec.CompositeScore,
		&metadata, &breakdown, &provenance, &summary, &reason, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.MetadataJSON = metadata.String
	rec.BreakdownJSON = breakdown.String
	rec.ProvenanceJSON = provenance.String
	rec.SummaryText = summary.String
	rec.DecisionReason = reason.String
	return &rec, nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
