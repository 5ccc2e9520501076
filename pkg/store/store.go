// Package store persists assessments, the audit trail, and content
// fingerprints in SQLite, and keeps a dupe cache (in-memory or Redis) in
// front of fingerprint lookups.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested case does not exist.
var ErrNotFound = errors.New("store: not found")

// CaseRecord is one persisted assessment row. JSON columns hold the
// breakdown, provenance and metadata blobs exactly as produced by the
// pipeline, so a fetch returns them byte-for-byte.
type CaseRecord struct {
	IntakeID       string  `json:"intake_id"`
	RawText        string  `json:"raw_text"`
	Classification string  `json:"classification"`
	CompositeScore float64 `json:"composite_score"`
	MetadataJSON   string  `json:"metadata_json"`
	BreakdownJSON  string  `json:"breakdown_json"`
	ProvenanceJSON string  `json:"provenance_json"`
	SummaryText    string  `json:"summary_text"`
	DecisionReason string  `json:"decision_reason"`
	CreatedAt      string  `json:"created_at"`
}

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	ID        int64  `json:"id"`
	IntakeID  string `json:"intake_id"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Payload   string `json:"payload,omitempty"`
	CreatedAt string `json:"created_at"`
}

// FingerprintRow links an intake to its raw and normalized content hashes.
// Appended, never updated.
type FingerprintRow struct {
	ID             int64  `json:"id"`
	IntakeID       string `json:"intake_id"`
	ContentHash    string `json:"content_hash"`
	NormalizedHash string `json:"normalized_hash"`
	CreatedAt      string `json:"created_at"`
}

// Store is the persistence contract the pipeline consumes.
type Store interface {
	SaveAssessment(ctx context.Context, rec *CaseRecord) error
	FetchAssessment(ctx context.Context, intakeID string) (*CaseRecord, error)
	ListRecent(ctx context.Context, limit int) ([]CaseRecord, error)
	AppendAudit(ctx context.Context, intakeID, action, actor, payload string) error
	AuditTrail(ctx context.Context, intakeID string) ([]AuditEntry, error)
	RecordFingerprint(ctx context.Context, intakeID, rawText string) error
	LookupFingerprint(ctx context.Context, text string) ([]FingerprintRow, error)
	Close() error
}

// ContentHash returns the sha256 of the raw text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizedHash lowercases the text and strips all whitespace before
// hashing, so near-duplicates differing only in case or spacing collide
// intentionally. Approximate duplicate detection, not a cryptographic
// identity.
func NormalizedHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), "")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
