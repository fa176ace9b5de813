package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

// AuditRepository stores one row per answered or abstained request.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across replicas.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS answer_audit (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	question TEXT NOT NULL,
	retrieval_mode TEXT NOT NULL,
	outcome TEXT NOT NULL,
	abstain_reason TEXT,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	generation_attempts INTEGER NOT NULL DEFAULT 0,
	citation_count INTEGER NOT NULL DEFAULT 0,
	degraded_reason TEXT,
	snapshot_version TEXT NOT NULL,
	total_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_answer_audit_created_at ON answer_audit(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_answer_audit_outcome ON answer_audit(outcome, abstain_reason);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AuditRepository) Record(ctx context.Context, a domain.AnswerAudit) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO answer_audit (
	id, request_id, question, retrieval_mode, outcome, abstain_reason, confidence,
	generation_attempts, citation_count, degraded_reason, snapshot_version, total_seconds, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		a.ID, a.RequestID, a.Question, string(a.RetrievalMode), a.Outcome, nullIfEmpty(a.AbstainReason), a.Confidence,
		a.GenerationAttempts, a.CitationCount, nullIfEmpty(a.DegradedReason), a.SnapshotVersion, a.TotalSeconds, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert answer audit: %w", err)
	}
	return nil
}

// ListRecent returns the newest audit rows first.
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]domain.AnswerAudit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, request_id, question, retrieval_mode, outcome, COALESCE(abstain_reason, ''), confidence,
	generation_attempts, citation_count, COALESCE(degraded_reason, ''), snapshot_version, total_seconds, created_at
FROM answer_audit
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query answer audit: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AnswerAudit, 0, limit)
	for rows.Next() {
		var a domain.AnswerAudit
		var mode string
		if err := rows.Scan(
			&a.ID, &a.RequestID, &a.Question, &mode, &a.Outcome, &a.AbstainReason, &a.Confidence,
			&a.GenerationAttempts, &a.CitationCount, &a.DegradedReason, &a.SnapshotVersion, &a.TotalSeconds, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan answer audit: %w", err)
		}
		a.RetrievalMode = domain.RetrievalMode(mode)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer audit: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
