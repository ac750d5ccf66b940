package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver, CGO-free

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/types"
)

// SQLiteRepository is the database/sql-backed Repository implementation,
// grounded on the teacher's SQLiteRepository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens dsn, enables WAL mode, and applies the schema.
func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reviews (
		id                     TEXT PRIMARY KEY,
		provider               TEXT NOT NULL,
		repository_id          TEXT NOT NULL,
		change_request_number INTEGER NOT NULL,
		state                  TEXT NOT NULL,
		created_at             DATETIME NOT NULL,
		updated_at             DATETIME NOT NULL,
		completed_at           DATETIME,
		llm_provider           TEXT,
		llm_model              TEXT,
		raw_response           TEXT,
		summary                TEXT,
		overall_confidence     REAL,
		total_before_dedup     INTEGER,
		total_after_dedup      INTEGER,
		total_filtered         INTEGER,
		counts_by_source       TEXT,
		counts_by_severity     TEXT,
		UNIQUE(provider, repository_id, change_request_number)
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_created ON reviews(created_at);

	CREATE TABLE IF NOT EXISTS issues (
		review_id            TEXT NOT NULL,
		idx                  INTEGER NOT NULL,
		file                 TEXT NOT NULL,
		start_line           INTEGER NOT NULL,
		severity             TEXT NOT NULL,
		title                TEXT NOT NULL,
		suggestion           TEXT,
		confidence_score     REAL,
		inline_comment_posted INTEGER NOT NULL DEFAULT 0,
		scm_comment_id       TEXT,
		fallback_reason      TEXT,
		position_metadata    TEXT,
		PRIMARY KEY (review_id, idx)
	);

	CREATE TABLE IF NOT EXISTS notes (
		review_id TEXT NOT NULL,
		idx       INTEGER NOT NULL,
		file      TEXT NOT NULL,
		line      INTEGER NOT NULL,
		note      TEXT NOT NULL,
		PRIMARY KEY (review_id, idx)
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) Save(ctx context.Context, ref domain.ChangeRequestRef, findings domain.AggregatedFindings, state domain.ReviewState) (*domain.Review, error) {
	var review *domain.Review
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		existingID, createdAt, currentState, err := findCompoundKey(ctx, tx, ref)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		id := existingID
		created := now
		s := state
		if existingID == "" {
			id = uuid.NewString()
			if s == "" {
				s = domain.ReviewPending
			}
		} else {
			created = createdAt
			if s == "" {
				s = currentState
			}
		}

		rec := &domain.Review{
			ID:        id,
			Ref:       ref,
			State:     s,
			CreatedAt: created,
			UpdatedAt: now,
			Findings:  findings,
		}
		if s.IsTerminal() {
			rec.CompletedAt = &now
		}

		if err := upsertReview(ctx, tx, rec); err != nil {
			return err
		}
		if err := replaceIssuesAndNotes(ctx, tx, rec.ID, findings); err != nil {
			return err
		}
		review = rec
		return nil
	})
	return review, err
}

func (r *SQLiteRepository) FindByID(ctx context.Context, reviewID string) (*domain.Review, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, provider, repository_id, change_request_number, state, created_at, updated_at,
		       completed_at, llm_provider, llm_model, raw_response, summary, overall_confidence,
		       total_before_dedup, total_after_dedup, total_filtered, counts_by_source, counts_by_severity
		FROM reviews WHERE id = ?`, reviewID)

	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	issues, err := r.loadIssues(ctx, reviewID)
	if err != nil {
		return nil, false, err
	}
	notes, err := r.loadNotes(ctx, reviewID)
	if err != nil {
		return nil, false, err
	}
	review.Findings.Issues = issues
	review.Findings.Notes = notes
	return review, true, nil
}

func (r *SQLiteRepository) FindByRef(ctx context.Context, ref domain.ChangeRequestRef) (*domain.Review, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, provider, repository_id, change_request_number, state, created_at, updated_at,
		       completed_at, llm_provider, llm_model, raw_response, summary, overall_confidence,
		       total_before_dedup, total_after_dedup, total_filtered, counts_by_source, counts_by_severity
		FROM reviews WHERE provider = ? AND repository_id = ? AND change_request_number = ?`,
		ref.Provider, ref.RepositoryID, ref.ChangeRequestNumber)

	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	issues, err := r.loadIssues(ctx, review.ID)
	if err != nil {
		return nil, false, err
	}
	notes, err := r.loadNotes(ctx, review.ID)
	if err != nil {
		return nil, false, err
	}
	review.Findings.Issues = issues
	review.Findings.Notes = notes
	return review, true, nil
}

func (r *SQLiteRepository) UpdateState(ctx context.Context, reviewID string, s domain.ReviewState) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentState(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(current, s) {
			return types.StateIllegalError(string(current), string(s))
		}
		return applyStateUpdate(ctx, tx, reviewID, s)
	})
}

func (r *SQLiteRepository) UpdateResultAndState(ctx context.Context, reviewID string, findings domain.AggregatedFindings, s domain.ReviewState) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentState(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(current, s) {
			return types.StateIllegalError(string(current), string(s))
		}
		if err := applyStateUpdate(ctx, tx, reviewID, s); err != nil {
			return err
		}
		if err := updateFindingsColumns(ctx, tx, reviewID, findings); err != nil {
			return err
		}
		return replaceIssuesAndNotes(ctx, tx, reviewID, findings)
	})
}

func (r *SQLiteRepository) CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	cutoff := now.Add(-retention)
	res, err := r.db.ExecContext(ctx, `DELETE FROM reviews WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func findCompoundKey(ctx context.Context, tx *sql.Tx, ref domain.ChangeRequestRef) (id string, createdAt time.Time, state domain.ReviewState, err error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, created_at, state FROM reviews
		WHERE provider = ? AND repository_id = ? AND change_request_number = ?`,
		ref.Provider, ref.RepositoryID, ref.ChangeRequestNumber)
	var s string
	err = row.Scan(&id, &createdAt, &s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, "", nil
	}
	return id, createdAt, domain.ReviewState(s), err
}

func currentState(ctx context.Context, tx *sql.Tx, reviewID string) (domain.ReviewState, error) {
	var s string
	err := tx.QueryRowContext(ctx, `SELECT state FROM reviews WHERE id = ?`, reviewID).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", types.NotFoundError(fmt.Sprintf("review %s not found", reviewID), nil)
	}
	if err != nil {
		return "", err
	}
	return domain.ReviewState(s), nil
}

func applyStateUpdate(ctx context.Context, tx *sql.Tx, reviewID string, s domain.ReviewState) error {
	now := time.Now().UTC()
	var completedAt interface{}
	if s.IsTerminal() {
		completedAt = now
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE reviews SET state = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?`, s, now, completedAt, reviewID)
	return err
}

func upsertReview(ctx context.Context, tx *sql.Tx, rec *domain.Review) error {
	countsBySource, err := json.Marshal(rec.Findings.CountsBySource)
	if err != nil {
		return err
	}
	countsBySeverity, err := json.Marshal(rec.Findings.CountsBySeverity)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reviews (
			id, provider, repository_id, change_request_number, state, created_at, updated_at,
			completed_at, llm_provider, llm_model, raw_response, summary, overall_confidence,
			total_before_dedup, total_after_dedup, total_filtered, counts_by_source, counts_by_severity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, repository_id, change_request_number) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			llm_provider = excluded.llm_provider,
			llm_model = excluded.llm_model,
			raw_response = excluded.raw_response,
			summary = excluded.summary,
			overall_confidence = excluded.overall_confidence,
			total_before_dedup = excluded.total_before_dedup,
			total_after_dedup = excluded.total_after_dedup,
			total_filtered = excluded.total_filtered,
			counts_by_source = excluded.counts_by_source,
			counts_by_severity = excluded.counts_by_severity
	`,
		rec.ID, rec.Ref.Provider, rec.Ref.RepositoryID, rec.Ref.ChangeRequestNumber, rec.State,
		rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt, rec.LLMProvider, rec.LLMModel, rec.RawResponse,
		rec.Findings.Summary, rec.Findings.OverallConfidence, rec.Findings.TotalBeforeDedup,
		rec.Findings.TotalAfterDedup, rec.Findings.TotalFiltered, string(countsBySource), string(countsBySeverity))
	return err
}

func updateFindingsColumns(ctx context.Context, tx *sql.Tx, reviewID string, findings domain.AggregatedFindings) error {
	countsBySource, err := json.Marshal(findings.CountsBySource)
	if err != nil {
		return err
	}
	countsBySeverity, err := json.Marshal(findings.CountsBySeverity)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE reviews SET summary = ?, overall_confidence = ?, total_before_dedup = ?,
			total_after_dedup = ?, total_filtered = ?, counts_by_source = ?, counts_by_severity = ?
		WHERE id = ?`,
		findings.Summary, findings.OverallConfidence, findings.TotalBeforeDedup,
		findings.TotalAfterDedup, findings.TotalFiltered, string(countsBySource), string(countsBySeverity), reviewID)
	return err
}

func replaceIssuesAndNotes(ctx context.Context, tx *sql.Tx, reviewID string, findings domain.AggregatedFindings) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE review_id = ?`, reviewID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE review_id = ?`, reviewID); err != nil {
		return err
	}
	for i, issue := range findings.Issues {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issues (review_id, idx, file, start_line, severity, title, suggestion,
				confidence_score, inline_comment_posted, scm_comment_id, fallback_reason, position_metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			reviewID, i, issue.File, issue.StartLine, issue.Severity, issue.Title, issue.Suggestion,
			issue.ConfidenceScore, boolToInt(issue.InlineCommentPosted), issue.SCMCommentID,
			issue.FallbackReason, issue.PositionMetadata); err != nil {
			return err
		}
	}
	for i, note := range findings.Notes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notes (review_id, idx, file, line, note) VALUES (?, ?, ?, ?, ?)`,
			reviewID, i, note.File, note.Line, note.Note); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) loadIssues(ctx context.Context, reviewID string) ([]domain.Issue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT file, start_line, severity, title, suggestion, confidence_score, inline_comment_posted,
		       scm_comment_id, fallback_reason, position_metadata
		FROM issues WHERE review_id = ? ORDER BY idx`, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Issue
	for rows.Next() {
		var issue domain.Issue
		var inlinePosted int
		var confidence sql.NullFloat64
		if err := rows.Scan(&issue.File, &issue.StartLine, &issue.Severity, &issue.Title, &issue.Suggestion,
			&confidence, &inlinePosted, &issue.SCMCommentID, &issue.FallbackReason, &issue.PositionMetadata); err != nil {
			return nil, err
		}
		if confidence.Valid {
			v := confidence.Float64
			issue.ConfidenceScore = &v
		}
		issue.InlineCommentPosted = inlinePosted != 0
		out = append(out, issue)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) loadNotes(ctx context.Context, reviewID string) ([]domain.Note, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT file, line, note FROM notes WHERE review_id = ? ORDER BY idx`, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.File, &n.Line, &n.Note); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// scanner is shared between *sql.Row and *sql.Rows, per the teacher's
// Scanner interface.
type scanner interface {
	Scan(dest ...any) error
}

func scanReview(s scanner) (*domain.Review, error) {
	var rec domain.Review
	var completedAt sql.NullTime
	var llmProvider, llmModel, rawResponse, summary sql.NullString
	var overallConfidence sql.NullFloat64
	var totalBeforeDedup, totalAfterDedup, totalFiltered sql.NullInt64
	var countsBySource, countsBySeverity string
	var state string

	if err := s.Scan(&rec.ID, &rec.Ref.Provider, &rec.Ref.RepositoryID, &rec.Ref.ChangeRequestNumber, &state,
		&rec.CreatedAt, &rec.UpdatedAt, &completedAt, &llmProvider, &llmModel, &rawResponse, &summary,
		&overallConfidence, &totalBeforeDedup, &totalAfterDedup, &totalFiltered, &countsBySource, &countsBySeverity); err != nil {
		return nil, err
	}

	rec.State = domain.ReviewState(state)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	rec.LLMProvider = llmProvider.String
	rec.LLMModel = llmModel.String
	rec.RawResponse = rawResponse.String
	rec.Findings.Summary = summary.String
	rec.Findings.OverallConfidence = overallConfidence.Float64
	rec.Findings.TotalBeforeDedup = int(totalBeforeDedup.Int64)
	rec.Findings.TotalAfterDedup = int(totalAfterDedup.Int64)
	rec.Findings.TotalFiltered = int(totalFiltered.Int64)

	if countsBySource != "" {
		_ = json.Unmarshal([]byte(countsBySource), &rec.Findings.CountsBySource)
	}
	if countsBySeverity != "" {
		_ = json.Unmarshal([]byte(countsBySeverity), &rec.Findings.CountsBySeverity)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
