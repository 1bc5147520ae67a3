// Package postgres provides PostgreSQL storage for decision engine
// sessions. It is the primary tier of the two-tier session store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ipforge/decision-engine/pkg/recommend"
	"github.com/ipforge/decision-engine/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"id", "engine_id", "user_id", "status", "current_step", "total_steps",
	"responses", "recommendation", "audit_trail",
	"started_at", "completed_at", "last_active_at", "version",
}

// Store implements session.Store using PostgreSQL. Responses, the
// recommendation, and the audit trail are stored as JSONB documents;
// the version column carries the optimistic concurrency token.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new session.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	responses, recommendation, auditTrail, err := encodeDocuments(sess)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sessions
		(id, engine_id, user_id, status, current_step, total_steps, responses, recommendation, audit_trail, started_at, completed_at, last_active_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.db.ExecContext(ctx, query,
		sess.ID,
		sess.EngineID,
		sess.UserID,
		string(sess.Status),
		sess.CurrentStep,
		sess.TotalSteps,
		responses,
		recommendation,
		auditTrail,
		sess.StartedAt,
		sess.CompletedAt,
		sess.LastActiveAt,
		sess.Version,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Update persists a modified session. The write only lands when the
// stored version is exactly one behind the incoming one; otherwise the
// caller lost an optimistic concurrency race.
func (s *Store) Update(ctx context.Context, sess *session.Session) error {
	responses, recommendation, auditTrail, err := encodeDocuments(sess)
	if err != nil {
		return err
	}

	query := `
		UPDATE sessions
		SET status = $1, current_step = $2, responses = $3, recommendation = $4,
		    audit_trail = $5, completed_at = $6, last_active_at = $7, version = $8
		WHERE id = $9 AND version = $10
	`

	result, err := s.db.ExecContext(ctx, query,
		string(sess.Status),
		sess.CurrentStep,
		responses,
		recommendation,
		auditTrail,
		sess.CompletedAt,
		sess.LastActiveAt,
		sess.Version,
		sess.ID,
		sess.Version-1,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking session update: %w", err)
	}
	if affected == 0 {
		return s.classifyMissedUpdate(ctx, sess)
	}
	return nil
}

// classifyMissedUpdate distinguishes a missing session from a lost
// version race after an UPDATE matched no rows.
func (s *Store) classifyMissedUpdate(ctx context.Context, sess *session.Session) error {
	var stored int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM sessions WHERE id = $1`, sess.ID,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return session.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session version: %w", err)
	}
	return fmt.Errorf("%w: stored version %d, write version %d",
		session.ErrVersionConflict, stored, sess.Version)
}

// Get retrieves a session by id.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	return sess, err
}

// ListByUser returns the user's sessions, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*session.Session, error) {
	qb := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("started_at DESC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	return s.executeList(ctx, qb)
}

// ListByEngine returns all sessions for an engine id.
func (s *Store) ListByEngine(ctx context.Context, engineID string) ([]*session.Session, error) {
	qb := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"engine_id": engineID}).
		OrderBy("started_at DESC")
	return s.executeList(ctx, qb)
}

// ListIdleActive returns active sessions idle since before the cutoff.
func (s *Store) ListIdleActive(ctx context.Context, cutoff time.Time) ([]*session.Session, error) {
	qb := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"status": string(session.StatusActive)}).
		Where(sq.Lt{"last_active_at": cutoff})
	return s.executeList(ctx, qb)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) executeList(ctx context.Context, qb sq.SelectBuilder) ([]*session.Session, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// encodeDocuments marshals the session's JSONB columns. A session with
// no recommendation stores NULL.
func encodeDocuments(sess *session.Session) (responses, recommendation, auditTrail []byte, err error) {
	responses, err = json.Marshal(sess.Responses)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encoding responses: %w", err)
	}

	if sess.Recommendation != nil {
		recommendation, err = json.Marshal(sess.Recommendation)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encoding recommendation: %w", err)
		}
	}

	auditTrail, err = json.Marshal(sess.AuditTrail)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encoding audit trail: %w", err)
	}
	return responses, recommendation, auditTrail, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess           session.Session
		status         string
		responses      []byte
		recommendation []byte
		auditTrail     []byte
	)

	err := row.Scan(
		&sess.ID,
		&sess.EngineID,
		&sess.UserID,
		&status,
		&sess.CurrentStep,
		&sess.TotalSteps,
		&responses,
		&recommendation,
		&auditTrail,
		&sess.StartedAt,
		&sess.CompletedAt,
		&sess.LastActiveAt,
		&sess.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.Status = session.Status(status)

	if len(responses) > 0 {
		if err := json.Unmarshal(responses, &sess.Responses); err != nil {
			return nil, fmt.Errorf("parsing responses: %w", err)
		}
	}
	if len(recommendation) > 0 {
		var rec recommend.Recommendation
		if err := json.Unmarshal(recommendation, &rec); err != nil {
			return nil, fmt.Errorf("parsing recommendation: %w", err)
		}
		sess.Recommendation = &rec
	}
	if len(auditTrail) > 0 {
		if err := json.Unmarshal(auditTrail, &sess.AuditTrail); err != nil {
			return nil, fmt.Errorf("parsing audit trail: %w", err)
		}
	}
	return &sess, nil
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
