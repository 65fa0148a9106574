// Package interview runs mock interviews: a session holds the candidate's
// résumé text and the target job, a chat model asks one question per turn,
// and after the last answer it writes an evaluation.
package interview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/mockinterview/dbopen"
	"github.com/hazyhaar/mockinterview/idgen"
)

// Schema is the DDL for the session store.
const Schema = `
CREATE TABLE IF NOT EXISTS interview_sessions (
    id              TEXT PRIMARY KEY,
    job_title       TEXT NOT NULL,
    company         TEXT NOT NULL DEFAULT '',
    job_description TEXT NOT NULL DEFAULT '',
    resume_text     TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'active',
    evaluation      TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS interview_turns (
    session_id TEXT NOT NULL REFERENCES interview_sessions(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// Session statuses.
const (
	StatusActive   = "active"
	StatusFinished = "finished"
)

// Turn roles.
const (
	RoleInterviewer = "interviewer"
	RoleCandidate   = "candidate"
)

// SessionPrefix starts every session ID.
const SessionPrefix = "sess_"

var (
	ErrNotFound = errors.New("interview: session not found")
	ErrFinished = errors.New("interview: session already finished")
)

// Session is one mock interview.
type Session struct {
	ID             string    `json:"id"`
	JobTitle       string    `json:"job_title"`
	Company        string    `json:"company,omitempty"`
	JobDescription string    `json:"job_description,omitempty"`
	ResumeText     string    `json:"-"`
	Status         string    `json:"status"`
	Evaluation     string    `json:"evaluation,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Turn is one message of the transcript. Seq starts at 1.
type Turn struct {
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists sessions and their transcripts in SQLite.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// NewStore wraps a database that holds Schema.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		newID: idgen.Prefixed(SessionPrefix, idgen.Default),
		now:   time.Now,
	}
}

// Create stores s as a new active session and returns its ID.
func (st *Store) Create(ctx context.Context, s Session) (string, error) {
	id := st.newID()
	now := st.now().Unix()
	_, err := dbopen.Exec(ctx, st.db, `
		INSERT INTO interview_sessions
			(id, job_title, company, job_description, resume_text, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		id, s.JobTitle, s.Company, s.JobDescription, s.ResumeText, StatusActive, now, now)
	if err != nil {
		return "", fmt.Errorf("interview: create session: %w", err)
	}
	return id, nil
}

// Get loads a session.
func (st *Store) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	var created, updated int64
	err := st.db.QueryRowContext(ctx, `
		SELECT id, job_title, company, job_description, resume_text, status, evaluation, created_at, updated_at
		FROM interview_sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.JobTitle, &s.Company, &s.JobDescription, &s.ResumeText, &s.Status, &s.Evaluation, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("interview: get session: %w", err)
	}
	s.CreatedAt, s.UpdatedAt = time.Unix(created, 0), time.Unix(updated, 0)
	return &s, nil
}

// AppendTurn adds t at the end of the transcript of an active session and
// returns its sequence number.
func (st *Store) AppendTurn(ctx context.Context, id string, t Turn) (int, error) {
	return st.AppendTurns(ctx, id, t)
}

// AppendTurns adds turns in one transaction and returns the sequence number
// of the last one. Either all of them are stored or none.
func (st *Store) AppendTurns(ctx context.Context, id string, turns ...Turn) (int, error) {
	var seq int
	err := dbopen.RunTx(ctx, st.db, func(tx *sql.Tx) error {
		if err := activeIn(ctx, tx, id); err != nil {
			return err
		}
		var err error
		seq, err = st.insertTurns(ctx, tx, id, turns)
		return err
	})
	if err != nil {
		return 0, wrapStoreErr("append turn", err)
	}
	return seq, nil
}

// insertTurns must run inside a transaction that checked the session.
func (st *Store) insertTurns(ctx context.Context, tx *sql.Tx, id string, turns []Turn) (int, error) {
	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM interview_turns WHERE session_id = ?`, id).Scan(&seq); err != nil {
		return 0, err
	}
	now := st.now().Unix()
	for _, t := range turns {
		seq++
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO interview_turns (session_id, seq, role, content, created_at) VALUES (?,?,?,?,?)`,
			id, seq, t.Role, t.Content, now); err != nil {
			return 0, err
		}
	}
	_, err := tx.ExecContext(ctx, `UPDATE interview_sessions SET updated_at = ? WHERE id = ?`, now, id)
	return seq, err
}

// Transcript returns the turns of a session in order.
func (st *Store) Transcript(ctx context.Context, id string) ([]Turn, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT seq, role, content, created_at FROM interview_turns
		WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("interview: transcript: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var ts int64
		if err := rows.Scan(&t.Seq, &t.Role, &t.Content, &ts); err != nil {
			return nil, fmt.Errorf("interview: scan turn: %w", err)
		}
		t.CreatedAt = time.Unix(ts, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Finish appends the final turns, stores the evaluation and closes the
// session, all in one transaction.
func (st *Store) Finish(ctx context.Context, id, evaluation string, final ...Turn) error {
	err := dbopen.RunTx(ctx, st.db, func(tx *sql.Tx) error {
		if err := activeIn(ctx, tx, id); err != nil {
			return err
		}
		if len(final) > 0 {
			if _, err := st.insertTurns(ctx, tx, id, final); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE interview_sessions SET status = ?, evaluation = ?, updated_at = ? WHERE id = ?`,
			StatusFinished, evaluation, st.now().Unix(), id)
		return err
	})
	return wrapStoreErr("finish", err)
}

func activeIn(ctx context.Context, tx *sql.Tx, id string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM interview_sessions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != StatusActive {
		return ErrFinished
	}
	return nil
}

func wrapStoreErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrFinished) {
		return err
	}
	return fmt.Errorf("interview: %s: %w", op, err)
}
