package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"peerline/internal/obs"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	requester_conn_id TEXT NOT NULL,
	responder_conn_id TEXT NOT NULL,
	requester_id      TEXT NOT NULL,
	responder_id      TEXT NOT NULL,
	requester_name    TEXT NOT NULL,
	responder_name    TEXT NOT NULL,
	room_url          TEXT NOT NULL,
	room_name         TEXT NOT NULL,
	status            TEXT NOT NULL,
	end_reason        TEXT NOT NULL DEFAULT '',
	safety_flagged    INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	ended_at          DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_status_created ON sessions(status, created_at);
`

// Store is the SQLite-backed session document store. Reads run concurrently
// on the connection pool; writes are funneled through a single goroutine,
// which is how SQLite stays contention-free under WAL.
type Store struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// Open opens (creating if needed) the session database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

var _ interfaces.SessionStore = (*Store)(nil)

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// writeLoop processes all write operations in a single goroutine, retrying
// once after a short delay before reporting failure.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			err := op.fn(s.db)
			if err != nil {
				obs.Log.WithError(err).Warn("session store write failed, retrying")
				time.Sleep(time.Second)
				err = op.fn(s.db)
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(fn func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("session store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{fn: fn, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-s.shutdown:
		return fmt.Errorf("session store is shutting down")
	}
}

// CreateSession persists a new session record.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (id, requester_conn_id, responder_conn_id,
				requester_id, responder_id, requester_name, responder_name,
				room_url, room_name, status, end_reason, safety_flagged,
				created_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.RequesterConnID,
			session.ResponderConnID,
			session.RequesterID,
			session.ResponderID,
			session.RequesterName,
			session.ResponderName,
			session.RoomURL,
			session.RoomName,
			string(session.Status),
			session.EndReason,
			session.SafetyFlagged,
			session.CreatedAt,
			session.EndedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

const sessionColumns = `id, requester_conn_id, responder_conn_id, requester_id,
	responder_id, requester_name, responder_name, room_url, room_name, status,
	end_reason, safety_flagged, created_at, ended_at`

func scanSession(scan func(dest ...any) error) (*types.Session, error) {
	var session types.Session
	var status string
	var endedAt sql.NullTime

	err := scan(
		&session.ID,
		&session.RequesterConnID,
		&session.ResponderConnID,
		&session.RequesterID,
		&session.ResponderID,
		&session.RequesterName,
		&session.ResponderName,
		&session.RoomURL,
		&session.RoomName,
		&status,
		&session.EndReason,
		&session.SafetyFlagged,
		&session.CreatedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}
	session.Status = types.SessionStatus(status)
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	return &session, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// UpdateSessionStatus transitions a session's status. The WHERE clause skips
// rows already in a terminal status, which is what makes terminal statuses
// monotonic regardless of sweep/end ordering.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status types.SessionStatus, endReason string, endedAt *time.Time) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, end_reason = ?, ended_at = ?
			WHERE id = ? AND status NOT IN ('ended', 'expired', 'abandoned')`,
			string(status), endReason, endedAt, sessionID)
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			// Either missing or already terminal; only the former is an error.
			var one int
			err := db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
			if err == sql.ErrNoRows {
				return interfaces.ErrSessionNotFound
			}
			return err
		}
		return nil
	})
}

// FlagSafety marks a session as safety-flagged. Flagged records are retained
// indefinitely by the purge sweep.
func (s *Store) FlagSafety(ctx context.Context, sessionID string) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET safety_flagged = 1 WHERE id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("failed to flag session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// ListActiveSessions returns every session with status active.
func (s *Store) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return s.listActive(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' ORDER BY created_at ASC`)
}

// ListActiveCreatedBefore returns active sessions created before cutoff, for
// the expire and abandon sweeps.
func (s *Store) ListActiveCreatedBefore(ctx context.Context, cutoff time.Time) ([]*types.Session, error) {
	return s.listActive(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' AND created_at < ? ORDER BY created_at ASC`,
		cutoff)
}

func (s *Store) listActive(ctx context.Context, query string, args ...any) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// PurgeCreatedBefore deletes terminal sessions created before cutoff,
// excluding safety-flagged records (compliance retention). A row still
// marked active is left for the expire sweep to reclassify first.
func (s *Store) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`DELETE FROM sessions WHERE created_at < ? AND safety_flagged = 0
			 AND status IN ('ended', 'expired', 'abandoned')`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to purge sessions: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// HealthCheck validates database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the write loop and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
