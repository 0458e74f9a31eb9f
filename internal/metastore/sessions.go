package metastore

import (
	"database/sql"
	"fmt"
	"time"
)

// PermissionMode values accepted for a session.
const (
	ModeDefault = "default"
	ModeStrict  = "strict"
	ModeBypass  = "bypass"
)

// defaultVersion is stamped on newly observed sessions.
const defaultVersion = 3

// ValidPermissionMode reports whether mode is one of the accepted
// permission modes.
func ValidPermissionMode(mode string) bool {
	switch mode {
	case ModeDefault, ModeStrict, ModeBypass:
		return true
	}
	return false
}

// SessionInfo is one session's mutable metadata record.
type SessionInfo struct {
	SessionID             string    `json:"session_id"`
	CustomName            string    `json:"custom_name"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	Version               int       `json:"version"`
	Pinned                bool      `json:"pinned"`
	Archived              bool      `json:"archived"`
	ContinuationSessionID string    `json:"continuation_session_id"`
	InitialCommitHead     string    `json:"initial_commit_head"`
	PermissionMode        string    `json:"permission_mode"`
}

// SessionUpdate carries partial field updates; nil fields are left
// unchanged.
type SessionUpdate struct {
	CustomName            *string
	Pinned                *bool
	Archived              *bool
	ContinuationSessionID *string
	InitialCommitHead     *string
	PermissionMode        *string
}

// sessionCols is the column list for session queries. Keep in sync
// with scanSession.
const sessionCols = `session_id, custom_name, created_at, updated_at,
	version, pinned, archived, continuation_session_id,
	initial_commit_head, permission_mode`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(rs rowScanner) (SessionInfo, error) {
	var (
		info                 SessionInfo
		createdAt, updatedAt string
	)
	err := rs.Scan(
		&info.SessionID, &info.CustomName, &createdAt, &updatedAt,
		&info.Version, &info.Pinned, &info.Archived,
		&info.ContinuationSessionID, &info.InitialCommitHead,
		&info.PermissionMode,
	)
	if err != nil {
		return SessionInfo{}, err
	}
	info.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return info, nil
}

func defaultInfo(sessionID string, now time.Time) SessionInfo {
	return SessionInfo{
		SessionID:      sessionID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        defaultVersion,
		PermissionMode: ModeDefault,
	}
}

const insertSQL = `INSERT INTO session_info
	(session_id, custom_name, created_at, updated_at, version,
	 pinned, archived, continuation_session_id,
	 initial_commit_head, permission_mode)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertInfo(tx *sql.Tx, info SessionInfo) error {
	_, err := tx.Exec(insertSQL,
		info.SessionID, info.CustomName,
		info.CreatedAt.UTC().Format(time.RFC3339Nano),
		info.UpdatedAt.UTC().Format(time.RFC3339Nano),
		info.Version, info.Pinned, info.Archived,
		info.ContinuationSessionID, info.InitialCommitHead,
		info.PermissionMode,
	)
	return err
}

// Get returns the record for sessionID, creating a default record
// on first observation.
func (s *Store) Get(sessionID string) (SessionInfo, error) {
	row := s.reader.QueryRow(
		"SELECT "+sessionCols+" FROM session_info WHERE session_id = ?",
		sessionID,
	)
	info, err := scanSession(row)
	if err == nil {
		return info, nil
	}
	if err != sql.ErrNoRows {
		return SessionInfo{}, fmt.Errorf("querying session: %w", err)
	}

	info = defaultInfo(sessionID, time.Now().UTC())
	err = s.update(func(tx *sql.Tx) error {
		if err := insertInfo(tx, info); err != nil {
			return fmt.Errorf("inserting default record: %w", err)
		}
		return touchMeta(tx, info.UpdatedAt)
	})
	if err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// Update applies partial fields to a session record. An empty
// update is a no-op apart from bumping updated_at. The record is
// auto-created when absent.
func (s *Store) Update(
	sessionID string, upd SessionUpdate,
) (SessionInfo, error) {
	if upd.PermissionMode != nil &&
		!ValidPermissionMode(*upd.PermissionMode) {
		return SessionInfo{}, fmt.Errorf(
			"invalid permission mode %q", *upd.PermissionMode,
		)
	}

	info, err := s.Get(sessionID)
	if err != nil {
		return SessionInfo{}, err
	}

	if upd.CustomName != nil {
		info.CustomName = *upd.CustomName
	}
	if upd.Pinned != nil {
		info.Pinned = *upd.Pinned
	}
	if upd.Archived != nil {
		info.Archived = *upd.Archived
	}
	if upd.ContinuationSessionID != nil {
		info.ContinuationSessionID = *upd.ContinuationSessionID
	}
	if upd.InitialCommitHead != nil {
		info.InitialCommitHead = *upd.InitialCommitHead
	}
	if upd.PermissionMode != nil {
		info.PermissionMode = *upd.PermissionMode
	}
	info.UpdatedAt = time.Now().UTC()

	err = s.update(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE session_info SET custom_name = ?, updated_at = ?,
			 pinned = ?, archived = ?, continuation_session_id = ?,
			 initial_commit_head = ?, permission_mode = ?
			 WHERE session_id = ?`,
			info.CustomName,
			info.UpdatedAt.Format(time.RFC3339Nano),
			info.Pinned, info.Archived, info.ContinuationSessionID,
			info.InitialCommitHead, info.PermissionMode,
			sessionID,
		)
		if err != nil {
			return fmt.Errorf("updating session: %w", err)
		}
		return touchMeta(tx, info.UpdatedAt)
	})
	if err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// Delete removes a session record.
func (s *Store) Delete(sessionID string) error {
	return s.update(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"DELETE FROM session_info WHERE session_id = ?", sessionID,
		)
		if err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return touchMeta(tx, time.Now().UTC())
	})
}

// ListAll returns every session record ordered by session id.
func (s *Store) ListAll() ([]SessionInfo, error) {
	rows, err := s.reader.Query(
		"SELECT " + sessionCols + " FROM session_info ORDER BY session_id",
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// ArchiveAll marks every unarchived session archived in one
// transaction and returns the number of sessions affected.
func (s *Store) ArchiveAll() (int, error) {
	var count int
	now := time.Now().UTC()
	err := s.update(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE session_info SET archived = 1, updated_at = ?
			 WHERE archived = 0`,
			now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("archiving sessions: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		count = int(n)
		return touchMeta(tx, now)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SyncMissing inserts default records for any of the given session
// ids not yet present, in one transaction. Returns the number of
// records inserted.
func (s *Store) SyncMissing(sessionIDs []string) (int, error) {
	var inserted int
	now := time.Now().UTC()
	err := s.update(func(tx *sql.Tx) error {
		for _, id := range sessionIDs {
			var exists int
			err := tx.QueryRow(
				"SELECT count(*) FROM session_info WHERE session_id = ?",
				id,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("checking session %s: %w", id, err)
			}
			if exists > 0 {
				continue
			}
			if err := insertInfo(tx, defaultInfo(id, now)); err != nil {
				return fmt.Errorf("inserting session %s: %w", id, err)
			}
			inserted++
		}
		if inserted == 0 {
			return nil
		}
		return touchMeta(tx, now)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Stats summarizes the store.
type Stats struct {
	TotalSessions int       `json:"total_sessions"`
	Archived      int       `json:"archived"`
	Pinned        int       `json:"pinned"`
	SchemaVersion int       `json:"schema_version"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Stats returns store counters and schema metadata.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.reader.QueryRow(
		`SELECT count(*),
		 coalesce(sum(archived), 0), coalesce(sum(pinned), 0)
		 FROM session_info`,
	).Scan(&st.TotalSessions, &st.Archived, &st.Pinned)
	if err != nil {
		return Stats{}, fmt.Errorf("counting sessions: %w", err)
	}

	var version string
	if err := s.reader.QueryRow(
		"SELECT value FROM store_meta WHERE key = 'schema_version'",
	).Scan(&version); err == nil {
		fmt.Sscanf(version, "%d", &st.SchemaVersion)
	}
	var updated string
	if err := s.reader.QueryRow(
		"SELECT value FROM store_meta WHERE key = 'last_updated'",
	).Scan(&updated); err == nil {
		st.LastUpdated, _ = time.Parse(time.RFC3339Nano, updated)
	}
	return st, nil
}

// touchMeta records the store's last mutation time. Runs inside the
// caller's transaction so multi-row operations bump it exactly once.
func touchMeta(tx *sql.Tx, now time.Time) error {
	_, err := tx.Exec(
		`INSERT INTO store_meta (key, value) VALUES ('last_updated', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		now.Format(time.RFC3339Nano),
	)
	return err
}
