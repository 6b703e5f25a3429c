package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const grantColumns = `id, email, token, status, expires_at, email_count, created_at, updated_at`

// FindLiveGrant returns the active, unexpired grant for email.
func (s *Store) FindLiveGrant(ctx context.Context, email string, now time.Time) (Grant, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s
        WHERE email = ? AND status = ? AND expires_at > ?
        ORDER BY expires_at DESC
        LIMIT 1;`, grantColumns, s.grants), email, string(GrantActive), toMillis(now))
	return scanGrant(row, "find live grant")
}

// FindGrantByToken returns the grant for token regardless of status.
func (s *Store) FindGrantByToken(ctx context.Context, token string) (Grant, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE token = ?;`, grantColumns, s.grants), token)
	return scanGrant(row, "find grant")
}

func (s *Store) InsertGrant(ctx context.Context, grant Grant) (Grant, error) {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
        (email, token, status, expires_at, email_count, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?);`, s.grants),
		grant.Email,
		grant.Token,
		string(grant.Status),
		toMillis(grant.ExpiresAt),
		grant.EmailCount,
		toMillis(grant.CreatedAt),
		toMillis(grant.UpdatedAt),
	)
	if err != nil {
		return Grant{}, unavailable("insert grant", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Grant{}, unavailable("insert grant", err)
	}
	grant.ID = id
	return grant, nil
}

// ExpireGrant moves an active grant to expired. It reports whether this call
// made the transition; a grant that is already expired is left untouched.
func (s *Store) ExpireGrant(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ?
        WHERE id = ? AND status = ?;`, s.grants),
		string(GrantExpired), toMillis(now), id, string(GrantActive))
	if err != nil {
		return false, unavailable("expire grant", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, unavailable("expire grant", err)
	}
	return rows > 0, nil
}

func scanGrant(row *sql.Row, op string) (Grant, error) {
	var grant Grant
	var status string
	var expiresAt, createdAt, updatedAt int64
	if err := row.Scan(
		&grant.ID,
		&grant.Email,
		&grant.Token,
		&status,
		&expiresAt,
		&grant.EmailCount,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Grant{}, ErrNotFound
		}
		return Grant{}, unavailable(op, err)
	}
	grant.Status = GrantStatus(status)
	grant.ExpiresAt = fromMillis(expiresAt)
	grant.CreatedAt = fromMillis(createdAt)
	grant.UpdatedAt = fromMillis(updatedAt)
	return grant, nil
}
