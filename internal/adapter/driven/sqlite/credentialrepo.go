package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Token columns hold sealed bytes exactly as handed over; this layer never
// sees plaintext or keys.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

const credentialColumns = `account_id, username, display_name, salt, encrypted_access_token,
	encrypted_refresh_token, access_expires_at, refresh_expires_at, status, connected_at, updated_at`

// Upsert inserts or replaces the credential for cred.AccountID. The original
// connected_at is preserved on replace.
func (r *CredentialRepo) Upsert(ctx context.Context, cred model.Credential) error {
	const query = `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			salt = excluded.salt,
			encrypted_access_token = excluded.encrypted_access_token,
			encrypted_refresh_token = excluded.encrypted_refresh_token,
			access_expires_at = excluded.access_expires_at,
			refresh_expires_at = excluded.refresh_expires_at,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	connectedAt := cred.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = cred.UpdatedAt
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		cred.AccountID,
		cred.Username,
		cred.DisplayName,
		cred.Salt,
		cred.EncryptedAccessToken,
		cred.EncryptedRefreshToken,
		formatTime(cred.AccessExpiresAt),
		formatNullTime(cred.RefreshExpiresAt),
		string(cred.Status),
		formatTime(connectedAt),
		formatTime(cred.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert credential %q: %w", cred.AccountID, err)
	}
	return nil
}

// Get returns the credential for accountID, or (nil, nil) if none exists.
func (r *CredentialRepo) Get(ctx context.Context, accountID string) (*model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials WHERE account_id = ?`

	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", accountID, err)
	}
	return &cred, nil
}

// List returns every stored credential ordered by account ID.
func (r *CredentialRepo) List(ctx context.Context) ([]model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials ORDER BY account_id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := []model.Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// UpdateStatus sets the status of an existing credential.
func (r *CredentialRepo) UpdateStatus(ctx context.Context, accountID string, status model.CredentialStatus, updatedAt time.Time) error {
	const query = `UPDATE credentials SET status = ?, updated_at = ? WHERE account_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, string(status), formatTime(updatedAt), accountID)
	if err != nil {
		return fmt.Errorf("update credential status %q: %w", accountID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for credential %q: %w", accountID, err)
	}
	if n == 0 {
		return fmt.Errorf("credential %q: %w", accountID, model.ErrNotFound)
	}
	return nil
}

// Delete removes the credential for accountID. Deleting a missing record is not an error.
func (r *CredentialRepo) Delete(ctx context.Context, accountID string) error {
	const query = `DELETE FROM credentials WHERE account_id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("delete credential %q: %w", accountID, err)
	}
	return nil
}

// ListRefreshDue returns usable accounts whose access token expires at or
// before the given instant.
func (r *CredentialRepo) ListRefreshDue(ctx context.Context, before time.Time) ([]string, error) {
	const query = `
		SELECT account_id FROM credentials
		WHERE status IN ('active', 'refreshing') AND access_expires_at <= ?
		ORDER BY access_expires_at
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("list refresh-due credentials: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh-due credentials: %w", err)
	}
	return ids, nil
}

// ResetStatus moves all credentials in one status to another.
func (r *CredentialRepo) ResetStatus(ctx context.Context, from, to model.CredentialStatus) (int, error) {
	const query = `UPDATE credentials SET status = ? WHERE status = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, string(to), string(from))
	if err != nil {
		return 0, fmt.Errorf("reset credential status %s -> %s: %w", from, to, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (model.Credential, error) {
	var (
		cred             model.Credential
		status           string
		accessExpiresAt  string
		refreshExpiresAt sql.NullString
		connectedAt      string
		updatedAt        string
	)

	err := s.Scan(
		&cred.AccountID,
		&cred.Username,
		&cred.DisplayName,
		&cred.Salt,
		&cred.EncryptedAccessToken,
		&cred.EncryptedRefreshToken,
		&accessExpiresAt,
		&refreshExpiresAt,
		&status,
		&connectedAt,
		&updatedAt,
	)
	if err != nil {
		return model.Credential{}, err
	}

	cred.Status = model.CredentialStatus(status)

	if cred.AccessExpiresAt, err = parseTime(accessExpiresAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse access_expires_at: %w", err)
	}
	if cred.RefreshExpiresAt, err = parseNullTime(refreshExpiresAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse refresh_expires_at: %w", err)
	}
	if cred.ConnectedAt, err = parseTime(connectedAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse connected_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return cred, nil
}
