package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, avatar_url, is_email_verified, verification_token)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, NULLIF($7, ''))
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.AvatarURL, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, avatar_url, is_email_verified,
			COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.VerificationExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, avatar_url, is_email_verified,
			COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.IsEmailVerified,
		&user.VerificationToken,
		&user.VerificationExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET verification_token = $2, verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1
		  AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, display_name, avatar_url, updated_at
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&profile.UserID, &profile.DisplayName, &profile.AvatarURL, &profile.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, display_name, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = NOW()
	`, profile.UserID, profile.DisplayName, profile.AvatarURL)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ── Documents ──

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, owner_id, drive_file_id)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Title, item.Content, item.OwnerID, item.DriveFileID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, owner_id, drive_file_id, created_at, updated_at
		FROM documents
		WHERE id = $1
	`, documentID).Scan(&item.ID, &item.Title, &item.Content, &item.OwnerID, &item.DriveFileID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

// UpdateDocument applies a partial update; nil fields are left unchanged.
func (s *PostgresStore) UpdateDocument(ctx context.Context, documentID string, title, content *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title = COALESCE($2, title),
			content = COALESCE($3, content),
			updated_at = NOW()
		WHERE id = $1
	`, documentID, title, content)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListOwnedDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, owner_id, drive_file_id, created_at, updated_at
		FROM documents
		WHERE owner_id = $1
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list owned documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.Content, &item.OwnerID, &item.DriveFileID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAllDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, owner_id, drive_file_id, created_at, updated_at
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.Content, &item.OwnerID, &item.DriveFileID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// ── Grants ──

func (s *PostgresStore) InsertGrant(ctx context.Context, grant Grant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_grants (id, document_id, user_id, token, invited_email, permission)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, grant.ID, grant.DocumentID, grant.UserID, grant.Token, grant.InvitedEmail, grant.Permission)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// GetGrantByToken looks a token grant up by exact match only.
func (s *PostgresStore) GetGrantByToken(ctx context.Context, token string) (Grant, error) {
	var grant Grant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, token, invited_email, permission, created_at
		FROM access_grants
		WHERE token = $1
	`, token).Scan(&grant.ID, &grant.DocumentID, &grant.UserID, &grant.Token, &grant.InvitedEmail, &grant.Permission, &grant.CreatedAt)
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// ListUserGrantsForDocument returns every named-user grant row for the
// (document, user) pair. The partial unique index keeps this to at most one
// row; callers treat extra rows defensively.
func (s *PostgresStore) ListUserGrantsForDocument(ctx context.Context, documentID, userID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, token, invited_email, permission, created_at
		FROM access_grants
		WHERE document_id = $1 AND user_id = $2
	`, documentID, userID)
	if err != nil {
		return nil, fmt.Errorf("list user grants: %w", err)
	}
	defer rows.Close()

	items := make([]Grant, 0, 1)
	for rows.Next() {
		var grant Grant
		if err := rows.Scan(&grant.ID, &grant.DocumentID, &grant.UserID, &grant.Token, &grant.InvitedEmail, &grant.Permission, &grant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListGrantsForDocument(ctx context.Context, documentID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, token, invited_email, permission, created_at
		FROM access_grants
		WHERE document_id = $1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document grants: %w", err)
	}
	defer rows.Close()

	items := make([]Grant, 0)
	for rows.Next() {
		var grant Grant
		if err := rows.Scan(&grant.ID, &grant.DocumentID, &grant.UserID, &grant.Token, &grant.InvitedEmail, &grant.Permission, &grant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListGrantsByUser(ctx context.Context, userID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, token, invited_email, permission, created_at
		FROM access_grants
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user grants: %w", err)
	}
	defer rows.Close()

	items := make([]Grant, 0)
	for rows.Next() {
		var grant Grant
		if err := rows.Scan(&grant.ID, &grant.DocumentID, &grant.UserID, &grant.Token, &grant.InvitedEmail, &grant.Permission, &grant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

// GetDocumentsByIDs returns the subset of the requested documents that still
// exist; missing ids are simply absent from the result.
func (s *PostgresStore) GetDocumentsByIDs(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return []Document{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, owner_id, drive_file_id, created_at, updated_at
		FROM documents
		WHERE id = ANY($1::uuid[])
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("get documents by ids: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0, len(ids))
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.Content, &item.OwnerID, &item.DriveFileID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateGrantPermission(ctx context.Context, grantID, permission string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE access_grants SET permission = $2 WHERE id = $1
	`, grantID, permission)
	if err != nil {
		return fmt.Errorf("update grant permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGrant(ctx context.Context, documentID, grantID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM access_grants WHERE id = $1 AND document_id = $2
	`, grantID, documentID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete grant rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteGrantsForDocument is the best-effort cleanup run after a document
// delete; the CASCADE constraint normally handles it, this bounds the
// orphan window when it does not.
func (s *PostgresStore) DeleteGrantsForDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM access_grants WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document grants: %w", err)
	}
	return nil
}

// ── Audit log ──

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (document_id, actor_id, event_type, metadata)
		VALUES ($1, $2, $3, $4::jsonb)
	`, event.DocumentID, event.ActorID, event.EventType, string(encoded))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
