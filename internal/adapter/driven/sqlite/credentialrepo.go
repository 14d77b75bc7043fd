package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ericfisherdev/decisionlog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Credential values are encrypted with AES-256-GCM before write and decrypted after read.
// Rows are keyed by (user_id, service).
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable credential storage (all operations will return ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

// Set stores or replaces the user's credential for the service.
func (r *CredentialRepo) Set(ctx context.Context, userID, service, plaintext string) error {
	encrypted, err := r.encrypt(plaintext, rowBinding(userID, service))
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO credentials (user_id, service, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, service) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	_, err = r.db.Writer.ExecContext(ctx, query, userID, service, encrypted, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set credential %q for user %q: %w", service, userID, err)
	}
	return nil
}

// Get retrieves the plaintext credential. Returns driven.ErrNoCredential if
// the user has none stored for the service.
func (r *CredentialRepo) Get(ctx context.Context, userID, service string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	const query = `SELECT value FROM credentials WHERE user_id = ? AND service = ?`
	var encrypted string
	err := r.db.Reader.QueryRowContext(ctx, query, userID, service).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("get credential %q for user %q: %w", service, userID, driven.ErrNoCredential)
	}
	if err != nil {
		return "", fmt.Errorf("get credential %q for user %q: %w", service, userID, err)
	}

	plaintext, err := r.decrypt(encrypted, rowBinding(userID, service))
	if err != nil {
		return "", fmt.Errorf("decrypt credential %q for user %q: %w", service, userID, err)
	}
	return plaintext, nil
}

// Delete removes the user's credential for the service.
func (r *CredentialRepo) Delete(ctx context.Context, userID, service string) error {
	const query = `DELETE FROM credentials WHERE user_id = ? AND service = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, userID, service)
	if err != nil {
		return fmt.Errorf("delete credential %q for user %q: %w", service, userID, err)
	}
	return nil
}

// rowBinding is the GCM additional data for a row. A ciphertext copied to
// another user or service fails authentication.
func rowBinding(userID, service string) []byte {
	return []byte(userID + "\x00" + service)
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string, aad []byte) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), aad)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string, aad []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func (r *CredentialRepo) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
