package tokenstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Kind selects one of the two independent token slots. Staff, owner and
// admin sessions share one slot; customers have their own.
type Kind string

const (
	KindCustomer Kind = "customer"
	KindStaff    Kind = "staff"
)

const (
	keyCustomerToken = "token.customer"
	keyStaffToken    = "token.staff"
	keyLastPhone     = "last_phone"
	keyStaffBranch   = "staff_branch"
)

// Store is the durable local state of the client: two bearer-token slots and
// the last-used phone number. It is the only cross-screen mutable shared
// state; every screen re-reads it rather than assuming a cached value is
// still valid.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the store at path. Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS local_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init token store schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetCustomerToken persists the customer bearer token, overwriting any prior
// value.
func (s *Store) SetCustomerToken(token string) error {
	return s.set(keyCustomerToken, token)
}

// SetStaffToken persists the staff/owner/admin bearer token, overwriting any
// prior value.
func (s *Store) SetStaffToken(token string) error {
	return s.set(keyStaffToken, token)
}

// Token returns the stored token for the given kind. Storage failures
// degrade to absent; this method never returns an error.
func (s *Store) Token(kind Kind) (string, bool) {
	return s.get(s.keyFor(kind))
}

// Clear removes the token for the given kind. Idempotent.
func (s *Store) Clear(kind Kind) error {
	_, err := s.db.Exec(`DELETE FROM local_state WHERE key = ?`, s.keyFor(kind))
	if err != nil {
		return fmt.Errorf("clear %s token: %w", kind, err)
	}
	return nil
}

// SetStaffBranch remembers which branch the staff session belongs to, so a
// resumed session can rejoin its room without logging in again.
func (s *Store) SetStaffBranch(branchID string) error {
	return s.set(keyStaffBranch, branchID)
}

// StaffBranch returns the remembered staff branch, if any.
func (s *Store) StaffBranch() (string, bool) {
	return s.get(keyStaffBranch)
}

// SetLastPhone remembers the last phone number the user entered, so the
// phone-entry screen can prefill it.
func (s *Store) SetLastPhone(phone string) error {
	return s.set(keyLastPhone, phone)
}

// LastPhone returns the remembered phone number, if any.
func (s *Store) LastPhone() (string, bool) {
	return s.get(keyLastPhone)
}

func (s *Store) keyFor(kind Kind) string {
	if kind == KindStaff {
		return keyStaffToken
	}
	return keyCustomerToken
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO local_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM local_state WHERE key = ?`, key).Scan(&value)
	switch {
	case err == nil:
		return value, value != ""
	case errors.Is(err, sql.ErrNoRows):
		return "", false
	default:
		// Unavailable storage reads as absent rather than failing the caller.
		s.logger.Warn("token store read failed", slog.String("key", key), slog.String("error", err.Error()))
		return "", false
	}
}
