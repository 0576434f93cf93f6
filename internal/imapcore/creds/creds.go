// Package creds supplies the shared user credential records spec.md
// §3 names ("pointer to shared user credential record"): one record
// per simulated mailbox user, reused by however many Clients are
// configured to exercise that user concurrently.
//
// Store is grounded on spilldb/db/db.go's Open/Init (sqlitex.Pool over
// a WAL-mode SQLite file) and spilldb/db/auth.go's
// bcrypt.CompareHashAndPassword check, adapted from an HTTP device
// login table to a flat username/password-hash table good enough for
// a stress-test harness: there are no devices, addresses, or
// throttling concerns here, only "does this password hash match".
package creds

import (
	"context"
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"golang.org/x/crypto/bcrypt"

	"spilled.ink/internal/imapcore/client"
)

const createSQL = `
CREATE TABLE IF NOT EXISTS Users (
	Username TEXT PRIMARY KEY,
	PassHash TEXT NOT NULL
);
`

// Store is a SQLite-backed credential table (spec.md's DOMAIN STACK:
// exercises crawshaw.io/sqlite + sqlitex.Pool + golang.org/x/crypto/bcrypt).
type Store struct {
	db *sqlitex.Pool
}

// Open opens (creating if needed) a credential database at dbfile,
// following db.Open's init-then-pool pattern: one throwaway connection
// runs schema setup, then a pooled connection set serves the run.
func Open(dbfile string) (*Store, error) {
	conn, err := sqlite.OpenConn(dbfile, 0)
	if err != nil {
		return nil, fmt.Errorf("creds.Open: init open: %v", err)
	}
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creds.Open: schema init: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("creds.Open: init close: %v", err)
	}
	pool, err := sqlitex.Open(dbfile, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("creds.Open: pool: %v", err)
	}
	return &Store{db: pool}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new user with the given plaintext password, hashed
// with bcrypt at its default cost, matching spilldb's own hashing
// convention.
func (s *Store) Create(ctx context.Context, username, password string) (*client.Cred, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("creds.Create: hashing password: %v", err)
	}
	conn := s.db.Get(ctx)
	if conn == nil {
		return nil, context.Canceled
	}
	defer s.db.Put(conn)

	stmt := conn.Prep(`INSERT OR REPLACE INTO Users (Username, PassHash) VALUES ($username, $hash);`)
	stmt.SetText("$username", username)
	stmt.SetText("$hash", string(hash))
	if _, err := stmt.Step(); err != nil {
		return nil, fmt.Errorf("creds.Create: insert: %v", err)
	}
	return &client.Cred{Username: username, Password: password}, nil
}

// Verify reports whether password matches the stored hash for
// username, mirroring Authenticator.AuthDevice's
// bcrypt.CompareHashAndPassword check without its device/throttle
// bookkeeping, which has no analogue in this stress-test core.
func (s *Store) Verify(ctx context.Context, username, password string) (bool, error) {
	conn := s.db.Get(ctx)
	if conn == nil {
		return false, context.Canceled
	}
	defer s.db.Put(conn)

	stmt := conn.Prep(`SELECT PassHash FROM Users WHERE Username = $username;`)
	stmt.SetText("$username", username)
	hasRow, err := stmt.Step()
	if err != nil {
		return false, fmt.Errorf("creds.Verify: query: %v", err)
	}
	if !hasRow {
		stmt.Reset()
		return false, nil
	}
	hash := []byte(stmt.GetText("PassHash"))
	stmt.Reset()
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

// MemStore is an in-process alternative to Store for CI runs or
// environments without cgo/SQLite available. It stores plaintext
// passwords directly, since there is no attacker model to defend
// against in a test harness's own scratch credential set.
type MemStore struct {
	users map[string]string
}

func NewMemStore() *MemStore { return &MemStore{users: make(map[string]string)} }

func (m *MemStore) Create(username, password string) *client.Cred {
	m.users[username] = password
	return &client.Cred{Username: username, Password: password}
}

func (m *MemStore) Verify(username, password string) bool {
	want, ok := m.users[username]
	return ok && want == password
}
