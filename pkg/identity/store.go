// Package identity persists the named secrets a walletd node derives its
// network identities from.
//
// Seeds live in a single SQLite file in an append-only table: a name, once
// written, is never rewritten. GetOrCreate is the only operation startup
// code needs; it returns the stored seed or generates, persists and returns
// a fresh one.
package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SeedSize is the length of every generated seed.
const SeedSize = 32

// Well-known seed names.
const (
	TransportSeedName = "dht-seed"
	RPCSeedName       = "rpc-seed"
)

var (
	// ErrNotFound is returned by Get when no entry exists under the name.
	ErrNotFound = errors.New("identity: entry not found")
	// ErrExists is returned by Put when the name is already taken.
	ErrExists = errors.New("identity: entry already exists")
	// ErrSealed is returned when a sealed entry is read without a passphrase.
	ErrSealed = errors.New("identity: entry is sealed and no passphrase is configured")
)

const schema = `
CREATE TABLE IF NOT EXISTS seeds (
	name       TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	sealed     INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
)`

// Store is a durable, append-only map of named byte strings.
type Store struct {
	db     *sql.DB
	path   string
	sealer *sealer
}

// Option configures a Store.
type Option func(*Store) error

// WithPassphrase seals every value written with an age scrypt recipient
// derived from passphrase, and opens sealed values on read.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) error {
		if passphrase == "" {
			return nil
		}
		sl, err := newSealer(passphrase)
		if err != nil {
			return err
		}
		s.sealer = sl
		return nil
	}
}

// Open opens the store at path, creating the file and its schema when
// absent.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("identity store path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create identity store dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping identity store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create identity schema: %w", err)
	}

	s := &Store{db: db, path: path}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			db.Close()
			return nil, err
		}
	}

	slog.Debug("identity store opened", "path", path, "sealed", s.sealer != nil)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value stored under name.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	var sealed bool
	err := s.db.QueryRowContext(ctx, "SELECT value, sealed FROM seeds WHERE name = ?", name).Scan(&value, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	if !sealed {
		return value, nil
	}
	if s.sealer == nil {
		return nil, fmt.Errorf("get %s: %w", name, ErrSealed)
	}
	plain, err := s.sealer.open(value)
	if err != nil {
		return nil, fmt.Errorf("open sealed %s: %w", name, err)
	}
	return plain, nil
}

// Put stores value under name. Existing entries are never overwritten.
func (s *Store) Put(ctx context.Context, name string, value []byte) error {
	inserted, err := s.insert(ctx, name, value)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("put %s: %w", name, ErrExists)
	}
	return nil
}

// GetOrCreate returns the seed stored under name, generating and
// persisting SeedSize random bytes first when the name is absent.
//
// When several processes race on a fresh file the first insert wins and
// every caller reads back that same value.
func (s *Store) GetOrCreate(ctx context.Context, name string) ([]byte, error) {
	value, err := s.Get(ctx, name)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	seed, err := NewSeed()
	if err != nil {
		return nil, fmt.Errorf("generate seed %s: %w", name, err)
	}

	inserted, err := s.insert(ctx, name, seed)
	if err != nil {
		return nil, err
	}
	if inserted {
		slog.Info("generated new seed", "name", name)
		return seed, nil
	}

	// Lost the race to another writer; its value is authoritative.
	return s.Get(ctx, name)
}

// NewSeed returns SeedSize bytes from the system CSPRNG.
func NewSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

func (s *Store) insert(ctx context.Context, name string, value []byte) (bool, error) {
	stored := value
	sealed := false
	if s.sealer != nil {
		var err error
		stored, err = s.sealer.seal(value)
		if err != nil {
			return false, fmt.Errorf("seal %s: %w", name, err)
		}
		sealed = true
	}

	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO seeds (name, value, sealed, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, stored, sealed, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", name, err)
	}
	return n == 1, nil
}

// Names lists stored entry names in insertion order.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM seeds ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("list seeds: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan seed name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
