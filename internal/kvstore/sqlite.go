package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"chatbridge/internal/constants"
	"chatbridge/internal/errors"
	"chatbridge/internal/migrations"
	"chatbridge/internal/retry"
	"chatbridge/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Options configures a SQLite-backed store
type Options struct {
	// EncryptionSecret enables at-rest encryption when non-empty
	EncryptionSecret string
	Logger           *logrus.Logger
	Backoff          *retry.Backoff
}

// SQLiteStore persists keys in a single-file SQLite database
type SQLiteStore struct {
	db        *sql.DB
	encryptor *encryptor
	backoff   *retry.Backoff
	logger    *logrus.Logger
}

// envelope is the encrypted row payload; it keeps the logical key so
// prefix scans work when stored keys are hashed
type envelope struct {
	Key   string `json:"k"`
	Value string `json:"v"`
}

// OpenSQLite opens (creating if needed) the profile database at path
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid profile store path: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create profile store: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close profile store file: %w", err)
	}

	enc, err := newEncryptor(opts.EncryptionSecret)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate&_journal_mode=WAL",
		path, constants.DefaultSQLiteBusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}
	// One writer per process; Update transactions must not interleave
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping profile store: %w", err)
	}
	if _, err := migrations.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = retry.NewBackoff(retry.DefaultBackoffConfig())
	}

	store := &SQLiteStore{db: db, encryptor: enc, backoff: backoff, logger: logger}
	if err := store.checkSecret(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// checkSecret pins the encryption mode of a profile on first open and
// rejects a later open with a different mode or secret
func (s *SQLiteStore) checkSecret(ctx context.Context) error {
	probe := "plain"
	if s.encryptor.enabled() {
		probe = s.encryptor.storageKey("profile-check")
	}

	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM profile_meta WHERE name = 'encryption'").Scan(&stored)
	if stderrors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx, "INSERT INTO profile_meta (name, value) VALUES ('encryption', ?)", probe)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read profile metadata: %w", err)
	}
	if stored != probe {
		return fmt.Errorf("profile store was created with a different encryption secret")
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		raw string
		ok  bool
	)
	err := s.withRetry(ctx, "read", key, func() error {
		row := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", s.encryptor.storageKey(key))
		err := row.Scan(&raw)
		if stderrors.Is(err, sql.ErrNoRows) {
			ok = false
			return nil
		}
		ok = err == nil
		return err
	})
	if err != nil || !ok {
		return "", false, err
	}

	value, err := s.open(raw)
	if err != nil {
		return "", false, errors.NewStorageError("read", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	return s.Update(ctx, key, func(string, bool) (string, error) { return value, nil })
}

func (s *SQLiteStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	storageKey := s.encryptor.storageKey(key)

	return s.withRetry(ctx, "write", key, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var (
			raw     string
			current string
			exists  bool
		)
		err = tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", storageKey).Scan(&raw)
		switch {
		case stderrors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			current, err = s.open(raw)
			if err != nil {
				// Undecryptable rows are treated as absent and overwritten
				s.logger.WithError(err).WithField("key", key).Warn("Discarding unreadable profile value")
			} else {
				exists = true
			}
		}

		next, err := fn(current, exists)
		if err != nil {
			return &abortError{err: err}
		}

		sealed, err := s.seal(key, next)
		if err != nil {
			return &abortError{err: err}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			storageKey, sealed); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.withRetry(ctx, "read", prefix+"*", func() error {
		keys = keys[:0]
		rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv ORDER BY key")
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var storageKey, raw string
			if err := rows.Scan(&storageKey, &raw); err != nil {
				return err
			}
			key := storageKey
			if s.encryptor.enabled() {
				env, err := s.openEnvelope(raw)
				if err != nil {
					continue
				}
				key = env.Key
			}
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		return rows.Err()
	})
	return keys, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) seal(key, value string) (string, error) {
	if !s.encryptor.enabled() {
		return value, nil
	}
	payload, err := json.Marshal(envelope{Key: key, Value: value})
	if err != nil {
		return "", err
	}
	return s.encryptor.encrypt(string(payload))
}

func (s *SQLiteStore) open(raw string) (string, error) {
	if !s.encryptor.enabled() {
		return raw, nil
	}
	env, err := s.openEnvelope(raw)
	if err != nil {
		return "", err
	}
	return env.Value, nil
}

func (s *SQLiteStore) openEnvelope(raw string) (envelope, error) {
	var env envelope
	plaintext, err := s.encryptor.decrypt(raw)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal([]byte(plaintext), &env); err != nil {
		return env, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

// abortError marks a failure raised by the caller's UpdateFunc; it is
// returned as-is and never retried
type abortError struct{ err error }

func (a *abortError) Error() string { return a.err.Error() }
func (a *abortError) Unwrap() error { return a.err }

// withRetry retries SQLite busy/locked failures and wraps the rest as storage errors
func (s *SQLiteStore) withRetry(ctx context.Context, operation, key string, fn func() error) error {
	err := s.backoff.Retry(ctx, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var abort *abortError
		if stderrors.As(err, &abort) {
			return err
		}
		if isBusy(err) {
			return errors.WrapRetryable(err, storageCode(operation), "profile store busy")
		}
		return errors.NewStorageError(operation, key, err)
	})

	var abort *abortError
	if stderrors.As(err, &abort) {
		return abort.err
	}
	if err != nil && errors.IsRetryable(err) {
		return errors.NewStorageError(operation, key, err)
	}
	return err
}

func storageCode(operation string) errors.ErrorCode {
	if operation == "write" {
		return errors.ErrCodeStorageWrite
	}
	return errors.ErrCodeStorageRead
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
