package kvstore

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"chatbridge/internal/errors"
	"chatbridge/internal/retry"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "correct-horse-battery-staple"

func openTestStore(t *testing.T, path, secret string) *SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store, err := OpenSQLite(context.Background(), path, Options{
		EncryptionSecret: secret,
		Logger:           logger,
		Backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  5,
		}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func storesUnderTest(t *testing.T) map[string]Store {
	dir := t.TempDir()
	return map[string]Store{
		"memory":           NewMemoryStore(),
		"sqlite":           openTestStore(t, filepath.Join(dir, "plain.db"), ""),
		"sqlite encrypted": openTestStore(t, filepath.Join(dir, "sealed.db"), testSecret),
	}
}

func TestStore_GetSetKeys(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(ctx, "hidden:u1-u2")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, "hidden:u1-u2", `["m1"]`))
			require.NoError(t, store.Set(ctx, "hidden:u1-u3", `["m2"]`))
			require.NoError(t, store.Set(ctx, "other", "x"))

			value, ok, err := store.Get(ctx, "hidden:u1-u2")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `["m1"]`, value)

			require.NoError(t, store.Set(ctx, "hidden:u1-u2", `["m1","m3"]`))
			value, _, err = store.Get(ctx, "hidden:u1-u2")
			require.NoError(t, err)
			assert.Equal(t, `["m1","m3"]`, value)

			keys, err := store.Keys(ctx, "hidden:")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"hidden:u1-u2", "hidden:u1-u3"}, keys)
		})
	}
}

func TestStore_UpdateAbortLeavesValue(t *testing.T) {
	ctx := context.Background()
	boom := stderrors.New("boom")
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "k", "v1"))

			err := store.Update(ctx, "k", func(current string, exists bool) (string, error) {
				assert.True(t, exists)
				assert.Equal(t, "v1", current)
				return "", boom
			})
			assert.ErrorIs(t, err, boom)

			value, _, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v1", value)
		})
	}
}

func TestStore_ConcurrentUpdatesAreAtomic(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 20
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := store.Update(ctx, "counter", func(current string, exists bool) (string, error) {
						n := 0
						if exists {
							n, _ = strconv.Atoi(current)
						}
						return strconv.Itoa(n + 1), nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			value, ok, err := store.Get(ctx, "counter")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, strconv.Itoa(workers), value)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profile.db")

	store := openTestStore(t, path, testSecret)
	require.NoError(t, store.Set(ctx, "hidden:u1-u2", `["m1"]`))
	require.NoError(t, store.Close())

	reopened := openTestStore(t, path, testSecret)
	value, ok, err := reopened.Get(ctx, "hidden:u1-u2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["m1"]`, value)
}

func TestSQLiteStore_EncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profile.db")
	store := openTestStore(t, path, testSecret)
	require.NoError(t, store.Set(ctx, "hidden:u1-u2", `["secret-message-id"]`))

	var storedKey, storedValue string
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT key, value FROM kv").Scan(&storedKey, &storedValue))
	assert.NotContains(t, storedKey, "u1-u2")
	assert.NotContains(t, storedValue, "secret-message-id")
}

func TestSQLiteStore_RejectsSecretMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profile.db")
	store := openTestStore(t, path, testSecret)
	require.NoError(t, store.Close())

	_, err := OpenSQLite(ctx, path, Options{EncryptionSecret: "another-long-secret-value"})
	assert.Error(t, err)

	_, err = OpenSQLite(ctx, path, Options{})
	assert.Error(t, err)
}

func TestOpenSQLite_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := OpenSQLite(ctx, "../escape.db", Options{})
	assert.Error(t, err)

	_, err = OpenSQLite(ctx, filepath.Join(t.TempDir(), "p.db"), Options{EncryptionSecret: "short"})
	assert.Error(t, err)
}

func TestSQLiteStore_UnreadableValueIsStorageError(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "profile.db"), testSecret)

	_, err := store.db.ExecContext(ctx, "INSERT INTO kv (key, value) VALUES (?, ?)",
		store.encryptor.storageKey("hidden:u1-u2"), "not-ciphertext")
	require.NoError(t, err)

	_, _, err = store.Get(ctx, "hidden:u1-u2")
	assert.Equal(t, errors.ErrCodeStorageRead, errors.GetCode(err))

	// Update overwrites the unreadable row
	require.NoError(t, store.Update(ctx, "hidden:u1-u2", func(current string, exists bool) (string, error) {
		assert.False(t, exists)
		return `["m1"]`, nil
	}))
	value, ok, err := store.Get(ctx, "hidden:u1-u2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `["m1"]`, value)
}

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := newEncryptor(testSecret)
	require.NoError(t, err)

	sealed, err := enc.encrypt("hello")
	require.NoError(t, err)
	assert.NotEqual(t, "hello", sealed)

	plain, err := enc.decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)

	assert.Equal(t, enc.storageKey("k"), enc.storageKey("k"))
	assert.NotEqual(t, "k", enc.storageKey("k"))

	passthrough, err := newEncryptor("")
	require.NoError(t, err)
	assert.Equal(t, "k", passthrough.storageKey("k"))
}
