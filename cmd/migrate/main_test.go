package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"chatbridge/internal/kvstore"
	"chatbridge/internal/overlay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDump(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func openProfile(t *testing.T, path string) *overlay.Overlay {
	t.Helper()
	store, err := kvstore.OpenSQLite(context.Background(), path, kvstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return overlay.New(store, nil)
}

func TestRun_ImportsDump(t *testing.T) {
	t.Setenv("CHATCLI_PROFILE_SECRET", "")
	profile := filepath.Join(t.TempDir(), "profile.db")
	dump := writeDump(t, `{
		"hidden_messages_alice-bob": "[\"m1\",\"m2\",\"m1\"]",
		"hidden_messages_alice-carol": ["m3"],
		"hidden_messages_broken": "{not json",
		"theme": "dark"
	}`)

	var out bytes.Buffer
	err := run(context.Background(), []string{"-dump", dump, "-profile", profile}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Imported 3 hidden message(s) across 2 channel(s)")
	assert.Contains(t, out.String(), "hidden_messages_broken")

	ov := openProfile(t, profile)
	ctx := context.Background()
	assert.Equal(t, []string{"m1", "m2"}, ov.Hidden(ctx, "alice-bob"))
	assert.Equal(t, []string{"m3"}, ov.Hidden(ctx, "alice-carol"))
	assert.Empty(t, ov.Hidden(ctx, "broken"))
}

func TestRun_Idempotent(t *testing.T) {
	t.Setenv("CHATCLI_PROFILE_SECRET", "")
	profile := filepath.Join(t.TempDir(), "profile.db")
	dump := writeDump(t, `{"hidden_messages_alice-bob": "[\"m1\"]"}`)

	require.NoError(t, run(context.Background(), []string{"-dump", dump, "-profile", profile}, &bytes.Buffer{}))
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-dump", dump, "-profile", profile}, &out))

	assert.Contains(t, out.String(), "Imported 0 hidden message(s) across 1 channel(s)")
	assert.Equal(t, []string{"m1"}, openProfile(t, profile).Hidden(context.Background(), "alice-bob"))
}

func TestRun_Errors(t *testing.T) {
	t.Setenv("CHATCLI_PROFILE_SECRET", "")
	profile := filepath.Join(t.TempDir(), "profile.db")

	tests := []struct {
		name string
		args []string
	}{
		{"missing dump flag", []string{"-profile", profile}},
		{"missing dump file", []string{"-dump", filepath.Join(t.TempDir(), "nope.json"), "-profile", profile}},
		{"dump not an object", []string{"-dump", writeDump(t, `["a"]`), "-profile", profile}},
		{"unknown flag", []string{"-bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, run(context.Background(), tt.args, &bytes.Buffer{}))
		})
	}
}
