package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatbridge/internal/kvstore"
	"chatbridge/internal/models"
	"chatbridge/internal/overlay"
	"chatbridge/pkg/stream"
	"chatbridge/pkg/stream/streamtest"
	"chatbridge/pkg/stream/types"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is safe for the concurrent writes made by event callbacks
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// setupBackend serves the token and clear endpoints for a fixed user
func setupBackend(t *testing.T, provider *streamtest.Server, userID string) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/api/chat/token", func(w http.ResponseWriter, r *http.Request) {
		token, err := stream.CreateToken(streamtest.APISecret, userID, time.Hour)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(models.TokenResponse{Token: token})
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/chat/clear", func(w http.ResponseWriter, r *http.Request) {
		var req models.ClearChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		client, err := stream.NewClient(provider.URL, streamtest.APIKey, streamtest.APISecret, nil)
		require.NoError(t, err)
		if err := client.TruncateChannel(r.Context(), "messaging", req.ChannelID, true); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Internal Server Error", "error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(models.MessageResponse{Message: "Chat cleared successfully"})
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type chatFixture struct {
	provider *streamtest.Server
	opts     options
}

func setupChat(t *testing.T) *chatFixture {
	t.Helper()
	t.Setenv("CHATCLI_PROFILE_SECRET", "")
	provider := streamtest.NewServer()
	t.Cleanup(provider.Close)
	backend := setupBackend(t, provider, "alice")

	return &chatFixture{
		provider: provider,
		opts: options{
			apiURL:      backend.URL + "/api",
			environment: "development",
			origin:      "http://localhost:5173",
			userID:      "alice",
			userName:    "Alice",
			targetID:    "bob",
			profilePath: filepath.Join(t.TempDir(), "profile.db"),
			streamURL:   provider.URL,
			streamKey:   streamtest.APIKey,
		},
	}
}

func (f *chatFixture) run(t *testing.T, lines ...string) string {
	t.Helper()
	out := &syncBuffer{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := runChat(ctx, f.opts, strings.NewReader(strings.Join(lines, "\n")+"\n"), out)
	require.NoError(t, err)
	return out.String()
}

func TestChat_SendAndList(t *testing.T) {
	f := setupChat(t)

	out := f.run(t, "hello bob", "/list", "/quit")

	assert.Contains(t, out, "Chatting in alice-bob")
	assert.Contains(t, out, "1  Alice: hello bob")
	msgs := f.provider.Messages("messaging", "alice-bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello bob", msgs[0].Text)
}

func TestChat_HideForMePersists(t *testing.T) {
	f := setupChat(t)
	f.provider.SeedChannel("messaging", "alice-bob", "alice", "bob")
	theirs := f.provider.AddMessage("messaging", "alice-bob", "bob", "secret plans")

	out := f.run(t, "/hide 1", "/confirm", "/list", "/quit")

	assert.Contains(t, out, "This will hide the message from your view only.")
	assert.Contains(t, out, "[+] Message hidden")
	assert.Contains(t, out, "(no messages)")
	assert.Len(t, f.provider.Messages("messaging", "alice-bob"), 1, "hiding never touches the provider")

	store, err := kvstore.OpenSQLite(context.Background(), f.opts.profilePath, kvstore.Options{})
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, []string{theirs.ID}, overlay.New(store, nil).Hidden(context.Background(), "alice-bob"))
}

func TestChat_HiddenStaysHiddenAcrossRuns(t *testing.T) {
	f := setupChat(t)
	f.provider.SeedChannel("messaging", "alice-bob", "alice", "bob")
	f.provider.AddMessage("messaging", "alice-bob", "bob", "first")
	f.provider.AddMessage("messaging", "alice-bob", "bob", "second")

	f.run(t, "/hide 1", "/confirm", "/quit")
	out := f.run(t, "/quit")

	assert.NotContains(t, out, "first")
	assert.Contains(t, out, "1  bob: second")
}

func TestChat_DeleteOwnMessage(t *testing.T) {
	f := setupChat(t)
	f.provider.SeedChannel("messaging", "alice-bob", "alice", "bob")
	f.provider.AddMessage("messaging", "alice-bob", "alice", "oops")

	out := f.run(t, "/delete 1", "/confirm", "/quit")

	assert.Contains(t, out, "This will delete the message for everyone")
	assert.Contains(t, out, "[+] Message deleted for everyone")
	assert.Empty(t, f.provider.Messages("messaging", "alice-bob"))
}

func TestChat_DeleteOthersMessageRejected(t *testing.T) {
	f := setupChat(t)
	f.provider.SeedChannel("messaging", "alice-bob", "alice", "bob")
	f.provider.AddMessage("messaging", "alice-bob", "bob", "not yours")

	out := f.run(t, "/delete 1", "/confirm", "/quit")

	assert.Contains(t, out, "only the author can delete a message for everyone")
	assert.Contains(t, out, "no action is pending")
	assert.Len(t, f.provider.Messages("messaging", "alice-bob"), 1)
}

func TestChat_ClearChannel(t *testing.T) {
	f := setupChat(t)
	f.provider.SeedChannel("messaging", "alice-bob", "alice", "bob")
	f.provider.AddMessage("messaging", "alice-bob", "alice", "one")
	f.provider.AddMessage("messaging", "alice-bob", "bob", "two")

	out := f.run(t, "/clear", "/confirm", "/quit")

	assert.Contains(t, out, "Are you sure you want to clear all messages?")
	assert.Contains(t, out, "[+] Chat cleared successfully")
	assert.Empty(t, f.provider.Messages("messaging", "alice-bob"))
	assert.Equal(t, 1, f.provider.Truncations("messaging", "alice-bob"))
}

func TestChat_ClearFailureReported(t *testing.T) {
	f := setupChat(t)
	f.provider.SeedChannel("messaging", "alice-bob", "alice", "bob")
	f.provider.AddMessage("messaging", "alice-bob", "alice", "keep me")
	f.provider.FailNext("truncate", http.StatusInternalServerError, "boom")

	out := f.run(t, "/clear", "/confirm", "/quit")

	assert.Contains(t, out, "[!] Failed to clear chat")
	assert.Len(t, f.provider.Messages("messaging", "alice-bob"), 1)
}

func TestChat_CancelDropsAction(t *testing.T) {
	f := setupChat(t)
	f.provider.SeedChannel("messaging", "alice-bob", "alice", "bob")
	f.provider.AddMessage("messaging", "alice-bob", "alice", "stay")

	out := f.run(t, "/clear", "/cancel", "/confirm", "/quit")

	assert.Contains(t, out, "Cancelled")
	assert.Contains(t, out, "no action is pending")
	assert.Zero(t, f.provider.Truncations("messaging", "alice-bob"))
}

func TestChat_CallLink(t *testing.T) {
	f := setupChat(t)

	out := f.run(t, "/call", "/quit")

	assert.Contains(t, out, "[+] Video call link sent successfully!")
	msgs := f.provider.Messages("messaging", "alice-bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, "I've started a video call. Join me here: http://localhost:5173/call/alice-bob", msgs[0].Text)
}

func TestChat_BadInput(t *testing.T) {
	f := setupChat(t)

	out := f.run(t, "/hide", "/hide 7", "/bogus", "/quit")

	assert.Contains(t, out, "usage: /hide N or /delete N")
	assert.Contains(t, out, `no message "7", see /list`)
	assert.Contains(t, out, `Unknown command "/bogus"`)
}

func TestChat_ConnectFailure(t *testing.T) {
	f := setupChat(t)
	f.provider.FailNext("connect", http.StatusUnauthorized, "bad token")
	out := &syncBuffer{}

	err := runChat(context.Background(), f.opts, strings.NewReader("/quit\n"), out)

	require.Error(t, err)
	assert.Contains(t, out.String(), "[!] Could not connect to chat. Please try again.")
}

func TestChat_RequiresStreamKey(t *testing.T) {
	f := setupChat(t)
	f.opts.streamKey = ""

	err := runChat(context.Background(), f.opts, strings.NewReader(""), &syncBuffer{})

	assert.ErrorContains(t, err, "API key is required")
}

func TestTranscript_Apply(t *testing.T) {
	tr := newTranscript("messaging:a-b", []types.Message{{ID: "m1", Text: "hi"}})

	assert.True(t, tr.apply(types.Event{Type: types.EventMessageNew, CID: "messaging:a-b", Message: &types.Message{ID: "m2"}}))
	assert.False(t, tr.apply(types.Event{Type: types.EventMessageNew, CID: "messaging:a-b", Message: &types.Message{ID: "m2"}}), "duplicates are ignored")
	assert.False(t, tr.apply(types.Event{Type: types.EventMessageNew, CID: "messaging:other", Message: &types.Message{ID: "m3"}}), "other channels are ignored")
	assert.Len(t, tr.snapshot(), 2)

	assert.True(t, tr.apply(types.Event{Type: types.EventMessageDeleted, CID: "messaging:a-b", Message: &types.Message{ID: "m1"}}))
	require.Len(t, tr.snapshot(), 1)
	assert.Equal(t, "m2", tr.snapshot()[0].ID)

	assert.True(t, tr.apply(types.Event{Type: types.EventChannelTruncated, CID: "messaging:a-b"}))
	assert.Empty(t, tr.snapshot())
}

func TestRootCmd_RequiresUserAndTarget(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"--stream-key", "k"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()

	assert.ErrorContains(t, err, "required flag")
}
