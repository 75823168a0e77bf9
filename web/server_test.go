package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthanc/postcleaner/cleaner"
	"github.com/orthanc/postcleaner/guard"
)

type memoryStore struct {
	mu        sync.Mutex
	records   map[string]bool
	deleteErr error
}

func (store *memoryStore) GetRecord(ctx context.Context, repo string, collection string, rkey string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if !store.records[rkey] {
		return "", cleaner.ErrNotFound
	}
	return "bafy-" + rkey, nil
}

func (store *memoryStore) PutRecord(ctx context.Context, repo string, collection string, rkey string, payload cleaner.Payload, swapCID string) (string, error) {
	return "bafy-placeholder", nil
}

func (store *memoryStore) DeleteRecord(ctx context.Context, repo string, collection string, rkey string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.deleteErr != nil {
		return store.deleteErr
	}
	delete(store.records, rkey)
	return nil
}

type fixedActor cleaner.Actor

func (actor fixedActor) Actor() cleaner.Actor {
	return cleaner.Actor(actor)
}

var alice = fixedActor{Handle: "alice.example", DID: "did:plc:alice"}

func newTestServer(t *testing.T, postCleaner PostCleaner, actors ActorSource, busy *guard.Busy) *httptest.Server {
	t.Helper()
	server := NewServer(postCleaner, actors, busy, NewMetrics(), nil, func() string { return "attempt-1" })
	httpServer := httptest.NewServer(server.Routes())
	t.Cleanup(httpServer.Close)
	return httpServer
}

func postClean(t *testing.T, baseURL string, input string) (int, cleanResponse) {
	t.Helper()
	body, err := json.Marshal(cleanRequest{URL: input})
	require.NoError(t, err)
	res, err := http.Post(baseURL+"/api/clean", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer res.Body.Close()
	var response cleanResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&response))
	return res.StatusCode, response
}

func TestCleanOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		status  int
		outcome cleaner.Kind
		reason  string
	}{
		{"success", "https://bsky.app/profile/alice.example/post/abc123", http.StatusOK, cleaner.Success, ""},
		{"wrong domain", "https://example.com/profile/alice.example/post/abc123", http.StatusBadRequest, cleaner.ResolutionFailed, "wrong domain"},
		{"empty", "  ", http.StatusBadRequest, cleaner.ResolutionFailed, "empty input"},
		{"someone else", "at://did:plc:bob/app.bsky.feed.post/abc123", http.StatusForbidden, cleaner.OwnershipDenied, ""},
		{"missing", "at://did:plc:alice/app.bsky.feed.post/gone", http.StatusNotFound, cleaner.RecordNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{records: map[string]bool{"abc123": true}}
			postCleaner := cleaner.NewCleaner(store, cleaner.Config{VerifyExists: true}, nil)
			server := newTestServer(t, postCleaner, alice, guard.NewBusy())

			status, response := postClean(t, server.URL, tt.input)

			assert.Equal(t, tt.status, status)
			assert.Equal(t, string(tt.outcome), response.Outcome)
			assert.Equal(t, tt.reason, response.Reason)
			assert.Equal(t, "attempt-1", response.Attempt)
			assert.NotEmpty(t, response.Message)
		})
	}
}

func TestCleanDeleteFailureIsReportedAsOverwritten(t *testing.T) {
	store := &memoryStore{records: map[string]bool{"abc123": true}, deleteErr: errors.New("upstream timeout")}
	postCleaner := cleaner.NewCleaner(store, cleaner.Config{VerifyExists: true}, nil)
	server := newTestServer(t, postCleaner, alice, guard.NewBusy())

	status, response := postClean(t, server.URL, "https://bsky.app/profile/alice.example/post/abc123")

	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "delete", response.Stage)
	assert.True(t, response.Overwritten)
	assert.Equal(t, "upstream timeout", response.Detail)
	assert.Contains(t, response.Message, "overwritten")
	assert.Equal(t, "at://alice.example/app.bsky.feed.post/abc123", response.URI)
}

func TestCleanFormEncoded(t *testing.T) {
	store := &memoryStore{records: map[string]bool{"abc123": true}}
	server := newTestServer(t, cleaner.NewCleaner(store, cleaner.Config{VerifyExists: true}, nil), alice, guard.NewBusy())

	res, err := http.PostForm(server.URL+"/api/clean", url.Values{"url": {"at://did:plc:alice/app.bsky.feed.post/abc123"}})
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCleanRejectsWhileBusy(t *testing.T) {
	busy := guard.NewBusy()
	require.True(t, busy.TryAcquire())
	store := &memoryStore{records: map[string]bool{"abc123": true}}
	server := newTestServer(t, cleaner.NewCleaner(store, cleaner.Config{}, nil), alice, busy)

	res, err := http.Post(server.URL+"/api/clean", "application/json", strings.NewReader(`{"url":"at://did:plc:alice/app.bsky.feed.post/abc123"}`))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.True(t, store.records["abc123"])
}

func TestCleanReleasesGuard(t *testing.T) {
	busy := guard.NewBusy()
	store := &memoryStore{records: map[string]bool{}}
	server := newTestServer(t, cleaner.NewCleaner(store, cleaner.Config{VerifyExists: true}, nil), alice, busy)

	postClean(t, server.URL, "at://did:plc:alice/app.bsky.feed.post/abc123")

	assert.False(t, busy.Busy())
}

func TestCleanSignedOut(t *testing.T) {
	server := newTestServer(t, cleaner.NewCleaner(&memoryStore{}, cleaner.Config{}, nil), fixedActor{}, guard.NewBusy())

	res, err := http.Post(server.URL+"/api/clean", "application/json", strings.NewReader(`{"url":"x"}`))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestCleanBadBody(t *testing.T) {
	server := newTestServer(t, cleaner.NewCleaner(&memoryStore{}, cleaner.Config{}, nil), alice, guard.NewBusy())

	res, err := http.Post(server.URL+"/api/clean", "application/json", strings.NewReader(`{"url":`))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSessionAndPages(t *testing.T) {
	server := newTestServer(t, cleaner.NewCleaner(&memoryStore{}, cleaner.Config{}, nil), alice, guard.NewBusy())

	res, err := http.Get(server.URL + "/api/session")
	require.NoError(t, err)
	var session sessionResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&session))
	res.Body.Close()
	assert.Equal(t, sessionResponse{Handle: "alice.example", DID: "did:plc:alice"}, session)

	res, err = http.Get(server.URL + "/")
	require.NoError(t, err)
	page, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(page), `{"handle":"alice.example","did":"did:plc:alice"}`)
	assert.Contains(t, string(page), "width: 100%;")

	res, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestMetricsRecordOutcomes(t *testing.T) {
	store := &memoryStore{records: map[string]bool{"abc123": true}}
	server := newTestServer(t, cleaner.NewCleaner(store, cleaner.Config{VerifyExists: true}, nil), alice, guard.NewBusy())
	postClean(t, server.URL, "https://bsky.app/profile/alice.example/post/abc123")

	res, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(body), `postcleaner_outcomes_total{outcome="success",stage=""} 1`)
}

func TestCleanLogsFailuresAsWarnings(t *testing.T) {
	logs := &lockedBuffer{}
	store := &memoryStore{records: map[string]bool{}}
	server := NewServer(cleaner.NewCleaner(store, cleaner.Config{VerifyExists: true}, nil), alice, guard.NewBusy(), NewMetrics(), log.New(logs), func() string { return "attempt-1" })
	httpServer := httptest.NewServer(server.Routes())
	t.Cleanup(httpServer.Close)

	postClean(t, httpServer.URL, "at://did:plc:alice/app.bsky.feed.post/gone")

	assert.Contains(t, logs.String(), "WARN")
	assert.Contains(t, logs.String(), "[CLEAN-END]")
	assert.Contains(t, logs.String(), "record_not_found")
}

func TestStartServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartServer(ctx, "127.0.0.1:0", http.NotFoundHandler(), testLogger())
	}()
	cancel()
	assert.NoError(t, <-done)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (buffer *lockedBuffer) Write(p []byte) (int, error) {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	return buffer.buf.Write(p)
}

func (buffer *lockedBuffer) String() string {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	return buffer.buf.String()
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}
