package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEntry(event AuditEvent) AuditEntry {
	return newAuditEntry(event, "alice@example.com", "192.0.2.7:4321", "", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestWebhook_SuccessfulDelivery(t *testing.T) {
	var received AuditEntry
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	entry := testEntry(AuditLoginSuccess)
	wh := newAuditWebhook(srv.URL, "", discardLogger())
	wh.enqueue(entry)
	wh.close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, entry, received)
}

func TestWebhook_RetryOn500(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newAuditWebhook(srv.URL, "", discardLogger())
	wh.retryDelay = time.Millisecond
	wh.enqueue(testEntry(AuditLoginFailure))
	wh.close()

	assert.Equal(t, int32(2), attempts.Load(), "should have retried once after 500")
}

func TestWebhook_NoRetryOn400(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := newAuditWebhook(srv.URL, "", discardLogger())
	wh.retryDelay = time.Millisecond
	wh.enqueue(testEntry(AuditLoginFailure))
	wh.close()

	assert.Equal(t, int32(1), attempts.Load(), "should not retry on 4xx")
}

func TestWebhook_Headers(t *testing.T) {
	var gotAuth, gotContentType string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newAuditWebhook(srv.URL, "Authorization: Bearer my-token-123", discardLogger())
	wh.enqueue(testEntry(AuditLogout))
	wh.close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer my-token-123", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
}

func TestWebhook_QueueFullNonBlocking(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	wh := &auditWebhook{
		url:    srv.URL,
		client: &http.Client{Timeout: 100 * time.Millisecond},
		logger: discardLogger(),
		events: make(chan AuditEntry, 2),
	}
	wh.wg.Add(1)
	go wh.loop()

	done := make(chan struct{})
	go func() {
		for range 10 {
			wh.enqueue(testEntry(AuditCSRFRejected))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	close(wh.events)
}

func TestWebhook_GracefulShutdownDrains(t *testing.T) {
	var count atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newAuditWebhook(srv.URL, "", discardLogger())
	for range 5 {
		wh.enqueue(testEntry(AuditLoginSuccess))
	}
	wh.close()
	wh.close()

	assert.Equal(t, int32(5), count.Load(), "all queued events should be delivered on close")
}

func TestWebhook_FedByAuditLogger(t *testing.T) {
	var body []byte
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	al := newAuditLogger(discardLogger())
	al.webhook = newAuditWebhook(srv.URL, "", discardLogger())
	r := httptest.NewRequest(http.MethodPost, "/admin/api/login", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	al.logFailure(AuditCSRFRejected, r, "TRUSTED_ORIGIN_HEADER_MISMATCH")
	al.webhook.close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, body)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, "csrf_rejected", parsed["event"])
	assert.Equal(t, "10.0.0.1:5555", parsed["remote_addr"])
	assert.Equal(t, "TRUSTED_ORIGIN_HEADER_MISMATCH", parsed["reason"])
	assert.NotContains(t, parsed, "user")
	assert.NotEmpty(t, parsed["id"])
}
