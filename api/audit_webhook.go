package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// webhookQueueSize is the bounded channel capacity for outbound audit events.
const webhookQueueSize = 1024

// auditWebhook dispatches audit entries to an external HTTP endpoint.
// Entries are enqueued without blocking and sent by a background
// goroutine. When the queue is full, entries are dropped.
type auditWebhook struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	logger     *slog.Logger
	events     chan AuditEntry
	retryDelay time.Duration
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	w := &auditWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "audit_webhook"),
		events:     make(chan AuditEntry, webhookQueueSize),
		retryDelay: time.Second,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *auditWebhook) enqueue(entry AuditEntry) {
	select {
	case w.events <- entry:
	default:
		w.logger.Warn("queue full, dropping event", "event", entry.Event)
	}
}

// close stops accepting entries and waits for the queue to drain.
func (w *auditWebhook) close() {
	w.closeOnce.Do(func() {
		close(w.events)
	})
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for entry := range w.events {
		w.send(entry)
	}
}

// send POSTs the entry with one retry on transport errors and 5xx.
func (w *auditWebhook) send(entry AuditEntry) {
	body, err := json.Marshal(entry)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "mgmtd-audit-webhook/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("server error", "status", resp.StatusCode, "attempt", attempt+1)
		default:
			w.logger.Warn("client error", "status", resp.StatusCode)
			return
		}
	}
}
