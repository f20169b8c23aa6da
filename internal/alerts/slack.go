// Package alerts posts operator notifications to a Slack webhook: execution
// outcomes and stream failures that need a human.
package alerts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rajchodisetti/account-stream/internal/config"
	"github.com/Rajchodisetti/account-stream/internal/observ"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification
type Alert struct {
	Kind      string
	Severity  Severity
	AccountID string
	Title     string
	Detail    string
	Fields    map[string]string
	Timestamp time.Time
}

// Notifier accepts alerts without blocking the caller
type Notifier interface {
	Notify(a Alert)
}

// Nop discards alerts
type Nop struct{}

func (Nop) Notify(Alert) {}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields"`
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type queuedAlert struct {
	alert     Alert
	attempts  int
	nextRetry time.Time
}

type AlertMetrics struct {
	AlertsSentTotal    int64
	WebhookErrorsTotal int64
	RateLimitHitsTotal int64
	DedupedTotal       int64
	AlertQueueDropped  int64
}

// SlackClient delivers alerts from a bounded queue on one worker goroutine
type SlackClient struct {
	cfg         config.Slack
	httpClient  *http.Client
	queue       chan queuedAlert
	dedupeCache map[string]time.Time
	sentTimes   []time.Time
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	pending     atomic.Int64 // queued or in flight
	metrics     AlertMetrics
}

var _ Notifier = (*SlackClient)(nil)

const drainTimeout = 3 * time.Second

func NewSlackClient(cfg config.Slack) *SlackClient {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseMs <= 0 {
		cfg.RetryBaseMs = 1000
	}
	s := &SlackClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		queue:       make(chan queuedAlert, 100),
		dedupeCache: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *SlackClient) Notify(a Alert) {
	if !s.cfg.Enabled || s.cfg.WebhookURL == "" {
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	now := time.Now()
	hash := dedupeKey(a)
	s.mu.Lock()
	window := time.Duration(s.cfg.DedupeWindowSeconds) * time.Second
	if last, ok := s.dedupeCache[hash]; ok && now.Sub(last) < window {
		s.metrics.DedupedTotal++
		s.mu.Unlock()
		return
	}
	if s.rateLimitedLocked(now) && a.Severity != SeverityCritical {
		s.metrics.RateLimitHitsTotal++
		s.mu.Unlock()
		return
	}
	s.dedupeCache[hash] = now
	s.mu.Unlock()

	s.pending.Add(1)
	select {
	case s.queue <- queuedAlert{alert: a, nextRetry: now}:
	default:
		s.pending.Add(-1)
		s.mu.Lock()
		s.metrics.AlertQueueDropped++
		s.mu.Unlock()
		observ.Log("alert_dropped", map[string]any{"kind": a.Kind, "account_id": a.AccountID})
	}
}

func dedupeKey(a Alert) string {
	data := fmt.Sprintf("%s:%s:%s", a.Kind, a.AccountID, a.Title)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)[:16]
}

// rateLimitedLocked applies the global per-minute limit and records the send
func (s *SlackClient) rateLimitedLocked(now time.Time) bool {
	if s.cfg.RateLimitPerMin <= 0 {
		return false
	}
	cutoff := now.Add(-time.Minute)
	kept := s.sentTimes[:0]
	for _, t := range s.sentTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.sentTimes = kept
	if len(kept) >= s.cfg.RateLimitPerMin {
		return true
	}
	s.sentTimes = append(s.sentTimes, now)
	return false
}

func (s *SlackClient) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case q := <-s.queue:
			if wait := time.Until(q.nextRetry); wait > 0 {
				select {
				case <-time.After(wait):
				case <-s.ctx.Done():
					return
				}
			}
			err := s.sendWebhook(q.alert)
			if err == nil {
				s.mu.Lock()
				s.metrics.AlertsSentTotal++
				s.mu.Unlock()
				s.pending.Add(-1)
				continue
			}
			observ.Log("slack_webhook_failed", map[string]any{"kind": q.alert.Kind, "attempt": q.attempts + 1, "error": err})

			q.attempts++
			if q.attempts >= s.cfg.MaxAttempts {
				s.mu.Lock()
				s.metrics.WebhookErrorsTotal++
				s.mu.Unlock()
				s.pending.Add(-1)
				continue
			}
			// Exponential backoff with jitter
			backoff := time.Duration(s.cfg.RetryBaseMs) * time.Millisecond << (q.attempts - 1)
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			q.nextRetry = time.Now().Add(backoff + jitter)
			select {
			case s.queue <- q:
			default:
				s.pending.Add(-1)
				s.mu.Lock()
				s.metrics.AlertQueueDropped++
				s.mu.Unlock()
			}
		}
	}
}

func (s *SlackClient) sendWebhook(a Alert) error {
	payload, err := json.Marshal(formatMessage(s.cfg.Channel, a))
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode)
	}
	return nil
}

func formatMessage(channel string, a Alert) SlackMessage {
	emoji, color := "ℹ️", "good"
	switch a.Severity {
	case SeverityWarning:
		emoji, color = "⚠️", "warning"
	case SeverityCritical:
		emoji, color = "🚨", "danger"
	}

	fields := []SlackField{
		{Title: "Account", Value: a.AccountID, Short: true},
		{Title: "Time", Value: a.Timestamp.Format("15:04:05 MST"), Short: true},
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, SlackField{Title: k, Value: a.Fields[k], Short: true})
	}

	detail := a.Detail
	if len(detail) > 1500 {
		detail = detail[:1500] + "..."
	}
	return SlackMessage{
		Channel: channel,
		Text:    fmt.Sprintf("%s %s", emoji, a.Title),
		Attachments: []SlackAttachment{{
			Color:  color,
			Text:   detail,
			Fields: fields,
		}},
	}
}

// Close waits up to drainTimeout for pending alerts, then stops the worker.
func (s *SlackClient) Close() {
	deadline := time.Now().Add(drainTimeout)
	for s.pending.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.cancel()
	s.wg.Wait()
}

func (s *SlackClient) GetMetrics() AlertMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}
