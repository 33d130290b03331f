// Package webhook posts job and printer events to configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/metrics"
)

type Event string

const (
	EventJobStarted     Event = "job_started"
	EventJobBlocked     Event = "job_blocked"
	EventJobCompleted   Event = "job_completed"
	EventJobFailed      Event = "job_failed"
	EventJobCancelled   Event = "job_cancelled"
	EventPrinterAdded   Event = "printer_added"
	EventPrinterRemoved Event = "printer_removed"
)

type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type JobEventData struct {
	JobID     string `json:"job_id"`
	PrinterID string `json:"printer_id"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

type PrinterEventData struct {
	PrinterID string `json:"printer_id"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"address,omitempty"`
	Status    string `json:"status,omitempty"`
}

type Options struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type endpoint struct {
	url    string
	secret string
	events map[Event]bool
}

func (e endpoint) wants(ev Event) bool {
	return len(e.events) == 0 || e.events[ev]
}

type task struct {
	endpoint endpoint
	event    Event
	body     []byte
}

// Sender delivers events through a pool of workers. Enqueueing never blocks;
// when the queue is full the event is dropped.
type Sender struct {
	endpoints  []endpoint
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	logger     *zap.Logger
	metrics    *metrics.Metrics

	queue  chan *task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSender(hooks []config.WebhookConfig, opts Options, logger *zap.Logger, m *metrics.Metrics) *Sender {
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 3
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}

	endpoints := make([]endpoint, 0, len(hooks))
	for _, h := range hooks {
		ep := endpoint{url: h.URL, secret: h.Secret}
		if len(h.Events) > 0 {
			ep.events = make(map[Event]bool, len(h.Events))
			for _, ev := range h.Events {
				ep.events[Event(ev)] = true
			}
		}
		endpoints = append(endpoints, ep)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retryCount: opts.RetryCount,
		retryDelay: opts.RetryDelay,
		workers:    opts.WorkerCount,
		logger:     logger.Named("webhook"),
		metrics:    m,
		queue:      make(chan *task, opts.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop abandons queued deliveries and waits for the workers.
func (s *Sender) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// Enabled reports whether any endpoint is configured.
func (s *Sender) Enabled() bool {
	return len(s.endpoints) > 0
}

func (s *Sender) Send(event Event, data any) {
	if len(s.endpoints) == 0 {
		return
	}
	body, err := json.Marshal(&Payload{Event: string(event), Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		s.logger.Error("failed to marshal payload", zap.String("event", string(event)), zap.Error(err))
		return
	}

	for _, ep := range s.endpoints {
		if !ep.wants(event) {
			continue
		}
		select {
		case s.queue <- &task{endpoint: ep, event: event, body: body}:
		default:
			s.metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
			s.logger.Warn("queue full, dropping webhook", zap.String("url", ep.url), zap.String("event", string(event)))
		}
	}
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				s.metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
				s.logger.Warn("webhook delivery failed",
					zap.Int("worker", id), zap.String("url", t.endpoint.url), zap.String("event", string(t.event)), zap.Error(err))
				continue
			}
			s.metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	var lastErr error
	for attempt := 1; attempt <= s.retryCount; attempt++ {
		err := s.sendRequest(t)
		if err == nil {
			return nil
		}
		lastErr = err

		var herr *httpError
		if errors.As(err, &herr) && herr.clientError() {
			return err
		}

		if attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(attempt-1))
			s.logger.Debug("retrying webhook", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-s.ctx.Done():
				return fmt.Errorf("shutdown requested: %w", lastErr)
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) sendRequest(t *task) error {
	return Post(s.ctx, s.httpClient, t.endpoint.url, t.endpoint.secret, string(t.event), t.body, nil)
}

// Post delivers one signed payload. A response status of 400 or above is
// returned as an error.
func Post(ctx context.Context, client *http.Client, url, secret, event string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)
	if secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, secret))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &httpError{status: resp.StatusCode}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body, sent as X-Webhook-Signature.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type httpError struct {
	status int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http error: %d", e.status)
}

func (e *httpError) clientError() bool {
	return e.status >= 400 && e.status < 500
}
