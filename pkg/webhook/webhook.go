// Package webhook notifies a subscriber about journal and task changes.
// Events are queued as the API mutates state and posted, optionally signed,
// when flushed or as they happen.
package webhook

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Change event types.
const (
	JournalCreated = "journal.created"
	JournalUpdated = "journal.updated"
	JournalDeleted = "journal.deleted"
	TaskCreated    = "task.created"
	TaskUpdated    = "task.updated"
	TaskDeleted    = "task.deleted"
	TaskMerged     = "task.merged"
)

// EventHeader carries the event type on every delivery.
const EventHeader = "X-Taskjournal-Event"

// deliveryLogSize bounds the delivery history kept for inspection.
const deliveryLogSize = 500

// Signer produces the headers that let a receiver verify a payload.
type Signer interface {
	Sign(payload []byte, secret string) map[string]string
}

// Event is one change notification.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Collection returns the collection an event belongs to: "journals" or
// "tasks".
func (e Event) Collection() string {
	kind, _, _ := strings.Cut(e.Type, ".")
	return kind + "s"
}

// Delivery is one POST attempt for an event.
type Delivery struct {
	EventID    string    `json:"event_id"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	Timestamp  time.Time `json:"timestamp"`
}

func (d Delivery) ok() bool {
	return d.Error == "" && d.StatusCode >= 200 && d.StatusCode < 300
}

// Config configures a Dispatcher. Zero values get defaults: three attempts
// one second apart, slog.Default and time.Now.
type Config struct {
	URL         string
	Secret      string
	Signer      Signer // defaults to HMAC when Secret is set
	Logger      *slog.Logger
	MaxRetries  int
	RetryDelay  time.Duration
	Now         func() time.Time
	AutoDeliver bool // post each event in the background as it is queued
}

// Dispatcher queues change events and posts them to a single subscriber URL.
type Dispatcher struct {
	maxRetries  int
	retryDelay  time.Duration
	autoDeliver bool
	logger      *slog.Logger
	client      *http.Client
	now         func() time.Time

	mu         sync.RWMutex
	url        string
	secret     string
	signer     Signer
	entropy    io.Reader
	queue      []Event
	deliveries []Delivery
}

// NewDispatcher creates a Dispatcher from cfg.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		autoDeliver: cfg.AutoDeliver,
		logger:      cfg.Logger,
		client:      &http.Client{Timeout: 30 * time.Second},
		now:         cfg.Now,
		url:         cfg.URL,
		secret:      cfg.Secret,
		signer:      cfg.Signer,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
	if d.maxRetries <= 0 {
		d.maxRetries = 3
	}
	if d.retryDelay <= 0 {
		d.retryDelay = time.Second
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.signer == nil && d.secret != "" {
		d.signer = NewHMACSigner()
	}
	return d
}

// SetURL changes the subscriber URL. An empty URL disables delivery; queued
// events are then dropped on flush.
func (d *Dispatcher) SetURL(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
}

// URL returns the subscriber URL.
func (d *Dispatcher) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// Enqueue queues an event and returns it. Ids are "evt_" plus a ULID taken
// from the dispatcher clock, so they sort in creation order.
func (d *Dispatcher) Enqueue(eventType string, data any) Event {
	d.mu.Lock()
	at := d.now()
	id, err := ulid.New(ulid.Timestamp(at), d.entropy)
	if err != nil {
		id = ulid.Make()
	}
	evt := Event{ID: "evt_" + id.String(), Type: eventType, Data: data, CreatedAt: at}
	d.queue = append(d.queue, evt)
	d.mu.Unlock()

	if d.autoDeliver {
		go func() {
			if err := d.deliver(context.Background(), evt); err != nil {
				d.logger.Debug("background webhook delivery failed", "event_id", evt.ID, "err", err)
			}
		}()
	}
	return evt
}

// Flush posts the events queued at the time of the call, in order, and
// removes them from the queue whether or not they were accepted. Events
// queued during the flush wait for the next one. The returned error joins
// every event that could not be delivered.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.RLock()
	batch := append([]Event(nil), d.queue...)
	d.mu.RUnlock()

	var errs []error
	for _, evt := range batch {
		if err := d.deliver(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", evt.ID, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	d.mu.Lock()
	if n := min(len(batch), len(d.queue)); n > 0 {
		d.queue = append(d.queue[:0], d.queue[n:]...)
	}
	d.mu.Unlock()
	return errors.Join(errs...)
}

// FlushWebhooks flushes with a background context. It satisfies the admin
// flusher interface.
func (d *Dispatcher) FlushWebhooks() error {
	return d.Flush(context.Background())
}

// deliver posts evt until the subscriber accepts it or attempts run out.
func (d *Dispatcher) deliver(ctx context.Context, evt Event) error {
	d.mu.RLock()
	url, secret, signer := d.url, d.secret, d.signer
	d.mu.RUnlock()
	if url == "" {
		d.logger.Debug("webhook url not set, dropping event", "event_id", evt.ID, "type", evt.Type)
		return nil
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	var headers map[string]string
	if signer != nil && secret != "" {
		headers = signer.Sign(payload, secret)
	}

	var last Delivery
	for attempt := 1; ; attempt++ {
		last = d.post(ctx, url, evt, payload, headers)
		last.Attempt = attempt
		d.record(last)
		if last.ok() {
			return nil
		}
		if attempt == d.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.retryDelay):
		}
	}

	d.logger.Warn("webhook delivery gave up",
		"event_id", evt.ID,
		"type", evt.Type,
		"attempts", d.maxRetries,
		"status", last.StatusCode,
		"err", last.Error,
	)
	if last.Error != "" {
		return errors.New(last.Error)
	}
	return fmt.Errorf("subscriber responded %d", last.StatusCode)
}

// post makes a single delivery attempt.
func (d *Dispatcher) post(ctx context.Context, url string, evt Event, payload []byte, headers map[string]string) Delivery {
	rec := Delivery{EventID: evt.ID, URL: url, Timestamp: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, evt.Type)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	rec.StatusCode = resp.StatusCode
	return rec
}

func (d *Dispatcher) record(rec Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.deliveries) == deliveryLogSize {
		d.deliveries = append(d.deliveries[:0], d.deliveries[1:]...)
	}
	d.deliveries = append(d.deliveries, rec)
}

// Deliveries returns the recorded attempts, oldest first.
func (d *Dispatcher) Deliveries() []Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Delivery(nil), d.deliveries...)
}

// QueuedEvents returns the events waiting for a flush.
func (d *Dispatcher) QueuedEvents() []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Event(nil), d.queue...)
}

// Reset drops queued events and the delivery history.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = nil
	d.deliveries = nil
}
