package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Plabrum/arive/internal/store"
)

// Event is one low-priority telemetry record. Unlike action logs these are
// best effort; losing a batch on crash is acceptable.
type Event struct {
	EventType  string
	Component  string
	Action     string
	ObjectType string
	RecordID   int64
	UserID     int64
	DurationMs int64
	Status     string
	Metadata   map[string]any
}

// EventBuffer collects events in memory and periodically flushes them to
// the events table in a batch insert.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	store   *store.Store
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
}

// NewEventBuffer creates a buffer that flushes on a timer or when full.
func NewEventBuffer(s *store.Store, maxSize int, flushInterval time.Duration) *EventBuffer {
	eb := &EventBuffer{
		store:   s,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	eb.ticker = time.NewTicker(flushInterval)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush()
		}
	}
}

// Enqueue adds an event to the buffer. A full buffer triggers an
// asynchronous flush.
func (eb *EventBuffer) Enqueue(event Event) {
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	shouldFlush := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if shouldFlush {
		go eb.Flush()
	}
}

// Flush writes all buffered events in a single batch insert.
func (eb *EventBuffer) Flush() {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	ctx := context.Background()
	pb := eb.store.Dialect.NewParamBuilder()
	var rows []string
	for _, e := range batch {
		var metaJSON any
		if e.Metadata != nil {
			b, _ := json.Marshal(e.Metadata)
			metaJSON = string(b)
		}
		var recordID, userID, durationMs any
		if e.RecordID != 0 {
			recordID = e.RecordID
		}
		if e.UserID != 0 {
			userID = e.UserID
		}
		if e.DurationMs != 0 {
			durationMs = e.DurationMs
		}
		rows = append(rows, fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s, %s, %s)",
			pb.Add(e.EventType), pb.Add(e.Component), pb.Add(e.Action),
			pb.Add(e.ObjectType), pb.Add(recordID), pb.Add(userID),
			pb.Add(durationMs), pb.Add(e.Status), pb.Add(metaJSON)))
	}

	sql := fmt.Sprintf(
		`INSERT INTO events
		 (event_type, component, action, object_type, record_id, user_id, duration_ms, status, metadata)
		 VALUES %s`, strings.Join(rows, ","))
	if _, err := store.Exec(ctx, eb.store.DB, sql, pb.Params()...); err != nil {
		slog.Error("event buffer flush", "count", len(batch), "error", err)
	}
}

// Stop halts the background ticker and flushes remaining events.
func (eb *EventBuffer) Stop() {
	if eb.ticker != nil {
		eb.ticker.Stop()
	}
	close(eb.done)
	eb.Flush()
}
