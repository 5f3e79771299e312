package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config contains configuration for the audit recorder.
type Config struct {
	// Enabled enables audit recording.
	Enabled bool

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout is the timeout for writing an event to storage.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// Actor is recorded on events that have no explicit actor.
	// Default: "system"
	Actor string
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
		Actor:        "system",
	}
}

// Recorder writes audit events asynchronously to a Store.
// It implements the registry's EventRecorder interface.
type Recorder struct {
	store     Store
	config    *Config
	eventChan chan *Event
	dropped   atomic.Int64
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewRecorder creates an audit recorder backed by store and starts its
// background writer.
func NewRecorder(store Store, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.Actor == "" {
		config.Actor = "system"
	}

	r := &Recorder{
		store:     store,
		config:    config,
		eventChan: make(chan *Event, config.AsyncBuffer),
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "audit.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// RecordEvent enqueues an event for asynchronous persistence. It never
// blocks: when the buffer is full the event is dropped and counted.
func (r *Recorder) RecordEvent(ctx context.Context, eventType string, serverID int64, fields map[string]string) {
	if !r.config.Enabled {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		ServerID:  serverID,
		Actor:     r.config.Actor,
		Fields:    fields,
		Timestamp: time.Now(),
	}

	select {
	case r.eventChan <- event:
	default:
		dropped := r.dropped.Add(1)
		r.logger.Warn("audit buffer full, event dropped",
			"event_type", eventType,
			"dropped_total", dropped,
		)
	}
}

// RecordEventAs is RecordEvent with an explicit actor, used by the admin CLI
// to attribute mutations to the administrator key that performed them.
func (r *Recorder) RecordEventAs(ctx context.Context, actor, eventType string, serverID int64, fields map[string]string) {
	if !r.config.Enabled {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		ServerID:  serverID,
		Actor:     actor,
		Fields:    fields,
		Timestamp: time.Now(),
	}

	select {
	case r.eventChan <- event:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close drains pending events and stops the background writer.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
	return nil
}

// worker drains the event channel into the store.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case event := <-r.eventChan:
			r.write(event)
		case <-r.done:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case event := <-r.eventChan:
					r.write(event)
				default:
					return
				}
			}
		}
	}
}

// write persists one event, logging on failure.
func (r *Recorder) write(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.store.Append(ctx, event); err != nil {
		r.logger.Error("failed to write audit event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}
}
