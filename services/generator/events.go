package generator

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"thermobaric/pkg/metrics"
)

// EventKind names a step in a generation.
type EventKind string

const (
	EventStarted        EventKind = "started"
	EventEntryWritten   EventKind = "entry_written"
	EventLevelCompleted EventKind = "level_completed"
	EventAdvisory       EventKind = "advisory"
	EventCompleted      EventKind = "completed"
	EventFailed         EventKind = "failed"
)

// Advisory kinds carried by EventAdvisory.
const (
	AdvisoryPayloadSize   = "payload_size"
	AdvisoryAggregateSize = "aggregate_size"
	AdvisoryFreeSpace     = "free_space"
)

// Event is one observation emitted during a generation.
type Event struct {
	Invocation  string    `json:"invocation"`
	Kind        EventKind `json:"kind"`
	Strategy    Strategy  `json:"strategy"`
	Path        string    `json:"path,omitempty"`
	Entry       string    `json:"entry,omitempty"`
	Level       int       `json:"level,omitempty"`
	Bytes       uint64    `json:"bytes,omitempty"`
	ArchiveSize int64     `json:"archive_size,omitempty"`
	Advisory    string    `json:"advisory,omitempty"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`

	Err error `json:"-"`
}

// Observer receives generation events. Observe must not block for long;
// the engine calls it inline.
type Observer interface {
	Observe(ctx context.Context, evt Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, evt Event)

func (f ObserverFunc) Observe(ctx context.Context, evt Event) {
	f(ctx, evt)
}

// Observers fans an event out to every non-nil observer in order.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, evt Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, evt)
		}
	}
}

type discard struct{}

func (discard) Observe(context.Context, Event) {}

// LogObserver renders events as leveled log lines.
func LogObserver(logger *log.Logger) Observer {
	return ObserverFunc(func(_ context.Context, evt Event) {
		switch evt.Kind {
		case EventStarted:
			if evt.Strategy == Slip {
				logger.Printf("INFO generating %s archive %s", evt.Strategy, evt.Path)
				return
			}
			logger.Printf("INFO generating %s archive %s from %d bytes of material", evt.Strategy, evt.Path, evt.Bytes)
		case EventEntryWritten:
			logger.Printf("INFO wrote entry %q (%d bytes)", evt.Entry, evt.Bytes)
		case EventLevelCompleted:
			logger.Printf("INFO completed nesting level %d", evt.Level)
		case EventAdvisory:
			logger.Printf("WARN %s", evt.Message)
		case EventCompleted:
			logger.Printf("INFO archive %s created (%d bytes on disk, %d bytes expanded)", evt.Path, evt.ArchiveSize, evt.Bytes)
		case EventFailed:
			logger.Printf("ERROR %s generation of %s failed: %v", evt.Strategy, evt.Path, evt.Err)
		}
	})
}

// Publisher publishes a JSON-encodable event of a kind. msgID identifies the
// event for broker-side deduplication.
type Publisher interface {
	Publish(ctx context.Context, kind, msgID string, v any) error
}

// BusObserver publishes every event except per-entry progress. Publish
// failures go to onError, which may be nil.
func BusObserver(pub Publisher, onError func(error)) Observer {
	return ObserverFunc(func(ctx context.Context, evt Event) {
		if evt.Kind == EventEntryWritten {
			return
		}
		if err := pub.Publish(ctx, string(evt.Kind), eventID(evt), evt); err != nil && onError != nil {
			onError(err)
		}
	})
}

// eventID is unique per event within an invocation: levels and advisories
// each occur at most once per generation.
func eventID(evt Event) string {
	id := evt.Invocation + "/" + string(evt.Kind)
	switch evt.Kind {
	case EventLevelCompleted:
		id += "/" + strconv.Itoa(evt.Level)
	case EventAdvisory:
		id += "/" + evt.Advisory
	}
	return id
}

// MetricsObserver feeds a prometheus recorder.
func MetricsObserver(rec *metrics.Recorder) Observer {
	return &metricsObserver{rec: rec, started: make(map[string]time.Time)}
}

type metricsObserver struct {
	rec *metrics.Recorder

	mu      sync.Mutex
	started map[string]time.Time
}

func (m *metricsObserver) Observe(_ context.Context, evt Event) {
	label := evt.Strategy.String()
	switch evt.Kind {
	case EventStarted:
		m.mu.Lock()
		m.started[evt.Invocation] = evt.Time
		m.mu.Unlock()
	case EventEntryWritten:
		m.rec.EntryWritten(label)
	case EventAdvisory:
		m.rec.Advisory(label)
	case EventCompleted:
		m.rec.Completed(label, evt.Bytes, evt.ArchiveSize, evt.Time.Sub(m.take(evt.Invocation, evt.Time)))
	case EventFailed:
		m.take(evt.Invocation, evt.Time)
		m.rec.Failed(label)
	}
}

func (m *metricsObserver) take(id string, fallback time.Time) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, ok := m.started[id]
	if !ok {
		return fallback
	}
	delete(m.started, id)
	return start
}
