// Package events carries progress and result notifications from long-running
// operations to whoever is presenting them.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names the type of an event.
type Kind string

const (
	KindFound   Kind = "found"
	KindCurrent Kind = "current"
	KindDeleted Kind = "deleted"
	KindSkipped Kind = "skipped"
	KindSummary Kind = "summary"
)

// Stages that raise skip events.
const (
	StageScan    = "scan"
	StageBackup  = "backup"
	StageDelete  = "delete"
	StageRestore = "restore"
)

// Summary is the final report of a scan or cleanup run.
type Summary struct {
	FilesFound      int
	BytesFound      int64
	FilesDeleted    int
	BytesFreed      int64
	Total           int
	Skipped         int
	Archive         string
	ArchivesRemoved int // dropped by the retention sweep
	DryRun          bool
	Cancelled       bool
}

// Event is one progress notification. Counter fields hold running totals at
// the time the event was emitted. Stage names the step that raised a skip.
// Size is the size of the file a found or deleted event refers to.
type Event struct {
	Kind         Kind
	Stage        string
	Path         string
	Size         int64
	Reason       string
	FilesFound   int
	BytesFound   int64
	FilesDeleted int
	Total        int
	Percent      float64
	Summary      *Summary
	Time         time.Time
}

// Sink receives events. Emit must not block the caller for long; sinks that
// cannot keep up drop events rather than stall the producer.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order. Nil sinks are ignored.
func Multi(sinks ...Sink) Sink {
	var out []Sink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Discard
	case 1:
		return out[0]
	}
	return SinkFunc(func(e Event) {
		for _, s := range out {
			s.Emit(e)
		}
	})
}

// Log writes events to l. Per-file progress goes to debug, skips to warn and
// summaries to info.
func Log(l *zap.Logger) Sink {
	if l == nil {
		return Discard
	}
	return SinkFunc(func(e Event) {
		switch e.Kind {
		case KindSkipped:
			l.Warn("skipped file",
				zap.String("stage", e.Stage),
				zap.String("path", e.Path),
				zap.String("reason", e.Reason))
		case KindSummary:
			if s := e.Summary; s != nil {
				l.Info("run finished",
					zap.Int("files_found", s.FilesFound),
					zap.Int64("bytes_found", s.BytesFound),
					zap.Int("files_deleted", s.FilesDeleted),
					zap.Int("total", s.Total),
					zap.Int("skipped", s.Skipped),
					zap.String("archive", s.Archive),
					zap.Bool("dry_run", s.DryRun),
					zap.Bool("cancelled", s.Cancelled))
			}
		default:
			l.Debug("progress",
				zap.String("kind", string(e.Kind)),
				zap.String("path", e.Path),
				zap.Int("files_found", e.FilesFound),
				zap.Int("files_deleted", e.FilesDeleted),
				zap.Float64("percent", e.Percent))
		}
	})
}

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 64

// Broadcaster fans events out to subscriber channels.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a subscriber and returns its channel. The caller must call
// Unsubscribe when done unless the broadcaster is closed first.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Emit sends an event to all subscribers. Non-blocking: drops events for
// slow consumers.
func (b *Broadcaster) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. Later Emits are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
	}
	clear(b.subscribers)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
