package events

import (
	"sync"

	"surveyledger/core/types"
)

// Record is an event as stored in the append-only log.
type Record struct {
	Sequence uint64
	Event    *types.Event
}

// payload is implemented by module envelopes that carry a typed event.
type payload interface {
	Event() *types.Event
}

// Log is an append-only, in-memory event log. It forwards every appended
// event to registered sinks in order.
type Log struct {
	mu      sync.RWMutex
	records []Record
	sinks   []Emitter
}

// NewLog returns an empty log.
func NewLog() *Log { return &Log{} }

// Subscribe registers a downstream emitter (indexer, metrics, websocket).
func (l *Log) Subscribe(sink Emitter) {
	if sink == nil {
		return
	}
	l.mu.Lock()
	l.sinks = append(l.sinks, sink)
	l.mu.Unlock()
}

// Emit implements Emitter. Events that do not expose a typed payload are
// recorded with their type only.
func (l *Log) Emit(evt Event) {
	if evt == nil {
		return
	}
	var typed *types.Event
	if p, ok := evt.(payload); ok {
		typed = p.Event()
	}
	if typed == nil {
		typed = &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	}
	l.mu.Lock()
	l.records = append(l.records, Record{Sequence: uint64(len(l.records)) + 1, Event: typed})
	sinks := append([]Emitter(nil), l.sinks...)
	l.mu.Unlock()
	for _, sink := range sinks {
		sink.Emit(evt)
	}
}

// Since returns the records with a sequence number greater than seq.
func (l *Log) Since(seq uint64) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq >= uint64(len(l.records)) {
		return []Record{}
	}
	out := make([]Record, len(l.records)-int(seq))
	copy(out, l.records[seq:])
	return out
}

// Len reports the number of recorded events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Buffer holds events until Flush forwards them to the target emitter. Native
// engines use it so events of a rolled back operation are never published.
type Buffer struct {
	pending []Event
}

// Emit implements Emitter.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Flush forwards buffered events in order and empties the buffer.
func (b *Buffer) Flush(target Emitter) {
	if target == nil {
		target = NoopEmitter{}
	}
	for _, evt := range b.pending {
		target.Emit(evt)
	}
	b.pending = nil
}

// Reset drops buffered events.
func (b *Buffer) Reset() { b.pending = nil }
