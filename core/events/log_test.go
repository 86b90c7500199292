package events

import (
	"testing"

	"surveyledger/core/types"
)

type typedEvent struct{ evt *types.Event }

func (e typedEvent) EventType() string    { return e.evt.Type }
func (e typedEvent) Event() *types.Event { return e.evt }

type countingSink struct{ seen []string }

func (c *countingSink) Emit(evt Event) { c.seen = append(c.seen, evt.EventType()) }

func TestLogAppendsAndFansOut(t *testing.T) {
	log := NewLog()
	sink := &countingSink{}
	log.Subscribe(sink)
	log.Subscribe(nil)

	log.Emit(typedEvent{evt: &types.Event{Type: "a", Attributes: map[string]string{"k": "v"}}})
	log.Emit(typedEvent{evt: &types.Event{Type: "b"}})
	log.Emit(nil)

	if log.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", log.Len())
	}
	records := log.Since(1)
	if len(records) != 1 || records[0].Sequence != 2 || records[0].Event.Type != "b" {
		t.Fatalf("unexpected records %+v", records)
	}
	if len(log.Since(5)) != 0 {
		t.Fatalf("expected empty tail")
	}
	if len(sink.seen) != 2 || sink.seen[0] != "a" {
		t.Fatalf("sink saw %v", sink.seen)
	}
}

func TestBufferFlushAndReset(t *testing.T) {
	var buf Buffer
	sink := &countingSink{}
	buf.Emit(typedEvent{evt: &types.Event{Type: "dropped"}})
	buf.Reset()
	buf.Emit(typedEvent{evt: &types.Event{Type: "kept"}})
	buf.Flush(sink)
	buf.Flush(sink)
	if len(sink.seen) != 1 || sink.seen[0] != "kept" {
		t.Fatalf("unexpected flush result %v", sink.seen)
	}
}
