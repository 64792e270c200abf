package events

import (
	"encoding/json"
	"testing"
)

func TestEmitRejectsUnknownEvent(t *testing.T) {
	Clear()
	if _, err := Emit("info", "node.started", "nope", nil); err == nil {
		t.Fatal("expected error for unknown event name")
	}
	if len(Snapshot()) != 0 {
		t.Error("rejected event should not reach the buffer")
	}
}

func TestEmitRecordsEvent(t *testing.T) {
	Clear()
	b, err := Emit("warn", "scenario.unreachable_steps", "unreachable", map[string]interface{}{
		"scenario_id": "MIN",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("invalid event json: %v", err)
	}
	if decoded.Name != "scenario.unreachable_steps" || decoded.Level != "warn" {
		t.Errorf("unexpected event: %+v", decoded)
	}

	snap := Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(snap))
	}
	if snap[0].Fields["scenario_id"] != "MIN" {
		t.Errorf("expected scenario_id field, got %v", snap[0].Fields)
	}
}

func TestSince(t *testing.T) {
	Clear()
	Emit("info", "pipeline.started", "a", nil)
	mark := Mark()
	Emit("info", "validation.passed", "b", nil)
	Emit("info", "pipeline.completed", "c", nil)

	since := Since(mark)
	if len(since) != 2 || since[0].Name != "validation.passed" {
		t.Errorf("expected 2 events after mark, got %+v", since)
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, name := range []string{"a", "b", "c", "d"} {
		rb.Add(Event{Name: name})
	}
	snap := rb.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 events, got %d", len(snap))
	}
	if snap[0].Name != "b" || snap[2].Name != "d" {
		t.Errorf("expected oldest-first b..d, got %s..%s", snap[0].Name, snap[2].Name)
	}

	if since := rb.Since(2); len(since) != 2 || since[0].Name != "c" {
		t.Errorf("expected c,d after mark 2, got %+v", since)
	}
	if since := rb.Since(0); len(since) != 3 {
		t.Errorf("expected overwritten events to be dropped, got %d", len(since))
	}

	rb.Clear()
	if len(rb.Snapshot()) != 0 {
		t.Error("expected empty buffer after Clear")
	}
}
