package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var buffer = NewRingBuffer(256)

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an allow-listed event in the ring buffer and logs it
// through the global zerolog logger. Returns the JSON form of the event.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	logEvent(e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

func logEvent(e Event) {
	lvl, err := zerolog.ParseLevel(e.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	ev := log.WithLevel(lvl).Str("event", e.Name)
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg(e.Message)
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// Mark returns a position to pass to Since.
func Mark() uint64 {
	return buffer.Total()
}

// Since returns the still-buffered events emitted after mark.
func Since(mark uint64) []Event {
	return buffer.Since(mark)
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
