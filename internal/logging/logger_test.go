package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := Init(tt.level, &buf); err != nil {
			t.Fatalf("Init(%q): unexpected error: %v", tt.level, err)
		}
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Errorf("Init(%q): expected level %s, got %s", tt.level, tt.want, got)
		}
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	if err := Init("chatty", nil); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestInitWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := Init("info", &buf); err != nil {
		t.Fatal(err)
	}
	log.Info().Str("event", "pipeline.started").Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected log output to contain message, got %q", buf.String())
	}
}
