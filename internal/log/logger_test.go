package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)
	var buf bytes.Buffer
	Setup(&buf, "prod", "warn", "groupchat-api")

	log.Info().Msg("dropped")
	log.Warn().Uint("room_id", 7).Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["service"] != "groupchat-api" || entry["env"] != "prod" || entry["message"] != "kept" || entry["room_id"] != float64(7) {
		t.Fatalf("entry = %v", entry)
	}
}
