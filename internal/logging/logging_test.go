package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(Config{Format: "json"}, &buf)
	log.Info().Str("remote", "127.0.0.1:50000").Msg("connection accepted")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["message"] != "connection accepted" || entry["remote"] != "127.0.0.1:50000" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("missing timestamp")
	}
}

func TestNewWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(Config{Format: "console"}, &buf)
	log.Warn().Msg("slow handler")
	if out := buf.String(); !strings.Contains(out, "slow handler") || strings.HasPrefix(out, "{") {
		t.Fatalf("unexpected console output %q", out)
	}
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mbtcpd.log")
	log, closer, err := New(Config{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info().Msg("filtered")
	log.Error().Msg("kept")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "filtered") || !strings.Contains(string(data), "kept") {
		t.Fatalf("unexpected log file contents %q", data)
	}
}

func TestNewErrors(t *testing.T) {
	if _, _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
		t.Fatal("invalid level accepted")
	}
	cfg := Config{Level: "info", Format: "json", Output: filepath.Join(t.TempDir(), "missing", "x.log")}
	if _, _, err := New(cfg); err == nil {
		t.Fatal("unwritable output accepted")
	}
}
