package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("ledgerd", "test", Options{Output: &buf, Level: "debug"})
	logger.Debug("ledger.applied", slog.String("op", "create_survey"), MaskField("signature", "0xdeadbeef"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"service":   "ledgerd",
		"env":       "test",
		"message":   "ledger.applied",
		"severity":  "DEBUG",
		"op":        "create_survey",
		"signature": RedactedValue,
	} {
		if line[key] != want {
			t.Fatalf("%s: got %v, want %q", key, line[key], want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("ledgerd", "", Options{Output: &buf, Level: "warn"})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered, got %q", buf.String())
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unknown levels default to info")
	}
}

func TestFingerprintAndAllowlist(t *testing.T) {
	attr := Fingerprint("token", "0x0123456789abcdef0123")
	if attr.Value.String() != "0123…0123" {
		t.Fatalf("unexpected fingerprint %q", attr.Value.String())
	}
	if MaskField("surveyId", "s-1").Value.String() != "s-1" {
		t.Fatalf("survey ids are allowlisted")
	}
	if Fingerprint("sig", "abc").Value.String() != RedactedValue {
		t.Fatalf("short values are masked")
	}
	if len(RedactionAllowlist()) == 0 {
		t.Fatalf("allowlist should not be empty")
	}
}
