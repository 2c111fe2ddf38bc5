package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	return entry
}

func TestInfoCarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	ctx := logg.WithCartID(context.Background(), "cart-123")
	ctx = logg.WithField(ctx, "op", "set")
	logg.Info(ctx, "cart.mutated")

	entry := decodeLine(t, &buf)
	if entry["cart_id"] != "cart-123" {
		t.Fatalf("expected cart_id field, got %v", entry)
	}
	if entry["op"] != "set" {
		t.Fatalf("expected op field, got %v", entry)
	}
	if entry["service"] != "test" {
		t.Fatalf("expected service field, got %v", entry)
	}
}

func TestErrorIncludesStack(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "test", Output: &buf})

	logg.Error(context.Background(), "boom", errors.New("kaput"))

	entry := decodeLine(t, &buf)
	if entry["error"] != "kaput" {
		t.Fatalf("expected error field, got %v", entry)
	}
	if _, ok := entry["stack"]; !ok {
		t.Fatal("expected stack field on error logs")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zerolog.DebugLevel {
		t.Fatal("expected debug level")
	}
	if ParseLevel("") != zerolog.InfoLevel {
		t.Fatal("expected info fallback for empty level")
	}
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Fatal("expected info fallback for unknown level")
	}
}
