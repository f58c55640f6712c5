package migration

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestGooseAdapterPrintf(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewGooseAdapter(zerolog.New(&buf))

	adapter.Printf("OK   %s (%s)\n", "00001_create_notifications.sql", "12ms")

	out := buf.String()
	if !strings.Contains(out, `"component":"goose"`) {
		t.Errorf("missing component field: %s", out)
	}
	if !strings.Contains(out, `OK   00001_create_notifications.sql (12ms)"`) {
		t.Errorf("message not trimmed or formatted: %s", out)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir("migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migrations")
	}
}
