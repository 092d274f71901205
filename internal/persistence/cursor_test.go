package persistence

import (
	"testing"
	"time"

	"example.com/wearable/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := &domain.Cursor{
		StartTime: time.Date(2024, time.June, 18, 7, 30, 0, 0, time.UTC),
		ID:        "act-42",
	}

	token := EncodeCursor(cursor)
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	decoded, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.StartTime.Equal(cursor.StartTime) {
		t.Fatalf("start time mismatch: %v", decoded.StartTime)
	}
	if decoded.ID != cursor.ID {
		t.Fatalf("id mismatch: %s", decoded.ID)
	}
}

func TestEncodeNilCursor(t *testing.T) {
	if token := EncodeCursor(nil); token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}
}

func TestDecodeEmptyToken(t *testing.T) {
	cursor, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cursor != nil {
		t.Fatalf("expected nil cursor, got %+v", cursor)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("not-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := DecodeCursor("bm8tc2VwYXJhdG9y"); err == nil {
		t.Fatal("expected error for missing separator")
	}
}
