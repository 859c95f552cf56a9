package events

import (
	"encoding/json"
	"testing"
)

func TestDecodePicksVariant(t *testing.T) {
	ev := NewStatusUpdate("book-1", "generating_images", "generating_images", 2, 5)
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	su, ok := decoded.(StatusUpdate)
	if !ok {
		t.Fatalf("decoded type = %T, want StatusUpdate", decoded)
	}
	if su.Book() != "book-1" || su.CompletedPages != 2 || su.TotalPages != 5 {
		t.Errorf("decoded = %+v, fields lost in round trip", su)
	}
}

func TestDecodeFailedPageCarriesError(t *testing.T) {
	data, err := json.Marshal(NewPageFailed("book-2", 3, "image generation failed"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	pc := decoded.(PageCompleted)
	if pc.PageNumber != 3 || pc.Error == "" || pc.ImageURL != "" {
		t.Errorf("failed page decoded as %+v", pc)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"mystery","book_id":"b"}`)); err == nil {
		t.Error("Decode() should reject unknown event types")
	}
}

func TestTerminal(t *testing.T) {
	if Terminal(NewStatusUpdate("b", "generating_text", "generating_text", 0, 3)) {
		t.Error("status_update should not be terminal")
	}
	if !Terminal(NewGenerationCompleted("b", 3, 3)) {
		t.Error("generation_completed should be terminal")
	}
	if !Terminal(NewGenerationFailed("b", "boom")) {
		t.Error("generation_failed should be terminal")
	}
	if Terminal(NewPing("b")) {
		t.Error("ping is a heartbeat, not a terminal event")
	}
}
