package pipeline

import (
	"fmt"
	"testing"
	"time"

	"copharvest/internal"
)

func TestParseAllCoversWholeStore(t *testing.T) {
	db := openTestDB(t)
	received := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("m%d", i)
		if err := db.UpsertNormalizedEmail(internal.NormalizedEmail{
			MessageID:  id,
			Subject:    "COP " + id,
			ReceivedAt: received.Add(time.Duration(i) * time.Hour),
			HTMLBody:   "<p>plain</p>",
		}); err != nil {
			t.Fatal(err)
		}
	}

	svc := NewParseService(db, quietLogger())

	// Batch zero means no cap, so a reparse reaches every stored body
	// even when the store outgrows any fetch ceiling.
	result, err := svc.ParseAll(0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Parsed != 7 {
		t.Fatalf("parsed=%d", result.Parsed)
	}

	// A positive batch still caps the pass.
	result, err = svc.ParseAll(3)
	if err != nil {
		t.Fatal(err)
	}
	if result.Parsed != 3 {
		t.Fatalf("capped parsed=%d", result.Parsed)
	}
}
