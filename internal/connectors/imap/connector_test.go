package imap

import (
	"reflect"
	"testing"
	"time"
)

func TestBuildCriteria(t *testing.T) {
	after := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	criteria := buildCriteria("swiftprojects.io from:ontel.co", after)

	if got := criteria.Header.Get("From"); got != "ontel.co" {
		t.Fatalf("from=%q", got)
	}
	if len(criteria.Text) != 1 || criteria.Text[0] != "swiftprojects.io" {
		t.Fatalf("text=%v", criteria.Text)
	}
	// SINCE widened by a day, same as the Gmail after: bound.
	if want := after.AddDate(0, 0, -1); !criteria.Since.Equal(want) {
		t.Fatalf("since=%v", criteria.Since)
	}

	if criteria := buildCriteria("swiftprojects.io", time.Time{}); !criteria.Since.IsZero() {
		t.Fatalf("zero after set since=%v", criteria.Since)
	}
}

func TestNewestUIDs(t *testing.T) {
	uids := []uint32{10, 20, 30, 40}

	if got := newestUIDs(uids, 0); !reflect.DeepEqual(got, uids) {
		t.Fatalf("unbounded: %v", got)
	}
	if got := newestUIDs(uids, -1); !reflect.DeepEqual(got, uids) {
		t.Fatalf("negative: %v", got)
	}
	if got := newestUIDs(uids, 2); !reflect.DeepEqual(got, []uint32{30, 40}) {
		t.Fatalf("capped: %v", got)
	}
	if got := newestUIDs(uids, 10); !reflect.DeepEqual(got, uids) {
		t.Fatalf("oversized limit: %v", got)
	}
}
