package services

import (
	"reflect"
	"testing"
	"time"
)

const sampleFeed = "BEGIN:VCALENDAR\r\n" +
	"PRODID:-//Airbnb Inc//Hosting Calendar 0.8.8//EN\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20250110\r\n" +
	"DTEND;VALUE=DATE:20250112\r\n" +
	"UID:abc123\r\n" +
	"SUMMARY:Reserved - Maria Silva\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseFeedWholeDayEvent(t *testing.T) {
	events := ParseFeed(sampleFeed)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.UID != "abc123" {
		t.Errorf("uid = %q", ev.UID)
	}
	if ev.Summary != "Reserved - Maria Silva" {
		t.Errorf("summary = %q", ev.Summary)
	}
	// Whole-day dates land on local noon UTC so timezone math cannot shift
	// the date.
	wantStart := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 1, 12, 12, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", ev.Start, wantStart)
	}
	if !ev.End.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", ev.End, wantEnd)
	}
}

func TestParseFeedTimestampForm(t *testing.T) {
	feed := "BEGIN:VEVENT\n" +
		"UID:xyz\n" +
		"DTSTART:20250203T140000Z\n" +
		"DTEND:20250205T110000\n" +
		"SUMMARY:Stay\n" +
		"END:VEVENT\n"

	events := ParseFeed(feed)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if got, want := events[0].Start, time.Date(2025, 2, 3, 14, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("start = %v, want %v", got, want)
	}
	// Without the Z suffix the timestamp is still treated as UTC.
	if got, want := events[0].End, time.Date(2025, 2, 5, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("end = %v, want %v", got, want)
	}
}

func TestParseFeedLineUnfolding(t *testing.T) {
	feed := "BEGIN:VEVENT\r\n" +
		"UID:folded1\r\n" +
		"DTSTART:20250110\r\n" +
		"DTEND:20250111\r\n" +
		"SUMMARY:Reserved - Joa\r\n" +
		" quim Pereira\r\n" +
		"DESCRIPTION:line one\\nline two\r\n" +
		"END:VEVENT\r\n"

	events := ParseFeed(feed)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Summary != "Reserved - Joaquim Pereira" {
		t.Errorf("unfolded summary = %q", events[0].Summary)
	}
	if events[0].Description != "line one\nline two" {
		t.Errorf("description = %q", events[0].Description)
	}
}

func TestParseFeedDropsMalformedEvents(t *testing.T) {
	feed := "BEGIN:VEVENT\n" + // no UID
		"DTSTART:20250110\nDTEND:20250112\nSUMMARY:No uid\nEND:VEVENT\n" +
		"BEGIN:VEVENT\n" + // no DTEND
		"UID:noend\nDTSTART:20250110\nSUMMARY:No end\nEND:VEVENT\n" +
		"BEGIN:VEVENT\n" + // garbage timestamp
		"UID:badtime\nDTSTART:tomorrow\nDTEND:20250112\nEND:VEVENT\n" +
		"BEGIN:VEVENT\n" + // fine
		"UID:good\nDTSTART:20250110\nDTEND:20250112\nEND:VEVENT\n"

	events := ParseFeed(feed)
	if len(events) != 1 {
		t.Fatalf("expected only the well-formed event, got %d", len(events))
	}
	if events[0].UID != "good" {
		t.Errorf("uid = %q", events[0].UID)
	}
}

func TestParseFeedIdempotent(t *testing.T) {
	first := ParseFeed(sampleFeed)
	second := ParseFeed(sampleFeed)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("parsing twice produced different sequences: %v vs %v", first, second)
	}
}

func TestGuestNameFromEvent(t *testing.T) {
	tests := []struct {
		name        string
		summary     string
		description string
		want        string
	}{
		{"reserved pattern", "Reserved - Maria Silva", "", "Maria Silva"},
		{"reserved pattern in description", "Booking", "Reserved - Ana Costa", "Ana Costa"},
		{"blocked marker", "Airbnb (Not available)", "", "Blocked"},
		{"blocked word", "blocked", "whatever", "Blocked"},
		{"short summary verbatim", "John Doe", "", "John Doe"},
		{"long summary falls back to description", "This is an extremely long summary line that goes well past the size cutoff for names", "Carlos", "Carlos"},
		{"empty everything", "", "", "Guest"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := GuestNameFromEvent(tc.summary, tc.description); got != tc.want {
				t.Errorf("GuestNameFromEvent(%q, %q) = %q, want %q", tc.summary, tc.description, got, tc.want)
			}
		})
	}
}
