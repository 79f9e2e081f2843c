package router

import (
	"errors"
	"testing"
	"time"
)

func TestParseEventTag(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		text     string
		wantErr  error
		wantTime time.Time
		wantLoc  string
	}{
		{
			name:     "plain tag",
			text:     "#event 2025-06-01 18:30 Community hall, 2nd floor",
			wantTime: time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC),
			wantLoc:  "Community hall, 2nd floor",
		},
		{
			name:     "tag embedded in prose",
			text:     "Save the date! #event 2025-06-01 18:30 Hall A\nSee you there.",
			wantTime: time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC),
			wantLoc:  "Hall A",
		},
		{
			name:    "no tag at all",
			text:    "just chatting",
			wantErr: ErrNoTag,
		},
		{
			name:    "missing clock",
			text:    "#event 2025-06-01 Hall",
			wantErr: ErrBadTag,
		},
		{
			name:    "impossible date",
			text:    "#event 2025-13-40 18:30 Hall",
			wantErr: ErrBadTag,
		},
		{
			name:    "past time",
			text:    "#event 2024-06-01 18:30 Hall",
			wantErr: ErrBadTag,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, loc, err := ParseEventTag(tc.text, now, time.UTC)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tc.wantTime) {
				t.Fatalf("time = %v, want %v", got, tc.wantTime)
			}
			if loc != tc.wantLoc {
				t.Fatalf("location = %q, want %q", loc, tc.wantLoc)
			}
		})
	}
}

func TestParseEventTagHonorsTimezone(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	eastern, err := time.LoadLocation("US/Eastern")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	got, _, err := ParseEventTag("#event 2025-06-01 18:30 Hall", now, eastern)
	if err != nil {
		t.Fatalf("ParseEventTag: %v", err)
	}
	want := time.Date(2025, 6, 1, 18, 30, 0, 0, eastern)
	if !got.Equal(want) {
		t.Fatalf("time = %v, want %v", got, want)
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		text string
		verb string
		rest string
	}{
		{"/addevent 2025-06-01 18:30 Hall", "/addevent", "2025-06-01 18:30 Hall"},
		{"/deleteevent", "/deleteevent", ""},
		{"/AddEvent@MyBot 2025-06-01 18:30 Hall", "/addevent", "2025-06-01 18:30 Hall"},
		{"/subscribe@MyBot", "/subscribe", ""},
	}
	for _, tc := range cases {
		verb, rest := splitCommand(tc.text)
		if verb != tc.verb || rest != tc.rest {
			t.Fatalf("splitCommand(%q) = %q, %q; want %q, %q", tc.text, verb, rest, tc.verb, tc.rest)
		}
	}
}
