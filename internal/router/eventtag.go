package router

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// An event announcement carries a tag of the form:
//
//	#event 2025-06-01 18:30 Community hall, 2nd floor
//
// The date/time is interpreted in the configured civil timezone.
var eventTagRE = regexp.MustCompile(`#event\s+(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2})\s+(.+)`)

var (
	// ErrNoTag means the text contains no #event tag at all.
	ErrNoTag = errors.New("no event tag")
	// ErrBadTag means a tag is present but unparseable or invalid; the
	// submitter gets usage feedback and nothing is persisted.
	ErrBadTag = errors.New("malformed event tag")
)

// ParseEventTag extracts the event time and location from a tagged message.
func ParseEventTag(text string, now time.Time, loc *time.Location) (time.Time, string, error) {
	if !strings.Contains(text, "#event") {
		return time.Time{}, "", ErrNoTag
	}
	m := eventTagRE.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, "", ErrBadTag
	}
	return parseEventArgs(m[1], m[2], strings.TrimSpace(m[3]), now, loc)
}

func parseEventArgs(date, clock, location string, now time.Time, loc *time.Location) (time.Time, string, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, "", ErrBadTag
	}
	if !t.After(now) {
		return time.Time{}, "", ErrBadTag
	}
	if location == "" {
		return time.Time{}, "", ErrBadTag
	}
	return t, location, nil
}
