// Package render produces the HTML message bodies sent to chats.
package render

import (
	"fmt"
	"html"
	"strings"
	"time"

	"concierge/internal/store"
)

// Mention renders an HTML mention: @username when available, otherwise a
// tg://user deep link on the first name.
func Mention(m store.Member) string {
	if m.Username != "" {
		return "@" + m.Username
	}
	name := m.FirstName
	if name == "" {
		name = fmt.Sprintf("member %d", m.UserID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, m.UserID, html.EscapeString(name))
}

// MentionList joins mentions for a batch of members.
func MentionList(members []store.Member) string {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		parts = append(parts, Mention(m))
	}
	return strings.Join(parts, ", ")
}

// Welcome greets one or more newly joined members.
func Welcome(members []store.Member) string {
	return fmt.Sprintf(
		"Welcome, %s! 👋\n\nWe're glad to have you here!\n\n"+
			"Please take a moment to read our group rules and guidelines.",
		MentionList(members),
	)
}

// IntroNudge pokes members who joined a while ago but never posted.
func IntroNudge(members []store.Member) string {
	return fmt.Sprintf(
		"Hey %s! It's been a few days since you joined our group.\n\n"+
			"We noticed you haven't said anything yet. Feel free to introduce "+
			"yourselves and join our discussions! We'd love to hear from you.",
		MentionList(members),
	)
}

// IntroFollowup is the second check-in for members still silent about a
// week after joining.
func IntroFollowup(members []store.Member) string {
	return fmt.Sprintf(
		"Hello again %s! Just checking in as it's been almost a week since "+
			"you joined.\n\nWe still haven't heard from you. If there's anything "+
			"you'd like to ask or share, the group is all ears!",
		MentionList(members),
	)
}

// EventReminder announces an upcoming event at the given lead offset.
func EventReminder(ev store.Event, offset time.Duration, loc *time.Location) string {
	var lead string
	if days := int(offset.Hours() / 24); days > 0 {
		lead = fmt.Sprintf("%d day(s) left!", days)
	} else if offset > 0 {
		lead = fmt.Sprintf("%s left!", offset)
	} else {
		lead = "today!"
	}
	return fmt.Sprintf(
		"⏰ <b>Event Reminder</b>: %s\n\n📅 <b>Date:</b> %s\n📍 <b>Location:</b> %s",
		lead,
		ev.EventTime.In(loc).Format("2006-01-02 15:04"),
		html.EscapeString(ev.Location),
	)
}

// Cancellation tells a subscriber that a tracked event was withdrawn.
func Cancellation(ev store.Event, loc *time.Location) string {
	return fmt.Sprintf(
		"🗑 The event scheduled for <b>%s</b> at <b>%s</b> has been cancelled "+
			"(its announcement message no longer exists).",
		ev.EventTime.In(loc).Format("2006-01-02 15:04"),
		html.EscapeString(ev.Location),
	)
}
