package store

import (
	"time"
)

// Member is one (chat, user) pair the bot has observed.
//
// HasPosted, Welcomed and the intro-nudge flags are monotonic one-way
// flags: they go false->true and never revert. Members are never physically
// deleted (kept for audit and idempotency).
type Member struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	JoinTime  time.Time

	HasPosted         bool
	Welcomed          bool
	IntroReminderSent bool
	IntroFollowupSent bool
	Subscribed        bool
}

// Event is one scheduled occasion anchored to an originating chat message.
//
// OffsetsSent records which lead times of the reminder schedule have already
// been delivered; an offset is added at most once. LastModified is reset on
// every edit and serves as the suppression baseline for reminders whose due
// time precedes the edit.
type Event struct {
	ChatID    int64
	MessageID int
	SenderID  int64
	EventTime time.Time
	Location  string

	OffsetsSent  []time.Duration
	LastModified time.Time
}

func (e Event) OffsetSent(d time.Duration) bool {
	for _, s := range e.OffsetsSent {
		if s == d {
			return true
		}
	}
	return false
}

// MemberFlag names a monotonic member flag column.
type MemberFlag string

const (
	FlagHasPosted         MemberFlag = "has_posted"
	FlagWelcomed          MemberFlag = "welcomed"
	FlagIntroReminderSent MemberFlag = "intro_reminder_sent"
	FlagIntroFollowupSent MemberFlag = "intro_followup_sent"
)

// MemberFilter is a declarative member predicate. Nil tristates are ignored.
type MemberFilter struct {
	ChatID            int64 // 0 = any chat
	HasPosted         *bool
	Welcomed          *bool
	IntroReminderSent *bool
	IntroFollowupSent *bool
	Subscribed        *bool
	JoinedBefore      time.Time // zero = ignore
	// GroupsOnly restricts to group chats (negative chat ids by platform
	// convention), excluding private-chat member rows.
	GroupsOnly bool
}

// EventFilter selects events. The zero value selects all.
type EventFilter struct {
	ChatID int64     // 0 = any chat
	Before time.Time // event_time < Before; zero = ignore
}

// Bool is a convenience for filter tristates.
func Bool(v bool) *bool { return &v }
