// Package policy holds the pure reminder rules: given "now" and persisted
// entity state, decide what is due. No I/O, no clocks, no side effects;
// the scheduler owns all of those.
package policy

import (
	"sort"
	"time"

	"concierge/internal/store"
)

// NeedsWelcome reports whether the member should be included in the next
// welcome batch for their chat. Time-independent; the daily trigger drives it.
func NeedsWelcome(m store.Member) bool {
	return !m.Welcomed && m.ChatID < 0
}

// NeedsIntro reports whether the member has been silent long enough to
// deserve the first introduction nudge.
func NeedsIntro(now time.Time, m store.Member, threshold time.Duration) bool {
	if m.HasPosted || m.IntroReminderSent || m.ChatID >= 0 {
		return false
	}
	return now.Sub(m.JoinTime) >= threshold
}

// NeedsIntroFollowup reports whether the member is due the second check-in.
// It only fires after the first nudge was delivered, so a member that was
// past both thresholds at once still gets the stages in order.
func NeedsIntroFollowup(now time.Time, m store.Member, threshold time.Duration) bool {
	if m.HasPosted || !m.IntroReminderSent || m.IntroFollowupSent || m.ChatID >= 0 {
		return false
	}
	return now.Sub(m.JoinTime) >= threshold
}

// DueOffsets returns every offset of the schedule whose reminder is due at
// now, not yet sent, and not suppressed by an edit, ordered oldest target
// first. Returning all of them (rather than just the nearest) guarantees
// eventual delivery after downtime.
//
// An offset d is suppressed when its due time (event_time - d) precedes the
// event's last modification: the reminder window belonged to the old
// schedule and is treated as missed, never fired late.
func DueOffsets(now time.Time, ev store.Event, schedule []time.Duration) []time.Duration {
	sorted := append([]time.Duration(nil), schedule...)
	// Largest lead time first = earliest due time first.
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	var due []time.Duration
	for _, d := range sorted {
		target := ev.EventTime.Add(-d)
		if now.Before(target) {
			continue
		}
		if ev.OffsetSent(d) {
			continue
		}
		if target.Before(ev.LastModified) {
			continue
		}
		due = append(due, d)
	}
	return due
}

// Retired reports whether the event is terminal: its time has passed and
// every offset of the schedule has either been sent or was suppressed by an
// edit. Retired events are eligible for deletion.
func Retired(now time.Time, ev store.Event, schedule []time.Duration) bool {
	if !now.After(ev.EventTime) {
		return false
	}
	for _, d := range schedule {
		target := ev.EventTime.Add(-d)
		if ev.OffsetSent(d) || target.Before(ev.LastModified) {
			continue
		}
		return false
	}
	return true
}

// GroupByChat buckets members per chat so each chat gets a single batched
// message instead of one message per member.
func GroupByChat(members []store.Member) map[int64][]store.Member {
	out := make(map[int64][]store.Member)
	for _, m := range members {
		out[m.ChatID] = append(out[m.ChatID], m)
	}
	return out
}
