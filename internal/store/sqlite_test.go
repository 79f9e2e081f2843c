package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"concierge/pkg/logx"
)

func openTest(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertMemberPreservesHistory(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	joined := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	m := Member{ChatID: -100, UserID: 7, Username: "alice", FirstName: "Alice", JoinTime: joined}
	if err := st.UpsertMember(ctx, m); err != nil {
		t.Fatalf("UpsertMember: %v", err)
	}
	if err := st.SetMemberFlag(ctx, -100, []int64{7}, FlagWelcomed); err != nil {
		t.Fatalf("SetMemberFlag: %v", err)
	}

	// A later sighting updates identity fields only.
	m.Username = "alice_new"
	m.JoinTime = joined.Add(48 * time.Hour)
	if err := st.UpsertMember(ctx, m); err != nil {
		t.Fatalf("re-UpsertMember: %v", err)
	}

	got, ok, err := st.GetMember(ctx, -100, 7)
	if err != nil || !ok {
		t.Fatalf("GetMember: ok=%v err=%v", ok, err)
	}
	if got.Username != "alice_new" {
		t.Fatalf("username not updated: %q", got.Username)
	}
	if !got.JoinTime.Equal(joined) {
		t.Fatalf("join_time rewritten: %v", got.JoinTime)
	}
	if !got.Welcomed {
		t.Fatal("welcomed flag lost on upsert")
	}
}

func TestFindMembersFilters(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := []Member{
		{ChatID: -100, UserID: 1, JoinTime: old},
		{ChatID: -100, UserID: 2, JoinTime: old.Add(10 * 24 * time.Hour)},
		{ChatID: -200, UserID: 3, JoinTime: old},
		{ChatID: 42, UserID: 42, JoinTime: old}, // private chat row
	}
	for _, m := range seed {
		if err := st.UpsertMember(ctx, m); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := st.SetMemberFlag(ctx, -100, []int64{1}, FlagHasPosted); err != nil {
		t.Fatalf("SetMemberFlag: %v", err)
	}
	if err := st.SetMemberFlag(ctx, -200, []int64{3}, FlagIntroFollowupSent); err != nil {
		t.Fatalf("SetMemberFlag: %v", err)
	}

	groups, err := st.FindMembers(ctx, MemberFilter{GroupsOnly: true})
	if err != nil {
		t.Fatalf("FindMembers: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("GroupsOnly: got %d members, want 3", len(groups))
	}

	silent, err := st.FindMembers(ctx, MemberFilter{
		HasPosted:    Bool(false),
		JoinedBefore: old.Add(24 * time.Hour),
		GroupsOnly:   true,
	})
	if err != nil {
		t.Fatalf("FindMembers: %v", err)
	}
	if len(silent) != 1 || silent[0].UserID != 3 {
		t.Fatalf("silent filter: got %+v", silent)
	}

	followed, err := st.FindMembers(ctx, MemberFilter{IntroFollowupSent: Bool(true)})
	if err != nil {
		t.Fatalf("FindMembers: %v", err)
	}
	if len(followed) != 1 || followed[0].UserID != 3 {
		t.Fatalf("followup filter: got %+v", followed)
	}
}

func TestSetSubscribedRoundTrip(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	if err := st.UpsertMember(ctx, Member{ChatID: 9, UserID: 9}); err != nil {
		t.Fatalf("UpsertMember: %v", err)
	}
	if err := st.SetSubscribed(ctx, 9, 9, true); err != nil {
		t.Fatalf("SetSubscribed: %v", err)
	}
	m, _, err := st.GetMember(ctx, 9, 9)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if !m.Subscribed {
		t.Fatal("subscribed not set")
	}
	if err := st.SetSubscribed(ctx, 9, 9, false); err != nil {
		t.Fatalf("SetSubscribed off: %v", err)
	}
	m, _, _ = st.GetMember(ctx, 9, 9)
	if m.Subscribed {
		t.Fatal("subscribed not cleared")
	}
}

func TestUpsertEventPreservesSentOffsets(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	eventTime := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	ev := Event{
		ChatID:       -100,
		MessageID:    55,
		SenderID:     7,
		EventTime:    eventTime,
		Location:     "Hall A",
		LastModified: eventTime.Add(-30 * 24 * time.Hour),
	}
	if err := st.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}
	if err := st.AddEventOffsets(ctx, -100, 55, 7*24*time.Hour); err != nil {
		t.Fatalf("AddEventOffsets: %v", err)
	}

	// Editing the announcement reschedules without forgetting what fired.
	ev.EventTime = eventTime.Add(24 * time.Hour)
	ev.Location = "Hall B"
	ev.LastModified = eventTime
	if err := st.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("re-UpsertEvent: %v", err)
	}

	got, ok, err := st.GetEvent(ctx, -100, 55)
	if err != nil || !ok {
		t.Fatalf("GetEvent: ok=%v err=%v", ok, err)
	}
	if got.Location != "Hall B" {
		t.Fatalf("location not updated: %q", got.Location)
	}
	if !got.EventTime.Equal(eventTime.Add(24 * time.Hour)) {
		t.Fatalf("event_time not updated: %v", got.EventTime)
	}
	if !got.OffsetSent(7 * 24 * time.Hour) {
		t.Fatal("sent offset lost on upsert")
	}
}

func TestAddEventOffsetsUnion(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	ev := Event{ChatID: -1, MessageID: 1, EventTime: time.Now().Add(time.Hour), LastModified: time.Now()}
	if err := st.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}

	if err := st.AddEventOffsets(ctx, -1, 1, 24*time.Hour, 24*time.Hour); err != nil {
		t.Fatalf("AddEventOffsets: %v", err)
	}
	if err := st.AddEventOffsets(ctx, -1, 1, 24*time.Hour, 0); err != nil {
		t.Fatalf("AddEventOffsets again: %v", err)
	}

	got, _, err := st.GetEvent(ctx, -1, 1)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if len(got.OffsetsSent) != 2 {
		t.Fatalf("offsets not deduplicated: %v", got.OffsetsSent)
	}
	if !got.OffsetSent(24*time.Hour) || !got.OffsetSent(0) {
		t.Fatalf("missing offsets: %v", got.OffsetsSent)
	}
}

func TestDeleteEvent(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	ev := Event{ChatID: -1, MessageID: 2, EventTime: time.Now(), LastModified: time.Now()}
	if err := st.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}
	if err := st.DeleteEvent(ctx, -1, 2); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if _, ok, _ := st.GetEvent(ctx, -1, 2); ok {
		t.Fatal("event still present after delete")
	}
	// Deleting a missing event is a no-op.
	if err := st.DeleteEvent(ctx, -1, 2); err != nil {
		t.Fatalf("second DeleteEvent: %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	if _, ok, err := st.GetSetting(ctx, GreetingAnchorKey(-100)); err != nil || ok {
		t.Fatalf("unset key: ok=%v err=%v", ok, err)
	}
	if err := st.SetSetting(ctx, GreetingAnchorKey(-100), "41"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := st.SetSetting(ctx, GreetingAnchorKey(-100), "42"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := st.GetSetting(ctx, GreetingAnchorKey(-100))
	if err != nil || !ok || v != "42" {
		t.Fatalf("got %q ok=%v err=%v", v, ok, err)
	}
}
