package lifecycle

import (
	"context"
	"testing"
	"time"

	"concierge/internal/notify"
	"concierge/internal/store"
	"concierge/internal/transport"
)

func TestProbeTickRetiresGoneEvents(t *testing.T) {
	st := newMemStore()
	sender := newFakeSender()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_ = st.UpsertEvent(ctx, store.Event{ChatID: -100, MessageID: 1, EventTime: now.Add(time.Hour), LastModified: now})
	_ = st.UpsertEvent(ctx, store.Event{ChatID: -100, MessageID: 2, EventTime: now.Add(time.Hour), LastModified: now})
	sender.probes[transport.MessageRef{ChatID: -100, MessageID: 2}] = notify.ProbeNotFound

	svc := testService(st, sender, now)
	svc.RunProbeTick(ctx)

	if _, ok, _ := st.GetEvent(ctx, -100, 1); !ok {
		t.Fatal("live event was retired")
	}
	if _, ok, _ := st.GetEvent(ctx, -100, 2); ok {
		t.Fatal("deleted announcement still tracked")
	}
}

func TestProbeTickTransientLeavesEvent(t *testing.T) {
	st := newMemStore()
	sender := newFakeSender()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_ = st.UpsertEvent(ctx, store.Event{ChatID: -100, MessageID: 1, EventTime: now.Add(time.Hour), LastModified: now})
	sender.probes[transport.MessageRef{ChatID: -100, MessageID: 1}] = notify.ProbeTransient

	svc := testService(st, sender, now)
	svc.RunProbeTick(ctx)

	if _, ok, _ := st.GetEvent(ctx, -100, 1); !ok {
		t.Fatal("event retired on an inconclusive probe")
	}
}

func TestProbeTickNotifiesSubscribers(t *testing.T) {
	st := newMemStore()
	sender := newFakeSender()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Subscriptions are created in private chat, so the row lives under
	// the subscriber's own chat id, not under the group the event is in.
	_ = st.UpsertMember(ctx, store.Member{ChatID: 7, UserID: 7, JoinTime: now})
	if err := st.SetSubscribed(ctx, 7, 7, true); err != nil {
		t.Fatalf("SetSubscribed: %v", err)
	}
	_ = st.UpsertMember(ctx, store.Member{ChatID: -100, UserID: 8, JoinTime: now})

	_ = st.UpsertEvent(ctx, store.Event{ChatID: -100, MessageID: 1, EventTime: now.Add(time.Hour), LastModified: now})
	sender.probes[transport.MessageRef{ChatID: -100, MessageID: 1}] = notify.ProbeForbidden

	svc := testService(st, sender, now)
	svc.RunProbeTick(ctx)

	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d cancellation notices, want 1", len(msgs))
	}
	if msgs[0].chatID != 7 {
		t.Fatalf("notice went to chat %d, want the subscriber's private chat 7", msgs[0].chatID)
	}
}
