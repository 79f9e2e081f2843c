package router

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"concierge/internal/notify"
	"concierge/internal/store"
	"concierge/internal/transport"
	"concierge/pkg/logx"
)

type sentMessage struct {
	chatID  int64
	text    string
	replyTo int
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) Send(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var replyTo int
	if opt != nil {
		replyTo = opt.ReplyTo
	}
	f.sent = append(f.sent, sentMessage{chatID: to.ChatID, text: text, replyTo: replyTo})
	return nil
}

func (f *fakeSender) Probe(context.Context, transport.MessageRef) notify.ProbeResult {
	return notify.ProbeExists
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeAdapter struct {
	botID  int64
	admins map[int64]bool
}

func (a *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                          { return nil }

func (a *fakeAdapter) SendText(context.Context, transport.ChatTarget, string, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, errors.New("not used")
}

func (a *fakeAdapter) Forward(context.Context, transport.MessageRef, transport.ChatTarget) (transport.MessageRef, error) {
	return transport.MessageRef{}, errors.New("not used")
}

func (a *fakeAdapter) Delete(context.Context, transport.MessageRef) error { return nil }

func (a *fakeAdapter) IsAdmin(_ context.Context, _ int64, userID int64) (bool, error) {
	return a.admins[userID], nil
}

func (a *fakeAdapter) BotID() int64 { return a.botID }

type fixture struct {
	router  *Router
	st      store.Store
	sender  *fakeSender
	adapter *fakeAdapter
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sender := &fakeSender{}
	adapter := &fakeAdapter{botID: 999, admins: map[int64]bool{1: true}}
	r := New(Config{Location: time.UTC}, st, sender, adapter, logx.Nop())
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return &fixture{router: r, st: st, sender: sender, adapter: adapter, now: now}
}

func groupMsg(id int, from int64, text string) transport.Message {
	return transport.Message{
		ID:      id,
		ChatID:  -100,
		FromID:  from,
		Text:    text,
		IsGroup: true,
	}
}

func TestJoinedWelcomesAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateJoined, Joined: &transport.Joined{
		ChatID: -100,
		Users: []transport.User{
			{ID: 7, Username: "alice"},
			{ID: 999}, // the bot itself
		},
	}})

	msgs := f.sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 greeting", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "@alice") {
		t.Fatalf("greeting misses mention: %q", msgs[0].text)
	}

	m, ok, err := f.st.GetMember(ctx, -100, 7)
	if err != nil || !ok {
		t.Fatalf("member row missing: ok=%v err=%v", ok, err)
	}
	if !m.Welcomed {
		t.Fatal("joined member not flagged welcomed")
	}
	if _, ok, _ := f.st.GetMember(ctx, -100, 999); ok {
		t.Fatal("bot recorded as a member")
	}
}

func TestGroupMessageMarksPosted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage, Message: ptr(groupMsg(10, 7, "hello"))})

	m, ok, _ := f.st.GetMember(ctx, -100, 7)
	if !ok || !m.HasPosted {
		t.Fatalf("posting not recorded: ok=%v member=%+v", ok, m)
	}
}

func TestEventTagCreatesEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage,
		Message: ptr(groupMsg(55, 1, "Big meetup! #event 2025-06-01 18:30 Community hall"))})

	ev, ok, err := f.st.GetEvent(ctx, -100, 55)
	if err != nil || !ok {
		t.Fatalf("event not created: ok=%v err=%v", ok, err)
	}
	want := time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC)
	if !ev.EventTime.Equal(want) {
		t.Fatalf("event_time %v, want %v", ev.EventTime, want)
	}
	if ev.Location != "Community hall" {
		t.Fatalf("location %q", ev.Location)
	}
}

func TestEventTagNonAdminRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage,
		Message: ptr(groupMsg(55, 7, "#event 2025-06-01 18:30 Hall"))})

	if _, ok, _ := f.st.GetEvent(ctx, -100, 55); ok {
		t.Fatal("non-admin created an event")
	}
	msgs := f.sender.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "administrators") {
		t.Fatalf("expected an admin-only reply, got %v", msgs)
	}
}

func TestEventTagMalformedGetsUsageReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []string{
		"#event tomorrow 18:30 Hall",
		"#event 2025-06-01 Hall",
		"#event 2024-01-01 10:00 Hall", // in the past
	}
	for _, text := range cases {
		f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage, Message: ptr(groupMsg(55, 1, text))})
		if _, ok, _ := f.st.GetEvent(ctx, -100, 55); ok {
			t.Fatalf("malformed tag %q created an event", text)
		}
	}
	msgs := f.sender.messages()
	if len(msgs) != len(cases) {
		t.Fatalf("got %d usage replies, want %d", len(msgs), len(cases))
	}
	for _, m := range msgs {
		if m.replyTo != 55 {
			t.Fatalf("usage reply not anchored to submission: %+v", m)
		}
	}
}

func TestEditedTagUpdatesInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage,
		Message: ptr(groupMsg(55, 1, "#event 2025-06-01 18:30 Hall A"))})
	_ = f.st.AddEventOffsets(ctx, -100, 55, 7*24*time.Hour)

	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateEdited,
		Message: ptr(groupMsg(55, 1, "#event 2025-06-02 19:00 Hall B"))})

	ev, ok, _ := f.st.GetEvent(ctx, -100, 55)
	if !ok {
		t.Fatal("event lost on edit")
	}
	if ev.Location != "Hall B" {
		t.Fatalf("location %q, want Hall B", ev.Location)
	}
	if !ev.OffsetSent(7 * 24 * time.Hour) {
		t.Fatal("sent offset lost on edit")
	}
}

func TestAddEventCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := groupMsg(60, 1, "/addevent 2025-06-01 18:30 Community hall")
	msg.ReplyToID = 55
	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage, Message: &msg})

	ev, ok, _ := f.st.GetEvent(ctx, -100, 55)
	if !ok {
		t.Fatal("event not created from command")
	}
	if ev.Location != "Community hall" {
		t.Fatalf("location %q", ev.Location)
	}

	// Without a reply anchor there is nothing to attach the event to.
	bare := groupMsg(61, 1, "/addevent 2025-06-01 18:30 Hall")
	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage, Message: &bare})
	if _, ok, _ := f.st.GetEvent(ctx, -100, 61); ok {
		t.Fatal("anchorless command created an event")
	}
}

func TestDeleteEventCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_ = f.st.UpsertEvent(ctx, store.Event{ChatID: -100, MessageID: 55, EventTime: f.now.Add(time.Hour), LastModified: f.now})

	msg := groupMsg(60, 1, "/deleteevent")
	msg.ReplyToID = 55
	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage, Message: &msg})

	if _, ok, _ := f.st.GetEvent(ctx, -100, 55); ok {
		t.Fatal("event not deleted")
	}
}

func TestSetGreetingCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := groupMsg(60, 1, "/setgreeting")
	msg.ReplyToID = 41
	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage, Message: &msg})

	v, ok, _ := f.st.GetSetting(ctx, store.GreetingAnchorKey(-100))
	if !ok || v != "41" {
		t.Fatalf("anchor not stored: %q ok=%v", v, ok)
	}

	// Future greetings reply to the anchor.
	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateJoined, Joined: &transport.Joined{
		ChatID: -100,
		Users:  []transport.User{{ID: 7, Username: "alice"}},
	}})
	msgs := f.sender.messages()
	last := msgs[len(msgs)-1]
	if last.replyTo != 41 {
		t.Fatalf("greeting reply_to %d, want 41", last.replyTo)
	}
}

func TestSubscribeToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private := transport.Message{ID: 1, ChatID: 7, FromID: 7, Text: "/subscribe", IsPrivate: true}
	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage, Message: &private})

	m, ok, _ := f.st.GetMember(ctx, 7, 7)
	if !ok || !m.Subscribed {
		t.Fatalf("not subscribed: ok=%v member=%+v", ok, m)
	}

	f.router.Handle(ctx, transport.Update{Kind: transport.UpdateMessage, Message: &private})
	m, _, _ = f.st.GetMember(ctx, 7, 7)
	if m.Subscribed {
		t.Fatal("second /subscribe did not unsubscribe")
	}
}

func ptr(m transport.Message) *transport.Message { return &m }
