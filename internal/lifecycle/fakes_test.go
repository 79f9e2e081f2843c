package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"concierge/internal/notify"
	"concierge/internal/store"
	"concierge/internal/transport"
)

type memberKey struct {
	chat int64
	user int64
}

type eventKey struct {
	chat int64
	msg  int
}

// memStore is an in-memory store.Store used by the engine tests.
type memStore struct {
	mu       sync.Mutex
	members  map[memberKey]store.Member
	events   map[eventKey]store.Event
	settings map[string]string
	failFind bool
}

func newMemStore() *memStore {
	return &memStore{
		members:  make(map[memberKey]store.Member),
		events:   make(map[eventKey]store.Event),
		settings: make(map[string]string),
	}
}

func (s *memStore) UpsertMember(_ context.Context, m store.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{m.ChatID, m.UserID}
	if cur, ok := s.members[k]; ok {
		cur.Username = m.Username
		cur.FirstName = m.FirstName
		s.members[k] = cur
		return nil
	}
	s.members[k] = m
	return nil
}

func (s *memStore) GetMember(_ context.Context, chatID, userID int64) (store.Member, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberKey{chatID, userID}]
	return m, ok, nil
}

func (s *memStore) FindMembers(_ context.Context, f store.MemberFilter) ([]store.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind {
		return nil, errors.New("store unavailable")
	}
	var out []store.Member
	for _, m := range s.members {
		if f.ChatID != 0 && m.ChatID != f.ChatID {
			continue
		}
		if f.GroupsOnly && m.ChatID >= 0 {
			continue
		}
		if f.HasPosted != nil && m.HasPosted != *f.HasPosted {
			continue
		}
		if f.Welcomed != nil && m.Welcomed != *f.Welcomed {
			continue
		}
		if f.IntroReminderSent != nil && m.IntroReminderSent != *f.IntroReminderSent {
			continue
		}
		if f.IntroFollowupSent != nil && m.IntroFollowupSent != *f.IntroFollowupSent {
			continue
		}
		if f.Subscribed != nil && m.Subscribed != *f.Subscribed {
			continue
		}
		if !f.JoinedBefore.IsZero() && m.JoinTime.After(f.JoinedBefore) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *memStore) SetMemberFlag(_ context.Context, chatID int64, userIDs []int64, flag store.MemberFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range userIDs {
		k := memberKey{chatID, id}
		m, ok := s.members[k]
		if !ok {
			continue
		}
		switch flag {
		case store.FlagHasPosted:
			m.HasPosted = true
		case store.FlagWelcomed:
			m.Welcomed = true
		case store.FlagIntroReminderSent:
			m.IntroReminderSent = true
		case store.FlagIntroFollowupSent:
			m.IntroFollowupSent = true
		default:
			return fmt.Errorf("unknown flag %q", flag)
		}
		s.members[k] = m
	}
	return nil
}

func (s *memStore) SetSubscribed(_ context.Context, chatID, userID int64, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memberKey{chatID, userID}
	m, ok := s.members[k]
	if !ok {
		return errors.New("no such member")
	}
	m.Subscribed = on
	s.members[k] = m
	return nil
}

func (s *memStore) UpsertEvent(_ context.Context, ev store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := eventKey{ev.ChatID, ev.MessageID}
	if cur, ok := s.events[k]; ok {
		ev.OffsetsSent = cur.OffsetsSent
	}
	s.events[k] = ev
	return nil
}

func (s *memStore) GetEvent(_ context.Context, chatID int64, messageID int) (store.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventKey{chatID, messageID}]
	return ev, ok, nil
}

func (s *memStore) FindEvents(_ context.Context, f store.EventFilter) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Event
	for _, ev := range s.events {
		if f.ChatID != 0 && ev.ChatID != f.ChatID {
			continue
		}
		if !f.Before.IsZero() && !ev.EventTime.Before(f.Before) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *memStore) AddEventOffsets(_ context.Context, chatID int64, messageID int, offsets ...time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := eventKey{chatID, messageID}
	ev, ok := s.events[k]
	if !ok {
		return errors.New("no such event")
	}
	for _, d := range offsets {
		if !ev.OffsetSent(d) {
			ev.OffsetsSent = append(ev.OffsetsSent, d)
		}
	}
	s.events[k] = ev
	return nil
}

func (s *memStore) DeleteEvent(_ context.Context, chatID int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, eventKey{chatID, messageID})
	return nil
}

func (s *memStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *memStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type sentMessage struct {
	chatID  int64
	text    string
	replyTo int
}

// fakeSender records sends and serves scripted probe results.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sentMessage
	failSend bool
	probes   map[transport.MessageRef]notify.ProbeResult
}

func newFakeSender() *fakeSender {
	return &fakeSender{probes: make(map[transport.MessageRef]notify.ProbeResult)}
}

func (f *fakeSender) Send(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("send failed")
	}
	var replyTo int
	if opt != nil {
		replyTo = opt.ReplyTo
	}
	f.sent = append(f.sent, sentMessage{chatID: to.ChatID, text: text, replyTo: replyTo})
	return nil
}

func (f *fakeSender) Probe(_ context.Context, ref transport.MessageRef) notify.ProbeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.probes[ref]; ok {
		return res
	}
	return notify.ProbeExists
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}
