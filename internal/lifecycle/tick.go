package lifecycle

import (
	"context"
	"strconv"
	"sync"
	"time"

	"concierge/internal/policy"
	"concierge/internal/render"
	"concierge/internal/store"
	"concierge/internal/transport"
	"concierge/pkg/logx"
)

// RunDailyTick sends the welcome and intro batches. Members needing the same
// notification in the same chat are folded into a single mention-list
// message; a failed chat is left unflagged and retried on the next trigger.
func (s *Service) RunDailyTick(ctx context.Context) {
	s.dailyMu.Lock()
	defer s.dailyMu.Unlock()

	cfg := s.config()
	now := s.now()

	// Welcome batch: anyone not yet welcomed (catch-up for joins the live
	// greeting missed, e.g. while the bot was down).
	pendingWelcome, err := s.st.FindMembers(ctx, store.MemberFilter{
		Welcomed:   store.Bool(false),
		GroupsOnly: true,
	})
	if err != nil {
		s.log.Warn("welcome query failed; skipping batch", logx.Err(err))
	} else {
		s.sendMemberBatches(ctx, policy.GroupByChat(pendingWelcome), render.Welcome, store.FlagWelcomed)
	}

	// Intro batches: an ordered schedule of (threshold, template) stages
	// for members who still haven't posted. Candidates for every stage are
	// collected up front so a member crossing two thresholds at once is
	// nudged by one stage per trigger, not all of them.
	stages := []struct {
		threshold time.Duration
		filter    store.MemberFilter
		eligible  func(time.Time, store.Member, time.Duration) bool
		body      func([]store.Member) string
		flag      store.MemberFlag
	}{
		{
			threshold: cfg.IntroThreshold,
			filter: store.MemberFilter{
				HasPosted:         store.Bool(false),
				IntroReminderSent: store.Bool(false),
			},
			eligible: policy.NeedsIntro,
			body:     render.IntroNudge,
			flag:     store.FlagIntroReminderSent,
		},
		{
			threshold: cfg.IntroFollowupThreshold,
			filter: store.MemberFilter{
				HasPosted:         store.Bool(false),
				IntroReminderSent: store.Bool(true),
				IntroFollowupSent: store.Bool(false),
			},
			eligible: policy.NeedsIntroFollowup,
			body:     render.IntroFollowup,
			flag:     store.FlagIntroFollowupSent,
		},
	}

	batches := make([]map[int64][]store.Member, 0, len(stages))
	for _, stage := range stages {
		f := stage.filter
		f.JoinedBefore = now.Add(-stage.threshold)
		f.GroupsOnly = true
		candidates, err := s.st.FindMembers(ctx, f)
		if err != nil {
			s.log.Warn("intro query failed; skipping batch", logx.Err(err), logx.String("flag", string(stage.flag)))
			batches = append(batches, nil)
			continue
		}
		eligible := candidates[:0]
		for _, m := range candidates {
			if stage.eligible(now, m, stage.threshold) {
				eligible = append(eligible, m)
			}
		}
		batches = append(batches, policy.GroupByChat(eligible))
	}
	for i, stage := range stages {
		s.sendMemberBatches(ctx, batches[i], stage.body, stage.flag)
	}
}

// sendMemberBatches delivers one message per chat and flags its members only
// after the send succeeded. Chats are independent, so they are dispatched
// with bounded fan-out; each goroutine writes flags only for its own chat.
func (s *Service) sendMemberBatches(ctx context.Context, byChat map[int64][]store.Member, body func([]store.Member) string, flag store.MemberFlag) {
	if len(byChat) == 0 {
		return
	}
	fanout := s.config().BatchFanout
	sem := make(chan struct{}, fanout)
	var wg sync.WaitGroup

	for chatID, members := range byChat {
		if len(members) == 0 {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(chatID int64, members []store.Member) {
			defer wg.Done()
			defer func() { <-sem }()
			s.sendMemberBatch(ctx, chatID, members, body, flag)
		}(chatID, members)
	}
	wg.Wait()
}

func (s *Service) sendMemberBatch(ctx context.Context, chatID int64, members []store.Member, body func([]store.Member) string, flag store.MemberFlag) {
	opt := &transport.SendOptions{ParseMode: "HTML"}
	if anchor := s.greetingAnchor(ctx, chatID); anchor != 0 {
		opt.ReplyTo = anchor
	}

	err := s.sender.Send(ctx, transport.ChatTarget{ChatID: chatID}, body(members), opt)
	if err != nil {
		s.log.Warn("member batch send failed; will retry next trigger",
			logx.Err(err),
			logx.Int64("chat_id", chatID),
			logx.String("flag", string(flag)),
			logx.Int("members", len(members)),
		)
		return
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	if err := s.st.SetMemberFlag(ctx, chatID, ids, flag); err != nil {
		// Delivered but not recorded: the batch may repeat next trigger.
		s.log.Error("member flags not recorded after delivery",
			logx.Err(err), logx.Int64("chat_id", chatID), logx.String("flag", string(flag)))
		return
	}
	s.log.Info("member batch sent",
		logx.Int64("chat_id", chatID), logx.String("flag", string(flag)), logx.Int("members", len(members)))
}

// RunEventTick walks all events, retires terminal ones, and fires every due,
// unsent, unsuppressed reminder offset (oldest target first). Offsets missed
// during downtime are all delivered on the next tick.
func (s *Service) RunEventTick(ctx context.Context) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	cfg := s.config()
	now := s.now()

	events, err := s.st.FindEvents(ctx, store.EventFilter{})
	if err != nil {
		s.log.Warn("event query failed; skipping tick", logx.Err(err))
		return
	}

	for _, ev := range events {
		if policy.Retired(now, ev, cfg.Offsets) {
			if err := s.st.DeleteEvent(ctx, ev.ChatID, ev.MessageID); err != nil {
				s.log.Warn("terminal event not deleted", logx.Err(err),
					logx.Int64("chat_id", ev.ChatID), logx.Int("message_id", ev.MessageID))
			} else {
				s.log.Info("event retired (all reminders sent)",
					logx.Int64("chat_id", ev.ChatID), logx.Int("message_id", ev.MessageID))
			}
			continue
		}

		for _, d := range policy.DueOffsets(now, ev, cfg.Offsets) {
			text := render.EventReminder(ev, d, cfg.Location)
			err := s.sender.Send(ctx, transport.ChatTarget{ChatID: ev.ChatID}, text, &transport.SendOptions{
				ParseMode: "HTML",
				ReplyTo:   ev.MessageID,
			})
			if err != nil {
				// Not recorded, so it is retried next tick. Stop here to keep
				// the remaining offsets in order.
				s.log.Warn("reminder send failed", logx.Err(err),
					logx.Int64("chat_id", ev.ChatID), logx.Int("message_id", ev.MessageID),
					logx.Duration("offset", d))
				break
			}
			if err := s.st.AddEventOffsets(ctx, ev.ChatID, ev.MessageID, d); err != nil {
				// Delivered but not recorded: accepted duplicate window.
				s.log.Error("reminder delivered but not recorded; may repeat",
					logx.Err(err), logx.Int64("chat_id", ev.ChatID),
					logx.Int("message_id", ev.MessageID), logx.Duration("offset", d))
				break
			}
			s.log.Info("reminder sent",
				logx.Int64("chat_id", ev.ChatID), logx.Int("message_id", ev.MessageID),
				logx.Duration("offset", d))
		}
	}
}

func (s *Service) greetingAnchor(ctx context.Context, chatID int64) int {
	v, ok, err := s.st.GetSetting(ctx, store.GreetingAnchorKey(chatID))
	if err != nil {
		s.log.Debug("greeting anchor lookup failed", logx.Err(err), logx.Int64("chat_id", chatID))
		return 0
	}
	if !ok {
		return 0
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return id
}
