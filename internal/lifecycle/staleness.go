package lifecycle

import (
	"context"

	"concierge/internal/render"
	"concierge/internal/store"
	"concierge/internal/transport"
	"concierge/pkg/logx"
)

// RunProbeTick checks that each event's source message still exists and
// retires those whose anchor is gone. A transient probe outcome leaves the
// event untouched for the next cycle.
func (s *Service) RunProbeTick(ctx context.Context) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()

	events, err := s.st.FindEvents(ctx, store.EventFilter{})
	if err != nil {
		s.log.Warn("probe query failed; skipping tick", logx.Err(err))
		return
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		res := s.sender.Probe(ctx, transport.MessageRef{ChatID: ev.ChatID, MessageID: ev.MessageID})
		if !res.Gone() {
			continue
		}

		if err := s.st.DeleteEvent(ctx, ev.ChatID, ev.MessageID); err != nil {
			s.log.Warn("stale event not deleted", logx.Err(err),
				logx.Int64("chat_id", ev.ChatID), logx.Int("message_id", ev.MessageID))
			continue
		}
		s.log.Info("event retired (source message gone)",
			logx.Int64("chat_id", ev.ChatID), logx.Int("message_id", ev.MessageID),
			logx.String("probe", res.String()))

		s.notifyCancellation(ctx, ev)
	}
}

// notifyCancellation tells subscribed members their event is off. Private
// delivery per subscriber; individual failures are logged and skipped.
// Subscription rows live in private chats (chat_id == user_id), never under
// the group the event belongs to, so the lookup is unscoped.
func (s *Service) notifyCancellation(ctx context.Context, ev store.Event) {
	subs, err := s.st.FindMembers(ctx, store.MemberFilter{
		Subscribed: store.Bool(true),
	})
	if err != nil {
		s.log.Warn("subscriber query failed; cancellation notice skipped", logx.Err(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	cfg := s.config()
	text := render.Cancellation(ev, cfg.Location)
	for _, m := range subs {
		err := s.sender.Send(ctx, transport.ChatTarget{ChatID: m.UserID}, text, &transport.SendOptions{ParseMode: "HTML"})
		if err != nil {
			s.log.Debug("cancellation notice failed", logx.Err(err), logx.Int64("user_id", m.UserID))
		}
	}
}
