package router

import (
	"context"
	"strconv"
	"strings"

	"concierge/internal/store"
	"concierge/internal/transport"
	"concierge/pkg/logx"
)

const (
	usageAddEvent    = "Usage: reply to the announcement message with /addevent YYYY-MM-DD HH:MM Location (a future time)."
	usageEditEvent   = "Usage: reply to the announcement message with /editevent YYYY-MM-DD HH:MM Location (a future time)."
	usageDeleteEvent = "Usage: reply to the announcement message with /deleteevent."
	usageSetGreeting = "Usage: reply to the message that should anchor greetings with /setgreeting."
)

// handleCommand dispatches slash commands. The command verb may carry a
// @botname suffix, which is ignored.
func (r *Router) handleCommand(ctx context.Context, msg transport.Message) {
	verb, rest := splitCommand(msg.Text)
	switch verb {
	case "/addevent":
		r.cmdAddEvent(ctx, msg, rest, usageAddEvent)
	case "/editevent":
		r.cmdAddEvent(ctx, msg, rest, usageEditEvent)
	case "/deleteevent":
		r.cmdDeleteEvent(ctx, msg)
	case "/setgreeting":
		r.cmdSetGreeting(ctx, msg)
	case "/subscribe":
		r.cmdSubscribe(ctx, msg)
	}
}

func splitCommand(text string) (verb, rest string) {
	verb = text
	if i := strings.IndexAny(text, " \n"); i >= 0 {
		verb, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i]
	}
	return strings.ToLower(verb), rest
}

// cmdAddEvent creates or rewrites the event anchored to the replied-to
// message. /editevent shares the implementation: event identity is the
// anchor message, so re-adding is an in-place update.
func (r *Router) cmdAddEvent(ctx context.Context, msg transport.Message, args, usage string) {
	if !msg.IsGroup {
		return
	}
	if !r.requireAdmin(ctx, msg) {
		return
	}
	if msg.ReplyToID == 0 {
		r.replyUsage(ctx, msg, usage)
		return
	}
	fields := strings.SplitN(args, " ", 3)
	if len(fields) < 3 {
		r.replyUsage(ctx, msg, usage)
		return
	}
	cfg := r.config()
	now := r.now()
	eventTime, location, err := parseEventArgs(fields[0], fields[1], strings.TrimSpace(fields[2]), now, cfg.Location)
	if err != nil {
		r.replyUsage(ctx, msg, usage)
		return
	}
	ev := store.Event{
		ChatID:       msg.ChatID,
		MessageID:    msg.ReplyToID,
		SenderID:     msg.FromID,
		EventTime:    eventTime,
		Location:     location,
		LastModified: now,
	}
	if err := r.st.UpsertEvent(ctx, ev); err != nil {
		r.log.Error("save event", logx.Int64("chat", msg.ChatID), logx.Int("message", msg.ReplyToID), logx.Err(err))
		return
	}
	r.log.Info("event tracked",
		logx.Int64("chat", msg.ChatID),
		logx.Int("message", msg.ReplyToID),
		logx.Time("event_time", eventTime),
		logx.String("location", location))
	r.replyUsage(ctx, msg, "Event tracked. Reminders will be posted as replies to the announcement.")
}

func (r *Router) cmdDeleteEvent(ctx context.Context, msg transport.Message) {
	if !msg.IsGroup {
		return
	}
	if !r.requireAdmin(ctx, msg) {
		return
	}
	if msg.ReplyToID == 0 {
		r.replyUsage(ctx, msg, usageDeleteEvent)
		return
	}
	if _, ok, err := r.st.GetEvent(ctx, msg.ChatID, msg.ReplyToID); err != nil {
		r.log.Error("event lookup", logx.Int64("chat", msg.ChatID), logx.Int("message", msg.ReplyToID), logx.Err(err))
		return
	} else if !ok {
		r.replyUsage(ctx, msg, "That message has no tracked event.")
		return
	}
	if err := r.st.DeleteEvent(ctx, msg.ChatID, msg.ReplyToID); err != nil {
		r.log.Error("delete event", logx.Int64("chat", msg.ChatID), logx.Int("message", msg.ReplyToID), logx.Err(err))
		return
	}
	r.log.Info("event deleted", logx.Int64("chat", msg.ChatID), logx.Int("message", msg.ReplyToID))
	r.replyUsage(ctx, msg, "Event removed. No further reminders will be sent.")
}

func (r *Router) cmdSetGreeting(ctx context.Context, msg transport.Message) {
	if !msg.IsGroup {
		return
	}
	if !r.requireAdmin(ctx, msg) {
		return
	}
	if msg.ReplyToID == 0 {
		r.replyUsage(ctx, msg, usageSetGreeting)
		return
	}
	key := store.GreetingAnchorKey(msg.ChatID)
	if err := r.st.SetSetting(ctx, key, strconv.Itoa(msg.ReplyToID)); err != nil {
		r.log.Error("save greeting anchor", logx.Int64("chat", msg.ChatID), logx.Err(err))
		return
	}
	r.log.Info("greeting anchor set", logx.Int64("chat", msg.ChatID), logx.Int("message", msg.ReplyToID))
	r.replyUsage(ctx, msg, "Greetings will now reply to that message.")
}

// cmdSubscribe toggles event-cancellation notices for the sender. It works
// in private chat so the bot can message the subscriber directly.
func (r *Router) cmdSubscribe(ctx context.Context, msg transport.Message) {
	if !msg.IsPrivate {
		r.replyUsage(ctx, msg, "Send /subscribe to me in a private chat so I can reach you directly.")
		return
	}
	m := store.Member{
		ChatID:    msg.ChatID,
		UserID:    msg.FromID,
		Username:  msg.FromUsername,
		FirstName: msg.FromFirstName,
		JoinTime:  r.now(),
	}
	if err := r.st.UpsertMember(ctx, m); err != nil {
		r.log.Error("record subscriber", logx.Int64("user", msg.FromID), logx.Err(err))
		return
	}
	cur, ok, err := r.st.GetMember(ctx, msg.ChatID, msg.FromID)
	if err != nil || !ok {
		r.log.Error("subscriber lookup", logx.Int64("user", msg.FromID), logx.Err(err))
		return
	}
	on := !cur.Subscribed
	if err := r.st.SetSubscribed(ctx, msg.ChatID, msg.FromID, on); err != nil {
		r.log.Error("toggle subscription", logx.Int64("user", msg.FromID), logx.Err(err))
		return
	}
	if on {
		r.replyUsage(ctx, msg, "Subscribed. You'll get a direct message when a tracked event is cancelled.")
	} else {
		r.replyUsage(ctx, msg, "Unsubscribed. You'll no longer get cancellation notices.")
	}
}

func (r *Router) requireAdmin(ctx context.Context, msg transport.Message) bool {
	ok, err := r.adapter.IsAdmin(ctx, msg.ChatID, msg.FromID)
	if err != nil {
		r.log.Warn("admin lookup failed", logx.Int64("chat", msg.ChatID), logx.Int64("user", msg.FromID), logx.Err(err))
		return false
	}
	if !ok {
		r.replyUsage(ctx, msg, "Only chat administrators can do that.")
	}
	return ok
}
