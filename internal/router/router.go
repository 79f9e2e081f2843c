// Package router dispatches incoming chat updates: it records member
// activity, greets new joiners, and turns tagged announcements and
// commands into tracked events.
package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"concierge/internal/notify"
	"concierge/internal/render"
	"concierge/internal/store"
	"concierge/internal/transport"
	"concierge/pkg/logx"
)

// Config holds the router's tunables.
type Config struct {
	// Location is the civil timezone used to interpret event tags.
	Location *time.Location
}

func (c *Config) fillDefaults() {
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// Router consumes transport updates and applies membership and event
// bookkeeping. All handlers are safe for concurrent use.
type Router struct {
	st      store.Store
	sender  notify.Sender
	adapter transport.Adapter
	log     logx.Logger

	mu  sync.Mutex
	cfg Config

	now func() time.Time
}

// New builds a router over the given store, sender and adapter.
func New(cfg Config, st store.Store, sender notify.Sender, adapter transport.Adapter, log logx.Logger) *Router {
	cfg.fillDefaults()
	return &Router{
		st:      st,
		sender:  sender,
		adapter: adapter,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Apply swaps the runtime configuration.
func (r *Router) Apply(cfg Config) {
	cfg.fillDefaults()
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Router) config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Run drains updates from in until ctx is cancelled or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-in:
			if !ok {
				return
			}
			r.Handle(ctx, up)
		}
	}
}

// Handle dispatches a single update.
func (r *Router) Handle(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateJoined:
		if up.Joined != nil {
			r.handleJoined(ctx, *up.Joined)
		}
	case transport.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, *up.Message)
		}
	case transport.UpdateEdited:
		if up.Message != nil {
			r.handleEdited(ctx, *up.Message)
		}
	}
}

func (r *Router) handleJoined(ctx context.Context, j transport.Joined) {
	now := r.now()
	var members []store.Member
	for _, u := range j.Users {
		if u.ID == r.adapter.BotID() {
			continue
		}
		m := store.Member{
			ChatID:    j.ChatID,
			UserID:    u.ID,
			Username:  u.Username,
			FirstName: u.FirstName,
			JoinTime:  now,
		}
		if err := r.st.UpsertMember(ctx, m); err != nil {
			r.log.Error("record joined member", logx.Int64("chat", j.ChatID), logx.Int64("user", u.ID), logx.Err(err))
			continue
		}
		members = append(members, m)
	}
	if len(members) == 0 {
		return
	}
	r.welcome(ctx, j.ChatID, members)
}

// welcome sends a single greeting covering every new member, anchored to
// the chat's pinned greeting message when one has been set. Flags are
// recorded only after delivery succeeds; the daily sweep picks up misses.
func (r *Router) welcome(ctx context.Context, chatID int64, members []store.Member) {
	anchor := r.greetingAnchor(ctx, chatID)
	text := render.Welcome(members)
	err := r.sender.Send(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{
		ParseMode: "HTML",
		ReplyTo:   anchor,
	})
	if err != nil {
		r.log.Warn("welcome send failed", logx.Int64("chat", chatID), logx.Err(err))
		return
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	if err := r.st.SetMemberFlag(ctx, chatID, ids, store.FlagWelcomed); err != nil {
		r.log.Error("mark welcomed after send, greeting may repeat", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) handleMessage(ctx context.Context, msg transport.Message) {
	if msg.IsPrivate {
		r.touchMember(ctx, msg, true)
		if strings.HasPrefix(msg.Text, "/") {
			r.handleCommand(ctx, msg)
		}
		return
	}
	if !msg.IsGroup {
		return
	}
	r.touchMember(ctx, msg, true)
	if strings.HasPrefix(msg.Text, "/") {
		r.handleCommand(ctx, msg)
		return
	}
	r.handleEventTag(ctx, msg, false)
}

func (r *Router) handleEdited(ctx context.Context, msg transport.Message) {
	if !msg.IsGroup {
		return
	}
	r.handleEventTag(ctx, msg, true)
}

// touchMember makes sure a member row exists and, for group chats,
// records that the member has posted.
func (r *Router) touchMember(ctx context.Context, msg transport.Message, markPosted bool) {
	m := store.Member{
		ChatID:    msg.ChatID,
		UserID:    msg.FromID,
		Username:  msg.FromUsername,
		FirstName: msg.FromFirstName,
		JoinTime:  r.now(),
	}
	if err := r.st.UpsertMember(ctx, m); err != nil {
		r.log.Error("record member", logx.Int64("chat", msg.ChatID), logx.Int64("user", msg.FromID), logx.Err(err))
		return
	}
	if !markPosted || !msg.IsGroup {
		return
	}
	if err := r.st.SetMemberFlag(ctx, msg.ChatID, []int64{msg.FromID}, store.FlagHasPosted); err != nil {
		r.log.Error("mark posted", logx.Int64("chat", msg.ChatID), logx.Int64("user", msg.FromID), logx.Err(err))
	}
}

// handleEventTag creates or updates the event anchored to the tagged
// message. Only chat administrators may announce events.
func (r *Router) handleEventTag(ctx context.Context, msg transport.Message, edited bool) {
	cfg := r.config()
	now := r.now()
	eventTime, location, err := ParseEventTag(msg.Text, now, cfg.Location)
	if err == ErrNoTag {
		return
	}
	if err != nil {
		r.replyUsage(ctx, msg, "Could not read that event tag. Use: #event YYYY-MM-DD HH:MM Location (a future time).")
		return
	}
	ok, aerr := r.adapter.IsAdmin(ctx, msg.ChatID, msg.FromID)
	if aerr != nil {
		r.log.Warn("admin lookup failed", logx.Int64("chat", msg.ChatID), logx.Int64("user", msg.FromID), logx.Err(aerr))
		return
	}
	if !ok {
		r.replyUsage(ctx, msg, "Only chat administrators can announce events.")
		return
	}
	ev := store.Event{
		ChatID:       msg.ChatID,
		MessageID:    msg.ID,
		SenderID:     msg.FromID,
		EventTime:    eventTime,
		Location:     location,
		LastModified: now,
	}
	if err := r.st.UpsertEvent(ctx, ev); err != nil {
		r.log.Error("save event", logx.Int64("chat", msg.ChatID), logx.Int("message", msg.ID), logx.Err(err))
		return
	}
	verb := "tracked"
	if edited {
		verb = "updated"
	}
	r.log.Info("event "+verb,
		logx.Int64("chat", msg.ChatID),
		logx.Int("message", msg.ID),
		logx.Time("event_time", eventTime),
		logx.String("location", location))
}

func (r *Router) replyUsage(ctx context.Context, msg transport.Message, text string) {
	err := r.sender.Send(ctx, transport.ChatTarget{ChatID: msg.ChatID}, text, &transport.SendOptions{ReplyTo: msg.ID})
	if err != nil {
		r.log.Warn("usage reply failed", logx.Int64("chat", msg.ChatID), logx.Err(err))
	}
}

func (r *Router) greetingAnchor(ctx context.Context, chatID int64) int {
	raw, ok, err := r.st.GetSetting(ctx, store.GreetingAnchorKey(chatID))
	if err != nil {
		r.log.Warn("greeting anchor lookup failed", logx.Int64("chat", chatID), logx.Err(err))
		return 0
	}
	if !ok {
		return 0
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return id
}
