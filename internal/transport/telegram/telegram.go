// Package telegram implements transport.Adapter on top of telebot's long poller.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"concierge/internal/runtime/supervisor"
	"concierge/internal/transport"
	"concierge/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger).
	sup *supervisor.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) BotID() int64 {
	if a.bot == nil || a.bot.Me == nil {
		return 0
	}
	return a.bot.Me.ID
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil {
			a.sendUpdate(transport.Update{Kind: transport.UpdateMessage, Message: convertMessage(m)})
		}
		return nil
	})

	a.bot.Handle(tele.OnEdited, func(c tele.Context) error {
		if m := c.Message(); m != nil {
			a.sendUpdate(transport.Update{Kind: transport.UpdateEdited, Message: convertMessage(m)})
		}
		return nil
	})

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		users := make([]transport.User, 0, len(m.UsersJoined)+1)
		for _, u := range m.UsersJoined {
			users = append(users, transport.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName})
		}
		if len(users) == 0 && m.UserJoined != nil {
			u := m.UserJoined
			users = append(users, transport.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName})
		}
		if len(users) == 0 {
			return nil
		}
		a.sendUpdate(transport.Update{Kind: transport.UpdateJoined, Joined: &transport.Joined{
			ChatID:    m.Chat.ID,
			ChatTitle: m.Chat.Title,
			Users:     users,
		}})
		return nil
	})
}

func convertMessage(m *tele.Message) *transport.Message {
	out := &transport.Message{
		ID:     m.ID,
		ChatID: m.Chat.ID,
		Text:   m.Text,
	}
	if m.Chat != nil {
		out.ChatTitle = m.Chat.Title
		out.IsPrivate = m.Chat.Type == tele.ChatPrivate
		out.IsGroup = m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
		out.FromFirstName = m.Sender.FirstName
	}
	if m.ReplyTo != nil {
		out.ReplyToID = m.ReplyTo.ID
	}
	return out
}

func (a *Adapter) sendUpdate(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		supervisor.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n))
				}
			}
		}
	})

	// Ensure we stop telebot when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop; run it under a restart loop
	// so the adapter self-heals if it exits unexpectedly.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
		if c.Err() == nil {
			return errors.New("poller exited")
		}
		return nil
	})

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}

	// Grace window: keep shutdown snappy even if getUpdates long-poll is
	// still in flight.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		// Don't hard-fail shutdown for the adapter; just report.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks that are safe to send to
// Telegram, preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}

	chunks := splitText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				if first.ChatID != 0 {
					return first, ctx.Err()
				}
				return transport.MessageRef{}, ctx.Err()
			default:
			}
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		// Anchor only the first chunk to the reply target.
		if i == 0 && opt.ReplyTo != 0 {
			sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			err = classify(err)
			if first.ChatID != 0 {
				return first, err
			}
			return transport.MessageRef{}, err
		}

		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}

	return first, nil
}

func (a *Adapter) Forward(ctx context.Context, ref transport.MessageRef, to transport.ChatTarget) (transport.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	src := &tele.StoredMessage{ChatID: ref.ChatID, MessageID: strconv.Itoa(ref.MessageID)}
	msg, err := a.bot.Forward(&tele.Chat{ID: to.ChatID}, src)
	if err != nil {
		return transport.MessageRef{}, classify(err)
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) Delete(ctx context.Context, ref transport.MessageRef) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	target := &tele.StoredMessage{ChatID: ref.ChatID, MessageID: strconv.Itoa(ref.MessageID)}
	if err := a.bot.Delete(target); err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	member, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, classify(err)
	}
	return member.Role == tele.Administrator || member.Role == tele.Creator, nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// classify maps telebot errors onto transport error kinds so the layers
// above never see platform-specific errors.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &transport.Error{Kind: transport.KindRateLimited, Err: err}
	}

	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 401 || te.Code == 403:
			return &transport.Error{Kind: transport.KindForbidden, Err: err}
		case te.Code == 429:
			return &transport.Error{Kind: transport.KindRateLimited, Err: err}
		case te.Code == 400 && strings.Contains(strings.ToLower(te.Description), "not found"):
			return &transport.Error{Kind: transport.KindNotFound, Err: err}
		}
		return &transport.Error{Kind: transport.KindTransient, Err: err}
	}

	// telebot falls back to plain errors for API descriptions it doesn't
	// know; classify by message text as a last resort.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "blocked"), strings.Contains(msg, "kicked"),
		strings.Contains(msg, "deactivated"), strings.Contains(msg, "forbidden"):
		return &transport.Error{Kind: transport.KindForbidden, Err: err}
	case strings.Contains(msg, "not found"):
		return &transport.Error{Kind: transport.KindNotFound, Err: err}
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "retry after"):
		return &transport.Error{Kind: transport.KindRateLimited, Err: err}
	}
	return &transport.Error{Kind: transport.KindTransient, Err: err}
}
