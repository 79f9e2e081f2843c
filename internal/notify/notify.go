// Package notify is the delivery seam between the lifecycle engine and the
// chat platform: paced sends with classified failures, and a liveness probe
// for externally-referenced messages.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"concierge/internal/transport"
	"concierge/pkg/logx"
)

type Config struct {
	RatePerSec  int           // default 3
	SendTimeout time.Duration // default 10s
	// ScratchChatID is the throwaway destination used by ProbeExists
	// (forward-then-delete). 0 disables probing.
	ScratchChatID int64
}

// ProbeResult classifies a liveness probe of an external message.
type ProbeResult int

const (
	ProbeTransient ProbeResult = iota // inconclusive; retry next cycle
	ProbeExists
	ProbeNotFound
	ProbeForbidden
)

func (r ProbeResult) String() string {
	switch r {
	case ProbeExists:
		return "exists"
	case ProbeNotFound:
		return "not_found"
	case ProbeForbidden:
		return "forbidden"
	default:
		return "transient"
	}
}

// Gone reports whether the probed message is permanently unreachable.
func (r ProbeResult) Gone() bool {
	return r == ProbeNotFound || r == ProbeForbidden
}

// Sender is what the lifecycle engine depends on; Service implements it.
type Sender interface {
	Send(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error
	Probe(ctx context.Context, ref transport.MessageRef) ProbeResult
}

type Service struct {
	adapter transport.Adapter
	log     logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Send delivers one message, honoring the outbound rate limit. The returned
// error carries a transport.ErrorKind when the failure is classifiable.
func (s *Service) Send(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	cfg, lim := s.snapshot()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	_, err := s.adapter.SendText(callCtx, to, text, opt)
	return err
}

// Probe checks whether ref still exists by forwarding it to the scratch chat
// and deleting the forwarded copy. The forward is the only observable action
// against the origin; the cleanup delete runs against the scratch chat and
// is best-effort.
func (s *Service) Probe(ctx context.Context, ref transport.MessageRef) ProbeResult {
	cfg, lim := s.snapshot()
	if cfg.ScratchChatID == 0 {
		s.log.Debug("probe skipped: scratch chat not configured")
		return ProbeTransient
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := lim.Wait(ctx); err != nil {
		return ProbeTransient
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	copied, err := s.adapter.Forward(callCtx, ref, transport.ChatTarget{ChatID: cfg.ScratchChatID})
	if err != nil {
		switch transport.KindOf(err) {
		case transport.KindNotFound:
			return ProbeNotFound
		case transport.KindForbidden:
			return ProbeForbidden
		default:
			s.log.Debug("probe inconclusive", logx.Err(err),
				logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID))
			return ProbeTransient
		}
	}

	if err := s.adapter.Delete(callCtx, copied); err != nil {
		s.log.Debug("probe cleanup failed", logx.Err(err), logx.Int("message_id", copied.MessageID))
	}
	return ProbeExists
}
