package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// ScratchChatID is a throwaway chat used as the destination for
	// liveness probes (forward-then-delete). Usually a private channel
	// the bot administers.
	ScratchChatID int64   `json:"scratch_chat_id"`
	OwnerUserIDs  []int64 `json:"owner_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// LifecycleConfig controls the reminder engine.
//
// All durations are Go duration strings (e.g. "24h", "10m").
//
// Defaults (when fields are omitted/zero):
//   - timezone: "US/Eastern"
//   - reminder_offsets: ["168h","120h","24h"] (7d, 5d, 1d before the event)
//   - intro_threshold: "72h"
//   - intro_followup_threshold: "168h"
//   - daily_spec: "0 9 * * *" (welcome/intro batches at 09:00 local)
//   - event_tick: "1m"
//   - probe_tick: "10m"
//   - batch_fanout: 4
type LifecycleConfig struct {
	Timezone               string   `json:"timezone,omitempty"`
	ReminderOffsets        []string `json:"reminder_offsets,omitempty"`
	IntroThreshold         string   `json:"intro_threshold,omitempty"`
	IntroFollowupThreshold string   `json:"intro_followup_threshold,omitempty"`
	DailySpec              string   `json:"daily_spec,omitempty"`
	EventTick              string   `json:"event_tick,omitempty"`
	ProbeTick              string   `json:"probe_tick,omitempty"`
	BatchFanout            int      `json:"batch_fanout,omitempty"`
}

// NotifierConfig controls outbound delivery pacing.
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 3
	SendTimeout string `json:"send_timeout,omitempty"` // default "10s"
}

// Validate checks everything that must hold before startup.
// A non-nil error here is fatal: the process should not come up half-configured.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("notifier.send_timeout", cfg.Notifier.SendTimeout); err != nil {
		return err
	}
	lc := cfg.Lifecycle
	if tz := strings.TrimSpace(lc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("lifecycle.timezone: unknown zone %q: %w", tz, err)
		}
	}
	for i, raw := range lc.ReminderOffsets {
		d, err := ParseDurationField(fmt.Sprintf("lifecycle.reminder_offsets[%d]", i), raw)
		if err != nil {
			return err
		}
		// Offsets are persisted with second precision.
		if d%time.Second != 0 {
			return fmt.Errorf("lifecycle.reminder_offsets[%d]: %q must be a whole number of seconds", i, raw)
		}
	}
	if _, err := ParseDurationField("lifecycle.intro_threshold", lc.IntroThreshold); err != nil {
		return err
	}
	if _, err := ParseDurationField("lifecycle.intro_followup_threshold", lc.IntroFollowupThreshold); err != nil {
		return err
	}
	if _, err := ParseDurationField("lifecycle.event_tick", lc.EventTick); err != nil {
		return err
	}
	if _, err := ParseDurationField("lifecycle.probe_tick", lc.ProbeTick); err != nil {
		return err
	}
	if lc.BatchFanout < 0 {
		return errors.New("lifecycle.batch_fanout must be >= 0")
	}
	return nil
}
