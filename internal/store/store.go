package store

import (
	"context"
	"time"
)

// Store is the persistence API used by the router and the lifecycle engine.
//
// Callers treat an error from a read as "nothing due this tick", never as
// "the store is empty": a failed read must not trigger deletions or
// duplicate sends.
type Store interface {
	// UpsertMember inserts or refreshes a member row. JoinTime is set only
	// on insert; display fields are refreshed on conflict; flags are
	// preserved.
	UpsertMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, chatID, userID int64) (Member, bool, error)
	FindMembers(ctx context.Context, f MemberFilter) ([]Member, error)
	// SetMemberFlag bulk-sets a monotonic flag to true for the given users
	// in one chat.
	SetMemberFlag(ctx context.Context, chatID int64, userIDs []int64, flag MemberFlag) error
	SetSubscribed(ctx context.Context, chatID, userID int64, on bool) error

	// UpsertEvent inserts or updates an event by (chat, source message).
	// On conflict the offsets already sent are preserved and LastModified
	// is replaced.
	UpsertEvent(ctx context.Context, ev Event) error
	GetEvent(ctx context.Context, chatID int64, messageID int) (Event, bool, error)
	FindEvents(ctx context.Context, f EventFilter) ([]Event, error)
	// AddEventOffsets records offsets as sent (set union, monotonic).
	AddEventOffsets(ctx context.Context, chatID int64, messageID int, offsets ...time.Duration) error
	DeleteEvent(ctx context.Context, chatID int64, messageID int) error

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}
