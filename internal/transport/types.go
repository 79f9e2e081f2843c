package transport

import (
	"context"
	"errors"
	"fmt"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateEdited  UpdateKind = "edited"
	UpdateJoined  UpdateKind = "joined"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Joined  *Joined
}

type Message struct {
	ID            int
	ChatID        int64
	ChatTitle     string
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string
	ReplyToID     int // message id being replied to (0 if none)
	IsGroup       bool
	IsPrivate     bool
}

// Joined is emitted when one or more users enter a group chat.
type Joined struct {
	ChatID    int64
	ChatTitle string
	Users     []User
}

type User struct {
	ID        int64
	Username  string
	FirstName string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo anchors the outgoing message to an existing message in the
	// destination chat. 0 means no reply.
	ReplyTo int
}

// ErrorKind classifies a delivery failure.
//
// NotFound and Forbidden are permanent for the referenced target;
// RateLimited and Transient are retryable.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindNotFound
	KindForbidden
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// Error wraps a platform error with its classified kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classified kind of err, defaulting to Transient for
// anything the adapter did not (or could not) classify.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTransient
}

// Adapter is the chat-platform binding. Everything above it is
// platform-agnostic.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Forward(ctx context.Context, ref MessageRef, to ChatTarget) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)

	// BotID is the platform user id of the bot itself (to skip self-joins).
	BotID() int64
}
