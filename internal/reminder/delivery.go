package reminder

import (
	"context"
	"errors"
	"fmt"
)

// Resolver outcomes that decide a reminder's fate without sending.
var (
	// ErrHostGone: the chat no longer exists or the bot was removed from it.
	ErrHostGone = errors.New("host chat gone")
	// ErrHostUnavailable: the chat exists but cannot be reached right now.
	ErrHostUnavailable = errors.New("host chat unavailable")
	// ErrDestinationGone: the forum topic was deleted or closed.
	ErrDestinationGone = errors.New("destination gone")
	ErrNoPermission    = errors.New("no permission to post")
)

// MentionPolicy limits who a notice may ping.
type MentionPolicy struct {
	Everyone    bool
	Users       bool
	RepliedUser bool
}

type Destination struct {
	ChatID   int64
	ThreadID int
	Policy   MentionPolicy
}

// Notice is the content of a fired reminder.
type Notice struct {
	OwnerID   int64
	OwnerName string
	Body      string
	// Elapsed is the humanized time since the reminder was requested ("3 hours ago").
	Elapsed string
}

type Delivery struct {
	To     Destination
	Notice Notice
	// ReplyTo is the origin message id; 0 sends a standalone message.
	ReplyTo int
}

type Reason int

const (
	ReasonTransient Reason = iota + 1
	ReasonPermanent
	// ReasonContentUnusable means the reply target is gone; a plain
	// message may still succeed.
	ReasonContentUnusable
)

func (r Reason) String() string {
	switch r {
	case ReasonTransient:
		return "transient"
	case ReasonPermanent:
		return "permanent"
	case ReasonContentUnusable:
		return "content_unusable"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

type DeliveryError struct {
	Reason Reason
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return "delivery failed (" + e.Reason.String() + ")"
	}
	return "delivery failed (" + e.Reason.String() + "): " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ReasonOf classifies a Send error. Errors that are not a *DeliveryError
// count as transient.
func ReasonOf(err error) Reason {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ReasonTransient
}

type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// Resolver looks up where a reminder can be delivered right now. It returns
// one of ErrHostGone, ErrHostUnavailable, ErrDestinationGone or
// ErrNoPermission (possibly wrapped) when delivery should not be attempted.
type Resolver interface {
	Resolve(ctx context.Context, r Reminder) (Destination, error)
}
