// Package actions gates destructive chat actions behind an explicit
// request/confirm step.
package actions

import (
	"context"
	"sync"

	"chatbridge/internal/chatsession"
	"chatbridge/internal/errors"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
	"chatbridge/internal/notify"
	"chatbridge/internal/privacy"
	"chatbridge/pkg/stream"
	"chatbridge/pkg/stream/types"

	"github.com/sirupsen/logrus"
)

// Kind is a destructive action
type Kind string

const (
	HideForMe         Kind = "hide_for_me"
	DeleteForEveryone Kind = "delete_for_everyone"
	ClearChannel      Kind = "clear_channel"
)

// Prompt is the confirmation text shown for the action
func (k Kind) Prompt() string {
	switch k {
	case HideForMe:
		return "This will hide the message from your view only. Other participants can still see it."
	case DeleteForEveryone:
		return "This will delete the message for everyone in this chat. This action cannot be undone."
	case ClearChannel:
		return "Are you sure you want to clear all messages? This action cannot be undone and will remove messages for all participants."
	}
	return ""
}

// Notifications shown after a confirmed action
const (
	MsgHidden         = "Message hidden"
	MsgHideFailed     = "Failed to hide message"
	MsgDeleted        = "Message deleted for everyone"
	MsgDeleteFailed   = "Failed to delete message"
	MsgChatCleared    = "Chat cleared successfully"
	MsgChatClearFails = "Failed to clear chat"
)

var (
	ErrNotReady       = errors.New(errors.ErrCodeNotConnected, "chat session is not ready")
	ErrNothingPending = errors.New(errors.ErrCodeInvalidInput, "no action is pending")
	ErrNotAuthor      = errors.New(errors.ErrCodeAuthorization, "only the author can delete a message for everyone")
	ErrChannelChanged = errors.New(errors.ErrCodeInvalidInput, "the chat changed since the action was requested")
)

// Pending is the recorded, not yet confirmed, action. ChannelID is the
// channel that was open when the action was requested.
type Pending struct {
	Show      bool
	Kind      Kind
	Target    *types.Message
	ChannelID string
}

// SessionSource returns the current session, or nil when not Ready
type SessionSource interface {
	Session() *chatsession.Session
}

// Hider hides a message locally
type Hider interface {
	Hide(ctx context.Context, channelID, messageID string) error
}

// ChannelClearer truncates a channel through the backend
type ChannelClearer interface {
	ClearChat(ctx context.Context, channelID string) error
}

// Options wires a Flow
type Options struct {
	Sessions SessionSource
	Overlay  Hider
	Clearer  ChannelClearer
	Notifier notify.Notifier
	Logger   *logrus.Logger
}

// Flow holds at most one pending action
type Flow struct {
	sessions SessionSource
	overlay  Hider
	clearer  ChannelClearer
	notifier notify.Notifier
	logger   *logrus.Logger

	mu      sync.Mutex
	pending Pending
}

// NewFlow creates a Flow with nothing pending
func NewFlow(opts Options) *Flow {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogNotifier(opts.Logger)
	}
	return &Flow{
		sessions: opts.Sessions,
		overlay:  opts.Overlay,
		clearer:  opts.Clearer,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
}

// Available lists the actions offered for msg to the current user
func Available(msg types.Message, currentUserID string) []Kind {
	kinds := []Kind{HideForMe}
	if currentUserID != "" && msg.AuthorID() == currentUserID {
		kinds = append(kinds, DeleteForEveryone)
	}
	return kinds
}

// Pending returns the recorded action
func (f *Flow) Pending() Pending {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Request records an action without performing it. A later Request
// replaces an earlier one.
func (f *Flow) Request(kind Kind, target *types.Message) error {
	session := f.sessions.Session()
	if session == nil {
		return ErrNotReady
	}

	switch kind {
	case HideForMe, DeleteForEveryone:
		if target == nil || target.ID == "" {
			return errors.New(errors.ErrCodeInvalidInput, "a target message is required")
		}
		if kind == DeleteForEveryone && target.AuthorID() != session.User.ID {
			return ErrNotAuthor
		}
		copied := *target
		target = &copied
	case ClearChannel:
		target = nil
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown action "+string(kind))
	}

	f.mu.Lock()
	f.pending = Pending{Show: true, Kind: kind, Target: target, ChannelID: session.ChannelID}
	f.mu.Unlock()
	return nil
}

// Cancel drops the pending action
func (f *Flow) Cancel() {
	f.mu.Lock()
	f.pending = Pending{}
	f.mu.Unlock()
}

// Confirm performs the pending action. The intent is cleared whatever the
// outcome; failures are also reported through the notifier. An action
// requested in another channel than the one now open is dropped with
// ErrChannelChanged.
func (f *Flow) Confirm(ctx context.Context) error {
	f.mu.Lock()
	pending := f.pending
	f.pending = Pending{}
	f.mu.Unlock()

	if !pending.Show {
		return ErrNothingPending
	}
	session := f.sessions.Session()
	if session == nil {
		return ErrNotReady
	}

	logger := f.logger.WithFields(logrus.Fields{
		logging.LogFieldAction:    string(pending.Kind),
		logging.LogFieldChannelID: privacy.MaskChannelID(pending.ChannelID),
	})

	// A newer bootstrap may have switched chats since Request
	if session.ChannelID != pending.ChannelID {
		f.notifier.Error(failureMessage(pending.Kind))
		logger.WithField("current_channel_id", privacy.MaskChannelID(session.ChannelID)).
			Warn("Dropped chat action requested in another channel")
		metrics.IncrementCounter("chat_actions_total", map[string]string{
			"action":  string(pending.Kind),
			"outcome": "channel_changed",
		}, "Confirmed chat actions")
		return ErrChannelChanged
	}

	var err error
	switch pending.Kind {
	case HideForMe:
		err = f.hide(ctx, session, pending.Target)
	case DeleteForEveryone:
		err = f.deleteForEveryone(ctx, session, pending.Target)
	case ClearChannel:
		err = f.clear(ctx, session)
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
		errors.WrapLogger(f.logger).LogWarn(err, "Chat action failed", logger.Data)
	} else {
		logger.Info("Chat action completed")
	}
	metrics.IncrementCounter("chat_actions_total", map[string]string{
		"action":  string(pending.Kind),
		"outcome": outcome,
	}, "Confirmed chat actions")
	return err
}

func failureMessage(kind Kind) string {
	switch kind {
	case HideForMe:
		return MsgHideFailed
	case DeleteForEveryone:
		return MsgDeleteFailed
	}
	return MsgChatClearFails
}

func (f *Flow) hide(ctx context.Context, session *chatsession.Session, target *types.Message) error {
	if err := f.overlay.Hide(ctx, session.ChannelID, target.ID); err != nil {
		f.notifier.Error(MsgHideFailed)
		return err
	}
	f.notifier.Success(MsgHidden)
	return nil
}

func (f *Flow) deleteForEveryone(ctx context.Context, session *chatsession.Session, target *types.Message) error {
	// The session may have changed user since Request
	if target.AuthorID() != session.User.ID {
		f.notifier.Error(MsgDeleteFailed)
		return ErrNotAuthor
	}

	if err := session.Client.DeleteMessage(ctx, target.ID, true); err != nil {
		f.notifier.Error(MsgDeleteFailed)
		return errors.NewAPIError("stream", "delete_message", stream.StatusCode(err), err)
	}
	f.logger.WithField(logging.LogFieldMessageID, privacy.MaskMessageID(target.ID)).Debug("Message hard deleted")
	f.notifier.Success(MsgDeleted)
	return nil
}

func (f *Flow) clear(ctx context.Context, session *chatsession.Session) error {
	if err := f.clearer.ClearChat(ctx, session.ChannelID); err != nil {
		f.notifier.Error(MsgChatClearFails)
		return err
	}
	f.notifier.Success(MsgChatCleared)
	return nil
}
