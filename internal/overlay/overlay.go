// Package overlay keeps the per-profile set of messages a user has hidden
// for themselves. Hidden messages stay on the provider; they are only
// filtered out of this profile's rendering.
package overlay

import (
	"context"
	"encoding/json"
	"slices"

	"chatbridge/internal/constants"
	"chatbridge/internal/errors"
	"chatbridge/internal/kvstore"
	"chatbridge/internal/privacy"
	"chatbridge/internal/validation"
	"chatbridge/pkg/stream/types"

	"github.com/sirupsen/logrus"
)

// Overlay reads and writes hidden-message sets in a kvstore.Store
type Overlay struct {
	store  kvstore.Store
	logger *logrus.Logger
}

// New creates an overlay backed by store
func New(store kvstore.Store, logger *logrus.Logger) *Overlay {
	if logger == nil {
		logger = logrus.New()
	}
	return &Overlay{store: store, logger: logger}
}

// Key returns the storage key of a channel's hidden set
func Key(channelID string) string {
	return constants.HiddenMessagesKeyPrefix + channelID
}

// IsHidden reports whether messageID is hidden in channelID. It never
// fails: a missing, unreadable or corrupt entry counts as an empty set.
func (o *Overlay) IsHidden(ctx context.Context, channelID, messageID string) bool {
	return slices.Contains(o.hiddenIDs(ctx, channelID), messageID)
}

// Hidden returns the hidden ids of a channel in insertion order
func (o *Overlay) Hidden(ctx context.Context, channelID string) []string {
	return o.hiddenIDs(ctx, channelID)
}

// Hide adds messageID to the channel's hidden set. Hiding an already hidden
// message is a no-op. A corrupt stored value is replaced.
func (o *Overlay) Hide(ctx context.Context, channelID, messageID string) error {
	if err := validation.ValidateChannelID(channelID); err != nil {
		return err
	}
	if err := validation.ValidateMessageID(messageID); err != nil {
		return err
	}

	err := o.store.Update(ctx, Key(channelID), func(current string, exists bool) (string, error) {
		ids := []string{}
		if exists {
			parsed, ok := parse(current)
			if !ok {
				o.logger.WithField("channel_id", privacy.MaskChannelID(channelID)).
					Warn("Replacing corrupt hidden message set")
			}
			ids = append(ids, parsed...)
		}
		if !slices.Contains(ids, messageID) {
			ids = append(ids, messageID)
		}

		encoded, err := json.Marshal(ids)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	})
	if err != nil {
		return err
	}

	o.logger.WithFields(logrus.Fields{
		"channel_id": privacy.MaskChannelID(channelID),
		"message_id": privacy.MaskMessageID(messageID),
	}).Debug("Message hidden locally")
	return nil
}

// Import hides every id of a serialized hidden set (the JSON array format
// used by browser storage) in channelID. It returns how many ids were newly
// hidden. A value that is not an array imports nothing and reports an error.
func (o *Overlay) Import(ctx context.Context, channelID, raw string) (int, error) {
	if err := validation.ValidateChannelID(channelID); err != nil {
		return 0, err
	}
	ids, ok := parse(raw)
	if !ok {
		return 0, errors.NewValidationError("hidden_messages", channelID, "value is not a JSON array")
	}

	before := len(o.hiddenIDs(ctx, channelID))
	for _, id := range ids {
		if err := o.Hide(ctx, channelID, id); err != nil {
			if errors.GetCode(err) == errors.ErrCodeInvalidInput || errors.GetCode(err) == errors.ErrCodeValidationFailed {
				o.logger.WithField("channel_id", privacy.MaskChannelID(channelID)).Debug("Skipping invalid message id")
				continue
			}
			return 0, err
		}
	}
	return len(o.hiddenIDs(ctx, channelID)) - before, nil
}

// Visible returns msgs without the ones hidden in channelID. Order is kept.
func (o *Overlay) Visible(ctx context.Context, channelID string, msgs []types.Message) []types.Message {
	hidden := o.hiddenIDs(ctx, channelID)
	if len(hidden) == 0 {
		return msgs
	}

	visible := make([]types.Message, 0, len(msgs))
	for _, msg := range msgs {
		if !slices.Contains(hidden, msg.ID) {
			visible = append(visible, msg)
		}
	}
	return visible
}

func (o *Overlay) hiddenIDs(ctx context.Context, channelID string) []string {
	raw, ok, err := o.store.Get(ctx, Key(channelID))
	if err != nil {
		o.logger.WithError(err).WithField("channel_id", privacy.MaskChannelID(channelID)).
			Warn("Failed to read hidden message set")
		return nil
	}
	if !ok {
		return nil
	}
	ids, _ := parse(raw)
	return ids
}

// parse decodes a stored JSON array of ids. Non-string elements are
// skipped; anything that is not an array yields ok=false.
func parse(raw string) (ids []string, ok bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, false
	}
	for _, elem := range elems {
		var id string
		if err := json.Unmarshal(elem, &id); err == nil && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, true
}
