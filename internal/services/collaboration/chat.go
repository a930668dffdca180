package collaboration

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"canvas-relay/internal/models"
)

// MaxChatLength is the longest accepted chat message, in runes
const MaxChatLength = 5000

// ChatChannel relays chat messages. Nothing is stored: members who join later
// never see earlier messages.
type ChatChannel struct {
	registry *Registry
	relay    *Relay
}

func NewChatChannel(registry *Registry, relay *Relay) *ChatChannel {
	return &ChatChannel{registry: registry, relay: relay}
}

// Publish stamps text with an id, the server time and the sender's join-time
// username, then relays it to everyone in the room but the sender.
func (c *ChatChannel) Publish(ctx context.Context, id, roomCode, text string) (*models.ChatMessage, error) {
	username, ok := c.registry.Username(roomCode, id)
	if !ok {
		return nil, ErrNotJoined
	}

	// Relayed as typed so every transcript matches the sender's.
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty chat message", ErrMalformed)
	}
	if n := utf8.RuneCountInString(text); n > MaxChatLength {
		return nil, fmt.Errorf("%w: chat message has %d characters, limit is %d", ErrMalformed, n, MaxChatLength)
	}

	msg := models.NewChatMessage(id, username, text)
	if err := c.relay.Broadcast(ctx, id, roomCode, models.MessageTypeChatMessage, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
