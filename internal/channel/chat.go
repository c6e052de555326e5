package channel

import (
	"context"

	"edugate/internal/domain"
)

// Chat is the conversation channel: inbound messages, typing indicators and
// unread-count requests, outbound message sends and typing signals.
type Chat struct {
	*Manager
}

func NewChat(opts Options) *Chat {
	opts.Name = "chat"
	return &Chat{Manager: NewManager(opts)}
}

func (c *Chat) OnMessage(fn Handler) *Subscription {
	return c.Subscribe(domain.EventChatMessage, fn)
}

// OnMessageBatch delivers message bursts coalesced per debounce window.
func (c *Chat) OnMessageBatch(fn BatchHandler) *Subscription {
	return c.SubscribeBatch(domain.EventChatMessage, fn)
}

func (c *Chat) OnTyping(fn Handler) *Subscription {
	return c.Subscribe(domain.EventChatTyping, fn)
}

func (c *Chat) OnUnreadRequest(fn Handler) *Subscription {
	return c.Subscribe(domain.EventUnreadRequest, fn)
}

func (c *Chat) SendMessage(ctx context.Context, conversationID, text string) error {
	return c.Invoke(ctx, "SendMessage", map[string]string{
		"conversationId": conversationID,
		"text":           text,
	})
}

func (c *Chat) StartTyping(ctx context.Context, conversationID string) error {
	return c.Invoke(ctx, "StartTyping", map[string]string{"conversationId": conversationID})
}

func (c *Chat) StopTyping(ctx context.Context, conversationID string) error {
	return c.Invoke(ctx, "StopTyping", map[string]string{"conversationId": conversationID})
}

func (c *Chat) RequestUnreadCount(ctx context.Context) error {
	return c.Invoke(ctx, "RequestUnreadCount", nil)
}

// BroadcastMessageDeleted is optional on the server side; peers without it
// answer unsupported, which is absorbed.
func (c *Chat) BroadcastMessageDeleted(ctx context.Context, conversationID, messageID string) error {
	return c.InvokeBestEffort(ctx, "BroadcastMessageDeleted", map[string]string{
		"conversationId": conversationID,
		"messageId":      messageID,
	})
}
