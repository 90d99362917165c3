package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Embedded-join select lists. The participant list is aliased so the
// join rows decode into a named field instead of an inferred shape.
const (
	chatSelect    = "chat_id,chats(id,created_at,last_message,last_message_at,participants:chat_participants(user_id,users(id,email,name,avatar_url)))"
	messageSelect = "id,chat_id,sender_id,content,created_at,sender:users(id,email,name,avatar_url)"
)

// ListChats returns every chat the user participates in, each expanded
// with its metadata and full participant list.
func (c *Client) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	q := url.Values{
		"select":  {chatSelect},
		"user_id": {"eq." + userID},
	}
	var rows []participantRow
	if err := c.do(ctx, http.MethodGet, "/rest/v1/chat_participants", q, nil, &rows); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return flattenChats(rows), nil
}

// ListMessages returns the full message history of a chat ordered by
// creation time ascending, each message expanded with its sender.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	q := url.Values{
		"select":  {messageSelect},
		"chat_id": {"eq." + chatID},
		"order":   {"created_at.asc"},
	}
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, "/rest/v1/messages", q, nil, &msgs); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// InsertMessage creates a message row attributed to the sender in the
// given chat. The ID is generated client-side; the backend echoes the
// stored row back.
func (c *Client) InsertMessage(ctx context.Context, chatID, senderID, content string) (*Message, error) {
	row := map[string]string{
		"id":        uuid.New().String(),
		"chat_id":   chatID,
		"sender_id": senderID,
		"content":   content,
	}
	q := url.Values{"select": {messageSelect}}
	var inserted []Message
	err := c.do(ctx, http.MethodPost, "/rest/v1/messages", q, []map[string]string{row}, &inserted,
		func(req *http.Request) {
			req.Header.Set("Prefer", "return=representation")
		})
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if len(inserted) == 0 {
		return nil, fmt.Errorf("insert message: backend returned no rows")
	}
	return &inserted[0], nil
}

// UpdateChatSummary patches a chat's denormalized last-message fields.
func (c *Client) UpdateChatSummary(ctx context.Context, chatID, lastMessage string, at time.Time) error {
	q := url.Values{"id": {"eq." + chatID}}
	patch := map[string]any{
		"last_message":    lastMessage,
		"last_message_at": at.UTC().Format(time.RFC3339Nano),
	}
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/chats", q, patch, nil); err != nil {
		return fmt.Errorf("update chat summary: %w", err)
	}
	return nil
}
