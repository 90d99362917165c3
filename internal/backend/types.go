package backend

import (
	"strings"
	"time"
)

// User is a backend account as seen by the client. Immutable after
// session resolution.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Chat is a conversation thread with a fixed participant set. The
// last-message fields are a denormalized summary maintained on send.
type Chat struct {
	ID            string
	CreatedAt     time.Time
	LastMessage   string
	LastMessageAt time.Time
	Participants  []User
}

// Message is a single chat message. Immutable once created; ordering
// is by CreatedAt ascending.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Sender    User      `json:"sender"`
}

// Session is the backend's proof that this client represents an
// authenticated user.
type Session struct {
	AccessToken string
	User        User
}

// participantRow mirrors one row of the chat_participants join query:
// the membership row expanded with the chat's metadata and the chat's
// full participant list.
type participantRow struct {
	ChatID string  `json:"chat_id"`
	Chat   chatRow `json:"chats"`
}

type chatRow struct {
	ID            string      `json:"id"`
	CreatedAt     time.Time   `json:"created_at"`
	LastMessage   string      `json:"last_message"`
	LastMessageAt time.Time   `json:"last_message_at"`
	Participants  []memberRow `json:"participants"`
}

type memberRow struct {
	UserID string `json:"user_id"`
	User   User   `json:"users"`
}

// flattenChats projects the nested join rows into flat Chat records.
// Participant names fall back to the email local-part when the profile
// has none.
func flattenChats(rows []participantRow) []Chat {
	chats := make([]Chat, 0, len(rows))
	for _, row := range rows {
		participants := make([]User, 0, len(row.Chat.Participants))
		for _, m := range row.Chat.Participants {
			u := m.User
			if u.Name == "" {
				u.Name = localPart(u.Email)
			}
			participants = append(participants, u)
		}
		chats = append(chats, Chat{
			ID:            row.ChatID,
			CreatedAt:     row.Chat.CreatedAt,
			LastMessage:   row.Chat.LastMessage,
			LastMessageAt: row.Chat.LastMessageAt,
			Participants:  participants,
		})
	}
	return chats
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
