package model

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/periskope/chat/internal/backend"
	"github.com/periskope/chat/internal/session"
	"github.com/periskope/chat/internal/thread"
	"go.uber.org/zap"
)

// AuthMode selects between the two credential form submissions.
type AuthMode string

const (
	ModeLogin  AuthMode = "login"
	ModeSignup AuthMode = "signup"
)

// Backend is the slice of the backend client the view model drives.
type Backend interface {
	CurrentUser(ctx context.Context) (*backend.User, error)
	SignIn(ctx context.Context, email, password string) (*backend.Session, error)
	SignUp(ctx context.Context, email, password string) (*backend.Session, error)
	SetToken(token string)
	ListChats(ctx context.Context, userID string) ([]backend.Chat, error)
	InsertMessage(ctx context.Context, chatID, senderID, content string) (*backend.Message, error)
	UpdateChatSummary(ctx context.Context, chatID, lastMessage string, at time.Time) error
}

// ViewModel caches client state between the backend and the views.
type ViewModel struct {
	mu sync.RWMutex

	api       Backend
	threads   *thread.Manager
	tokenPath string
	logger    *zap.Logger
	Flash     Flash

	user       *backend.User
	chats      []backend.Chat
	chatsFor   string // user the chat list was loaded for
	activeChat string
	authBusy   bool
}

// NewViewModel creates a view model over the backend and thread manager.
func NewViewModel(api Backend, threads *thread.Manager, tokenPath string, logger *zap.Logger) *ViewModel {
	return &ViewModel{
		api:       api,
		threads:   threads,
		tokenPath: tokenPath,
		logger:    logger,
	}
}

// ResolveSession asks the backend who the installed token belongs to.
// Runs once per process start; a failure means the auth view gates.
func (vm *ViewModel) ResolveSession(ctx context.Context) (*backend.User, error) {
	user, err := vm.api.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	vm.mu.Lock()
	vm.user = user
	vm.mu.Unlock()
	return user, nil
}

// Authenticate submits the credential form. The in-flight flag rejects
// concurrent submissions. On success the token is installed and
// persisted and the resolved user recorded.
func (vm *ViewModel) Authenticate(ctx context.Context, mode AuthMode, email, password string) error {
	vm.mu.Lock()
	if vm.authBusy {
		vm.mu.Unlock()
		return nil
	}
	vm.authBusy = true
	vm.mu.Unlock()
	defer func() {
		vm.mu.Lock()
		vm.authBusy = false
		vm.mu.Unlock()
	}()

	var (
		sess *backend.Session
		err  error
	)
	switch mode {
	case ModeSignup:
		sess, err = vm.api.SignUp(ctx, email, password)
	default:
		sess, err = vm.api.SignIn(ctx, email, password)
	}
	if err != nil {
		return err
	}

	vm.api.SetToken(sess.AccessToken)
	if vm.tokenPath != "" {
		if err := session.SaveToken(vm.tokenPath, sess.AccessToken); err != nil {
			vm.logger.Warn("persist token failed", zap.Error(err))
		}
	}

	vm.mu.Lock()
	vm.user = &sess.User
	vm.mu.Unlock()
	return nil
}

// AuthBusy reports whether a credential submission is in flight.
func (vm *ViewModel) AuthBusy() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.authBusy
}

// User returns the resolved user, or nil before authentication.
func (vm *ViewModel) User() *backend.User {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.user
}

// LoadChats fetches the conversation list. It fires once per resolved
// user identity; calling again for the same user is a no-op, so view
// refreshes do not re-query.
func (vm *ViewModel) LoadChats(ctx context.Context) error {
	vm.mu.RLock()
	user := vm.user
	loadedFor := vm.chatsFor
	vm.mu.RUnlock()

	if user == nil || loadedFor == user.ID {
		return nil
	}

	chats, err := vm.api.ListChats(ctx, user.ID)
	if err != nil {
		vm.logger.Error("load chats failed", zap.Error(err))
		return err
	}

	vm.mu.Lock()
	vm.chats = chats
	vm.chatsFor = user.ID
	vm.mu.Unlock()
	return nil
}

// Chats returns a snapshot of the conversation list.
func (vm *ViewModel) Chats() []backend.Chat {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]backend.Chat, len(vm.chats))
	copy(out, vm.chats)
	return out
}

// ChatByID returns the listed chat with the given ID, or nil.
func (vm *ViewModel) ChatByID(id string) *backend.Chat {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for i := range vm.chats {
		if vm.chats[i].ID == id {
			c := vm.chats[i]
			return &c
		}
	}
	return nil
}

// OpenChat selects a chat and hands it to the thread manager.
func (vm *ViewModel) OpenChat(ctx context.Context, chatID string) error {
	vm.mu.Lock()
	vm.activeChat = chatID
	vm.mu.Unlock()
	return vm.threads.Open(ctx, chatID)
}

// CloseThread deselects the active chat.
func (vm *ViewModel) CloseThread() {
	vm.mu.Lock()
	vm.activeChat = ""
	vm.mu.Unlock()
	vm.threads.Close()
}

// ActiveChat returns the selected chat ID, or empty.
func (vm *ViewModel) ActiveChat() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeChat
}

// ThreadMessages returns a snapshot of the active thread.
func (vm *ViewModel) ThreadMessages() []backend.Message {
	return vm.threads.Messages()
}

// ThreadState returns the thread state for the status bar.
func (vm *ViewModel) ThreadState() thread.State {
	return vm.threads.State()
}

// SendMessage inserts a message attributed to the current user in the
// selected chat, then updates the chat's last-message summary. The two
// writes are not transactional: a failed summary update leaves the
// message in place and is only logged. Empty or whitespace-only text,
// no resolved user, or no selected chat make the call a no-op.
func (vm *ViewModel) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	vm.mu.RLock()
	user := vm.user
	chatID := vm.activeChat
	vm.mu.RUnlock()

	if text == "" || user == nil || chatID == "" {
		return nil
	}

	msg, err := vm.api.InsertMessage(ctx, chatID, user.ID, text)
	if err != nil {
		return err
	}

	// Echo into the thread; the feed's duplicate is suppressed by ID.
	vm.threads.Ingest(*msg)
	vm.bumpSummary(chatID, text, msg.CreatedAt)

	if err := vm.api.UpdateChatSummary(ctx, chatID, text, msg.CreatedAt); err != nil {
		vm.logger.Warn("update chat summary failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	return nil
}

// ApplyMessage refreshes the sidebar summary for a message delivered
// by the live feed.
func (vm *ViewModel) ApplyMessage(msg backend.Message) {
	vm.bumpSummary(msg.ChatID, msg.Content, msg.CreatedAt)
}

func (vm *ViewModel) bumpSummary(chatID, text string, at time.Time) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i := range vm.chats {
		if vm.chats[i].ID == chatID {
			vm.chats[i].LastMessage = text
			vm.chats[i].LastMessageAt = at
			return
		}
	}
}
